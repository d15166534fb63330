// Package main provides the entry point for the pdfcrawl CLI.
//
// pdfcrawl crawls a website from a seed page, finds the PDF documents its
// pages link to, and optionally downloads them.
//
// Usage:
//
//	pdfcrawl crawl https://example.com
//	pdfcrawl serve --listen 127.0.0.1:8080
//
// See --help for all available options.
package main

func main() {
	Execute()
}
