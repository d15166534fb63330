// Package config provides configuration structures and utilities for pdfcrawl.
// It defines crawl limits, request timeouts, download and report settings,
// optional sink endpoints, and per-site overrides loaded from a YAML file.
package config
