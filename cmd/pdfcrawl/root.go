package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for pdfcrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdfcrawl",
		Short: "Find and download the PDF documents of a website",
		Long: `pdfcrawl crawls a website from a seed page, follows same-domain links up to
a maximum depth, and records every PDF document the pages link to.

PDFs can be downloaded while the crawl runs (--auto-download), afterwards
(download), or through the JSON API of the serve command. Every finished run
is kept in a local history database.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewDownloadCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
