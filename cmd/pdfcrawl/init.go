package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/spf13/cobra"
)

//go:embed templates/pdfcrawl.yaml
var configTemplate embed.FS

const templatePath = "templates/pdfcrawl.yaml"

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a pdfcrawl configuration file",
		Long: `Init writes a commented .pdfcrawl configuration file.

The file holds default crawl settings and per-site settings such as
cookies, headers, crawl depth and path patterns.

Examples:
  # Create .pdfcrawl in the current directory
  pdfcrawl init

  # Create the file at a specific path
  pdfcrawl init -o ~/.config/pdfcrawl/config.yaml

  # Overwrite an existing file
  pdfcrawl init -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultConfigFile,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := configTemplate.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	if dir := filepath.Dir(outputPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(outputPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit this file to set, per site:")
	fmt.Fprintln(out, "  - cookies and headers for pages behind a login")
	fmt.Fprintln(out, "  - the crawl depth")
	fmt.Fprintln(out, "  - path patterns to ignore or follow")

	return nil
}
