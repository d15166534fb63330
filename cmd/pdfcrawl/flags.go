package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/log"
	"github.com/spf13/cobra"
)

// addEngineFlags registers the flags shared by every command that fetches
// pages or PDFs: transport, politeness, sinks and history.
func addEngineFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	// Transport
	flags.StringP("proxy", "p", "",
		"Route all requests through a SOCKS5 proxy (e.g., 127.0.0.1:9050)")
	flags.Bool("tor", false,
		"Start an embedded Tor daemon and route all requests through it")
	flags.DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	// Requests
	flags.IntP("workers", "w", config.DefaultMaxWorkers,
		"Number of pages fetched concurrently")
	flags.Duration("page-timeout", config.DefaultPageTimeout, "Timeout for each page fetch")
	flags.Duration("probe-timeout", config.DefaultProbeTimeout, "Timeout for each PDF metadata probe")
	flags.Duration("download-timeout", config.DefaultDownloadTimeout, "Timeout for each PDF download")
	flags.String("user-agent", config.DefaultUserAgent, "User-Agent header sent with every request")
	flags.Float64("rate", 0, "Maximum requests per second (0 = unlimited)")
	flags.Int64("max-body-size", config.DefaultMaxBodySize, "Maximum bytes read from a page (0 = unlimited)")
	flags.StringP("download-dir", "D", config.DefaultDownloadDir(), "Directory PDFs are saved to")

	// Configuration file
	flags.StringP("config", "c", "",
		"Configuration file path (default: .pdfcrawl in current or home directory)")

	// History and sinks
	flags.Bool("no-history", false, "Do not record runs in the history database")
	addDBDirFlag(cmd)
	flags.String("redis", "", "Mirror run status and records to Redis at this address")
	flags.String("redis-prefix", config.DefaultRedisPrefix, "Key prefix for Redis entries")
	flags.Duration("redis-ttl", config.DefaultRedisTTL, "Expiry of Redis entries")
	flags.StringSlice("kafka-brokers", nil, "Publish run events to these Kafka brokers")
	flags.String("kafka-topic", config.DefaultKafkaTopic, "Kafka topic for run events")
	flags.String("neo4j-uri", "", "Record the page to PDF link graph in Neo4j (e.g., neo4j://localhost:7687)")
	flags.String("neo4j-user", "neo4j", "Neo4j user name")
	flags.String("neo4j-password", "", "Neo4j password (default: $PDFCRAWL_NEO4J_PASSWORD)")
}

// applyEngineFlags copies the engine flags into cfg and loads the
// configuration file.
func applyEngineFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error

	if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
		return err
	}
	if cfg.UseTor, err = flags.GetBool("tor"); err != nil {
		return err
	}
	if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
		return err
	}
	if cfg.MaxWorkers, err = flags.GetInt("workers"); err != nil {
		return err
	}
	if cfg.PageTimeout, err = flags.GetDuration("page-timeout"); err != nil {
		return err
	}
	if cfg.ProbeTimeout, err = flags.GetDuration("probe-timeout"); err != nil {
		return err
	}
	if cfg.DownloadTimeout, err = flags.GetDuration("download-timeout"); err != nil {
		return err
	}
	if cfg.UserAgent, err = flags.GetString("user-agent"); err != nil {
		return err
	}
	if cfg.RequestRate, err = flags.GetFloat64("rate"); err != nil {
		return err
	}
	if cfg.MaxBodySize, err = flags.GetInt64("max-body-size"); err != nil {
		return err
	}
	if cfg.DownloadDir, err = flags.GetString("download-dir"); err != nil {
		return err
	}
	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return err
	}

	noHistory, err := flags.GetBool("no-history")
	if err != nil {
		return err
	}
	cfg.SaveToDB = !noHistory
	if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
		return err
	}

	if cfg.RedisAddr, err = flags.GetString("redis"); err != nil {
		return err
	}
	if cfg.RedisPrefix, err = flags.GetString("redis-prefix"); err != nil {
		return err
	}
	if cfg.RedisTTL, err = flags.GetDuration("redis-ttl"); err != nil {
		return err
	}
	if cfg.KafkaBrokers, err = flags.GetStringSlice("kafka-brokers"); err != nil {
		return err
	}
	if cfg.KafkaTopic, err = flags.GetString("kafka-topic"); err != nil {
		return err
	}
	if cfg.Neo4jURI, err = flags.GetString("neo4j-uri"); err != nil {
		return err
	}
	if cfg.Neo4jUser, err = flags.GetString("neo4j-user"); err != nil {
		return err
	}
	if cfg.Neo4jPassword, err = flags.GetString("neo4j-password"); err != nil {
		return err
	}
	if cfg.Neo4jPassword == "" {
		cfg.Neo4jPassword = os.Getenv("PDFCRAWL_NEO4J_PASSWORD")
	}

	cfg.Verbose = getVerboseFlag(cmd)

	return loadSiteConfigs(cfg)
}

// loadSiteConfigs loads the configuration file into cfg.SiteConfigs.
// A missing file is an error only when its path was given explicitly.
func loadSiteConfigs(cfg *config.Config) error {
	path := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case path != "":
		sites, err := config.LoadConfigFile(path)
		if err != nil {
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		cfg.SiteConfigs = sites
	case cfg.ConfigFilePath != "":
		return fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	default:
		cfg.SiteConfigs = &config.File{Sites: make(map[string]config.SiteConfig)}
	}
	return nil
}

// addDBDirFlag registers the location of the history database.
func addDBDirFlag(cmd *cobra.Command) {
	cmd.Flags().String("db-dir", config.XDGDataDir(), "Directory of the history database")
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// setupLogger creates the sanitizing logger of the CLI and makes it the default.
func setupLogger(w io.Writer, verbose, jsonFormat bool) *slog.Logger {
	var logger *slog.Logger
	if jsonFormat {
		logger = log.NewSecureJSONLogger(w, verbose)
	} else {
		logger = log.NewSecureLogger(w, verbose)
	}
	slog.SetDefault(logger)
	return logger
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
