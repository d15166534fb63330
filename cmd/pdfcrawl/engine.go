package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/crawler"
	"github.com/nao1215/pdfcrawl/internal/database"
	"github.com/nao1215/pdfcrawl/internal/download"
	"github.com/nao1215/pdfcrawl/internal/sink"
	"github.com/nao1215/pdfcrawl/internal/transport"
	"golang.org/x/time/rate"
)

// engine wires the crawl components of one command invocation.
//
// Design decision: every command builds its engine from a *config.Config,
// so crawl, serve and download share one construction path and one
// shutdown order.
type engine struct {
	controller *crawler.Controller
	downloader *download.Downloader
	client     *transport.Client
	tor        *transport.EmbeddedTor
	sinks      *sink.Multi
	db         *database.CrawlDB
	logger     *slog.Logger
}

// newEngine builds the transport, the crawl components, the sinks and the
// history database described by cfg. Progress about Tor startup is written to out.
func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (_ *engine, err error) {
	e := &engine{logger: logger}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	if err := e.openTransport(ctx, cfg, out); err != nil {
		return nil, err
	}

	scope, site := seedSiteConfig(cfg)
	if scope == "" && (site.Cookie != "" || len(site.Headers) > 0 || site.Insecure) {
		logger.Warn("site cookie, headers and insecure settings need a seed URL and are not applied")
	}
	httpClient := e.client.NewHTTPClient(
		transport.WithSiteScope(scope),
		transport.WithCookie(site.Cookie),
		transport.WithHeaders(site.Headers),
		transport.WithInsecureTLS(site.Insecure),
	)

	var limiter *rate.Limiter
	if cfg.RequestRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestRate), 1)
	}

	fetcher := crawler.NewFetcher(httpClient,
		crawler.WithFetcherUserAgent(cfg.UserAgent),
		crawler.WithMaxBodySize(cfg.MaxBodySize),
		crawler.WithPageTimeout(cfg.PageTimeout),
		crawler.WithFetcherLimiter(limiter),
	)
	verifier := crawler.NewVerifier(httpClient,
		crawler.WithVerifierUserAgent(cfg.UserAgent),
		crawler.WithProbeTimeout(cfg.ProbeTimeout),
		crawler.WithVerifierLimiter(limiter),
	)
	e.downloader = download.New(httpClient,
		download.WithUserAgent(cfg.UserAgent),
		download.WithTimeout(cfg.DownloadTimeout),
		download.WithLimiter(limiter),
		download.WithLogger(logger),
	)

	if e.sinks, err = newSinks(cfg); err != nil {
		return nil, err
	}

	if cfg.SaveToDB {
		e.db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		logger.Info("database opened", "path", e.db.Path())
	}

	opts := []crawler.ControllerOption{
		crawler.WithControllerLogger(logger),
		crawler.WithBaseContext(ctx),
		crawler.WithWorkers(cfg.MaxWorkers),
		crawler.WithSiteConfigs(cfg.SiteConfigs),
		crawler.WithScopedPDFs(cfg.ScopedPDFs),
	}
	if e.sinks.Len() > 0 {
		opts = append(opts, crawler.WithPublisher(e.sinks))
	}
	if e.db != nil {
		opts = append(opts, crawler.WithRecorder(e.db))
	}
	e.controller = crawler.NewController(fetcher, verifier, e.downloader, opts...)

	return e, nil
}

// openTransport selects direct access, an external SOCKS5 proxy or an
// embedded Tor daemon.
func (e *engine) openTransport(ctx context.Context, cfg *config.Config, out io.Writer) error {
	switch {
	case cfg.UseTor:
		client, tor, err := startEmbeddedTor(ctx, cfg, e.logger, out)
		if err != nil {
			return err
		}
		e.client, e.tor = client, tor
	case cfg.ProxyAddress != "":
		client, err := transport.NewClient(cfg.ProxyAddress, 0)
		if err != nil {
			return fmt.Errorf("failed to create proxy client: %w", err)
		}
		if status := client.CheckConnection(ctx); status != transport.ProxyStatusOK {
			return fmt.Errorf("proxy check failed: %s (make sure a SOCKS5 proxy is running at %s)",
				status, cfg.ProxyAddress)
		}
		e.logger.Info("proxy connection verified", "address", cfg.ProxyAddress)
		e.client = client
	default:
		e.client = transport.NewDirectClient(0)
	}
	return nil
}

// Close shuts the engine down: the active run first, then everything it feeds.
func (e *engine) Close() {
	if e.controller != nil {
		e.controller.Close()
	}
	if e.sinks != nil {
		if err := e.sinks.Close(); err != nil {
			e.logger.Warn("failed to close sinks", "error", err)
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Warn("failed to close database", "error", err)
		}
	}
	if e.client != nil {
		e.client.CloseIdleConnections()
	}
	if e.tor != nil {
		e.logger.Info("stopping embedded Tor daemon")
		if err := e.tor.Stop(); err != nil {
			e.logger.Error("failed to stop embedded Tor", "error", err)
		}
	}
}

// newSinks creates the event sinks enabled in cfg. The result may be empty.
func newSinks(cfg *config.Config) (*sink.Multi, error) {
	var sinks []sink.Sink
	if cfg.RedisAddr != "" {
		sinks = append(sinks, sink.NewRedisSink(cfg.RedisAddr,
			sink.WithRedisPrefix(cfg.RedisPrefix),
			sink.WithRedisTTL(cfg.RedisTTL),
		))
	}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, sink.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	if cfg.Neo4jURI != "" {
		n, err := sink.NewNeo4jSink(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create neo4j sink: %w", err), sink.NewMulti(sinks...).Close())
		}
		sinks = append(sinks, n)
	}
	return sink.NewMulti(sinks...), nil
}

// startEmbeddedTor starts an embedded Tor daemon and returns a client that
// routes through its SOCKS port.
func startEmbeddedTor(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*transport.Client, *transport.EmbeddedTor, error) {
	fmt.Fprintln(out, "Starting embedded Tor daemon...")
	fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	tor := transport.NewEmbeddedTor(transport.WithStartupTimeout(cfg.TorStartupTimeout))
	if err := tor.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}

	logger.Info("embedded Tor daemon started",
		"socksAddr", tor.SocksAddr(),
		"controlAddr", tor.ControlAddr(),
	)
	fmt.Fprintf(out, "Embedded Tor daemon started. SOCKS proxy: %s\n\n", tor.SocksAddr())

	client, err := tor.NewClient(0)
	if err != nil {
		_ = tor.Stop() //nolint:errcheck // best effort cleanup
		return nil, nil, fmt.Errorf("failed to create Tor client: %w", err)
	}
	if status := client.CheckConnection(ctx); status != transport.ProxyStatusOK {
		_ = tor.Stop() //nolint:errcheck // best effort cleanup
		return nil, nil, fmt.Errorf("embedded Tor proxy check failed: %s", status)
	}
	return client, tor, nil
}

// seedSiteConfig returns the scope domain of the seed and the per-site
// settings of that domain. Without a usable seed the domain is empty and
// the file defaults are returned.
func seedSiteConfig(cfg *config.Config) (string, config.SiteConfig) {
	var host string
	if cfg.SeedURL != "" {
		host, _ = crawler.BaseDomain(crawler.Normalize(cfg.SeedURL)) //nolint:errcheck // an unusable seed fails the run later
	}
	if cfg.SiteConfigs == nil {
		return host, config.SiteConfig{}
	}
	if host == "" {
		return "", cfg.SiteConfigs.Defaults
	}
	return host, cfg.SiteConfigs.GetSiteConfig(host)
}
