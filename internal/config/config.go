package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// DefaultMaxDepth is the deepest link layer followed from the seed page.
	// The seed itself is depth 0.
	DefaultMaxDepth = 3

	// DefaultMaxWorkers bounds how many pages of one layer are processed at once.
	DefaultMaxWorkers = 5

	// DefaultPageTimeout applies to each page GET.
	DefaultPageTimeout = 15 * time.Second

	// DefaultProbeTimeout applies to each HEAD probe of a PDF candidate.
	DefaultProbeTimeout = 10 * time.Second

	// DefaultDownloadTimeout applies to each PDF download.
	DefaultDownloadTimeout = 30 * time.Second

	// DefaultStopJoinTimeout bounds how long Start waits for a previous run to finish.
	DefaultStopJoinTimeout = 5 * time.Second

	// AppName is the application name used for XDG directory paths.
	AppName = "pdfcrawl"

	// DefaultUserAgent is a common desktop browser User-Agent.
	// Some sites serve reduced markup to unknown clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultMaxBodySize limits how much of an HTML page is read.
	DefaultMaxBodySize = 10 * 1024 * 1024 // 10MB

	// DefaultTorProxyAddress is the standard Tor SOCKS5 proxy address.
	DefaultTorProxyAddress = "127.0.0.1:9050"

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultListenAddr is the address used by the serve command.
	DefaultListenAddr = "127.0.0.1:8080"

	// DefaultKafkaTopic is the topic crawl events are written to.
	DefaultKafkaTopic = "pdfcrawl.events"

	// DefaultRedisPrefix namespaces every key written by the Redis sink.
	DefaultRedisPrefix = "pdfcrawl:"

	// DefaultRedisTTL is how long mirrored run state lives in Redis.
	DefaultRedisTTL = 24 * time.Hour
)

// Config holds all configuration options for pdfcrawl.
// It is populated from CLI flags and the optional YAML file and then passed
// down explicitly; there is no package-level state.
//
// Design decision: a single flat struct, like the CLI flag set it mirrors.
type Config struct {
	// SeedURL is the page the crawl starts from. A missing scheme is filled with https.
	SeedURL string

	// MaxDepth is the maximum link depth to follow. Depth 0 is the seed page.
	MaxDepth int

	// MaxWorkers is the number of pages processed concurrently per batch.
	MaxWorkers int

	// PageTimeout is the timeout for each HTML page request.
	PageTimeout time.Duration

	// ProbeTimeout is the timeout for each HEAD probe.
	ProbeTimeout time.Duration

	// DownloadTimeout is the timeout for each PDF download.
	DownloadTimeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// MaxBodySize is the maximum number of HTML bytes read per page.
	MaxBodySize int64

	// RequestRate limits outgoing requests per second. Zero means unlimited.
	RequestRate float64

	// AutoDownload downloads every discovered PDF as soon as it is recorded.
	AutoDownload bool

	// ScopedPDFs only records PDFs hosted in the crawl scope.
	ScopedPDFs bool

	// DownloadDir is where PDFs are written.
	// Defaults to the user's download directory (see DefaultDownloadDir).
	DownloadDir string

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the path to the YAML configuration file.
	// If empty, .pdfcrawl is searched in the current and home directories.
	ConfigFilePath string

	// SiteConfigs holds per-site settings loaded from the configuration file.
	SiteConfigs *File

	// ProxyAddress routes all traffic through a SOCKS5 proxy when set.
	ProxyAddress string

	// UseTor starts an embedded Tor daemon and routes all traffic through it.
	// It takes precedence over ProxyAddress.
	UseTor bool

	// TorStartupTimeout is the maximum time to wait for the embedded Tor daemon.
	TorStartupTimeout time.Duration

	// DBDir is the directory of the SQLite history database.
	// Empty disables history.
	DBDir string

	// SaveToDB records finished runs in the history database.
	SaveToDB bool

	// JSONReport, MarkdownReport and XLSXReport select the report format.
	// At most one may be set; the plain text report is used otherwise.
	JSONReport     bool
	MarkdownReport bool
	XLSXReport     bool

	// ReportFile is the output file path for the report. Empty means stdout,
	// except for XLSX which requires a file.
	ReportFile string

	// RedisAddr enables the Redis status mirror when set ("host:port").
	RedisAddr string

	// RedisPrefix namespaces keys written to Redis.
	RedisPrefix string

	// RedisTTL is the expiration of mirrored keys.
	RedisTTL time.Duration

	// KafkaBrokers enables the Kafka event stream when non-empty.
	KafkaBrokers []string

	// KafkaTopic is the topic events are written to.
	KafkaTopic string

	// Neo4jURI enables the link graph sink when set (e.g. "neo4j://localhost:7687").
	Neo4jURI string

	// Neo4jUser and Neo4jPassword authenticate against Neo4j.
	Neo4jUser     string
	Neo4jPassword string

	// ListenAddr is the HTTP address of the serve command.
	ListenAddr string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxDepth:          DefaultMaxDepth,
		MaxWorkers:        DefaultMaxWorkers,
		PageTimeout:       DefaultPageTimeout,
		ProbeTimeout:      DefaultProbeTimeout,
		DownloadTimeout:   DefaultDownloadTimeout,
		UserAgent:         DefaultUserAgent,
		MaxBodySize:       DefaultMaxBodySize,
		DownloadDir:       DefaultDownloadDir(),
		TorStartupTimeout: DefaultTorStartupTimeout,
		RedisPrefix:       DefaultRedisPrefix,
		RedisTTL:          DefaultRedisTTL,
		KafkaTopic:        DefaultKafkaTopic,
		ListenAddr:        DefaultListenAddr,
	}
}

// XDGDataDir returns the XDG data directory for pdfcrawl.
// On Linux: ~/.local/share/pdfcrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for pdfcrawl.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// DefaultDownloadDir returns the directory PDFs are saved to when none is given.
// It lives under the user's XDG download directory (~/Downloads/pdfcrawl on most systems).
func DefaultDownloadDir() string {
	base := xdg.UserDirs.Download
	if base == "" {
		base = xdg.Home
	}
	return filepath.Join(base, AppName)
}

// ReportFormatCount returns how many report formats are enabled.
func (c *Config) ReportFormatCount() int {
	n := 0
	for _, on := range []bool{c.JSONReport, c.MarkdownReport, c.XLSXReport} {
		if on {
			n++
		}
	}
	return n
}

// Validate checks if the configuration of a crawl is valid.
// It returns the first failing rule as a sentinel error.
func (c *Config) Validate() error {
	if c.SeedURL == "" {
		return ErrNoSeedURL
	}

	// Depth 0 is valid and means only the seed page is crawled.
	if c.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}

	if err := c.ValidateEngine(); err != nil {
		return err
	}

	if c.ReportFormatCount() > 1 {
		return ErrConflictingReportFormats
	}

	// An xlsx workbook is binary and is never written to a terminal.
	if c.XLSXReport && c.ReportFile == "" {
		return ErrXLSXNeedsFile
	}

	if c.AutoDownload && c.DownloadDir == "" {
		return ErrNoDownloadDir
	}

	return nil
}

// ValidateEngine checks the settings every command that sends requests
// depends on. The serve and download commands have no seed URL and use it
// instead of Validate.
func (c *Config) ValidateEngine() error {
	if c.MaxWorkers <= 0 {
		return ErrInvalidMaxWorkers
	}

	if c.PageTimeout <= 0 || c.ProbeTimeout <= 0 || c.DownloadTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.RequestRate < 0 {
		return ErrInvalidRequestRate
	}

	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}

	return nil
}
