package config

import (
	"fmt"
	"strconv"
	"time"
)

// Default configuration values.
const (
	defaultServiceName     = "preserver"
	defaultVersion         = "0.1.0"
	defaultBrowserTimeout  = 5 * time.Minute
	defaultConcurrency     = 2
	defaultPollInterval    = 10 * time.Second
	defaultBatchSize       = 20
	defaultArchivesPath    = "data/archives"
	defaultDBHost          = "localhost"
	defaultDBPort          = 5432
	defaultDBName          = "preserver"
	defaultDBUser          = "postgres"
	defaultDBSSLMode       = "disable"
	defaultDBMaxConns      = 25
	defaultDBMaxIdle       = 5
	defaultDBConnLifetime  = 5 * time.Minute
	defaultWindowWidth     = 1280
	defaultWindowHeight    = 720
	defaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultMonolithPath    = "monolith"
	defaultSolverTimeout   = 90 * time.Second
	defaultTaggingModel    = "claude-3-5-haiku-latest"
	defaultPreviewMaxMB    = 10
	defaultWaybackWorkers  = 2
	defaultWaybackQueue    = 64
	defaultWaybackTimeout  = 30 * time.Second
	defaultMetricsAddr     = ":9090"
)

// Config holds the application configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	Browser  BrowserConfig  `yaml:"browser"`
	Solver   SolverConfig   `yaml:"solver"`
	Tagging  TaggingConfig  `yaml:"tagging"`
	Preview  PreviewConfig  `yaml:"preview"`
	Wayback  WaybackConfig  `yaml:"wayback"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Debug   bool   `env:"APP_DEBUG" yaml:"debug"`
	// DisablePreservation is the global kill-switch: links are marked
	// unavailable without opening a browser.
	DisablePreservation bool `env:"DISABLE_PRESERVATION" yaml:"disable_preservation"`
	// BrowserTimeout bounds one link's whole preservation run.
	BrowserTimeout time.Duration `env:"BROWSER_TIMEOUT" yaml:"browser_timeout"`
	// Concurrency is the number of links preserved in parallel.
	Concurrency  int           `env:"PRESERVER_CONCURRENCY" yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	// ArchivesPath is the root directory for artifact files.
	ArchivesPath string `env:"ARCHIVES_PATH" yaml:"archives_path"`
	// MetricsAddr is the Prometheus scrape endpoint listen address.
	MetricsAddr string `env:"METRICS_ADDR" yaml:"metrics_addr"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host            string        `env:"POSTGRES_PRESERVER_HOST"     yaml:"host"`
	Port            int           `env:"POSTGRES_PRESERVER_PORT"     yaml:"port"`
	User            string        `env:"POSTGRES_PRESERVER_USER"     yaml:"user"`
	Password        string        `env:"POSTGRES_PRESERVER_PASSWORD" yaml:"password"`
	Database        string        `env:"POSTGRES_PRESERVER_DB"       yaml:"database"`
	SSLMode         string        `env:"POSTGRES_PRESERVER_SSLMODE"  yaml:"sslmode"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_connections"`
	ConnMaxLifetime time.Duration `yaml:"connection_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// ProxyConfig holds browser proxy parameters.
type ProxyConfig struct {
	Server   string `env:"PROXY"          yaml:"server"`
	Bypass   string `env:"PROXY_BYPASS"   yaml:"bypass"`
	Username string `env:"PROXY_USERNAME" yaml:"username"`
	Password string `env:"PROXY_PASSWORD" yaml:"password"`
}

// BrowserConfig holds browser session configuration.
type BrowserConfig struct {
	// RemoteURL connects to a remote DevTools endpoint instead of
	// launching a local browser.
	RemoteURL         string      `env:"BROWSER_WS_URL"        yaml:"remote_url"`
	ExecutablePath    string      `env:"BROWSER_EXECUTABLE"    yaml:"executable_path"`
	IgnoreHTTPSErrors bool        `env:"IGNORE_HTTPS_ERRORS"   yaml:"ignore_https_errors"`
	UserAgent         string      `yaml:"user_agent"`
	WindowWidth       int         `yaml:"window_width"`
	WindowHeight      int         `yaml:"window_height"`
	Proxy             ProxyConfig `yaml:"proxy"`
	// MonolithPath is the single-file snapshot binary.
	MonolithPath string `env:"MONOLITH_PATH" yaml:"monolith_path"`
}

// SolverConfig holds the anti-automation challenge solver configuration.
// An empty URL means no solver is configured and challenges are skipped.
type SolverConfig struct {
	URL        string        `env:"FLARESOLVERR_URL" yaml:"url"`
	MaxTimeout time.Duration `yaml:"max_timeout"`
}

// Configured reports whether a solver endpoint is set.
func (s *SolverConfig) Configured() bool {
	return s.URL != ""
}

// TaggingConfig holds the AI tagging provider configuration.
type TaggingConfig struct {
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY" yaml:"anthropic_api_key"`
	Model           string `yaml:"model"`
	MaxTags         int    `yaml:"max_tags"`
}

// Configured reports whether any tagging provider credential is present.
func (t *TaggingConfig) Configured() bool {
	return t.AnthropicAPIKey != ""
}

// PreviewConfig holds preview generation limits.
type PreviewConfig struct {
	// MaxMegabytes is the screenshot-preview byte ceiling in MiB.
	MaxMegabytes int `env:"PREVIEW_MAX_BUFFER" yaml:"max_megabytes"`
}

// MaxBytes returns the preview ceiling in bytes.
func (p *PreviewConfig) MaxBytes() int {
	return p.MaxMegabytes * 1024 * 1024
}

// WaybackConfig holds the external archive submitter configuration.
type WaybackConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// LoadConfig loads configuration from the specified path.
func LoadConfig(path string) (*Config, error) {
	return LoadWithDefaults[Config](path, setDefaults)
}

func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	setDatabaseDefaults(&cfg.Database)
	setBrowserDefaults(&cfg.Browser)
	if cfg.Solver.MaxTimeout == 0 {
		cfg.Solver.MaxTimeout = defaultSolverTimeout
	}
	if cfg.Tagging.Model == "" {
		cfg.Tagging.Model = defaultTaggingModel
	}
	if cfg.Tagging.MaxTags == 0 {
		cfg.Tagging.MaxTags = 5
	}
	if cfg.Preview.MaxMegabytes == 0 {
		cfg.Preview.MaxMegabytes = defaultPreviewMaxMB
	}
	setWaybackDefaults(&cfg.Wayback)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func setServiceDefaults(svc *ServiceConfig) {
	if svc.Name == "" {
		svc.Name = defaultServiceName
	}
	if svc.Version == "" {
		svc.Version = defaultVersion
	}
	if svc.BrowserTimeout == 0 {
		svc.BrowserTimeout = defaultBrowserTimeout
	}
	if svc.Concurrency == 0 {
		svc.Concurrency = defaultConcurrency
	}
	if svc.PollInterval == 0 {
		svc.PollInterval = defaultPollInterval
	}
	if svc.BatchSize == 0 {
		svc.BatchSize = defaultBatchSize
	}
	if svc.ArchivesPath == "" {
		svc.ArchivesPath = defaultArchivesPath
	}
	if svc.MetricsAddr == "" {
		svc.MetricsAddr = defaultMetricsAddr
	}
}

func setDatabaseDefaults(db *DatabaseConfig) {
	if db.Host == "" {
		db.Host = defaultDBHost
	}
	if db.Port == 0 {
		db.Port = defaultDBPort
	}
	if db.User == "" {
		db.User = defaultDBUser
	}
	if db.Database == "" {
		db.Database = defaultDBName
	}
	if db.SSLMode == "" {
		db.SSLMode = defaultDBSSLMode
	}
	if db.MaxConnections == 0 {
		db.MaxConnections = defaultDBMaxConns
	}
	if db.MaxIdleConns == 0 {
		db.MaxIdleConns = defaultDBMaxIdle
	}
	if db.ConnMaxLifetime == 0 {
		db.ConnMaxLifetime = defaultDBConnLifetime
	}
}

func setBrowserDefaults(b *BrowserConfig) {
	if b.UserAgent == "" {
		b.UserAgent = defaultUserAgent
	}
	if b.WindowWidth == 0 {
		b.WindowWidth = defaultWindowWidth
	}
	if b.WindowHeight == 0 {
		b.WindowHeight = defaultWindowHeight
	}
	if b.MonolithPath == "" {
		b.MonolithPath = defaultMonolithPath
	}
}

func setWaybackDefaults(w *WaybackConfig) {
	if w.Endpoint == "" {
		w.Endpoint = "https://web.archive.org/save/"
	}
	if w.Workers == 0 {
		w.Workers = defaultWaybackWorkers
	}
	if w.QueueSize == 0 {
		w.QueueSize = defaultWaybackQueue
	}
	if w.Timeout == 0 {
		w.Timeout = defaultWaybackTimeout
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if err := validatePort("database.port", c.Database.Port); err != nil {
		return err
	}
	if c.Database.Host == "" {
		return &ValidationError{Field: "database.host", Message: "is required"}
	}
	if c.Database.User == "" {
		return &ValidationError{Field: "database.user", Message: "is required"}
	}
	if c.Database.Database == "" {
		return &ValidationError{Field: "database.database", Message: "is required"}
	}
	if c.Service.BrowserTimeout <= 0 {
		return &ValidationError{Field: "service.browser_timeout", Message: "must be positive"}
	}
	if c.Service.Concurrency < 1 {
		return &ValidationError{Field: "service.concurrency", Message: "must be at least 1"}
	}
	if err := validateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{Field: field, Message: "must be between 1 and 65535, got " + strconv.Itoa(port)}
	}
	return nil
}

func validateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error"}
	}
}
