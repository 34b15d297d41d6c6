package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSetDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assertStringEqual(t, "service.name", defaultServiceName, cfg.Service.Name)
	assertStringEqual(t, "service.archives_path", defaultArchivesPath, cfg.Service.ArchivesPath)
	assertIntEqual(t, "service.concurrency", defaultConcurrency, cfg.Service.Concurrency)
	assertIntEqual(t, "service.batch_size", defaultBatchSize, cfg.Service.BatchSize)

	if cfg.Service.BrowserTimeout != defaultBrowserTimeout {
		t.Errorf("service.browser_timeout: got %v, want %v",
			cfg.Service.BrowserTimeout, defaultBrowserTimeout)
	}
	if cfg.Service.PollInterval != defaultPollInterval {
		t.Errorf("service.poll_interval: got %v, want %v",
			cfg.Service.PollInterval, defaultPollInterval)
	}

	assertStringEqual(t, "database.host", defaultDBHost, cfg.Database.Host)
	assertIntEqual(t, "database.port", defaultDBPort, cfg.Database.Port)
	assertStringEqual(t, "database.user", defaultDBUser, cfg.Database.User)
	assertStringEqual(t, "database.database", defaultDBName, cfg.Database.Database)
	assertStringEqual(t, "database.sslmode", defaultDBSSLMode, cfg.Database.SSLMode)

	assertStringEqual(t, "browser.user_agent", defaultUserAgent, cfg.Browser.UserAgent)
	assertIntEqual(t, "browser.window_width", defaultWindowWidth, cfg.Browser.WindowWidth)
	assertStringEqual(t, "browser.monolith_path", defaultMonolithPath, cfg.Browser.MonolithPath)

	if cfg.Solver.MaxTimeout != defaultSolverTimeout {
		t.Errorf("solver.max_timeout: got %v, want %v",
			cfg.Solver.MaxTimeout, defaultSolverTimeout)
	}
	assertStringEqual(t, "tagging.model", defaultTaggingModel, cfg.Tagging.Model)
	assertIntEqual(t, "preview.max_megabytes", defaultPreviewMaxMB, cfg.Preview.MaxMegabytes)
	assertIntEqual(t, "wayback.workers", defaultWaybackWorkers, cfg.Wayback.Workers)
	assertIntEqual(t, "wayback.queue_size", defaultWaybackQueue, cfg.Wayback.QueueSize)

	assertStringEqual(t, "logging.level", "info", cfg.Logging.Level)
	assertStringEqual(t, "logging.format", "json", cfg.Logging.Format)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := []byte("service:\n  name: test-preserver\n  concurrency: 4\ndatabase:\n  host: db.test\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	assertStringEqual(t, "service.name", "test-preserver", cfg.Service.Name)
	assertIntEqual(t, "service.concurrency", 4, cfg.Service.Concurrency)
	assertStringEqual(t, "database.host", "db.test", cfg.Database.Host)
	assertStringEqual(t, "database.user", defaultDBUser, cfg.Database.User)
}

func TestValidate_Defaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidate_BadBrowserTimeout(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Service.BrowserTimeout = -1 * time.Minute

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for negative browser timeout, got nil")
	}

	expected := "service.browser_timeout: must be positive"
	if err.Error() != expected {
		t.Errorf("error: got %q, want %q", err.Error(), expected)
	}
}

func TestValidate_BadConcurrency(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Service.Concurrency = -1

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for negative concurrency, got nil")
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Logging.Level = "verbose"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown log level, got nil")
	}
}

func TestValidate_BadPort(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Database.Port = 70000

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-range port, got nil")
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "preserver",
		Password: "secret",
		Database: "links",
		SSLMode:  "require",
	}

	expected := "host=db.internal port=5433 user=preserver password=secret dbname=links sslmode=require"
	assertStringEqual(t, "dsn", expected, db.DSN())
}

func TestSolverConfigured(t *testing.T) {
	s := SolverConfig{}
	if s.Configured() {
		t.Error("empty solver URL should not report configured")
	}
	s.URL = "http://flaresolverr:8191"
	if !s.Configured() {
		t.Error("solver URL set should report configured")
	}
}

func TestPreviewMaxBytes(t *testing.T) {
	p := PreviewConfig{MaxMegabytes: 2}
	assertIntEqual(t, "preview.max_bytes", 2*1024*1024, p.MaxBytes())
}

func assertStringEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}

func assertIntEqual(t *testing.T, field string, want, got int) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %d, want %d", field, got, want)
	}
}
