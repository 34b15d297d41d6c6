package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linkhaven/preserver/internal/artifacts"
	"github.com/linkhaven/preserver/internal/browser"
	"github.com/linkhaven/preserver/internal/config"
	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/files"
	"github.com/linkhaven/preserver/internal/logger"
	"github.com/linkhaven/preserver/internal/metrics"
	"github.com/linkhaven/preserver/internal/preserve"
	"github.com/linkhaven/preserver/internal/solver"
	"github.com/linkhaven/preserver/internal/storage"
	"github.com/linkhaven/preserver/internal/tagger"
	"github.com/linkhaven/preserver/internal/wayback"
	"github.com/linkhaven/preserver/internal/worker"

	_ "github.com/lib/pq"
)

// Database connection timeout.
const dbPingTimeout = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Initialize logger
	log, err := createLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	// Connect to database
	db, err := connectDatabase(cfg, log)
	if err != nil {
		log.Error("Failed to connect to database", logger.Error(err))
		return 1
	}
	defer func() { _ = db.Close() }()

	return runWorker(cfg, log, db)
}

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	configPath := config.GetConfigPath("config.yml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if validationErr := cfg.Validate(); validationErr != nil {
		return nil, fmt.Errorf("validate config: %w", validationErr)
	}
	return cfg, nil
}

// createLogger creates a logger instance from configuration.
func createLogger(cfg *config.Config) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Service.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(logger.String("service", cfg.Service.Name)), nil
}

// connectDatabase opens and verifies a database connection.
func connectDatabase(cfg *config.Config, log logger.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	log.Info("Database connected",
		logger.String("host", cfg.Database.Host),
		logger.Int("port", cfg.Database.Port),
		logger.String("database", cfg.Database.Database),
	)

	return db, nil
}

// runWorker wires all dependencies and runs the poll loop until a
// shutdown signal arrives.
func runWorker(cfg *config.Config, log logger.Logger, db *sqlx.DB) int {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)
	metricsSrv := startMetricsServer(cfg.Service.MetricsAddr, registry, log)

	store := storage.NewLinkStore(db, log)
	fileStore := files.NewStore(cfg.Service.ArchivesPath)

	launcher := browser.NewLauncher(cfg.Browser, log)
	defer launcher.Close()

	submitter := wayback.NewSubmitter(cfg.Wayback, log)
	defer submitter.Close()

	pipeline := preserve.New(cfg.Service, preserve.Deps{
		Store:     store,
		Files:     fileStore,
		Sessions:  sessionFactory(launcher),
		Solver:    solver.New(cfg.Solver, log),
		Producers: buildProducers(cfg, store, fileStore, log),
		Tagger:    buildTagger(cfg, store, log),
		Wayback:   submitter,
		Metrics:   m,
		Logger:    log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Preservation worker started",
		logger.Int("concurrency", cfg.Service.Concurrency),
		logger.Duration("browser_timeout", cfg.Service.BrowserTimeout),
		logger.Bool("solver_configured", cfg.Solver.Configured()),
		logger.Bool("tagging_configured", cfg.Tagging.Configured()),
	)

	worker.New(cfg.Service, store, pipeline, log).Run(ctx)

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return 0
}

// sessionFactory adapts the launcher to the orchestrator's factory
// interface.
func sessionFactory(launcher *browser.Launcher) preserve.SessionFactory {
	return preserve.SessionFactoryFunc(
		func(ctx context.Context, identity *browser.Identity) (preserve.Session, error) {
			return launcher.NewSession(ctx, identity)
		})
}

// buildProducers binds the artifact capture collaborators.
func buildProducers(cfg *config.Config, store *storage.LinkStore, fileStore *files.Store, log logger.Logger) preserve.Producers {
	preview := artifacts.NewPreviewProducer(store, fileStore, cfg.Preview.MaxBytes(), log)
	readable := artifacts.NewReadableProducer(store, fileStore, log)
	export := artifacts.NewExportProducer(store, fileStore, log)
	download := artifacts.NewDownloadProducer(store, fileStore, log)
	monolith := artifacts.NewMonolithProducer(cfg.Browser.MonolithPath, store, fileStore, log)

	return preserve.Producers{
		Preview: func(ctx context.Context, sess preserve.Session, link *domain.Link, html, pageURL string) error {
			return preview.Produce(ctx, sess, link, html, pageURL)
		},
		Readable: readable.Produce,
		Export: func(ctx context.Context, sess preserve.Session, link *domain.Link, settings domain.ArchivalSettings) error {
			return export.Produce(ctx, sess, link, settings)
		},
		Image: func(ctx context.Context, sess preserve.Session, link *domain.Link, ext domain.ImageExtension) error {
			return download.Image(ctx, sess, link, ext)
		},
		PDF: func(ctx context.Context, sess preserve.Session, link *domain.Link) error {
			return download.PDF(ctx, sess, link)
		},
		Monolith: monolith.Produce,
	}
}

// buildTagger returns the AI tagger, or nil when no provider credential is
// configured.
func buildTagger(cfg *config.Config, store *storage.LinkStore, log logger.Logger) preserve.Tagger {
	if !cfg.Tagging.Configured() {
		return nil
	}
	return tagger.New(cfg.Tagging, store, log)
}

// startMetricsServer serves the Prometheus scrape endpoint.
func startMetricsServer(addr string, registry *prometheus.Registry, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server failed", logger.Error(err))
		}
	}()
	return srv
}
