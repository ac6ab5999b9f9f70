package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lokesh-guntreddi/oceanographic/internal/application"
	appai "github.com/lokesh-guntreddi/oceanographic/internal/application/ai"
	appfish "github.com/lokesh-guntreddi/oceanographic/internal/application/fish"
	"github.com/lokesh-guntreddi/oceanographic/internal/config"
	domainfish "github.com/lokesh-guntreddi/oceanographic/internal/domain/fish"
	"github.com/lokesh-guntreddi/oceanographic/internal/domain/runs"
	"github.com/lokesh-guntreddi/oceanographic/internal/infra/ai/openai"
	mysqlp "github.com/lokesh-guntreddi/oceanographic/internal/infra/db/mysql"
	pgp "github.com/lokesh-guntreddi/oceanographic/internal/infra/db/postgres"
	"github.com/lokesh-guntreddi/oceanographic/internal/infra/httpserver"
	"github.com/lokesh-guntreddi/oceanographic/internal/infra/imaging"
	"github.com/lokesh-guntreddi/oceanographic/internal/infra/report"
	"github.com/lokesh-guntreddi/oceanographic/internal/infra/storage"
	"github.com/lokesh-guntreddi/oceanographic/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := loadConfig(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := map[string]middleware.HealthChecker{
		"storage": &middleware.StorageHealthChecker{Dirs: []string{cfg.UploadsDir(), cfg.ReportsDir()}},
	}

	// run journal (optional)
	journal, db, err := openJournal(ctx, cfg)
	if err != nil {
		log.Fatalf("database init error: %v", err)
	}
	if db != nil {
		defer db.Close()
		health["database"] = &middleware.DatabaseHealthChecker{DB: db}
	}

	// artifact mirror (optional)
	var mirror domainfish.ArtifactMirror
	if cfg.Minio.Enabled {
		store, err := storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatalf("minio init error: %v", err)
		}
		mirror = store
		health["minio"] = middleware.CheckFunc(store.Check)
	}

	images, err := storage.NewLocalImages(cfg.UploadsDir(), "/static/uploads", cfg.Storage.MaxUploadBytes)
	if err != nil {
		log.Fatalf("storage init error: %v", err)
	}
	if err := os.MkdirAll(cfg.ReportsDir(), 0o755); err != nil {
		log.Fatalf("storage init error: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := middleware.NewMetrics(registry)
	if err != nil {
		log.Fatalf("metrics init error: %v", err)
	}

	analyzer := openai.NewClient(openai.Options{
		APIKey:         cfg.Analyzer.APIKey,
		BaseURL:        cfg.Analyzer.BaseURL,
		Model:          cfg.Analyzer.Model,
		Timeout:        cfg.Analyzer.Timeout,
		ResponseFormat: openai.ResponseFormat(cfg.Analyzer.ResponseFormat),
	})
	if cfg.Analyzer.APIKey == "" {
		slog.Warn("analyzer.apiKey is empty, uploads will fail upstream")
	}

	assistant := openai.NewAssistantClient(openai.AssistantOptions{
		APIKey:       cfg.Assistant.APIKey,
		APIKeyHeader: cfg.Assistant.APIKeyHeader,
		BaseURL:      cfg.Assistant.BaseURL,
		Model:        cfg.Assistant.Model,
		Timeout:      cfg.Assistant.Timeout,
	})

	fishSvc := &appfish.Service{
		Images:   images,
		Analyzer: analyzer,
		Reports:  report.NewGenerator(cfg.ReportsDir(), "/static/reports"),
		Mirror:   mirror,
		Runs:     journal,
		Observer: metrics,
		Clock:    application.SystemClock{},
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	go limiter.Run(ctx.Done(), 5*time.Minute)

	if cfg.Retention.MaxAge > 0 {
		sweeper := &storage.Retention{
			Dirs:     []string{cfg.UploadsDir(), cfg.ReportsDir()},
			MaxAge:   cfg.Retention.MaxAge,
			Interval: cfg.Retention.Interval,
			Now:      time.Now,
		}
		go sweeper.Run(ctx)
	}

	handler := httpserver.NewRouter(httpserver.Deps{
		Fish:           fishSvc,
		AI:             appai.NewService(assistant),
		TIFF:           imaging.NewConverter(nil, cfg.TIFF.Timeout, cfg.TIFF.MaxBytes, cfg.TIFF.MaxPixels, cfg.TIFF.CacheTTL),
		Metrics:        metrics,
		Limiter:        limiter,
		Health:         health,
		StaticDir:      cfg.Storage.StaticDir,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// analysis can take as long as the request timeout
		WriteTimeout: cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "static_dir", cfg.Storage.StaticDir,
			"journal", cfg.Database.Driver, "mirror", cfg.Minio.Enabled)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	slog.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// loadConfig falls back to defaults when the file does not exist so the
// service can start with environment-free local settings.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if os.IsNotExist(err) {
		log.Printf("config %s not found, using defaults", path)
		return config.Default(), nil
	}
	return nil, err
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Log.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func openJournal(ctx context.Context, cfg *config.Config) (runs.Repository, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, err
		}
		repo := mysqlp.NewRunRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, db, nil
	case "postgres":
		db, err := pgp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		repo := pgp.NewRunRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, db, nil
	default:
		return runs.Nop{}, nil, nil
	}
}
