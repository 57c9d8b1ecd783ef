package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"

	"stackinit/internal/appcred"
	"stackinit/internal/bootstrap"
	"stackinit/internal/catalog"
	"stackinit/internal/config"
	"stackinit/internal/execx"
	handlers "stackinit/internal/http/handler"
	"stackinit/internal/http/middleware"
	"stackinit/internal/logx"
	"stackinit/internal/objectstore"
	"stackinit/internal/otel"
	"stackinit/internal/supervisor"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	logger := logx.New("stackinit")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// One-time idempotent setup: directories, keys, configs, schema syncs,
	// keystone bootstrap, application credentials.
	runner := execx.New()
	creds := appcred.NewManager(runner, filepath.Join(cfg.Paths.State, "app_credentials"), cfg.AuthURL)
	boot := bootstrap.New(cfg, runner, creds)

	res, err := boot.Run(ctx)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	if res.HealthDB != nil {
		defer res.HealthDB.Close()
	}
	logger.Info("configs_rendered", map[string]any{"configs": res.Configs})

	// Prepare the glance backing store when one is configured.
	if cfg.ObjectStore.Endpoint != "" {
		store, err := objectstore.NewMinIO(cfg.ObjectStore)
		if err != nil {
			log.Fatalf("failed to initialize object store: %v", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.Fatalf("failed to prepare image bucket: %v", err)
		}
		if cfg.SeedImageDir != "" {
			if err := objectstore.SeedImages(ctx, store, cfg.SeedImageDir); err != nil {
				log.Fatalf("failed to seed images: %v", err)
			}
		}
	}

	// Hand off to the supervisor.
	reg := prometheus.NewRegistry()
	sup := supervisor.New(toPrograms(res.Programs), supervisor.Options{
		MaxRestarts: cfg.MaxRestarts,
		StopGrace:   time.Duration(cfg.StopGraceSec) * time.Second,
	}, reg)
	if err := sup.Start(); err != nil {
		log.Fatalf("failed to start services: %v", err)
	}

	// Admin plane: healthz/health/status/metrics.
	app := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		DisableStartupMessage: true,
	})
	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	promMW, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		logger.Error("metrics_middleware_failed", err, nil)
	} else {
		app.Use(promMW.Handler())
	}
	handlers.RegisterRoutes(app, sup, res.HealthDB, reg)

	go func() {
		if err := app.Listen(":" + cfg.AdminPort); err != nil {
			logger.Error("admin_listen_failed", err, nil)
		}
	}()

	logger.Info("container_running", map[string]any{"admin_port": cfg.AdminPort})

	waitErr := sup.Wait(ctx)

	sup.Stop()
	_ = app.Shutdown()

	if waitErr != nil {
		logger.Error("exiting", waitErr, nil)
		os.Exit(1)
	}
	logger.Info("shutdown_complete", nil)
}

func toPrograms(procs []catalog.Process) []supervisor.Program {
	out := make([]supervisor.Program, 0, len(procs))
	for _, p := range procs {
		out = append(out, supervisor.Program{Name: p.Name, Argv: p.Argv})
	}
	return out
}
