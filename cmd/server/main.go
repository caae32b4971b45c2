package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"pdv/backend/internal/cache"
	"pdv/backend/internal/catalog"
	"pdv/backend/internal/config"
	"pdv/backend/internal/dashboard"
	"pdv/backend/internal/httpapi"
	"pdv/backend/internal/ledger"
	"pdv/backend/internal/logging"
	"pdv/backend/internal/media"
	"pdv/backend/internal/store"
	"pdv/backend/internal/store/memory"
	pgstore "pdv/backend/internal/store/postgres"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:   "pdv",
		Usage:  "point of sale backend",
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API (default)",
				Action: runServe,
			},
			{
				Name:   "migrate",
				Usage:  "Apply the database schema to DATABASE_URL",
				Action: runMigrate,
			},
			{
				Name:   "seed",
				Usage:  "Load the demo catalog, clients and optional admin user",
				Action: runSeed,
			},
		},
	}
}

func setup() (config.Config, *zap.Logger, error) {
	cfg := config.Load()
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runServe(ctx context.Context, _ *cli.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", zap.Error(err))
			}
		}
	}()

	repo, err := openRepository(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, repo.Close)

	summaryCache, closeCache := openCache(startCtx, cfg, logger)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	images, err := media.NewImageStore(cfg.UploadDir)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Options{
		Catalog:       catalog.New(repo),
		Ledger:        ledger.New(repo, summaryCache, logger),
		Dashboard:     dashboard.New(repo, summaryCache, cfg.DashboardCacheTTL(), logger),
		Auth:          httpapi.NewAuthManager(repo, cfg.AuthSecret, cfg.AccessTokenTTL()),
		Images:        images,
		Logger:        logger,
		AllowedOrigin: cfg.AllowedOrigin,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("pdv backend listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sigCtx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

func runMigrate(ctx context.Context, _ *cli.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set to run migrations")
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("migration complete")
	return nil
}

func runSeed(ctx context.Context, _ *cli.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL must be set to seed; the in-memory store seeds itself on start")
	}
	repo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := store.Seed(ctx, repo, cfg.SeedAdminPassword); err != nil {
		return err
	}
	logger.Info("seed complete", zap.Bool("admin", cfg.SeedAdminPassword != ""))
	return nil
}

// openRepository uses Postgres when DATABASE_URL is set and refuses to fall
// back to memory if it is unreachable. The schema is applied on open. Without
// DATABASE_URL it returns a seeded in-memory store.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, error) {
	if cfg.DatabaseURL == "" {
		repo, err := memory.NewSeeded(ctx, cfg.SeedAdminPassword)
		if err != nil {
			return nil, err
		}
		logger.Info("repository: in-memory")
		return repo, nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	logger.Info("repository: postgres")
	return pg, nil
}

// openCache returns the Redis summary cache when REDIS_ADDR answers, else a
// process local one.
func openCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (cache.DashboardCache, func() error) {
	if cfg.RedisAddr == "" {
		logger.Info("cache: memory")
		return cache.NewMemoryDashboardCache(), nil
	}
	redisCache := cache.NewRedisDashboardCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, using memory cache", zap.Error(err))
		_ = redisCache.Close()
		return cache.NewMemoryDashboardCache(), nil
	}
	logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
	return redisCache, redisCache.Close
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
