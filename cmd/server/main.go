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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"paperpos/backend/internal/cache"
	"paperpos/backend/internal/config"
	"paperpos/backend/internal/consistency"
	"paperpos/backend/internal/dashboard"
	"paperpos/backend/internal/httpapi"
	"paperpos/backend/internal/jobs"
	"paperpos/backend/internal/locker"
	"paperpos/backend/internal/logging"
	"paperpos/backend/internal/service"
	"paperpos/backend/internal/store"
	"paperpos/backend/internal/store/memory"
	mongostore "paperpos/backend/internal/store/mongo"
	pgstore "paperpos/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Mode, cfg.Log.File)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	restore := logging.Install(logger)
	defer restore()
	defer func() { _ = logger.Sync() }()

	if err := run(cfg); err != nil {
		zap.L().Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	closers := make([]func(context.Context) error, 0, 2)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](closeCtx); err != nil {
				zap.L().Warn("close error", zap.Error(err))
			}
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var (
		snapshotCache cache.SnapshotCache = cache.NoopSnapshotCache{}
		productLocker locker.Locker       = locker.NewLocal()
	)
	if cfg.Redis.Addr != "" {
		client := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		redisCache := cache.NewRedisSnapshotCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			zap.L().Warn("redis unavailable, using local locks and no snapshot cache", zap.Error(err))
			_ = client.Close()
		} else {
			snapshotCache = redisCache
			productLocker = locker.NewRedis(client, cfg.Redis.LockTTL)
			closers = append(closers, func(context.Context) error { return client.Close() })
			zap.L().Info("redis enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	strategy := consistency.New(cfg.Store.UseTransactions, repo)
	zap.L().Info("write strategy",
		zap.Bool("transactions_requested", strategy.Enabled()),
		zap.Bool("transactions_active", strategy.UseTransaction(ctx)))

	aggregator := dashboard.New(repo, snapshotCache, cfg.Dashboard.CacheTTL)
	svc := service.New(repo, aggregator, service.Options{
		Strategy:      strategy,
		Locker:        productLocker,
		EnforceTotals: cfg.Store.EnforceTotals,
	})

	auth, err := httpapi.NewAuthManager(cfg.Auth.Secret, cfg.Auth.AccessTokenTTL, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	api := httpapi.New(svc, auth, cfg.Server.AllowedOrigin)

	scheduler, err := jobs.NewScheduler(cfg.Dashboard.Refresh, aggregator)
	if err != nil {
		return fmt.Errorf("schedule dashboard refresh: %w", err)
	}
	scheduler.Start()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zap.L().Info("paper stock backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("shutdown error", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)

	zap.L().Info("server stopped")
	return nil
}

// openRepository connects the configured backend. The returned closer is nil
// for the in-memory store.
func openRepository(ctx context.Context, cfg *config.Config) (store.Repository, func(context.Context) error, error) {
	switch cfg.Store.Backend {
	case config.BackendMongo:
		mg, err := mongostore.New(ctx, mongostore.Config{
			URI:        cfg.Store.MongoURI,
			Database:   cfg.Store.MongoDatabase,
			ReplicaSet: cfg.Store.MongoReplicaSet,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("mongo unavailable: %w", err)
		}
		if err := mg.EnsureIndexes(ctx); err != nil {
			_ = mg.Close(ctx)
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		zap.L().Info("repository: mongo", zap.String("database", cfg.Store.MongoDatabase))
		return mg, mg.Close, nil

	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		zap.L().Info("repository: postgres")
		return pg, func(context.Context) error { return pg.Close() }, nil

	default:
		zap.L().Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

func validateSecurityConfig(cfg *config.Config) error {
	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.Auth.AdminPassword) < 8 {
		return fmt.Errorf("ADMIN_PASSWORD must be set and at least 8 characters")
	}
	return nil
}
