package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mindgains/orchestrator/internal/api"
	"github.com/mindgains/orchestrator/internal/auth"
	"github.com/mindgains/orchestrator/internal/metrics"
	"github.com/mindgains/orchestrator/internal/seeder"
	"github.com/mindgains/orchestrator/internal/telemetry"
	"github.com/mindgains/orchestrator/internal/usage"
	"github.com/mindgains/orchestrator/pkg/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP orchestrator service",
	Long: `Serve the orchestrator over HTTP until SIGINT or SIGTERM.

POSTGRES_DSN enables client keys and the persistent usage ledger;
without it every caller is the anonymous client and usage is kept in
memory. REDIS_ADDR enables per-client rate limiting and the key cache.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := bootstrap(cmd, metrics.NewProm(telemetry.ServiceName))
		if err != nil {
			return err
		}
		defer func() { _ = rt.logger.Sync() }()
		return serve(ctx, rt)
	},
}

func serve(ctx context.Context, rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger

	shutdownTracer, err := telemetry.InitTracer(telemetry.ServiceName, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}
	defer shutdownTracer()

	var (
		authMiddleware auth.Middleware
		usageStore     usage.Store = usage.NewMemoryStore()
		limiter        *ratelimit.Limiter
		rdb            *redis.Client
	)

	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		limiter = ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)
		logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping postgres: %w", err)
		}
		logger.Info("postgres connected")

		authStore := auth.NewPostgresStore(pool)
		authMiddleware = auth.NewMiddleware(authStore, rdb, logger)
		usageStore = usage.NewPostgresStore(pool)

		if cfg.RunSeed {
			if err := seeder.SeedDevClientKey(ctx, authStore, logger); err != nil {
				logger.Warn("dev client key seeding failed", zap.Error(err))
			}
		}
	}

	tracer := otel.Tracer(telemetry.ServiceName)
	handler := api.NewHandler(rt.orc, usageStore, limiter, tracer, logger, cfg.BatchMaxSize)
	router := api.NewRouter(api.RouterConfig{
		Handler:        handler,
		Auth:           authMiddleware,
		Metrics:        metrics.Handler(),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
		Tracer:         tracer,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orchestrator starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
