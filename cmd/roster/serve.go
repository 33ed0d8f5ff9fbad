package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alecgard/roster/internal/api"
	"github.com/alecgard/roster/internal/config"
	"github.com/alecgard/roster/internal/logging"
	"github.com/alecgard/roster/internal/metrics"
	"github.com/alecgard/roster/internal/ratelimit"
	"github.com/alecgard/roster/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const cleanupInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the remote authority API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.Configure(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	logger.Info("connected to database")

	st := store.NewStore(pool, store.Options{
		CodeTTL:     cfg.Challenge.CodeTTL,
		SessionTTL:  cfg.Session.TTL,
		MaxAttempts: cfg.Challenge.MaxAttempts,
		Tables:      cfg.Database.Tables,
	})

	m := metrics.New()
	m.RegisterDBPool(func() metrics.PoolStats {
		s := pool.Stat()
		return metrics.PoolStats{Total: s.TotalConns(), Idle: s.IdleConns(), Acquired: s.AcquiredConns()}
	})

	limiter := ratelimit.New(cfg.Challenge.Rate, cfg.Challenge.Window)
	go runJanitor(ctx, st, limiter, logger)

	router := api.NewRouter(api.RouterDeps{
		Challenges:     st,
		Profiles:       st,
		Records:        st,
		Sessions:       st,
		Deliverer:      api.LogDeliverer{Logger: logger},
		Limiter:        limiter,
		Metrics:        m,
		DB:             st,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}

// runJanitor removes expired sessions and challenges and idle limiter buckets
// until ctx is cancelled.
func runJanitor(ctx context.Context, st *store.Store, limiter *ratelimit.Limiter, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sessions, err := st.CleanExpiredSessions(ctx)
		if err != nil {
			logger.Warn("cleaning expired sessions", "error", err)
		}
		challenges, err := st.CleanExpiredChallenges(ctx)
		if err != nil {
			logger.Warn("cleaning expired challenges", "error", err)
		}
		buckets := limiter.Sweep()
		logger.Debug("cleanup done", "sessions", sessions, "challenges", challenges, "buckets", buckets)
	}
}
