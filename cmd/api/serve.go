package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/yourusername/okr-club/internal/auth"
	"github.com/yourusername/okr-club/internal/config"
	"github.com/yourusername/okr-club/internal/okr"
	"github.com/yourusername/okr-club/internal/storage"
	"github.com/yourusername/okr-club/internal/user"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "API サーバーを起動します",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	gin.SetMode(cfg.GinMode)

	if cfg.WeakSessionSecret() {
		logger.Warn("Session secret is not secure! Set SESSION_SECRET to at least 32 random bytes.")
	}

	buckets := append(user.Buckets(), okr.Buckets()...)
	db, err := storage.Open(cfg.DatabasePath, buckets...)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	throttle, closeThrottle, err := newThrottle(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeThrottle()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router, err := newRouter(appDeps{
		cfg:          cfg,
		logger:       logger,
		users:        user.NewBoltStore(db),
		objectives:   okr.NewStore(db),
		sessionStore: newSessionStore(cfg),
		throttle:     throttle,
		registry:     registry,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- fmt.Errorf("server failed: %w", err)
			return
		}
		done <- nil
	}()
	logger.Info("starting API server", "addr", server.Addr, "mode", cfg.GinMode, "session_store", cfg.SessionStore)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-done:
		return err
	}
}

// newSessionStore は設定に応じてセッションの保存先を作ります。
func newSessionStore(cfg *config.Config) sessions.Store {
	opts := sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	secret := []byte(cfg.SessionSecret)

	if cfg.SessionStore == "memory" {
		store := memstore.NewStore(secret)
		store.Options(opts)
		return store
	}
	store := cookie.NewStore(secret)
	store.Options(opts)
	return store
}

// newThrottle は REDIS_URL があれば Redis 共有、無ければプロセス内の試行制限を返します。
func newThrottle(ctx context.Context, cfg *config.Config) (auth.Throttle, func(), error) {
	limits := auth.ThrottleLimits{
		MaxAttempts: cfg.LoginMaxAttempts,
		Window:      cfg.LoginWindow,
		Lock:        cfg.LoginLock,
	}
	if cfg.RedisURL == "" {
		return auth.NewMemoryThrottle(limits), func() {}, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return auth.NewRedisThrottle(rdb, limits), func() { _ = rdb.Close() }, nil
}
