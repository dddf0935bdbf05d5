package main

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/okr-club/internal/auth"
	"github.com/yourusername/okr-club/internal/config"
	"github.com/yourusername/okr-club/internal/okr"
	"github.com/yourusername/okr-club/internal/user"
	"github.com/yourusername/okr-club/internal/view"
)

// SessionCookieName はセッションクッキーの名前です。
const SessionCookieName = "okr_session"

type appDeps struct {
	cfg          *config.Config
	logger       *slog.Logger
	users        user.Store
	objectives   *okr.Store
	sessionStore sessions.Store
	throttle     auth.Throttle
	registry     *prometheus.Registry
	now          func() time.Time
}

// newRouter はミドルウェアとルートを配線した gin.Engine を返します。
// 順序: Logger/Recovery → メトリクス → CORS → セッション → CSRF → 各ルート（保護ルートは RequireIdentity）。
func newRouter(d appDeps) (*gin.Engine, error) {
	if d.now == nil {
		d.now = time.Now
	}

	flash := auth.NewFlash(d.logger)
	render := view.New(flash, auth.CSRFToken)

	router := gin.New()
	router.Use(gin.Logger(), gin.CustomRecovery(func(c *gin.Context, recovered any) {
		d.logger.Error("panic recovered", "panic", recovered, "path", c.Request.URL.Path)
		render.Error(c, http.StatusInternalServerError, "")
	}))
	if err := router.SetTrustedProxies(d.cfg.TrustedProxies); err != nil {
		return nil, err
	}
	router.HandleMethodNotAllowed = true

	router.Use(newHTTPMetrics(d.registry).middleware())
	if origins := splitOrigins(d.cfg.CORSAllowedOrigins); len(origins) > 0 {
		router.Use(cors.New(corsConfig(origins)))
	}

	// ヘルスチェックとメトリクスはセッションを作らない
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))

	authMetrics := auth.NewMetrics(d.registry)
	returnTo := auth.NewReturnTo(auth.DefaultLanding)
	guard := auth.NewGuard(auth.GuardOptions{
		MaxAge: d.cfg.CSRFCookieMaxAge,
		Secure: d.cfg.SecureCookies,
	}, flash, render, d.logger, authMetrics)

	manager, err := auth.NewManager(auth.Options{
		Strategies: []auth.Strategy{auth.NewPasswordStrategy(d.users)},
		Binder:     auth.NewBinder(d.users, d.logger, authMetrics),
		Guard:      guard,
		ReturnTo:   returnTo,
		Flash:      flash,
		Failure:    auth.NewRedirectFailureHandler(auth.LoginPath, returnTo, flash, render, d.logger),
		Renderer:   render,
		Throttle:   d.throttle,
		Policy: auth.SessionPolicy{
			RotateOnLogin:  d.cfg.RotateOnLogin,
			RotateOnLogout: d.cfg.RotateOnLogout,
		},
		Logger:  d.logger,
		Metrics: authMetrics,
	})
	if err != nil {
		return nil, err
	}

	router.Use(sessions.Sessions(SessionCookieName, d.sessionStore))
	router.Use(guard.Middleware())

	auth.NewHandler(manager, d.users, flash, render, d.logger).RegisterRoutes(router)

	pages := &okrHandler{
		objectives: d.objectives,
		manager:    manager,
		flash:      flash,
		render:     render,
		logger:     d.logger,
		now:        d.now,
	}
	pages.registerRoutes(router)

	router.NoRoute(render.NotFound)
	router.NoMethod(render.MethodNotAllowed)
	return router, nil
}

func corsConfig(origins []string) cors.Config {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		auth.DefaultCSRFHeader, // CSRF保護用ヘッダー
	}
	return corsConfig
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "okr-club-api",
		"version": "0.1.0",
	})
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
