package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/okr-club/internal/user"
)

// ContextUserKey は、ハンドラー間で解決済みのユーザーを共有するためのキーです。
const ContextUserKey = "auth.user"

// LogoutLanding はログアウト後の遷移先です。
const LogoutLanding = "/"

// SessionPolicy はログイン・ログアウト時にセッションを作り直すかどうかです。
// 作り直す場合、セッションの中身を消して CSRF トークンも新しくします（ログイン時は戻り先だけ残します）。
// cookie ストアでは中身ごと cookie の値が変わりますが、memory ストアではセッション ID は同じままで中身だけが入れ替わります。
// ID の固定を避けたい環境では cookie ストアを使ってください。
type SessionPolicy struct {
	RotateOnLogin  bool
	RotateOnLogout bool
}

// DefaultSessionPolicy はログイン時だけ作り直します。ログアウト後も CSRF トークンは有効なままです。
var DefaultSessionPolicy = SessionPolicy{RotateOnLogin: true}

// Options は Manager の依存関係です。Throttle と Metrics は省略できます。
type Options struct {
	Strategies []Strategy
	Binder     *Binder
	Guard      *Guard
	ReturnTo   *ReturnTo
	Flash      *Flash
	Failure    FailureHandler
	Renderer   Renderer
	Throttle   Throttle
	Policy     SessionPolicy
	Logger     *slog.Logger
	Metrics    *Metrics
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	strategies []Strategy
	binder     *Binder
	guard      *Guard
	returnTo   *ReturnTo
	flash      *Flash
	failure    FailureHandler
	render     Renderer
	throttle   Throttle
	policy     SessionPolicy
	logger     *slog.Logger
	metrics    *Metrics
}

type resolvedIdentity struct {
	user *user.User
}

// NewManager は認証マネージャーを作成します。
func NewManager(opts Options) (*Manager, error) {
	if len(opts.Strategies) == 0 {
		return nil, errors.New("auth: at least one strategy is required")
	}
	switch {
	case opts.Binder == nil:
		return nil, errors.New("auth: binder is required")
	case opts.Guard == nil:
		return nil, errors.New("auth: csrf guard is required")
	case opts.ReturnTo == nil:
		return nil, errors.New("auth: return-to is required")
	case opts.Flash == nil:
		return nil, errors.New("auth: flash is required")
	case opts.Failure == nil:
		return nil, errors.New("auth: failure handler is required")
	case opts.Renderer == nil:
		return nil, errors.New("auth: renderer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		strategies: opts.Strategies,
		binder:     opts.Binder,
		guard:      opts.Guard,
		returnTo:   opts.ReturnTo,
		flash:      opts.Flash,
		failure:    opts.Failure,
		render:     opts.Renderer,
		throttle:   opts.Throttle,
		policy:     opts.Policy,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

// CurrentIdentity はセッションのユーザーを返します。未ログインなら nil です。
// 結果はリクエスト中キャッシュされます。エラーはストア障害のときだけ返ります。
func (m *Manager) CurrentIdentity(c *gin.Context) (*user.User, error) {
	if v, ok := c.Get(ContextUserKey); ok {
		if r, ok := v.(resolvedIdentity); ok {
			return r.user, nil
		}
	}
	u, err := m.binder.Resolve(c.Request.Context(), sessions.Default(c))
	if err != nil {
		return nil, err
	}
	c.Set(ContextUserKey, resolvedIdentity{user: u})
	return u, nil
}

// Login は POST /auth/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	ctx := c.Request.Context()
	sess := sessions.Default(c)
	clientKey := c.ClientIP()

	if m.throttle != nil {
		retryAfter, err := m.throttle.Check(ctx, clientKey)
		if err != nil {
			m.serverError(c, "login throttle check failed", err)
			return
		}
		if retryAfter > 0 {
			m.metrics.login("throttled")
			// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
			c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(retryAfter.Seconds())), 10))
			m.render.Error(c, http.StatusTooManyRequests, TooManyAttemptsMessage)
			return
		}
	}

	var notes pendingNotes
	outcome, err := m.authenticate(ctx, CredentialsFromRequest(c), &notes)
	if err != nil {
		m.metrics.login("error")
		m.serverError(c, "authentication failed", err)
		return
	}

	if !outcome.Succeeded() {
		m.metrics.login("failure")
		m.logger.Info("login failed", "error", ErrInvalidCredentials, "client_ip", clientKey)
		if m.throttle != nil {
			if _, err := m.throttle.Fail(ctx, clientKey); err != nil {
				m.logger.Error("failed to record login failure", "error", err)
			}
		}
		m.failure.Unauthenticated(c, m.returnTo.Peek(sess), outcome.Reason())
		return
	}

	u := outcome.Identity()
	if m.policy.RotateOnLogin {
		keep := m.returnTo.Peek(sess)
		sess.Clear()
		if keep != "" {
			m.returnTo.Remember(sess, keep)
		}
		if _, err := m.guard.Rotate(c); err != nil {
			m.serverError(c, "failed to rotate csrf token", err)
			return
		}
	}
	m.binder.Bind(sess, u)
	if m.throttle != nil {
		if err := m.throttle.Reset(ctx, clientKey); err != nil {
			m.logger.Error("failed to reset login failures", "error", err)
		}
	}
	destination := m.returnTo.Consume(sess)
	notes.flushTo(m.flash.For(c))

	if err := sess.Save(); err != nil {
		m.serverError(c, "failed to save session", err)
		return
	}
	c.Set(ContextUserKey, resolvedIdentity{user: u})

	m.metrics.login("success")
	m.logger.Info("login succeeded", "user_id", u.ID, "client_ip", clientKey)
	c.Redirect(http.StatusFound, destination)
}

// Logout は POST /auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	sess := sessions.Default(c)
	userID, _ := m.binder.BoundID(sess)

	m.binder.Unbind(sess)
	if m.policy.RotateOnLogout {
		sess.Clear()
		if _, err := m.guard.Rotate(c); err != nil {
			m.serverError(c, "failed to rotate csrf token", err)
			return
		}
	}
	m.flash.Success(c, LoggedOutMessage)

	if err := sess.Save(); err != nil {
		m.serverError(c, "failed to save session", err)
		return
	}
	c.Set(ContextUserKey, resolvedIdentity{})

	if userID != "" {
		m.logger.Info("logged out", "user_id", userID)
	}
	c.Redirect(http.StatusFound, LogoutLanding)
}

// RequireIdentity はログイン済みでなければ失敗処理へ回すミドルウェアを返します。
func (m *Manager) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := m.CurrentIdentity(c)
		if err != nil {
			m.serverError(c, "failed to resolve session identity", err)
			return
		}
		if u == nil {
			m.failure.Unauthenticated(c, c.Request.URL.RequestURI(), UnauthenticatedMessage)
			return
		}
		c.Next()
	}
}

// authenticate は登録順に戦略を試し、最初に対象となった戦略の結果を返します。
func (m *Manager) authenticate(ctx context.Context, creds Credentials, notify Notifier) (Outcome, error) {
	for _, s := range m.strategies {
		if !s.Valid(creds) {
			continue
		}
		outcome, err := s.Authenticate(ctx, creds, notify)
		if err != nil {
			return Outcome{}, fmt.Errorf("auth: %s strategy: %w", s.Name(), err)
		}
		return outcome, nil
	}
	return Failure(InvalidCredentialsMessage), nil
}

func (m *Manager) serverError(c *gin.Context, msg string, err error) {
	m.logger.Error(msg, "error", err, "path", c.Request.URL.Path)
	m.render.Error(c, http.StatusInternalServerError, "")
}
