package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	sessionKeyCSRF  = "auth.csrf"
	contextCSRFKey  = "auth.csrf_token"
	csrfTokenBytes  = 32
	csrfReasonEmpty = "missing_token"
)

const (
	DefaultCSRFCookie = "authenticity_token"
	DefaultCSRFField  = "_csrf"
	DefaultCSRFHeader = "X-CSRF-Token"
	DefaultCSRFMaxAge = 180 * 24 * time.Hour
)

// GuardOptions は CSRF トークンの受け渡し方法です。空の項目は既定値になります。
type GuardOptions struct {
	CookieName string
	FieldName  string
	HeaderName string
	MaxAge     time.Duration
	// Secure が false でも TLS 接続なら Secure 属性を付けます。
	Secure bool
}

func (o GuardOptions) withDefaults() GuardOptions {
	if o.CookieName == "" {
		o.CookieName = DefaultCSRFCookie
	}
	if o.FieldName == "" {
		o.FieldName = DefaultCSRFField
	}
	if o.HeaderName == "" {
		o.HeaderName = DefaultCSRFHeader
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultCSRFMaxAge
	}
	return o
}

// Guard はダブルサブミット方式の CSRF 対策です。
// 更新系リクエストでは送信されたトークンがセッションの値とクッキーの値の両方に一致する必要があります。
type Guard struct {
	opts    GuardOptions
	flash   *Flash
	render  Renderer
	logger  *slog.Logger
	metrics *Metrics
}

// NewGuard は Guard を作成します。
func NewGuard(opts GuardOptions, flash *Flash, render Renderer, logger *slog.Logger, metrics *Metrics) *Guard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{
		opts:    opts.withDefaults(),
		flash:   flash,
		render:  render,
		logger:  logger,
		metrics: metrics,
	}
}

// Middleware は全リクエストの最初に置くミドルウェアです。
// sessions ミドルウェアの後、ルートごとの処理より前に登録してください。
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, created, err := g.ensure(sess)
		if err != nil {
			g.logger.Error("failed to generate csrf token", "error", err)
			g.render.Error(c, http.StatusInternalServerError, "")
			return
		}
		c.Set(contextCSRFKey, token)
		g.setCookie(c, token)

		if IsSafeMethod(c.Request.Method) {
			if created {
				if err := sess.Save(); err != nil {
					g.logger.Error("failed to save session", "error", err)
					g.render.Error(c, http.StatusInternalServerError, "")
					return
				}
			}
			c.Next()
			return
		}

		if reason := g.verify(c, token); reason != "" {
			g.reject(c, sess, reason)
			return
		}
		if created {
			if err := sess.Save(); err != nil {
				g.logger.Error("failed to save session", "error", err)
				g.render.Error(c, http.StatusInternalServerError, "")
				return
			}
		}
		c.Next()
	}
}

// Token は現在のリクエストの CSRF トークンを返します。フォームの _csrf に埋め込む値です。
func (g *Guard) Token(c *gin.Context) string {
	return CSRFToken(c)
}

// CSRFToken は Guard を経由せずにトークンを読み出します。Guard より前では空文字です。
func CSRFToken(c *gin.Context) string {
	if v, ok := c.Get(contextCSRFKey); ok {
		if token, ok := v.(string); ok {
			return token
		}
	}
	token, _ := sessions.Default(c).Get(sessionKeyCSRF).(string)
	return token
}

// Rotate は新しいトークンを発行してセッションとクッキーに書き込みます。
// セッションの保存は呼び出し側が行います。
func (g *Guard) Rotate(c *gin.Context) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	sessions.Default(c).Set(sessionKeyCSRF, token)
	c.Set(contextCSRFKey, token)
	g.setCookie(c, token)
	return token, nil
}

// ensure はセッションのトークンを返し、無ければ生成します。created は今回生成したかどうかです。
func (g *Guard) ensure(sess sessions.Session) (token string, created bool, err error) {
	if existing, ok := sess.Get(sessionKeyCSRF).(string); ok && existing != "" {
		return existing, false, nil
	}
	token, err = generateToken()
	if err != nil {
		return "", false, err
	}
	sess.Set(sessionKeyCSRF, token)
	return token, true, nil
}

// verify は不一致の理由を返します。一致していれば空文字です。
func (g *Guard) verify(c *gin.Context, sessionToken string) string {
	submitted := c.GetHeader(g.opts.HeaderName)
	if submitted == "" {
		submitted = c.PostForm(g.opts.FieldName)
	}
	cookieToken, _ := c.Cookie(g.opts.CookieName)

	if submitted == "" || cookieToken == "" {
		return csrfReasonEmpty
	}

	// 両方を必ず比較し、どちらが外れたかで処理時間が変わらないようにする
	sessionOK := subtle.ConstantTimeCompare([]byte(sessionToken), []byte(submitted)) == 1
	cookieOK := subtle.ConstantTimeCompare([]byte(cookieToken), []byte(submitted)) == 1
	switch {
	case sessionOK && cookieOK:
		return ""
	case !sessionOK && !cookieOK:
		return "both_mismatch"
	case !sessionOK:
		return "session_mismatch"
	default:
		return "cookie_mismatch"
	}
}

func (g *Guard) reject(c *gin.Context, sess sessions.Session, reason string) {
	g.metrics.csrfRejection(reason)
	g.logger.Warn("csrf check failed",
		"error", ErrCSRFMismatch,
		"reason", reason,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"client_ip", c.ClientIP(),
	)

	g.flash.Error(c, CSRFFailedMessage)
	if err := sess.Save(); err != nil {
		g.logger.Error("failed to save session", "error", err)
	}
	g.render.Error(c, http.StatusForbidden, CSRFFailedMessage)
}

func (g *Guard) setCookie(c *gin.Context, token string) {
	secure := g.opts.Secure || c.Request.TLS != nil
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(g.opts.CookieName, token, int(g.opts.MaxAge.Seconds()), "/", "", secure, true)
}

func generateToken() (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
