package auth

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// LoginPath はログイン画面のパスです。
const LoginPath = "/auth/login"

// Renderer はページとエラーの出力先です。Error はリクエストを打ち切ります。
type Renderer interface {
	Page(c *gin.Context, status int, page string, data gin.H)
	Error(c *gin.Context, status int, message string)
}

// FailureHandler は未認証リクエストの終着点です。呼び出し後にハンドラーを続けてはいけません。
type FailureHandler interface {
	Unauthenticated(c *gin.Context, attemptedPath, message string)
}

// RedirectFailureHandler は試行したパスを覚え、メッセージを flash に積んでログイン画面へリダイレクトします。
type RedirectFailureHandler struct {
	loginPath string
	returnTo  *ReturnTo
	flash     *Flash
	render    Renderer
	logger    *slog.Logger
}

var _ FailureHandler = (*RedirectFailureHandler)(nil)

// NewRedirectFailureHandler は RedirectFailureHandler を作成します。loginPath が空なら LoginPath です。
func NewRedirectFailureHandler(loginPath string, returnTo *ReturnTo, flash *Flash, render Renderer, logger *slog.Logger) *RedirectFailureHandler {
	if loginPath == "" {
		loginPath = LoginPath
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedirectFailureHandler{
		loginPath: loginPath,
		returnTo:  returnTo,
		flash:     flash,
		render:    render,
		logger:    logger,
	}
}

func (h *RedirectFailureHandler) Unauthenticated(c *gin.Context, attemptedPath, message string) {
	if message == "" {
		message = UnauthenticatedMessage
	}
	sess := sessions.Default(c)
	if attemptedPath != "" {
		h.returnTo.Remember(sess, attemptedPath)
	}
	h.flash.Error(c, message)
	if err := sess.Save(); err != nil {
		h.logger.Error("failed to save session", "error", err)
		h.render.Error(c, http.StatusInternalServerError, "")
		return
	}
	c.Redirect(http.StatusFound, h.loginPath)
	c.Abort()
}
