// Package auth は認証・認可機能を提供します。
//
// リクエストは sessions ミドルウェア、CSRF ガード、認証（ログイン時は戦略の実行、
// それ以外はセッションからのユーザー解決）、ログイン成功時の戻り先リダイレクトの順に処理されます。
package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/okr-club/internal/user"
)

// SignupPath は新規登録画面のパスです。
const SignupPath = "/auth/signup"

const (
	PasswordMismatchMessage = "Your passwords don't match."
	EmailTakenMessage       = "This email is already taken."
	PasswordTooShortMessage = "Your password must be at least 8 characters."
	PasswordTooLongMessage  = "Your password must be at most 72 bytes."
	InvalidEmailMessage     = "Please enter a valid email address."
	SignedUpMessage         = "User created. Please Log in."
)

// Handler は /auth 配下の HTTP ハンドラーです。
type Handler struct {
	manager *Manager
	users   user.Registrar
	flash   *Flash
	render  Renderer
	logger  *slog.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(manager *Manager, users user.Registrar, flash *Flash, render Renderer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		manager: manager,
		users:   users,
		flash:   flash,
		render:  render,
		logger:  logger,
	}
}

// RegisterRoutes はルートを登録します。
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/login", redirectTo(LoginPath))
	r.GET("/signup", redirectTo(SignupPath))

	group := r.Group("/auth")
	group.GET("/login", h.loginPage)
	group.POST("/login", h.manager.Login)
	group.POST("/logout", h.manager.Logout)
	group.GET("/signup", h.signupPage)
	group.POST("/signup", h.signup)
}

func (h *Handler) loginPage(c *gin.Context) {
	h.anonymousPage(c, "login")
}

func (h *Handler) signupPage(c *gin.Context) {
	h.anonymousPage(c, "signup")
}

// anonymousPage はログイン済みなら /home へ送り、そうでなければ page を表示します。
func (h *Handler) anonymousPage(c *gin.Context, page string) {
	u, err := h.manager.CurrentIdentity(c)
	if err != nil {
		h.logger.Error("failed to resolve session identity", "error", err)
		h.render.Error(c, http.StatusInternalServerError, "")
		return
	}
	if u != nil {
		c.Redirect(http.StatusFound, DefaultLanding)
		return
	}
	h.render.Page(c, http.StatusOK, page, nil)
}

type signupForm struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	VerifyPassword string `json:"verify_password"`
	Name           string `json:"name"`
}

func signupFromRequest(c *gin.Context) signupForm {
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		var payload struct {
			User signupForm `json:"user"`
		}
		if err := c.ShouldBindJSON(&payload); err != nil {
			return signupForm{}
		}
		return payload.User
	}
	return signupForm{
		Email:          c.PostForm("user[email]"),
		Password:       c.PostForm("user[password]"),
		VerifyPassword: c.PostForm("user[verify_password]"),
		Name:           c.PostForm("user[name]"),
	}
}

func (h *Handler) signup(c *gin.Context) {
	form := signupFromRequest(c)
	if form.Password != form.VerifyPassword {
		h.signupFailed(c, PasswordMismatchMessage)
		return
	}

	u, err := h.users.Register(c.Request.Context(), form.Email, form.Password, form.Name)
	switch {
	case errors.Is(err, user.ErrEmailTaken):
		h.signupFailed(c, EmailTakenMessage)
		return
	case errors.Is(err, user.ErrPasswordTooShort):
		h.signupFailed(c, PasswordTooShortMessage)
		return
	case errors.Is(err, user.ErrPasswordTooLong):
		h.signupFailed(c, PasswordTooLongMessage)
		return
	case errors.Is(err, user.ErrInvalidEmail):
		h.signupFailed(c, InvalidEmailMessage)
		return
	case err != nil:
		h.logger.Error("failed to register user", "error", err)
		h.render.Error(c, http.StatusInternalServerError, "")
		return
	}

	h.logger.Info("user registered", "user_id", u.ID)
	h.flash.Success(c, SignedUpMessage)
	h.saveAndRedirect(c, "/")
}

func (h *Handler) signupFailed(c *gin.Context, message string) {
	h.flash.Error(c, message)
	h.saveAndRedirect(c, SignupPath)
}

func (h *Handler) saveAndRedirect(c *gin.Context, location string) {
	if err := saveSession(c); err != nil {
		h.logger.Error("failed to save session", "error", err)
		h.render.Error(c, http.StatusInternalServerError, "")
		return
	}
	c.Redirect(http.StatusFound, location)
}

func redirectTo(location string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Redirect(http.StatusFound, location)
	}
}
