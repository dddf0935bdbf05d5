// Package view はページと共通エラー画面を JSON で返します。
//
// ページには次回表示用の flash メッセージとフォーム用の CSRF トークンが必ず含まれます。
package view

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// FlashSource は表示待ちの flash メッセージを取り出します。
type FlashSource interface {
	Drain(c *gin.Context) map[string][]string
}

// TokenFunc は現在の CSRF トークンを返します。
type TokenFunc func(c *gin.Context) string

// Renderer はページとエラーを描画します。
type Renderer struct {
	flash FlashSource
	token TokenFunc
}

// New は Renderer を作成します。
func New(flash FlashSource, token TokenFunc) *Renderer {
	return &Renderer{flash: flash, token: token}
}

// Page は page 名と data を JSON で返します。page, flash, csrfToken は予約済みのキーです。
func (r *Renderer) Page(c *gin.Context, status int, page string, data gin.H) {
	body := gin.H{
		"page":      page,
		"flash":     r.drain(c),
		"csrfToken": r.csrfToken(c),
	}
	for k, v := range data {
		if _, reserved := body[k]; reserved {
			continue
		}
		body[k] = v
	}
	c.JSON(status, body)
}

// Error は共通エラー画面を返し、以降のハンドラーを打ち切ります。message が空ならステータスの説明文を使います。
func (r *Renderer) Error(c *gin.Context, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"code":    Code(status),
		"status":  status,
		"message": message,
	})
}

// NotFound は NoRoute 用のハンドラーです。
func (r *Renderer) NotFound(c *gin.Context) {
	r.Error(c, http.StatusNotFound, "")
}

// MethodNotAllowed は NoMethod 用のハンドラーです。
func (r *Renderer) MethodNotAllowed(c *gin.Context) {
	r.Error(c, http.StatusMethodNotAllowed, "")
}

// Code はステータスコードからエラーコード（NOT_FOUND など）を作ります。
func Code(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "ERROR"
	}
	text = strings.ReplaceAll(text, "-", " ")
	text = strings.ReplaceAll(text, "'", "")
	return strings.ToUpper(strings.Join(strings.Fields(text), "_"))
}

func (r *Renderer) drain(c *gin.Context) map[string][]string {
	if r.flash == nil {
		return map[string][]string{}
	}
	return r.flash.Drain(c)
}

func (r *Renderer) csrfToken(c *gin.Context) string {
	if r.token == nil {
		return ""
	}
	return r.token(c)
}
