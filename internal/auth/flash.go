package auth

import (
	"log/slog"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// FlashKind は一度だけ表示するメッセージの種類です。
type FlashKind string

const (
	FlashInfo    FlashKind = "info"
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
)

var flashKinds = []FlashKind{FlashInfo, FlashSuccess, FlashError}

// Flash はセッションに次回表示用のメッセージを積みます。
// 追加したメッセージはセッション保存時に書き出されます（保存は呼び出し側）。
type Flash struct {
	logger *slog.Logger
}

// NewFlash は Flash を作成します。
func NewFlash(logger *slog.Logger) *Flash {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Flash{logger: logger}
}

// Add は kind のメッセージを追加します。
func (f *Flash) Add(c *gin.Context, kind FlashKind, message string) {
	sessions.Default(c).AddFlash(message, string(kind))
}

func (f *Flash) Info(c *gin.Context, message string)    { f.Add(c, FlashInfo, message) }
func (f *Flash) Success(c *gin.Context, message string) { f.Add(c, FlashSuccess, message) }
func (f *Flash) Error(c *gin.Context, message string)   { f.Add(c, FlashError, message) }

// Drain は積まれているメッセージを種類ごとに取り出して消します。
func (f *Flash) Drain(c *gin.Context) map[string][]string {
	sess := sessions.Default(c)
	out := make(map[string][]string)
	for _, kind := range flashKinds {
		for _, v := range sess.Flashes(string(kind)) {
			if msg, ok := v.(string); ok {
				out[string(kind)] = append(out[string(kind)], msg)
			}
		}
	}
	if len(out) > 0 {
		if err := sess.Save(); err != nil {
			f.logger.Error("failed to save session after draining flash", "error", err)
		}
	}
	return out
}

// For はリクエストに紐づいた Notifier を返します。
func (f *Flash) For(c *gin.Context) Notifier {
	return flashNotifier{flash: f, c: c}
}

type flashNotifier struct {
	flash *Flash
	c     *gin.Context
}

func (n flashNotifier) Notify(kind FlashKind, message string) {
	n.flash.Add(n.c, kind, message)
}

// pendingNotes はセッションを作り直す前に通知を一時的に溜めておきます。
type pendingNotes []note

type note struct {
	kind    FlashKind
	message string
}

func (p *pendingNotes) Notify(kind FlashKind, message string) {
	*p = append(*p, note{kind: kind, message: message})
}

func (p pendingNotes) flushTo(n Notifier) {
	for _, m := range p {
		n.Notify(m.kind, m.message)
	}
}
