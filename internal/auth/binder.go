package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-contrib/sessions"

	"github.com/yourusername/okr-club/internal/user"
)

const sessionKeyUserID = "auth.user_id"

// Binder はセッションとユーザーを結び付けます。セッションにはユーザー ID だけを保存します。
type Binder struct {
	users   user.Finder
	logger  *slog.Logger
	metrics *Metrics
}

// NewBinder は Binder を作成します。
func NewBinder(users user.Finder, logger *slog.Logger, metrics *Metrics) *Binder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Binder{users: users, logger: logger, metrics: metrics}
}

// Bind はユーザー ID をセッションに書き込みます。保存は呼び出し側が行います。
func (b *Binder) Bind(sess sessions.Session, u *user.User) {
	sess.Set(sessionKeyUserID, u.ID)
}

// Unbind はセッションからユーザー ID を取り除きます。
func (b *Binder) Unbind(sess sessions.Session) {
	sess.Delete(sessionKeyUserID)
}

// BoundID はセッションに入っているユーザー ID を返します。型が不正な値は無いものとして扱います。
func (b *Binder) BoundID(sess sessions.Session) (string, bool) {
	id, ok := sess.Get(sessionKeyUserID).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Resolve はセッションのユーザー ID からユーザーを引きます。
// 未ログインと、削除済みユーザーを指す古い ID はどちらも (nil, nil) です。
// セッションは変更しないため、1リクエスト中に何度呼んでも構いません。
func (b *Binder) Resolve(ctx context.Context, sess sessions.Session) (*user.User, error) {
	id, ok := b.BoundID(sess)
	if !ok {
		return nil, nil
	}

	u, err := b.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			b.logger.Info("session bound to unknown user", "error", ErrStaleBinding, "user_id", id)
			b.metrics.staleBinding()
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}
