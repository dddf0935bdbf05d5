package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/okr-club/internal/user"
)

// Credentials はログインフォームから取り出した資格情報です。
type Credentials struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type loginPayload struct {
	User Credentials `json:"user"`
}

// CredentialsFromRequest は user[email] / user[password] を読み取ります。
// JSON ボディ {"user":{"email":..,"password":..}} も受け付けます。
func CredentialsFromRequest(c *gin.Context) Credentials {
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		var payload loginPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			return Credentials{}
		}
		return payload.User
	}
	return Credentials{
		Email:    c.PostForm("user[email]"),
		Password: c.PostForm("user[password]"),
	}
}

// Outcome は認証結果です。成功（Identity あり）か失敗（理由あり）のどちらか一方です。
type Outcome struct {
	identity *user.User
	reason   string
}

// Success は成功結果を返します。
func Success(u *user.User) Outcome {
	return Outcome{identity: u}
}

// Failure は失敗結果を返します。reason は表示用の文言です。
func Failure(reason string) Outcome {
	if reason == "" {
		reason = UnauthenticatedMessage
	}
	return Outcome{reason: reason}
}

// Succeeded は認証に成功したかを返します。
func (o Outcome) Succeeded() bool {
	return o.identity != nil
}

// Identity は成功時のユーザーを返します。失敗時は nil です。
func (o Outcome) Identity() *user.User {
	return o.identity
}

// Reason は失敗理由の文言を返します。成功時は空です。
func (o Outcome) Reason() string {
	return o.reason
}

// Notifier は一度だけ表示するメッセージの送り先です。
type Notifier interface {
	Notify(kind FlashKind, message string)
}

// Strategy は資格情報の検証方法です。Manager に明示的に登録して使います。
type Strategy interface {
	// Name は戦略の識別子です（ログ用）。
	Name() string
	// Valid はこの戦略を適用できるリクエストかを判定します。false は失敗ではなく「対象外」です。
	Valid(creds Credentials) bool
	// Authenticate は資格情報を検証します。
	// error はストア障害などの異常時のみ返し、資格情報の不一致は Failure で表します。
	Authenticate(ctx context.Context, creds Credentials, notify Notifier) (Outcome, error)
}

// PasswordStrategy はメールアドレスとパスワードで認証します。
type PasswordStrategy struct {
	users user.Finder
}

var _ Strategy = (*PasswordStrategy)(nil)

// NewPasswordStrategy は PasswordStrategy を作成します。
func NewPasswordStrategy(users user.Finder) *PasswordStrategy {
	return &PasswordStrategy{users: users}
}

func (s *PasswordStrategy) Name() string {
	return "password"
}

func (s *PasswordStrategy) Valid(creds Credentials) bool {
	return strings.TrimSpace(creds.Email) != "" && creds.Password != ""
}

func (s *PasswordStrategy) Authenticate(ctx context.Context, creds Credentials, notify Notifier) (Outcome, error) {
	u, err := s.users.FindByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// 存在しない場合も同じコストで比較し、同じ文言で失敗させる
			user.BurnVerification(creds.Password)
			return Failure(InvalidCredentialsMessage), nil
		}
		return Outcome{}, fmt.Errorf("password strategy: lookup: %w", err)
	}

	if !user.VerifyPassword(u.PasswordHash, creds.Password) {
		return Failure(InvalidCredentialsMessage), nil
	}

	if notify != nil {
		notify.Notify(FlashInfo, LoggedInMessage)
	}
	return Success(u), nil
}
