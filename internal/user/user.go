// Package user はログイン主体（ユーザー）とその資格情報ストアを提供します。
package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrInvalidEmail     = errors.New("invalid email")
)

// User は認証済みセッションに紐づくユーザーです。
// セッションには ID だけが保存され、PasswordHash は決して外に出しません。
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Finder はメールアドレスまたは ID からユーザーを引きます。
// 見つからない場合は ErrNotFound を返し、それ以外のエラーはストア障害として扱われます。
type Finder interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
}

// Registrar は新規ユーザーを登録します。
type Registrar interface {
	Register(ctx context.Context, email, password, name string) (*User, error)
}

// Store は Finder と Registrar をまとめたものです。
type Store interface {
	Finder
	Registrar
}

// NormalizeEmail は照合用にメールアドレスを正規化します（前後空白除去・NFKC・case folding）。
func NormalizeEmail(email string) string {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return ""
	}
	return cases.Fold().String(norm.NFKC.String(trimmed))
}
