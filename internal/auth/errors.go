package auth

import "errors"

var (
	// ErrInvalidCredentials はメールアドレス・パスワードの不備や不一致です。原因は区別しません。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFMismatch は不正な更新リクエストです。ハンドラー実行前に 403 で打ち切ります。
	ErrCSRFMismatch = errors.New("csrf token mismatch")
	// ErrStaleBinding はセッションのユーザー ID が既に存在しない状態です。匿名として扱います。
	ErrStaleBinding = errors.New("stale session binding")
	// ErrCrossUser は他ユーザーのリソースに対する操作です。
	ErrCrossUser = errors.New("resource belongs to another user")
)

// 画面に出すメッセージ。分岐には使いません。
const (
	InvalidCredentialsMessage = "Invalid email or password."
	UnauthenticatedMessage    = "That didn't work. Please log in."
	LoggedInMessage           = "Logged in"
	LoggedOutMessage          = "Successfully logged out"
	CSRFFailedMessage         = "CSRF failed"
	TooManyAttemptsMessage    = "Too many failed login attempts. Please try again later."
	CrossUserMessage          = "Can not save objective for another user."
)
