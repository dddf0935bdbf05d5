package auth

import (
	"net/url"
	"strings"

	"github.com/gin-contrib/sessions"
)

const sessionKeyReturnTo = "auth.return_to"

// DefaultLanding はログイン後の既定の遷移先です。
const DefaultLanding = "/home"

// ReturnTo はログイン前にアクセスしようとしたパスを覚えておき、ログイン後に一度だけ返します。
type ReturnTo struct {
	fallback string
}

// NewReturnTo は ReturnTo を作成します。fallback が空なら DefaultLanding を使います。
func NewReturnTo(fallback string) *ReturnTo {
	if fallback == "" {
		fallback = DefaultLanding
	}
	return &ReturnTo{fallback: fallback}
}

// Remember は path を記録します。前回の値は上書きされます。
// サイト内のパス以外は記録せず、以前の値も消して false を返します。
func (r *ReturnTo) Remember(sess sessions.Session, path string) bool {
	if !IsLocalPath(path) {
		sess.Delete(sessionKeyReturnTo)
		return false
	}
	sess.Set(sessionKeyReturnTo, path)
	return true
}

// Peek は記録済みのパスを消さずに返します。無ければ空文字です。
func (r *ReturnTo) Peek(sess sessions.Session) string {
	path, ok := sess.Get(sessionKeyReturnTo).(string)
	if !ok || !IsLocalPath(path) {
		return ""
	}
	return path
}

// Consume は記録済みのパスを返して消します。無ければ既定の遷移先を返します。
func (r *ReturnTo) Consume(sess sessions.Session) string {
	path := r.Peek(sess)
	sess.Delete(sessionKeyReturnTo)
	if path == "" {
		return r.fallback
	}
	return path
}

// IsLocalPath は path がこのサイト内の絶対パスかを判定します（オープンリダイレクト対策）。
func IsLocalPath(path string) bool {
	if path == "" || path[0] != '/' {
		return false
	}
	if strings.HasPrefix(path, "//") || strings.HasPrefix(path, "/\\") {
		return false
	}
	if strings.ContainsAny(path, "\r\n\x00") {
		return false
	}
	u, err := url.Parse(path)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}
