package auth

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/okr-club/internal/user"
)

// IsSafeMethod は副作用の無いメソッドかを判定します。これ以外は CSRF 検証の対象です。
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// IdentityFrom は RequireIdentity または CurrentIdentity が解決したユーザーを返します。
func IdentityFrom(c *gin.Context) *user.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	r, _ := v.(resolvedIdentity)
	return r.user
}

// RequireOwner は u が ownerID の所有者でなければ ErrCrossUser を返します。
func RequireOwner(u *user.User, ownerID string) error {
	if u == nil || ownerID == "" || u.ID != ownerID {
		return ErrCrossUser
	}
	return nil
}

func saveSession(c *gin.Context) error {
	return sessions.Default(c).Save()
}
