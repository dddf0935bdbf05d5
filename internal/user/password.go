package user

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength は登録時に要求するパスワード長です。
	MinPasswordLength = 8
	// MaxPasswordLength は bcrypt が扱えるバイト数の上限です。
	MaxPasswordLength = 72
)

// HashPassword は平文パスワードを bcrypt でハッシュ化します。
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword は平文パスワードと保存済みハッシュを定数時間で比較します。
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var dummyHash = sync.OnceValue(func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte("okr-club-dummy-password"), bcrypt.DefaultCost)
	if err != nil {
		return ""
	}
	return string(hash)
})

// BurnVerification はユーザーが存在しない場合にも同じコストの比較を行い、
// 応答時間からアカウントの有無が推測されないようにします。
func BurnVerification(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash()), []byte(password))
}
