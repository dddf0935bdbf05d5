// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// insecureDefaultSecret は SESSION_SECRET 未設定時に使う開発用の値です。
const insecureDefaultSecret = "secret"

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// セッション設定
	SessionSecret      string        // セッション署名用の秘密鍵
	SessionStore       string        // cookie または memory
	SessionMaxAge      time.Duration // セッションクッキーの有効期間
	CSRFCookieMaxAge   time.Duration // authenticity_token クッキーの有効期間
	SecureCookies      bool          // HTTPS 配信時は true
	RotateOnLogin      bool          // ログイン時にセッションと CSRF トークンを作り直す
	RotateOnLogout     bool          // ログアウト時にセッションと CSRF トークンを作り直す
	TrustedProxies     []string      // ClientIP 判定で信頼するプロキシ
	CORSAllowedOrigins string        // CORS許可オリジン（カンマ区切り）

	// ログイン試行制限
	LoginMaxAttempts int
	LoginWindow      time.Duration
	LoginLock        time.Duration

	// 永続化
	DatabasePath string // bbolt ファイルのパス
	RedisURL     string // 設定時はログイン試行制限を Redis で共有する
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		SessionSecret:      getEnv("SESSION_SECRET", insecureDefaultSecret),
		SessionStore:       getEnv("SESSION_STORE", "cookie"),
		SessionMaxAge:      time.Duration(getEnvAsInt("SESSION_MAX_AGE_SECONDS", 14400)) * time.Second, // 4時間
		CSRFCookieMaxAge:   time.Duration(getEnvAsInt("CSRF_COOKIE_MAX_AGE_DAYS", 180)) * 24 * time.Hour,
		SecureCookies:      getEnvAsBool("SECURE_COOKIES", false),
		RotateOnLogin:      getEnvAsBool("ROTATE_SESSION_ON_LOGIN", true),
		RotateOnLogout:     getEnvAsBool("ROTATE_SESSION_ON_LOGOUT", false),
		TrustedProxies:     splitList(getEnv("TRUSTED_PROXIES", "")),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		LoginMaxAttempts: getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginWindow:      time.Duration(getEnvAsInt("LOGIN_WINDOW_MINUTES", 15)) * time.Minute,
		LoginLock:        time.Duration(getEnvAsInt("LOGIN_LOCK_MINUTES", 10)) * time.Minute,

		DatabasePath: getEnv("DATABASE_PATH", filepath.Join("data", "okrclub.db")),
		RedisURL:     getEnv("REDIS_URL", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.SessionStore {
	case "cookie", "memory":
	default:
		return fmt.Errorf("SESSION_STORE must be cookie or memory, got %q", c.SessionStore)
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE_SECONDS must be positive")
	}
	if c.CSRFCookieMaxAge <= 0 {
		return fmt.Errorf("CSRF_COOKIE_MAX_AGE_DAYS must be positive")
	}
	if c.LoginMaxAttempts <= 0 {
		return fmt.Errorf("LOGIN_MAX_ATTEMPTS must be positive")
	}

	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.WeakSessionSecret() {
			return fmt.Errorf("SESSION_SECRET must be set to at least 32 bytes in release mode")
		}
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required in release mode")
		}
	}

	return nil
}

// WeakSessionSecret は署名鍵が既定値または短すぎる場合に true を返します。
func (c *Config) WeakSessionSecret() bool {
	return c.SessionSecret == insecureDefaultSecret || len(c.SessionSecret) < 32
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
