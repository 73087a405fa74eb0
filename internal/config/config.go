package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// sessionSecretSize はSESSION_SECRETをデコードした後に必要なバイト数。
const sessionSecretSize = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（空の場合はPostgreSQLをセッションストアとして使う）
	RedisURL string

	// WeChat OAuth
	WechatAppID       string
	WechatAppSecret   string
	WechatRedirectURL string
	WechatHTTPTimeout time.Duration
	// CallbackPath はWechatRedirectURLのパス部分。コールバックのルートとして登録する。
	CallbackPath string

	// Session
	SessionSecret          []byte
	SessionCookieName      string
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Duck
	MilestoneThreshold int

	// Admin
	AdminToken string

	// Login
	LoginRedirectHosts []string

	// Rate Limit
	RateLimitGeneral int
	RateLimitLogin   int

	// Server
	ServerPort string
	TrustProxy bool

	// Logging
	LogLevel string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数をまとめてエラーとして返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.WechatAppID = os.Getenv("WECHAT_APP_ID")
	if cfg.WechatAppID == "" {
		missing = append(missing, "WECHAT_APP_ID")
	}

	cfg.WechatAppSecret = os.Getenv("WECHAT_APP_SECRET")
	if cfg.WechatAppSecret == "" {
		missing = append(missing, "WECHAT_APP_SECRET")
	}

	cfg.WechatRedirectURL = os.Getenv("WECHAT_REDIRECT_URL")
	if cfg.WechatRedirectURL == "" {
		missing = append(missing, "WECHAT_REDIRECT_URL")
	}

	rawSecret := os.Getenv("SESSION_SECRET")
	if rawSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if cfg.AdminToken == "" {
		missing = append(missing, "ADMIN_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	secret, err := decodeSessionSecret(rawSecret)
	if err != nil {
		return nil, err
	}
	cfg.SessionSecret = secret

	callbackPath, err := callbackPathOf(cfg.WechatRedirectURL)
	if err != nil {
		return nil, err
	}
	cfg.CallbackPath = callbackPath

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.WechatHTTPTimeout = getEnvDuration("WECHAT_HTTP_TIMEOUT", 10*time.Second)
	cfg.SessionCookieName = getEnvString("SESSION_COOKIE_NAME", "cyberduck_session")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.MilestoneThreshold = getEnvInt("MILESTONE_THRESHOLD", 10)
	cfg.LoginRedirectHosts = getEnvList("LOGIN_REDIRECT_HOSTS")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", true)
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	return cfg, nil
}

// SessionMaxAgeDuration はSessionMaxAgeをtime.Durationで返す。
func (c *Config) SessionMaxAgeDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

func decodeSessionSecret(raw string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("SESSION_SECRET must be base64 encoded: %w", err)
	}
	if len(secret) != sessionSecretSize {
		return nil, fmt.Errorf("SESSION_SECRET must decode to %d bytes, got %d", sessionSecretSize, len(secret))
	}
	return secret, nil
}

func callbackPathOf(redirectURL string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("WECHAT_REDIRECT_URL is not a valid URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("WECHAT_REDIRECT_URL must be an absolute URL: %q", redirectURL)
	}
	if u.Path == "" || u.Path == "/" {
		return "", fmt.Errorf("WECHAT_REDIRECT_URL must include a callback path: %q", redirectURL)
	}
	return u.Path, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
