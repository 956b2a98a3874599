package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env        string
	ListenAddr string
	LogLevel   string
	LogFormat  string

	// server
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AdminToken    string
	IPHashSalt    string
	PublicBaseURL string
	MatchLogLimit int
	// requests per minute per caller on GET /v1/allowlist; 0 disables
	AllowlistRateLimit int
	// peers allowed to set X-Forwarded-For; empty means trust none
	TrustedProxies []string
	Verification   VerificationConfig

	// agent
	AgentListenAddr string
	AllowlistURL    string
	CachePath       string
	DeviceType      string
	Cache           CacheConfig
}

type CacheConfig struct {
	NetworkTimeout     time.Duration
	TTL                time.Duration
	RefreshInterval    time.Duration
	UseBundledFallback bool
}

type VerificationConfig struct {
	Interval          time.Duration
	Timeout           time.Duration
	TargetPropagation time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads the environment. A missing DATABASE_URL is reported as a
// non-fatal error so the agent, which has no database, can ignore it.
func Load() (Config, error) {
	listen := getenv("LISTEN_ADDR", ":8080")
	cfg := Config{
		Env:        getenv("APP_ENV", "development"),
		ListenAddr: listen,
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogFormat:  getenv("LOG_FORMAT", "json"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),
		IPHashSalt:    getenv("IP_HASH_SALT", "crisisguard"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost"+listen),
		MatchLogLimit: getenvInt("MATCH_LOG_DAILY_LIMIT", 100),

		AllowlistRateLimit: getenvInt("ALLOWLIST_RATE_LIMIT", 120),
		TrustedProxies:     getenvList("TRUSTED_PROXIES"),
		Verification: VerificationConfig{
			Interval:          getenvDuration("VERIFICATION_INTERVAL", 15*time.Minute),
			Timeout:           getenvDuration("VERIFICATION_TIMEOUT", 60*time.Minute),
			TargetPropagation: getenvDuration("TARGET_PROPAGATION", 30*time.Minute),
		},

		AgentListenAddr: getenv("AGENT_LISTEN_ADDR", "127.0.0.1:7788"),
		AllowlistURL:    getenv("ALLOWLIST_URL", "http://localhost:8080"),
		CachePath:       getenv("CACHE_PATH", defaultCachePath()),
		DeviceType:      getenv("DEVICE_TYPE", "browser_extension"),
		Cache: CacheConfig{
			NetworkTimeout:     getenvDuration("NETWORK_TIMEOUT", 5*time.Second),
			TTL:                getenvDuration("CACHE_TTL", 24*time.Hour),
			RefreshInterval:    getenvDuration("REFRESH_INTERVAL", 15*time.Minute),
			UseBundledFallback: getenvBool("USE_BUNDLED_FALLBACK", true),
		},
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL not set")
	}
	return cfg, nil
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if out, err := strconv.Atoi(v); err == nil {
			return out
		}
	}
	return def
}

// getenvDuration accepts Go duration strings ("90s", "15m").
func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// getenvList splits a comma-separated value, dropping empty items.
func getenvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "crisisguard-allowlist.json"
	}
	return dir + string(os.PathSeparator) + "crisisguard" + string(os.PathSeparator) + "allowlist.json"
}
