package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	CatalogCacheTTLSeconds int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	DefaultShopID          string
	ShopName               string
	ShopUPIID              string
	OwnerPasscode          string
	StaffPasscode          string
	LogLevel               string
	LogPretty              bool
	CommittedResetSeconds  int
	LoginAttemptsPerMinute int
	ShutdownTimeoutSeconds int
}

// Load reads the environment. A .env file in the working directory, when
// present, fills in variables that are not already set.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getInt("REDIS_DB", 0, 0),
		CatalogCacheTTLSeconds: getInt("CATALOG_CACHE_TTL_SECONDS", 60, 1),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  getInt("ACCESS_TOKEN_TTL_MINUTES", 720, 1),
		DefaultShopID:          getEnv("DEFAULT_SHOP_ID", "shop-demo"),
		ShopName:               getEnv("SHOP_NAME", "Tallyra Store"),
		ShopUPIID:              strings.TrimSpace(os.Getenv("SHOP_UPI_ID")),
		OwnerPasscode:          strings.TrimSpace(os.Getenv("OWNER_PASSCODE")),
		StaffPasscode:          strings.TrimSpace(os.Getenv("STAFF_PASSCODE")),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogPretty:              getBool("LOG_PRETTY", false),
		CommittedResetSeconds:  getInt("COMMITTED_RESET_SECONDS", 2, 1),
		LoginAttemptsPerMinute: getInt("LOGIN_ATTEMPTS_PER_MINUTE", 10, 1),
		ShutdownTimeoutSeconds: getInt("SHUTDOWN_TIMEOUT_SECONDS", 8, 1),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) CatalogCacheTTL() time.Duration {
	return time.Duration(c.CatalogCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) CommittedResetDelay() time.Duration {
	return time.Duration(c.CommittedResetSeconds) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed, or below min.
func getInt(key string, fallback int, min int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < min {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return b
}
