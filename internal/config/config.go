package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	Security SecurityConfig
	Idle     IdleConfig
	OTP      OTPConfig
	Accounts AccountsConfig
	Init     InitConfig
	Sentry   SentryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           string
	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the session store connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// SessionConfig controls the client-context tokens and session storage
type SessionConfig struct {
	// Driver selects the session storage backend: "memory" or "redis"
	Driver string
	// TTL bounds the lifetime of ephemeral session storage
	TTL    time.Duration
	Secret string
	Issuer string
	// RememberShort and RememberLong are the remember-me token lifetimes
	RememberShort time.Duration
	RememberLong  time.Duration
	// VerifyCacheTTL caches account existence checks for restored sessions
	VerifyCacheTTL time.Duration
}

// SecurityConfig holds throttling and lockout thresholds
type SecurityConfig struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
	RateLimitSweep  time.Duration
	// HTTPRateLimit caps requests per remote address per RateLimitWindow
	HTTPRateLimit    int
	LockoutThreshold int
	LockoutWindow    time.Duration
	LockoutSweep     time.Duration
	ActivityCapacity int
	BcryptCost       int
}

// IdleConfig holds inactivity timeout settings
type IdleConfig struct {
	Timeout       time.Duration
	CheckInterval time.Duration
	HiddenPenalty time.Duration
	Throttle      time.Duration
}

// OTPConfig selects and configures the one-time-code provider
type OTPConfig struct {
	// Provider is "remote" (HTTP OTP service) or "local" (TOTP codes)
	Provider     string
	BaseURL      string
	Timeout      time.Duration
	Organization string
	Subject      string
	Period       time.Duration
}

// AccountsConfig holds account provisioning settings
type AccountsConfig struct {
	// StoreDriver selects the record store: "memory" or "postgres"
	StoreDriver string
	// DefaultPassword is used for new accounts created without a password.
	// When empty a random temporary password is generated instead.
	DefaultPassword string
	AdminUsername   string
	AdminPassword   string
	AdminEmail      string
}

// InitConfig bounds how long operations wait for the system to become ready
type InitConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// SentryConfig holds error reporting settings
type SentryConfig struct {
	DSN string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Env: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "fieldgate"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "fieldgate"),
		},
		Session: SessionConfig{
			Driver:         getEnv("SESSION_DRIVER", "memory"),
			TTL:            getDurationEnv("SESSION_TTL", 12*time.Hour),
			Secret:         getEnv("SESSION_SECRET", ""),
			Issuer:         getEnv("SESSION_ISSUER", "fieldgate"),
			RememberShort:  getDurationEnv("REMEMBER_SHORT_TTL", 5*24*time.Hour),
			RememberLong:   getDurationEnv("REMEMBER_LONG_TTL", 30*24*time.Hour),
			VerifyCacheTTL: getDurationEnv("SESSION_VERIFY_CACHE_TTL", time.Minute),
		},
		Security: SecurityConfig{
			RateLimitMax:     getIntEnv("RATE_LIMIT_MAX", 200),
			RateLimitWindow:  getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			RateLimitSweep:   getDurationEnv("RATE_LIMIT_SWEEP", 30*time.Second),
			HTTPRateLimit:    getIntEnv("HTTP_RATE_LIMIT", 300),
			LockoutThreshold: getIntEnv("LOCKOUT_THRESHOLD", 5),
			LockoutWindow:    getDurationEnv("LOCKOUT_WINDOW", 5*time.Minute),
			LockoutSweep:     getDurationEnv("LOCKOUT_SWEEP", 5*time.Minute),
			ActivityCapacity: getIntEnv("ACTIVITY_LOG_CAPACITY", 50),
			BcryptCost:       getIntEnv("BCRYPT_COST", 12),
		},
		Idle: IdleConfig{
			Timeout:       getDurationEnv("IDLE_TIMEOUT", 30*time.Minute),
			CheckInterval: getDurationEnv("IDLE_CHECK_INTERVAL", 2*time.Minute),
			HiddenPenalty: getDurationEnv("IDLE_HIDDEN_PENALTY", 5*time.Minute),
			Throttle:      getDurationEnv("IDLE_THROTTLE", time.Second),
		},
		OTP: OTPConfig{
			Provider:     getEnv("OTP_PROVIDER", "remote"),
			BaseURL:      getEnv("OTP_BASE_URL", "http://localhost:4000/api"),
			Timeout:      getDurationEnv("OTP_TIMEOUT", 10*time.Second),
			Organization: getEnv("OTP_ORGANIZATION", "Hệ thống Kiểm tra Trùng lặp"),
			Subject:      getEnv("OTP_SUBJECT", "Mã xác minh đặt lại mật khẩu"),
			Period:       getDurationEnv("OTP_PERIOD", 5*time.Minute),
		},
		Accounts: AccountsConfig{
			StoreDriver:     getEnv("STORE_DRIVER", "memory"),
			DefaultPassword: getEnv("DEFAULT_PASSWORD", ""),
			AdminUsername:   getEnv("ADMIN_USERNAME", ""),
			AdminPassword:   getEnv("ADMIN_PASSWORD", ""),
			AdminEmail:      getEnv("ADMIN_EMAIL", ""),
		},
		Init: InitConfig{
			MaxAttempts: getIntEnv("INIT_MAX_ATTEMPTS", 100),
			RetryDelay:  getDurationEnv("INIT_RETRY_DELAY", 50*time.Millisecond),
		},
		Sentry: SentryConfig{
			DSN: getEnv("SENTRY_DSN", ""),
		},
	}
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// URL returns the connection string in URL form, as expected by migrate
func (d *DatabaseConfig) URL() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Values use Go duration syntax ("90s", "30m"); a bare integer is read as minutes.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
