package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Session backends
const (
	SessionJWT   = "jwt"
	SessionRedis = "redis"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr      string
	ServerPort      int
	ShutdownTimeout time.Duration
	LogLevel        string

	// Storage
	StoreBackend    string
	MigrateOnStart  bool
	DBHost          string
	DBPort          int
	DBUser          string
	DBPassword      string
	DBName          string
	DBSSLMode       string
	CleanupInterval time.Duration

	// Sessions
	SessionBackend string
	RedisURL       string
	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration
	SessionTTL     time.Duration
	RememberMeTTL  time.Duration
	CookieSecure   bool

	// Account lifecycle
	RequireConfirmedAccount bool
	EmailConfirmationTTL    time.Duration
	PasswordResetTTL        time.Duration
	AppBaseURL              string
	MinResponseDuration     time.Duration

	CORSAllowedOrigins []string

	Lockout         LockoutConfig
	PasswordPolicy  PasswordPolicyConfig
	Validation      ValidationConfig
	SecurityHeaders SecurityHeadersConfig
	SMTP            SMTPConfig
	Notify          NotifyConfig
}

// LockoutConfig controls failed-login lockout.
type LockoutConfig struct {
	MaxFailedAttempts int
	Duration          time.Duration
}

// PasswordPolicyConfig holds password complexity requirements.
type PasswordPolicyConfig struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// ValidationConfig holds input validation settings.
type ValidationConfig struct {
	MaxRequestBodySize int64
	StrictEmail        bool
	BlockDisposable    bool
}

// SecurityHeadersConfig holds the response security header values.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// SMTPConfig configures outgoing mail. An empty Host means notifications
// are only logged.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// NotifyConfig sizes the asynchronous notification dispatcher.
type NotifyConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment variables
// win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerAddr:      getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort:      getEnvInt("SERVER_PORT", 8080),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		StoreBackend:    strings.ToLower(getEnv("STORE_BACKEND", StorePostgres)),
		MigrateOnStart:  getEnvBool("MIGRATE_ON_START", true),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnvInt("DB_PORT", 25432),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "identity_manager"),
		DBSSLMode:       getEnv("DB_SSLMODE", "disable"),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", time.Hour),

		SessionBackend: strings.ToLower(getEnv("SESSION_BACKEND", SessionJWT)),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", "identity-manager"),
		AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		SessionTTL:     getEnvDuration("SESSION_TTL", 12*time.Hour),
		RememberMeTTL:  getEnvDuration("REMEMBER_ME_TTL", 14*24*time.Hour),
		CookieSecure:   getEnvBool("COOKIE_SECURE", false),

		RequireConfirmedAccount: getEnvBool("REQUIRE_CONFIRMED_ACCOUNT", false),
		EmailConfirmationTTL:    getEnvDuration("EMAIL_CONFIRMATION_TTL", 24*time.Hour),
		PasswordResetTTL:        getEnvDuration("PASSWORD_RESET_TTL", time.Hour),
		AppBaseURL:              strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8080"), "/"),
		MinResponseDuration:     getEnvDuration("ANTI_ENUMERATION_MIN_DURATION", 250*time.Millisecond),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),

		Lockout: LockoutConfig{
			MaxFailedAttempts: getEnvInt("LOCKOUT_MAX_FAILED_ATTEMPTS", 5),
			Duration:          getEnvDuration("LOCKOUT_DURATION", 30*time.Minute),
		},

		PasswordPolicy: PasswordPolicyConfig{
			MinLength:        getEnvInt("PASSWORD_MIN_LENGTH", 5),
			RequireUppercase: getEnvBool("PASSWORD_REQUIRE_UPPERCASE", false),
			RequireLowercase: getEnvBool("PASSWORD_REQUIRE_LOWERCASE", true),
			RequireNumber:    getEnvBool("PASSWORD_REQUIRE_NUMBER", false),
			RequireSpecial:   getEnvBool("PASSWORD_REQUIRE_SPECIAL", false),
		},

		Validation: ValidationConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
			StrictEmail:        getEnvBool("EMAIL_STRICT", true),
			BlockDisposable:    getEnvBool("EMAIL_BLOCK_DISPOSABLE", false),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'self'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:      getEnv("SECURITY_XSS_PROTECTION", "1; mode=block"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
			PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", "geolocation=(), microphone=(), camera=()"),
		},

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "no-reply@localhost"),
			FromName: getEnv("SMTP_FROM_NAME", "Identity Manager"),
		},

		Notify: NotifyConfig{
			Workers:   getEnvInt("NOTIFY_WORKERS", 2),
			QueueSize: getEnvInt("NOTIFY_QUEUE_SIZE", 100),
			Timeout:   getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreMemory, StorePostgres, c.StoreBackend)
	}

	switch c.SessionBackend {
	case SessionJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required")
		}
	case SessionRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be %q or %q, got %q", SessionJWT, SessionRedis, c.SessionBackend)
	}

	if c.Lockout.MaxFailedAttempts < 1 {
		return fmt.Errorf("LOCKOUT_MAX_FAILED_ATTEMPTS must be at least 1")
	}
	return nil
}

// HasSMTP returns true if outgoing mail is configured.
func (c *Config) HasSMTP() bool {
	return c.SMTP.Host != ""
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerAddr, c.ServerPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
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
