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
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Redis    RedisConfig
	Email    EmailConfig
	Events   EventsConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AuthRateLimit  int // Requests per minute per IP on public auth endpoints
}

// AuthConfig carries token lifetimes and the login guard thresholds.
type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration // "Remember me" sessions
	SessionExpiry      time.Duration // Sessions without "remember me"
	CleanupInterval    time.Duration
	AuditRetentionDays int // Zero keeps audit rows forever

	MaxFailedLoginAttempts    int
	AccountLockoutDuration    time.Duration
	LoginRateLimitMaxAttempts int
	LoginRateLimitWindow      time.Duration
	RequireVerifiedEmailLogin bool

	EmailVerificationExpiry time.Duration
	PasswordResetExpiry     time.Duration
	TokenResendCooldown     time.Duration

	AdminEmail    string
	AdminPassword string
}

type RedisConfig struct {
	Addr     string // Empty disables Redis; an in-process limiter is used instead
	Password string
	DB       int
}

type EmailConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
	FromName    string
	AppBaseURL  string
}

type EventsConfig struct {
	RabbitMQURL string // Empty disables event publishing
	Exchange    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "ledgerguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AuthRateLimit:  getEnvAsInt("AUTH_RATE_LIMIT_PER_MINUTE", 20),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),
			SessionExpiry:      getEnvAsDuration("SESSION_EXPIRY", 2*time.Hour),
			CleanupInterval:    getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
			AuditRetentionDays: getEnvAsInt("AUDIT_RETENTION_DAYS", 365),

			MaxFailedLoginAttempts:    getEnvAsInt("MAX_FAILED_LOGIN_ATTEMPTS", 5),
			AccountLockoutDuration:    getEnvAsDuration("ACCOUNT_LOCKOUT_DURATION", 15*time.Minute),
			LoginRateLimitMaxAttempts: getEnvAsInt("LOGIN_RATE_LIMIT_MAX_ATTEMPTS", 5),
			LoginRateLimitWindow:      getEnvAsDuration("LOGIN_RATE_LIMIT_WINDOW", 60*time.Second),
			RequireVerifiedEmailLogin: getEnvAsBool("REQUIRE_VERIFIED_EMAIL_LOGIN", false),

			EmailVerificationExpiry: getEnvAsDuration("EMAIL_VERIFICATION_EXPIRY", 24*time.Hour),
			PasswordResetExpiry:     getEnvAsDuration("PASSWORD_RESET_EXPIRY", 1*time.Hour),
			TokenResendCooldown:     getEnvAsDuration("TOKEN_RESEND_COOLDOWN", 1*time.Minute),

			AdminEmail:    getEnv("ADMIN_EMAIL", ""),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@ledgerguard.local"),
			FromName:    getEnv("EMAIL_FROM_NAME", "Ledgerguard"),
			AppBaseURL:  getEnv("APP_BASE_URL", "http://localhost:5173"),
		},
		Events: EventsConfig{
			RabbitMQURL: getEnv("RABBITMQ_URL", ""),
			Exchange:    getEnv("RABBITMQ_EXCHANGE", "account.events"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (a *AuthConfig) validate() error {
	if a.MaxFailedLoginAttempts < 1 {
		return fmt.Errorf("MAX_FAILED_LOGIN_ATTEMPTS must be at least 1")
	}
	if a.LoginRateLimitMaxAttempts < 1 {
		return fmt.Errorf("LOGIN_RATE_LIMIT_MAX_ATTEMPTS must be at least 1")
	}
	if a.AccountLockoutDuration <= 0 {
		return fmt.Errorf("ACCOUNT_LOCKOUT_DURATION must be positive")
	}
	if a.LoginRateLimitWindow < time.Second {
		return fmt.Errorf("LOGIN_RATE_LIMIT_WINDOW must be at least 1s")
	}
	if (a.AdminEmail == "") != (a.AdminPassword == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		origins := parseList(getEnv("ALLOWED_ORIGINS", ""))
		if origins == nil {
			return []string{} // Default to no origins in production
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
