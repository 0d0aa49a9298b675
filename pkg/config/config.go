package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devAccessSecret  = "dev_access_secret"
	devRefreshSecret = "dev_refresh_secret"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Session       SessionConfig
	RateLimit     RateLimitConfig
	Hashing       HashingConfig
	Audit         AuditConfig
	Cleanup       CleanupConfig
	Kafka         KafkaConfig
	Notifications NotificationConfig
	CORS          CORSConfig
	HTTP          HTTPConfig
	Log           LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds signing material for both token classes. The secrets must differ.
type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      []string
}

// SessionConfig tunes session lifetime and refresh reuse handling.
type SessionConfig struct {
	DefaultTTL    time.Duration
	RememberTTL   time.Duration
	RevokeOnReuse bool
	ReuseGrace    time.Duration
}

// RateLimitConfig configures the login rate gate and lockout.
type RateLimitConfig struct {
	MaxAttempts           int
	MaxIPAttempts         int
	Window                time.Duration
	LockoutThreshold      int
	LockoutWindow         time.Duration
	SuspiciousIPThreshold int
	RejectBots            bool
}

type HashingConfig struct {
	Algorithm string
	Cost      int
}

type AuditConfig struct {
	Retention time.Duration
}

// CleanupConfig drives the periodic pruning jobs.
type CleanupConfig struct {
	Enabled          bool
	Interval         time.Duration
	AttemptRetention time.Duration
	SessionGrace     time.Duration
}

type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
}

type NotificationConfig struct {
	Enabled    bool
	Workers    int
	MaxRetries int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// HTTPConfig holds the addresses of reverse proxies whose forwarding headers
// may be trusted. Empty means the connection address is always used.
type HTTPConfig struct {
	TrustedProxies []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		AccessSecret:  v.GetString("JWT_ACCESS_SECRET"),
		RefreshSecret: v.GetString("JWT_REFRESH_SECRET"),
		AccessTTL:     parseDuration(v.GetString("JWT_ACCESS_TTL"), 15*time.Minute),
		RefreshTTL:    parseDuration(v.GetString("JWT_REFRESH_TTL"), 30*24*time.Hour),
		Issuer:        v.GetString("JWT_ISSUER"),
		Audience:      splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.Session = SessionConfig{
		DefaultTTL:    parseDuration(v.GetString("SESSION_TTL"), 7*24*time.Hour),
		RememberTTL:   parseDuration(v.GetString("SESSION_REMEMBER_TTL"), 30*24*time.Hour),
		RevokeOnReuse: v.GetBool("SESSION_REVOKE_ON_REUSE"),
		ReuseGrace:    parseDuration(v.GetString("SESSION_REUSE_GRACE"), 30*time.Second),
	}

	cfg.RateLimit = RateLimitConfig{
		MaxAttempts:           v.GetInt("RATE_LIMIT_MAX_ATTEMPTS"),
		MaxIPAttempts:         v.GetInt("RATE_LIMIT_MAX_IP_ATTEMPTS"),
		Window:                parseDuration(v.GetString("RATE_LIMIT_WINDOW"), 15*time.Minute),
		LockoutThreshold:      v.GetInt("LOCKOUT_THRESHOLD"),
		LockoutWindow:         parseDuration(v.GetString("LOCKOUT_WINDOW"), 30*time.Minute),
		SuspiciousIPThreshold: v.GetInt("SUSPICIOUS_IP_THRESHOLD"),
		RejectBots:            v.GetBool("REJECT_BOTS"),
	}

	cfg.Hashing = HashingConfig{
		Algorithm: strings.ToLower(v.GetString("HASH_ALGORITHM")),
		Cost:      v.GetInt("HASH_COST"),
	}

	cfg.Audit = AuditConfig{
		Retention: parseDuration(v.GetString("AUDIT_RETENTION"), 365*24*time.Hour),
	}

	cfg.Cleanup = CleanupConfig{
		Enabled:          v.GetBool("CLEANUP_ENABLED"),
		Interval:         parseDuration(v.GetString("CLEANUP_INTERVAL"), time.Hour),
		AttemptRetention: parseDuration(v.GetString("ATTEMPT_RETENTION"), 30*24*time.Hour),
		SessionGrace:     parseDuration(v.GetString("SESSION_PRUNE_GRACE"), 7*24*time.Hour),
	}

	cfg.Kafka = KafkaConfig{
		Brokers:           splitAndTrim(v.GetString("KAFKA_BROKERS")),
		NotificationTopic: v.GetString("KAFKA_NOTIFICATION_TOPIC"),
	}

	cfg.Notifications = NotificationConfig{
		Enabled:    v.GetBool("ENABLE_NOTIFICATIONS"),
		Workers:    v.GetInt("NOTIFICATION_WORKERS"),
		MaxRetries: v.GetInt("NOTIFICATION_MAX_RETRIES"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}
	cfg.HTTP = HTTPConfig{TrustedProxies: splitAndTrim(v.GetString("TRUSTED_PROXIES"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg
}

// Validate rejects configurations that would weaken token separation.
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("access and refresh signing secrets must differ")
	}
	if c.Env == EnvProduction && (c.JWT.AccessSecret == devAccessSecret || c.JWT.RefreshSecret == devRefreshSecret) {
		return errors.New("development signing secrets are not allowed in production")
	}
	if c.Session.DefaultTTL <= 0 || c.Session.RememberTTL <= 0 {
		return errors.New("session TTLs must be positive")
	}
	if c.RateLimit.MaxAttempts <= 0 || c.RateLimit.MaxIPAttempts <= 0 || c.RateLimit.LockoutThreshold <= 0 {
		return errors.New("rate limit thresholds must be positive")
	}
	switch c.Hashing.Algorithm {
	case "bcrypt", "argon2id":
	default:
		return errors.New("HASH_ALGORITHM must be bcrypt or argon2id")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "authguard")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_ACCESS_SECRET", devAccessSecret)
	v.SetDefault("JWT_REFRESH_SECRET", devRefreshSecret)
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "720h")
	v.SetDefault("JWT_ISSUER", "authguard-api")
	v.SetDefault("JWT_AUDIENCE", "authguard-clients")

	v.SetDefault("SESSION_TTL", "168h")
	v.SetDefault("SESSION_REMEMBER_TTL", "720h")
	v.SetDefault("SESSION_REVOKE_ON_REUSE", true)
	v.SetDefault("SESSION_REUSE_GRACE", "30s")

	v.SetDefault("RATE_LIMIT_MAX_ATTEMPTS", 5)
	v.SetDefault("RATE_LIMIT_MAX_IP_ATTEMPTS", 10)
	v.SetDefault("RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_WINDOW", "30m")
	v.SetDefault("SUSPICIOUS_IP_THRESHOLD", 3)
	v.SetDefault("REJECT_BOTS", true)

	v.SetDefault("HASH_ALGORITHM", "bcrypt")
	v.SetDefault("HASH_COST", 12)

	v.SetDefault("AUDIT_RETENTION", "8760h")

	v.SetDefault("CLEANUP_ENABLED", true)
	v.SetDefault("CLEANUP_INTERVAL", "1h")
	v.SetDefault("ATTEMPT_RETENTION", "720h")
	v.SetDefault("SESSION_PRUNE_GRACE", "168h")

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_NOTIFICATION_TOPIC", "auth.notifications")
	v.SetDefault("ENABLE_NOTIFICATIONS", true)
	v.SetDefault("NOTIFICATION_WORKERS", 2)
	v.SetDefault("NOTIFICATION_MAX_RETRIES", 3)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
