package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"reset-guard/internal/normalize"
)

// Config holds every knob the service reads at startup. Loaded once
// in the factory and passed by reference; nothing reads the
// environment after LoadConfig returns except the identity API key,
// which is re-checked per request so a missing secret degrades to a
// request-level failure instead of a crash loop.
type Config struct {
	Environment string

	Server    ServerConfig
	Redis     RedisConfig
	Scylla    ScyllaConfig
	Kafka     KafkaConfig
	Identity  IdentityConfig
	RateLimit RateLimitConfig
	KMS       KMSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	EnableTLS   bool
	AutoCert    bool
	Domain      string
	CertFile    string
	KeyFile     string
	AutoCertDir string
	Email       string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// IdentityConfig points at the external identity provider. APIKey may
// legitimately be empty here; the orchestrator rejects requests with
// a failed-precondition until the secret shows up.
type IdentityConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ScopePolicy is one row of the rate-limit table.
type ScopePolicy struct {
	Cooldown     time.Duration
	Window       time.Duration
	MaxPerWindow int
}

type RateLimitConfig struct {
	Email ScopePolicy
	Phone ScopePolicy
	IP    ScopePolicy

	// DefaultRegion drives the leading-zero fallback in phone
	// normalization.
	DefaultRegion normalize.Region
}

type KMSConfig struct {
	Enabled          bool
	KeyID            string
	APIKeyCiphertext string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads the environment (after best-effort .env loading)
// into a Config with production-safe defaults.
func LoadConfig() *Config {
	// Missing .env is fine in containers; env vars win either way.
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),

		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", ""),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/lib/reset-guard/autocert"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
		},

		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},

		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "identity_directory"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},

		Kafka: KafkaConfig{
			Brokers:    getEnvList("KAFKA_BROKERS", nil),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "auth.reset-audit"),
		},

		Identity: IdentityConfig{
			BaseURL: getEnv("IDENTITY_BASE_URL", "https://identitytoolkit.googleapis.com/v1"),
			APIKey:  getEnv("IDENTITY_WEB_API_KEY", ""),
			Timeout: getEnvDuration("IDENTITY_TIMEOUT", 10*time.Second),
		},

		RateLimit: RateLimitConfig{
			Email: ScopePolicy{
				Cooldown:     getEnvDuration("RATE_EMAIL_COOLDOWN", 60*time.Second),
				Window:       getEnvDuration("RATE_EMAIL_WINDOW", 24*time.Hour),
				MaxPerWindow: getEnvInt("RATE_EMAIL_MAX", 5),
			},
			Phone: ScopePolicy{
				Cooldown:     getEnvDuration("RATE_PHONE_COOLDOWN", 30*time.Second),
				Window:       getEnvDuration("RATE_PHONE_WINDOW", 24*time.Hour),
				MaxPerWindow: getEnvInt("RATE_PHONE_MAX", 10),
			},
			IP: ScopePolicy{
				Cooldown:     getEnvDuration("RATE_IP_COOLDOWN", 5*time.Second),
				Window:       getEnvDuration("RATE_IP_WINDOW", time.Hour),
				MaxPerWindow: getEnvInt("RATE_IP_MAX", 30),
			},
			DefaultRegion: normalize.Region(getEnv("PHONE_DEFAULT_REGION", string(normalize.DefaultRegion))),
		},

		KMS: KMSConfig{
			Enabled:          getEnvBool("KMS_ENABLED", false),
			KeyID:            getEnv("KMS_KEY_ID", ""),
			APIKeyCiphertext: getEnv("IDENTITY_WEB_API_KEY_CIPHERTEXT", ""),
		},

		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
