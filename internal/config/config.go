package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the admin gateway.
// Everything is sourced from environment variables; a .env file is
// loaded when present so local development matches the container setup.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Upstream      UpstreamConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Session       SessionConfig
	Audit         AuditConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// UpstreamConfig points at the identity backend (the CMS) that owns
// credentials and signs tokens. The gateway never verifies signatures
// itself; it delegates to these endpoints.
type UpstreamConfig struct {
	BaseURL     string
	Timeout     time.Duration
	AdminAppURL string
}

type AuthConfig struct {
	AccessCookie  string
	RefreshCookie string
	SessionCookie string
	LoginPath     string
	PublicPaths   []string
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
	SecureCookies bool
}

// ScopePolicy is the fixed-window budget plus the failed-attempt lockout
// for one rate-limit scope. MaxFailed == 0 disables lockout tracking.
type ScopePolicy struct {
	MaxRequests int
	Window      time.Duration
	MaxFailed   int
	Lockout     time.Duration
}

type RateLimitConfig struct {
	UserLogin     ScopePolicy
	AdminLogin    ScopePolicy
	API           ScopePolicy
	SweepInterval time.Duration
	UseRedis      bool
}

type SessionConfig struct {
	MaxPerUser    int
	TTL           time.Duration
	SweepInterval time.Duration
	UseScylla     bool
}

type AuditConfig struct {
	BufferSize int
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
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
	Table    string
}

type ElasticsearchConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Index    string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

// LoadConfig reads configuration from the environment. Missing values
// fall back to development defaults; production deployments are expected
// to set everything explicitly.
func LoadConfig() *Config {
	// Best effort: absence of a .env file is normal in production
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/cache/admin-gateway/certs"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Upstream: UpstreamConfig{
			BaseURL:     getEnv("UPSTREAM_BASE_URL", "http://localhost:1337"),
			Timeout:     getEnvDuration("UPSTREAM_TIMEOUT", 5*time.Second),
			AdminAppURL: getEnv("ADMIN_APP_URL", "http://localhost:3000"),
		},
		Auth: AuthConfig{
			AccessCookie:  getEnv("AUTH_ACCESS_COOKIE", "admin_token"),
			RefreshCookie: getEnv("AUTH_REFRESH_COOKIE", "admin_refresh_token"),
			SessionCookie: getEnv("AUTH_SESSION_COOKIE", "admin_session_id"),
			LoginPath:     getEnv("AUTH_LOGIN_PATH", "/admin/login"),
			PublicPaths:   getEnvSlice("AUTH_PUBLIC_PATHS", []string{"/admin/login", "/admin/forgot-password", "/api/v1/admin/login"}),
			AccessMaxAge:  getEnvDuration("AUTH_ACCESS_COOKIE_MAX_AGE", 7*24*time.Hour),
			RefreshMaxAge: getEnvDuration("AUTH_REFRESH_COOKIE_MAX_AGE", 30*24*time.Hour),
			SecureCookies: getEnvBool("AUTH_SECURE_COOKIES", getEnv("APP_ENV", "development") == "production"),
		},
		RateLimit: RateLimitConfig{
			UserLogin: ScopePolicy{
				MaxRequests: getEnvInt("RATELIMIT_USER_LOGIN_MAX", 10),
				Window:      getEnvDuration("RATELIMIT_USER_LOGIN_WINDOW", 5*time.Minute),
				MaxFailed:   getEnvInt("RATELIMIT_USER_LOGIN_MAX_FAILED", 3),
				Lockout:     getEnvDuration("RATELIMIT_USER_LOGIN_LOCKOUT", 30*time.Minute),
			},
			AdminLogin: ScopePolicy{
				MaxRequests: getEnvInt("RATELIMIT_ADMIN_LOGIN_MAX", 5),
				Window:      getEnvDuration("RATELIMIT_ADMIN_LOGIN_WINDOW", 15*time.Minute),
				MaxFailed:   getEnvInt("RATELIMIT_ADMIN_LOGIN_MAX_FAILED", 3),
				Lockout:     getEnvDuration("RATELIMIT_ADMIN_LOGIN_LOCKOUT", 60*time.Minute),
			},
			API: ScopePolicy{
				MaxRequests: getEnvInt("RATELIMIT_API_MAX", 120),
				Window:      getEnvDuration("RATELIMIT_API_WINDOW", time.Minute),
			},
			SweepInterval: getEnvDuration("RATELIMIT_SWEEP_INTERVAL", time.Minute),
			UseRedis:      getEnvBool("RATELIMIT_USE_REDIS", false),
		},
		Session: SessionConfig{
			MaxPerUser:    getEnvInt("SESSION_MAX_PER_USER", 5),
			TTL:           getEnvDuration("SESSION_TTL", 7*24*time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			UseScylla:     getEnvBool("SESSION_USE_SCYLLA", false),
		},
		Audit: AuditConfig{
			BufferSize: getEnvInt("AUDIT_BUFFER_SIZE", 1000),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "admin_gateway"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_SECURITY_EVENTS_TOPIC", "admin-security-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
			Database: getEnv("CLICKHOUSE_DATABASE", "admin_gateway"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Table:    getEnv("CLICKHOUSE_EVENTS_TABLE", "security_events"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_EVENTS_INDEX", "admin-security-events"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "us-east-1"),
		},
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
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

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
