package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "certify/pkg/platform/strings"
)

// DevRootAdmin is the bootstrap root admin used when ROOT_ADMIN_IDENTITY is unset.
const DevRootAdmin = "0x1111111111111111111111111111111111111111"

// Server captures process level configuration.
type Server struct {
	Addr          string
	LogLevel      string
	Environment   string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	Network          string
	CanonicalMode    string
	RootAdmin        string
	Admins           []string
	IssuerKeys       []string
	LedgerDSN        string
	DatabaseURL      string
	BatchConcurrency int
	AuditBuffer      int

	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
}

// RateLimitConfig holds per-window request budgets for each endpoint class.
type RateLimitConfig struct {
	Disabled bool
	Window   time.Duration
	Read     int
	Verify   int
	Batch    int
	Write    int
}

// RedisConfig configures the document cache. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// KafkaConfig configures the audit event stream. No brokers disables it.
type KafkaConfig struct {
	Brokers    []string
	Topic      string
	ClientID   string
	Partitions int32
	Replicas   int16
}

// IsProduction reports whether dev defaults must be refused.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:          env("CERTIFY_ADDR", ":8080"),
		LogLevel:      env("CERTIFY_LOG_LEVEL", "info"),
		Environment:   env("CERTIFY_ENV", "development"),
		JWTSigningKey: env("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     env("JWT_ISSUER", "certify"),
		JWTAudience:   env("JWT_AUDIENCE", "certify-api"),

		Network:          env("CERT_NETWORK", "default"),
		CanonicalMode:    env("CANONICAL_MODE", "toplevel"),
		RootAdmin:        env("ROOT_ADMIN_IDENTITY", DevRootAdmin),
		Admins:           list("ADMIN_IDENTITIES"),
		IssuerKeys:       list("ISSUER_PRIVATE_KEYS"),
		LedgerDSN:        os.Getenv("LEDGER_DSN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		BatchConcurrency: intEnv("BATCH_VERIFY_CONCURRENCY", 8),
		AuditBuffer:      intEnv("AUDIT_BUFFER", 256),

		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: intEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     durationEnv("DOCUMENT_CACHE_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:    list("KAFKA_BROKERS"),
			Topic:      env("KAFKA_TOPIC", "certify.certificates"),
			ClientID:   env("KAFKA_CLIENT_ID", "certify"),
			Partitions: int32(intEnv("KAFKA_PARTITIONS", 3)),
			Replicas:   int16(intEnv("KAFKA_REPLICAS", 1)),
		},
		RateLimit: RateLimitConfig{
			Disabled: boolEnv("RATE_LIMIT_DISABLED"),
			Window:   durationEnv("RATE_LIMIT_WINDOW", time.Minute),
			Read:     intEnv("RATE_LIMIT_READ", 600),
			Verify:   intEnv("RATE_LIMIT_VERIFY", 120),
			Batch:    intEnv("RATE_LIMIT_BATCH", 10),
			Write:    intEnv("RATE_LIMIT_WRITE", 60),
		},
	}
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func list(key string) []string {
	return platformstrings.SplitList(os.Getenv(key))
}

func intEnv(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
