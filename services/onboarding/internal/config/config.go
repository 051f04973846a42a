package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	base "github.com/xx-3-xx/BankWebsite/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// Enabled reports whether audit and linked-account recording is configured.
func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers     []string
	ClientID    string
	EventsTopic string
	DLQTopic    string
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.EventsTopic != ""
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

func (c MinioConfig) Enabled() bool {
	return c.Endpoint != ""
}

// LatencyConfig holds the delays of the simulated units of work.
type LatencyConfig struct {
	Register time.Duration
	FaceScan time.Duration
	Upload   time.Duration
	SMS      time.Duration
	Link     time.Duration
}

type VerificationConfig struct {
	TTL         time.Duration
	MaxAttempts int
	Required    bool
	RateLimit   int
	RateWindow  time.Duration
	RatePrefix  string
	StorePrefix string
}

type Config struct {
	App               base.AppConfig
	DB                DBConfig
	Redis             RedisConfig
	Kafka             KafkaConfig
	Minio             MinioConfig
	Latency           LatencyConfig
	Verification      VerificationConfig
	StepTimeout       time.Duration
	FaceConfidence    float64
	MinFaceConfidence float64
	OTLPEndpoint      string
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("ONB_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("ONB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("ONB_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("step_timeout", "10s")
	v.SetDefault("face.confidence", 0.95)
	v.SetDefault("face.min_confidence", 0.7)
	v.SetDefault("latency.register", "1s")
	v.SetDefault("latency.face_scan", "2s")
	v.SetDefault("latency.upload", "2s")
	v.SetDefault("latency.sms", "1500ms")
	v.SetDefault("latency.link", "2s")
	v.SetDefault("verification.ttl", "5m")
	v.SetDefault("verification.max_attempts", 5)
	v.SetDefault("verification.required", false)
	v.SetDefault("verification.rate_limit", 3)
	v.SetDefault("verification.rate_window", "10m")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("kafka.client_id", "onboarding")
	v.SetDefault("kafka.events_topic", "onboarding.events")
	v.SetDefault("kafka.dlq_topic", "dead_letter")
	v.SetDefault("minio.bucket", "onboarding-documents")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("DB_HOST", envString("POSTGRES_HOST", "")),
			Port:     envInt("DB_PORT", envInt("POSTGRES_PORT", 5432)),
			Name:     envString("DB_NAME", envString("POSTGRES_DB", "onboarding")),
			User:     envString("DB_USER", envString("POSTGRES_USER", "onboarding")),
			Password: envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", "onboarding")),
			SSLMode:  envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", "disable")),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: envString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       envInt("REDIS_DB", v.GetInt("redis.db")),
		},
		Kafka: KafkaConfig{
			Brokers:     envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ClientID:    envString("KAFKA_CLIENT_ID", v.GetString("kafka.client_id")),
			EventsTopic: envString("KAFKA_EVENTS_TOPIC", v.GetString("kafka.events_topic")),
			DLQTopic:    envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.dlq_topic")),
		},
		Minio: MinioConfig{
			Endpoint:  envString("MINIO_ENDPOINT", v.GetString("minio.endpoint")),
			AccessKey: envString("MINIO_ACCESS_KEY", v.GetString("minio.access_key")),
			SecretKey: envString("MINIO_SECRET_KEY", v.GetString("minio.secret_key")),
			Bucket:    envString("MINIO_BUCKET", v.GetString("minio.bucket")),
			Secure:    envBool("MINIO_SECURE", v.GetBool("minio.secure")),
		},
		Latency: LatencyConfig{
			Register: envDuration("LATENCY_REGISTER", v.GetDuration("latency.register")),
			FaceScan: envDuration("LATENCY_FACE_SCAN", v.GetDuration("latency.face_scan")),
			Upload:   envDuration("LATENCY_UPLOAD", v.GetDuration("latency.upload")),
			SMS:      envDuration("LATENCY_SMS", v.GetDuration("latency.sms")),
			Link:     envDuration("LATENCY_LINK", v.GetDuration("latency.link")),
		},
		Verification: VerificationConfig{
			TTL:         envDuration("VERIFICATION_TTL", v.GetDuration("verification.ttl")),
			MaxAttempts: envInt("VERIFICATION_MAX_ATTEMPTS", v.GetInt("verification.max_attempts")),
			Required:    envBool("REQUIRE_VERIFICATION", v.GetBool("verification.required")),
			RateLimit:   envInt("VERIFICATION_RATE_LIMIT", v.GetInt("verification.rate_limit")),
			RateWindow:  envDuration("VERIFICATION_RATE_WINDOW", v.GetDuration("verification.rate_window")),
			RatePrefix:  envString("VERIFICATION_RATE_PREFIX", v.GetString("verification.rate_prefix")),
			StorePrefix: envString("VERIFICATION_STORE_PREFIX", v.GetString("verification.store_prefix")),
		},
		StepTimeout:       envDuration("STEP_TIMEOUT", v.GetDuration("step_timeout")),
		FaceConfidence:    envFloat("FACE_CONFIDENCE", v.GetFloat64("face.confidence")),
		MinFaceConfidence: envFloat("FACE_MIN_CONFIDENCE", v.GetFloat64("face.min_confidence")),
		OTLPEndpoint:      envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.StepTimeout <= 0 {
		return nil, fmt.Errorf("step_timeout must be positive")
	}
	if cfg.MinFaceConfidence <= 0 || cfg.MinFaceConfidence > 1 {
		return nil, fmt.Errorf("face.min_confidence must be in (0, 1]")
	}
	if cfg.Verification.TTL <= 0 {
		return nil, fmt.Errorf("verification.ttl must be positive")
	}
	if cfg.Verification.MaxAttempts <= 0 {
		return nil, fmt.Errorf("verification.max_attempts must be positive")
	}
	if cfg.Verification.RateLimit <= 0 || cfg.Verification.RateWindow <= 0 {
		return nil, fmt.Errorf("verification rate limit and window must be positive")
	}
	if cfg.Minio.Enabled() && cfg.Minio.Bucket == "" {
		return nil, fmt.Errorf("minio bucket required")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv("ONB_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := envString(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := envString(key, ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := envString(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := envString(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	v := envString(key, "")
	if v == "" {
		return def
	}
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
