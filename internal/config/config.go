package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CertFile     string
	KeyFile      string
}

type LoggingConfig struct {
	Level  string
	Format string
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
	Brokers     []string
	SpCostTopic string
	EventsTopic string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

// FingerprintConfig holds the HMAC master key used for one-way digests of
// OTP codes and phone numbers. The key must stay stable across deploys or
// stored fingerprints become unverifiable.
type FingerprintConfig struct {
	MasterKey string
}

type OTPConfig struct {
	Length         int
	ExpiresIn      time.Duration
	DenylistExtras []string
}

type RateLimitConfig struct {
	MaxOTPSends     int
	Window          time.Duration
	LockoutDuration time.Duration
}

type ABTestConfig struct {
	TenDigitOTPEnabled bool
	TenDigitOTPPercent int
	ExperimentName     string
}

type TelephonyConfig struct {
	GatewayURL string
	DomainName string
}

type Config struct {
	Environment string
	Server      ServerConfig
	Logging     LoggingConfig
	Redis       RedisConfig
	Scylla      ScyllaConfig
	Kafka       KafkaConfig
	Clickhouse  ClickhouseConfig
	KMS         KMSConfig
	Fingerprint FingerprintConfig
	OTP         OTPConfig
	RateLimit   RateLimitConfig
	ABTest      ABTestConfig
	Telephony   TelephonyConfig
}

var (
	globalConfig *Config
	loadOnce     sync.Once
)

// LoadConfig reads configuration from the environment, loading a local .env
// file first when present.
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()

		globalConfig = &Config{
			Environment: getEnv("APP_ENV", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "idv"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Brokers:     getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
				SpCostTopic: getEnv("KAFKA_SP_COST_TOPIC", "sp-costs"),
				EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "idv-events"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Database: getEnv("CLICKHOUSE_DATABASE", "analytics"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("KMS_REGION", "us-east-1"),
			},
			Fingerprint: FingerprintConfig{
				MasterKey: getEnv("FINGERPRINT_MASTER_KEY", "dev-only-fingerprint-key"),
			},
			OTP: OTPConfig{
				Length:         getEnvInt("OTP_LENGTH", 6),
				ExpiresIn:      getEnvDuration("OTP_EXPIRES_IN", 10*time.Minute),
				DenylistExtras: getEnvList("OTP_DENYLIST_EXTRAS", nil),
			},
			RateLimit: RateLimitConfig{
				MaxOTPSends:     getEnvInt("OTP_MAX_SENDS", 5),
				Window:          getEnvDuration("OTP_SEND_WINDOW", 10*time.Minute),
				LockoutDuration: getEnvDuration("OTP_LOCKOUT_DURATION", 10*time.Minute),
			},
			ABTest: ABTestConfig{
				TenDigitOTPEnabled: getEnvBool("AB_TEN_DIGIT_OTP_ENABLED", false),
				TenDigitOTPPercent: getEnvInt("AB_TEN_DIGIT_OTP_PERCENT", 50),
				ExperimentName:     getEnv("AB_TEN_DIGIT_OTP_NAME", "idv_ten_digit_otp"),
			},
			Telephony: TelephonyConfig{
				GatewayURL: getEnv("TELEPHONY_GATEWAY_URL", "http://localhost:9090"),
				DomainName: getEnv("DOMAIN_NAME", "idv.example.com"),
			},
		}
	})

	return globalConfig
}

// Get returns the loaded configuration, loading it on first use.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
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
