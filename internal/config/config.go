package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matheusmosca/order-saga-orchestrator/internal/resilience"
	"gopkg.in/yaml.v3"
)

// Backends aceitos
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// DatabaseConfig descreve a conexão pgx usada pelos repositórios
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// DSN monta a URL de conexão do pool
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&pool_max_conns=25&pool_min_conns=5",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

type BreakerSettings struct {
	Timeout        time.Duration `yaml:"timeout"`
	ErrorThreshold int           `yaml:"errorThreshold"`
	ResetTimeout   time.Duration `yaml:"resetTimeout"`
	MinRequests    int           `yaml:"minRequests"`
}

type RetrySettings struct {
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialInterval time.Duration `yaml:"initialInterval"`
}

// Config é a configuração do serviço.
// Valores vêm dos defaults, depois do arquivo YAML em CONFIG_FILE (se houver),
// depois das variáveis de ambiente.
type Config struct {
	Port            string        `yaml:"port"`
	ServiceName     string        `yaml:"serviceName"`
	LogLevel        string        `yaml:"logLevel"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	StorageBackend    string         `yaml:"storageBackend"`
	EventStoreBackend string         `yaml:"eventStoreBackend"`
	Database          DatabaseConfig `yaml:"database"`
	EventsDatabaseURL string         `yaml:"eventsDatabaseUrl"`
	BadgerDir         string         `yaml:"badgerDir"`

	KafkaBrokers     string `yaml:"kafkaBrokers"`
	KafkaEventsTopic string `yaml:"kafkaEventsTopic"`

	RedisAddr string `yaml:"redisAddr"`
	DLQKey    string `yaml:"dlqKey"`

	InventoryURL    string        `yaml:"inventoryUrl"`
	PaymentURL      string        `yaml:"paymentUrl"`
	NotificationURL string        `yaml:"notificationUrl"`
	HTTPTimeout     time.Duration `yaml:"httpTimeout"`

	OTelEnabled  bool   `yaml:"otelEnabled"`
	OTelEndpoint string `yaml:"otelEndpoint"`

	Breaker BreakerSettings `yaml:"breaker"`
	Retry   RetrySettings   `yaml:"retry"`
}

// Default retorna a configuração usada quando nada é informado
func Default() Config {
	return Config{
		Port:            "3000",
		ServiceName:     "orders-saga",
		LogLevel:        "info",
		ShutdownTimeout: 15 * time.Second,

		StorageBackend:    BackendMemory,
		EventStoreBackend: BackendMemory,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "root",
			Password: "pass",
			Name:     "orders_db",
		},
		BadgerDir: "./data/events",

		KafkaEventsTopic: "orders-saga.events",
		DLQKey:           "orders-saga:dlq",

		InventoryURL:    "http://localhost:3002",
		PaymentURL:      "http://localhost:3003",
		NotificationURL: "http://localhost:3004",
		HTTPTimeout:     10 * time.Second,

		OTelEndpoint: "localhost:4318",

		Breaker: BreakerSettings{
			Timeout:        5 * time.Second,
			ErrorThreshold: 50,
			ResetTimeout:   30 * time.Second,
			MinRequests:    5,
		},
		Retry: RetrySettings{
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
		},
	}
}

// Load monta a configuração a partir do arquivo e do ambiente
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", cfg.StorageBackend))
	cfg.EventStoreBackend = strings.ToLower(getEnv("EVENT_STORE_BACKEND", cfg.EventStoreBackend))
	cfg.Database.Host = getEnv("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnv("DATABASE_NAME", cfg.Database.Name)
	cfg.EventsDatabaseURL = getEnv("EVENTS_DATABASE_URL", cfg.EventsDatabaseURL)
	cfg.BadgerDir = getEnv("BADGER_DIR", cfg.BadgerDir)

	cfg.KafkaBrokers = getEnv("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaEventsTopic = getEnv("KAFKA_EVENTS_TOPIC", cfg.KafkaEventsTopic)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.DLQKey = getEnv("DLQ_KEY", cfg.DLQKey)

	cfg.InventoryURL = getEnv("INVENTORY_SERVICE_URL", cfg.InventoryURL)
	cfg.PaymentURL = getEnv("PAYMENT_SERVICE_URL", cfg.PaymentURL)
	cfg.NotificationURL = getEnv("NOTIFICATION_SERVICE_URL", cfg.NotificationURL)
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", cfg.HTTPTimeout)

	cfg.OTelEnabled = getEnvBool("OTEL_ENABLED", cfg.OTelEnabled)
	cfg.OTelEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)

	cfg.Breaker.Timeout = getEnvDuration("BREAKER_TIMEOUT", cfg.Breaker.Timeout)
	cfg.Breaker.ErrorThreshold = getEnvInt("BREAKER_ERROR_THRESHOLD", cfg.Breaker.ErrorThreshold)
	cfg.Breaker.ResetTimeout = getEnvDuration("BREAKER_RESET_TIMEOUT", cfg.Breaker.ResetTimeout)
	cfg.Breaker.MinRequests = getEnvInt("BREAKER_MIN_REQUESTS", cfg.Breaker.MinRequests)
	cfg.Retry.MaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.InitialInterval = getEnvDuration("RETRY_INITIAL_INTERVAL", cfg.Retry.InitialInterval)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate verifica os backends escolhidos
func (c Config) Validate() error {
	switch c.StorageBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q: expected memory or postgres", c.StorageBackend)
	}
	switch c.EventStoreBackend {
	case BackendMemory, BackendPostgres, BackendBadger:
	default:
		return fmt.Errorf("invalid EVENT_STORE_BACKEND %q: expected memory, postgres or badger", c.EventStoreBackend)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("invalid RETRY_MAX_ATTEMPTS %d: must be at least 1", c.Retry.MaxAttempts)
	}
	return nil
}

// EventsDSN retorna a DSN do event store Postgres; sem EVENTS_DATABASE_URL usa o banco principal
func (c Config) EventsDSN() string {
	if c.EventsDatabaseURL != "" {
		return c.EventsDatabaseURL
	}
	d := c.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
}

// BreakerConfig retorna a configuração do breaker de uma operação downstream
func (c Config) BreakerConfig(name string) resilience.BreakerConfig {
	bc := resilience.DefaultBreakerConfig(name)
	bc.Timeout = c.Breaker.Timeout
	bc.ErrorThresholdPercentage = c.Breaker.ErrorThreshold
	bc.ResetTimeout = c.Breaker.ResetTimeout
	bc.MinimumRequests = c.Breaker.MinRequests
	return bc
}

// RetryPolicy retorna a política de retry das chamadas downstream
func (c Config) RetryPolicy() resilience.RetryPolicy {
	policy := resilience.DefaultRetryPolicy()
	policy.MaxAttempts = c.Retry.MaxAttempts
	if c.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.Retry.InitialInterval
	}
	return policy
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
