package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Role определяет, какие сервисы поднимает процесс.
type Role string

const (
	RoleInventory Role = "inventory"
	RolePayment   Role = "payment"
	RoleOrders    Role = "orders"
	// RoleAll поднимает все три сервиса в одном процессе; оркестратор вызывает их напрямую.
	RoleAll Role = "all"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

const (
	IdempotencyBackendStorage = "storage"
	IdempotencyBackendRedis   = "redis"
)

// ConfigFileEnv указывает на YAML-файл, значения из которого перекрываются переменными окружения.
const ConfigFileEnv = "OMS_CONFIG_FILE"

// Config описывает настройки запуска приложения.
type Config struct {
	Role        Role   `yaml:"role"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	StorageDriver       string `yaml:"storage_driver"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate"`

	IdempotencyBackend          string        `yaml:"idempotency_backend"`
	RedisAddr                   string        `yaml:"redis_addr"`
	IdempotencyTTL              time.Duration `yaml:"idempotency_ttl"`
	IdempotencyCleanupInterval  time.Duration `yaml:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `yaml:"idempotency_cleanup_batch_size"`

	InventoryAddr   string        `yaml:"inventory_addr"`
	PaymentAddr     string        `yaml:"payment_addr"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	PaymentLimit  float64 `yaml:"payment_limit"`
	PaymentPolicy string  `yaml:"payment_policy"`

	KafkaBrokers       []string      `yaml:"kafka_brokers"`
	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts  int           `yaml:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `yaml:"outbox_retry_delay"`

	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
	LogLevel         string  `yaml:"log_level"`
	LogFormat        string  `yaml:"log_format"`
}

// DefaultConfig возвращает конфигурацию одного процесса с in-memory хранилищем.
func DefaultConfig() Config {
	return Config{
		Role:                        RoleAll,
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		IdempotencyBackend:          IdempotencyBackendStorage,
		IdempotencyTTL:              5 * time.Minute,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		UpstreamTimeout:             5 * time.Second,
		PaymentLimit:                1000,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           5,
		OutboxRetryDelay:            500 * time.Millisecond,
		TraceSampleRatio:            1.0,
		LogLevel:                    "info",
		LogFormat:                   "text",
	}
}

// LoadConfig собирает конфигурацию: значения по умолчанию, затем YAML из OMS_CONFIG_FILE,
// затем переменные окружения OMS_* и KAFKA_BROKERS.
func LoadConfig() (Config, error) {
	return loadConfig(os.LookupEnv, os.ReadFile)
}

func loadConfig(lookup func(string) (string, bool), readFile func(string) ([]byte, error)) (Config, error) {
	cfg := DefaultConfig()

	if path, ok := lookup(ConfigFileEnv); ok && strings.TrimSpace(path) != "" {
		raw, err := readFile(strings.TrimSpace(path))
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	var role string
	if v, ok := lookup("OMS_ROLE"); ok {
		role = strings.ToLower(strings.TrimSpace(v))
		cfg.Role = Role(role)
	}
	str("OMS_GRPC_ADDR", &cfg.GRPCAddr)
	str("OMS_METRICS_ADDR", &cfg.MetricsAddr)
	str("OMS_STORAGE_DRIVER", &cfg.StorageDriver)
	str("OMS_POSTGRES_DSN", &cfg.PostgresDSN)
	boolean("OMS_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	str("OMS_IDEMPOTENCY_BACKEND", &cfg.IdempotencyBackend)
	str("OMS_REDIS_ADDR", &cfg.RedisAddr)
	duration("OMS_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	duration("OMS_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	integer("OMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)
	str("OMS_INVENTORY_ADDR", &cfg.InventoryAddr)
	str("OMS_PAYMENT_ADDR", &cfg.PaymentAddr)
	duration("OMS_UPSTREAM_TIMEOUT", &cfg.UpstreamTimeout)
	float("OMS_PAYMENT_LIMIT", &cfg.PaymentLimit)
	str("OMS_PAYMENT_POLICY", &cfg.PaymentPolicy)
	if v, ok := lookup("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = parseList(v)
	}
	duration("OMS_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	integer("OMS_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	integer("OMS_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	duration("OMS_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	float("OMS_TRACE_SAMPLE_RATIO", &cfg.TraceSampleRatio)
	str("OMS_LOG_LEVEL", &cfg.LogLevel)
	str("OMS_LOG_FORMAT", &cfg.LogFormat)

	return errors.Join(errs...)
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleInventory, RolePayment, RoleOrders, RoleAll:
	default:
		errs = append(errs, fmt.Errorf("unsupported role %q", c.Role))
	}
	if strings.TrimSpace(c.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc address is required"))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.IdempotencyBackend {
	case IdempotencyBackendStorage:
	case IdempotencyBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("redis address is required for redis idempotency backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported idempotency backend %q", c.IdempotencyBackend))
	}

	if c.Role == RoleOrders && (strings.TrimSpace(c.InventoryAddr) == "" || strings.TrimSpace(c.PaymentAddr) == "") {
		errs = append(errs, errors.New("orders role requires inventory and payment addresses"))
	}

	positive := map[string]time.Duration{
		"idempotency ttl":              c.IdempotencyTTL,
		"idempotency cleanup interval": c.IdempotencyCleanupInterval,
		"upstream timeout":             c.UpstreamTimeout,
		"outbox poll interval":         c.OutboxPollInterval,
	}
	for name, value := range positive {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must not be negative"))
	}
	if c.IdempotencyCleanupBatchSize <= 0 || c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("batch sizes and attempts must be positive"))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, errors.New("trace sample ratio must be within [0, 1]"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Serves сообщает, поднимает ли процесс сервис role.
func (c Config) Serves(role Role) bool {
	return c.Role == RoleAll || c.Role == role
}

func parseList(raw string) []string {
	chunks := strings.Split(raw, ",")
	items := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if item := strings.TrimSpace(chunk); item != "" {
			items = append(items, item)
		}
	}
	return items
}
