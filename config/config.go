package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendRedis    = "redis"
	StoreBackendMemory   = "memory"

	QueueBackendRedis  = "redis"
	QueueBackendMemory = "memory"
)

type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Transaction TransactionConfig
	Queue       QueueConfig
	Cache       CacheConfig
	Log         LogConfig
}

type ServerConfig struct {
	Address         string        `env:"SERVER_ADDRESS" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// RequestTimeout 是每個請求的整體期限，超過時交易重試會以 ConflictExhausted 結束
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
	GinMode        string        `env:"GIN_MODE" envDefault:"release"`
}

type StoreConfig struct {
	Backend string `env:"STORE_BACKEND" envDefault:"postgres"`
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName   string `env:"DB_NAME" envDefault:"postgres"`
	SSLMode  string `env:"DB_SSL_MODE" envDefault:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns int32  `env:"DB_MIN_CONNS" envDefault:"5"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     string `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// TransactionConfig 交易重試策略：最多嘗試次數與指數退避（含 jitter）
type TransactionConfig struct {
	MaxAttempts         int           `env:"TX_MAX_ATTEMPTS" envDefault:"5"`
	InitialBackoff      time.Duration `env:"TX_INITIAL_BACKOFF" envDefault:"20ms"`
	MaxBackoff          time.Duration `env:"TX_MAX_BACKOFF" envDefault:"500ms"`
	Multiplier          float64       `env:"TX_BACKOFF_MULTIPLIER" envDefault:"2"`
	RandomizationFactor float64       `env:"TX_BACKOFF_JITTER" envDefault:"0.5"`
}

type QueueConfig struct {
	Backend            string        `env:"QUEUE_BACKEND" envDefault:"redis"`
	BufferSize         int           `env:"QUEUE_BUFFER_SIZE" envDefault:"1024"`
	ConsumerID         string        `env:"QUEUE_CONSUMER_ID"`
	ClaimMinIdleTime   time.Duration `env:"QUEUE_CLAIM_MIN_IDLE" envDefault:"5s"`
	MaxRetryCount      int           `env:"QUEUE_MAX_RETRY" envDefault:"5"`
	ReadGroupBlockTime time.Duration `env:"QUEUE_READ_BLOCK" envDefault:"2s"`
	BatchSize          int64         `env:"QUEUE_BATCH_SIZE" envDefault:"50"`
	StreamMaxLen       int64         `env:"QUEUE_STREAM_MAXLEN" envDefault:"100000"`
}

type CacheConfig struct {
	AvailabilityTTL time.Duration `env:"CACHE_AVAILABILITY_TTL" envDefault:"10m"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendPostgres, StoreBackendRedis, StoreBackendMemory:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Queue.Backend {
	case QueueBackendRedis, QueueBackendMemory:
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND %q", c.Queue.Backend)
	}
	if c.Transaction.MaxAttempts < 1 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be at least 1, got %d", c.Transaction.MaxAttempts)
	}
	return nil
}

func LoadTestConfig() *Config {
	testConfig := &DatabaseConfig{
		Host:     "localhost",
		Port:     "5433", // 測試 DB 用 5433 port
		User:     "postgres",
		Password: "postgres",
		DBName:   "test_db",
		SSLMode:  "disable",
		MaxConns: 25,
		MinConns: 1,
	}

	testRedisConfig := RedisConfig{
		Host:     "localhost",
		Port:     "6380", // 測試 Redis 用 6380 port
		Password: "",
		DB:       1,
	}

	return &Config{
		Store:    StoreConfig{Backend: StoreBackendMemory},
		Database: *testConfig,
		Redis:    testRedisConfig,
		Transaction: TransactionConfig{
			MaxAttempts:         5,
			InitialBackoff:      time.Millisecond,
			MaxBackoff:          10 * time.Millisecond,
			Multiplier:          2,
			RandomizationFactor: 0.5,
		},
		Queue: QueueConfig{
			Backend:            QueueBackendMemory,
			BufferSize:         100,
			ClaimMinIdleTime:   time.Second,
			MaxRetryCount:      3,
			ReadGroupBlockTime: 100 * time.Millisecond,
			BatchSize:          10,
			StreamMaxLen:       1000,
		},
		Cache: CacheConfig{AvailabilityTTL: time.Minute},
		Log:   LogConfig{Level: "debug"},
	}
}
