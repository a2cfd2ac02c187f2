// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Redis, Kafka, Qdrant, Embedding, Sync, Query).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Sync      SyncConfig      `yaml:"sync"`
	Query     QueryConfig     `yaml:"query"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ListingUpserted string `yaml:"listingUpserted"`
}

// QdrantConfig holds the vector index connection settings.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

// EmbeddingConfig selects the embedding model and bounds each call.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"baseUrl"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	// RatePerSecond caps outgoing embedding requests; zero disables the cap.
	RatePerSecond float64 `yaml:"ratePerSecond"`
	Burst         int     `yaml:"burst"`
}

// SyncConfig controls when and how the vectorization synchronizer runs.
type SyncConfig struct {
	BatchLimit       int           `yaml:"batchLimit"`
	TriggerThreshold int           `yaml:"triggerThreshold"`
	Interval         time.Duration `yaml:"interval"`
	ClaimLease       time.Duration `yaml:"claimLease"`
	EmbedTimeout     time.Duration `yaml:"embedTimeout"`
	IndexTimeout     time.Duration `yaml:"indexTimeout"`
	Concurrency      int           `yaml:"concurrency"`
	LockTTL          time.Duration `yaml:"lockTTL"`
}

// QueryConfig controls retrieval limits.
type QueryConfig struct {
	DefaultTopK   int           `yaml:"defaultTopK"`
	MaxTopK       int           `yaml:"maxTopK"`
	Timeout       time.Duration `yaml:"timeout"`
	JoinListings  bool          `yaml:"joinListings"`
	RatePerSecond float64       `yaml:"ratePerSecond"`
	Burst         int           `yaml:"burst"`
}

// ScraperConfig points the ingest pipeline at its site configs and inputs.
type ScraperConfig struct {
	SitesDir string `yaml:"sitesDir"`
	InputDir string `yaml:"inputDir"`
}

// CORSConfig lists the browser origins allowed to call the search service.
type CORSConfig struct {
	AllowOrigins []string `yaml:"allowOrigins"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	if c.Sync.BatchLimit <= 0 {
		return fmt.Errorf("sync.batchLimit must be positive, got %d", c.Sync.BatchLimit)
	}
	if c.Query.DefaultTopK <= 0 || c.Query.MaxTopK < c.Query.DefaultTopK {
		return fmt.Errorf("query topK bounds invalid: default=%d max=%d", c.Query.DefaultTopK, c.Query.MaxTopK)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Qdrant.Collection == "" {
		return fmt.Errorf("qdrant.collection is required")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "properties",
			User:            "properties",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "vectoriser",
			Topics: KafkaTopics{
				ListingUpserted: "listing.upserted",
			},
		},
		Qdrant: QdrantConfig{
			Addr:       "localhost:6334",
			Collection: "embeddings_storage",
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			Timeout:    30 * time.Second,
			Burst:      1,
		},
		Sync: SyncConfig{
			BatchLimit:       100,
			TriggerThreshold: 50,
			Interval:         10 * time.Minute,
			ClaimLease:       5 * time.Minute,
			EmbedTimeout:     30 * time.Second,
			IndexTimeout:     30 * time.Second,
			Concurrency:      4,
			LockTTL:          15 * time.Minute,
		},
		Query: QueryConfig{
			DefaultTopK:   10,
			MaxTopK:       50,
			Timeout:       5 * time.Second,
			JoinListings:  true,
			RatePerSecond: 10,
			Burst:         20,
		},
		Scraper: ScraperConfig{
			SitesDir: "configs/sites",
			InputDir: "data/raw",
		},
		CORS: CORSConfig{
			AllowOrigins: []string{"http://localhost:1704"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads RSS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RSS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RSS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RSS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RSS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RSS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RSS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RSS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("RSS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RSS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RSS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RSS_QDRANT_ADDR"); v != "" {
		cfg.Qdrant.Addr = v
	}
	if v := os.Getenv("RSS_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("RSS_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("RSS_SYNC_BATCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.BatchLimit = n
		}
	}
	if v := os.Getenv("RSS_CORS_ALLOW_ORIGINS"); v != "" {
		cfg.CORS.AllowOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("RSS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RSS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
