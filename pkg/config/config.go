// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, ETL, API, etc.).
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
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ETL      ETLConfig      `yaml:"etl"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters. When URL is set it
// takes precedence over the discrete fields.
type PostgresConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	ConnectAttempts int           `yaml:"connectAttempts"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		// Heroku-style URLs use the postgres:// scheme.
		if strings.HasPrefix(p.URL, "postgres://") {
			return "postgresql://" + strings.TrimPrefix(p.URL, "postgres://")
		}
		return p.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	RunEvents string `yaml:"runEvents"`
	Triggers  string `yaml:"triggers"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// ETLConfig controls the ingestion worker: which sources run, how often a
// sweep is scheduled and how long a single extraction may block.
type ETLConfig struct {
	SweepInterval     time.Duration `yaml:"sweepInterval"`
	ExtractTimeout    time.Duration `yaml:"extractTimeout"`
	EnabledSources    []string      `yaml:"enabledSources"`
	CSVPath           string        `yaml:"csvPath"`
	UploadDir         string        `yaml:"uploadDir"`
	RSSURL            string        `yaml:"rssURL"`
	CoinPaprikaURL    string        `yaml:"coinPaprikaURL"`
	CoinPaprikaAPIKey string        `yaml:"coinPaprikaAPIKey"`
	CoinGeckoURL      string        `yaml:"coinGeckoURL"`
	APITopN           int           `yaml:"apiTopN"`
	HTTPTimeout       time.Duration `yaml:"httpTimeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

// APIConfig controls the read/query HTTP API.
type APIConfig struct {
	APIKey       string        `yaml:"apiKey"`
	RateLimit    int           `yaml:"rateLimit"`
	RateWindow   time.Duration `yaml:"rateWindow"`
	DefaultLimit int           `yaml:"defaultLimit"`
	MaxLimit     int           `yaml:"maxLimit"`

	// RequestTimeout bounds every route except CSV upload. Zero disables it.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
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
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
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
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "ingestion",
			User:            "postgres",
			Password:        "postgres",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectAttempts: 5,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "ingestion-group",
			Topics: KafkaTopics{
				RunEvents: "etl.runs",
				Triggers:  "etl.triggers",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 30 * time.Second,
		},
		ETL: ETLConfig{
			SweepInterval:     time.Hour,
			ExtractTimeout:    2 * time.Minute,
			EnabledSources:    []string{"csv", "coinpaprika", "coingecko", "rss"},
			CSVPath:           "data/products.csv",
			UploadDir:         "temp_uploads",
			RSSURL:            "https://news.google.com/rss?hl=en-US&gl=US&ceid=US:en",
			CoinPaprikaURL:    "https://api.coinpaprika.com/v1/tickers",
			CoinGeckoURL:      "https://api.coingecko.com/api/v3/coins/markets",
			APITopN:           50,
			HTTPTimeout:       15 * time.Second,
			RequestsPerSecond: 2,
		},
		API: APIConfig{
			RateLimit:      60,
			RateWindow:     time.Minute,
			DefaultLimit:   100,
			MaxLimit:       1000,
			RequestTimeout: 15 * time.Second,
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

func (c *Config) validate() error {
	if c.ETL.SweepInterval <= 0 {
		return fmt.Errorf("etl.sweepInterval must be positive")
	}
	if c.ETL.ExtractTimeout < 0 {
		return fmt.Errorf("etl.extractTimeout must not be negative")
	}
	if c.API.DefaultLimit <= 0 || c.API.MaxLimit < c.API.DefaultLimit {
		return fmt.Errorf("api limits must satisfy 0 < defaultLimit <= maxLimit")
	}
	if c.API.RateLimit <= 0 || c.API.RateWindow <= 0 {
		return fmt.Errorf("api.rateLimit and api.rateWindow must be positive")
	}
	return nil
}

// applyEnvOverrides reads UIP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UIP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("UIP_DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("UIP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("UIP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("UIP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("UIP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("UIP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("UIP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("UIP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("UIP_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("UIP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("UIP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("UIP_ETL_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ETL.SweepInterval = d
		}
	}
	if v := os.Getenv("UIP_ETL_SOURCES"); v != "" {
		cfg.ETL.EnabledSources = strings.Split(v, ",")
	}
	if v := os.Getenv("UIP_ETL_CSV_PATH"); v != "" {
		cfg.ETL.CSVPath = v
	}
	if v := os.Getenv("UIP_COINPAPRIKA_API_KEY"); v != "" {
		cfg.ETL.CoinPaprikaAPIKey = v
	}
	if v := os.Getenv("UIP_API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	if v := os.Getenv("UIP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("UIP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
