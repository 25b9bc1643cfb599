package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML file applied before env overrides.
const ConfigFileEnv = "DOCPARSER_CONFIG"

// Config holds all application configuration
type Config struct {
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Catalog    EndpointConfig   `yaml:"catalog"`
	Submission EndpointConfig   `yaml:"submission"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Mongo      MongoConfig      `yaml:"mongo"`
	Server     ServerConfig     `yaml:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Queue      QueueConfig      `yaml:"queue"`
}

// AnalysisConfig points at the document analysis service.
type AnalysisConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	APIKey       string        `yaml:"api_key"`
	ModelID      string        `yaml:"model_id"`
	APIVersion   string        `yaml:"api_version"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	Retry        RetryConfig   `yaml:"retry"`
}

// EndpointConfig is shared by the catalog and submission services.
type EndpointConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

// RetryConfig controls transport-level retries of a remote call.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// StorageConfig locates the uploads/processed containers.
type StorageConfig struct {
	Root          string `yaml:"root"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// DatabaseConfig holds run ledger configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // sqlite | postgres
	DSN              string        `yaml:"dsn"`
	SQLitePath       string        `yaml:"sqlite_path"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// RedisConfig enables the shared claim lock. Empty Addr means in-process locking.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// MongoConfig enables the raw analysis store. Empty URI keeps results in memory.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// PipelineConfig bounds a single run.
type PipelineConfig struct {
	RunTimeout     time.Duration `yaml:"run_timeout"`
	ArchiveTimeout time.Duration `yaml:"archive_timeout"`
	WatchDebounce  time.Duration `yaml:"watch_debounce"`
	InitialScan    bool          `yaml:"initial_scan"`
}

// QueueConfig sizes the worker pool.
type QueueConfig struct {
	Workers int `yaml:"workers"`
	Size    int `yaml:"size"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			ModelID:      "SurveyExtractionModel4",
			APIVersion:   "2023-07-31",
			PollInterval: time.Second,
			Timeout:      5 * time.Minute,
			Retry:        RetryConfig{MaxRetries: 3, MinBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second},
		},
		Catalog: EndpointConfig{
			Timeout: 30 * time.Second,
			Retry:   RetryConfig{MaxRetries: 3, MinBackoff: 250 * time.Millisecond, MaxBackoff: 5 * time.Second},
		},
		Submission: EndpointConfig{
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Root: "./data",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			SQLitePath:      "./data/docparser.db",
			MaxConns:        20,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Redis: RedisConfig{
			LockTTL: 10 * time.Minute,
		},
		Mongo: MongoConfig{
			Database:   "docparser",
			Collection: "analysis_results",
		},
		Server: ServerConfig{
			HTTPAddr: ":8080",
			GRPCAddr: ":8081",
		},
		Pipeline: PipelineConfig{
			RunTimeout:     10 * time.Minute,
			ArchiveTimeout: time.Minute,
			WatchDebounce:  500 * time.Millisecond,
			InitialScan:    true,
		},
		Queue: QueueConfig{
			Workers: 4,
			Size:    256,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by DOCPARSER_CONFIG, then environment variables.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile merges a YAML file over the current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Analysis.Endpoint = getEnv("ANALYSIS_ENDPOINT", c.Analysis.Endpoint)
	c.Analysis.APIKey = getEnv("ANALYSIS_API_KEY", c.Analysis.APIKey)
	c.Analysis.ModelID = getEnv("ANALYSIS_MODEL_ID", c.Analysis.ModelID)
	c.Analysis.APIVersion = getEnv("ANALYSIS_API_VERSION", c.Analysis.APIVersion)
	c.Analysis.PollInterval = getEnvAsDuration("ANALYSIS_POLL_INTERVAL", c.Analysis.PollInterval)
	c.Analysis.Timeout = getEnvAsDuration("ANALYSIS_TIMEOUT", c.Analysis.Timeout)
	c.Analysis.Retry.MaxRetries = getEnvAsInt("ANALYSIS_MAX_RETRIES", c.Analysis.Retry.MaxRetries)

	c.Catalog.BaseURL = getEnv("CATALOG_BASE_URL", c.Catalog.BaseURL)
	c.Catalog.Timeout = getEnvAsDuration("CATALOG_TIMEOUT", c.Catalog.Timeout)
	c.Catalog.Retry.MaxRetries = getEnvAsInt("CATALOG_MAX_RETRIES", c.Catalog.Retry.MaxRetries)

	c.Submission.BaseURL = getEnv("SUBMISSION_BASE_URL", c.Submission.BaseURL)
	c.Submission.Timeout = getEnvAsDuration("SUBMISSION_TIMEOUT", c.Submission.Timeout)
	c.Submission.Retry.MaxRetries = getEnvAsInt("SUBMISSION_MAX_RETRIES", c.Submission.Retry.MaxRetries)

	c.Storage.Root = getEnv("STORAGE_ROOT", c.Storage.Root)
	c.Storage.PublicBaseURL = getEnv("STORAGE_PUBLIC_BASE_URL", c.Storage.PublicBaseURL)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.SQLitePath = getEnv("DB_SQLITE_PATH", c.Database.SQLitePath)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.LockTTL = getEnvAsDuration("REDIS_LOCK_TTL", c.Redis.LockTTL)

	c.Mongo.URI = getEnv("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = getEnv("MONGO_DATABASE", c.Mongo.Database)
	c.Mongo.Collection = getEnv("MONGO_COLLECTION", c.Mongo.Collection)

	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)

	c.Pipeline.RunTimeout = getEnvAsDuration("PIPELINE_RUN_TIMEOUT", c.Pipeline.RunTimeout)
	c.Pipeline.ArchiveTimeout = getEnvAsDuration("PIPELINE_ARCHIVE_TIMEOUT", c.Pipeline.ArchiveTimeout)
	c.Pipeline.WatchDebounce = getEnvAsDuration("WATCH_DEBOUNCE", c.Pipeline.WatchDebounce)
	c.Pipeline.InitialScan = getEnvAsBool("WATCH_INITIAL_SCAN", c.Pipeline.InitialScan)

	c.Queue.Workers = getEnvAsInt("QUEUE_WORKERS", c.Queue.Workers)
	c.Queue.Size = getEnvAsInt("QUEUE_SIZE", c.Queue.Size)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the settings every pipeline run depends on.
func (c *Config) Validate() error {
	v := NewValidator().
		Field("analysis.endpoint", c.Analysis.Endpoint, Required, AbsoluteURL).
		Field("analysis.api_key", c.Analysis.APIKey, Required).
		Field("analysis.model_id", c.Analysis.ModelID, Required).
		Field("analysis.poll_interval", c.Analysis.PollInterval, Positive).
		Field("catalog.base_url", c.Catalog.BaseURL, Required, AbsoluteURL).
		Field("submission.base_url", c.Submission.BaseURL, Required, AbsoluteURL).
		Field("storage.root", c.Storage.Root, Required).
		Field("storage.public_base_url", c.Storage.PublicBaseURL, Required, AbsoluteURL).
		Field("pipeline.run_timeout", c.Pipeline.RunTimeout, Positive).
		Field("queue.workers", c.Queue.Workers, Positive)

	switch c.Database.Driver {
	case "sqlite":
		v.Field("database.sqlite_path", c.Database.SQLitePath, Required)
	case "postgres":
		v.Field("database.dsn", c.Database.DSN, Required)
	default:
		v.Field("database.driver", c.Database.Driver, func(name string, value any) *ValidationError {
			return &ValidationError{Field: name, Value: value, Message: "must be sqlite or postgres"}
		})
	}
	return v.Err("CONFIG_ERROR")
}
