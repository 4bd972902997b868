package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Database drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Worker   WorkerConfig   `yaml:"worker"`
	Queue    QueueConfig    `yaml:"queue"`
	Cache    CacheConfig    `yaml:"cache"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// DatabaseConfig selects the job store. memory keeps jobs in process,
// sqlite uses Path, postgres uses the connection fields.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds the optional wake-up transport configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      AMQPQueueConfig  `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// AMQPQueueConfig holds RabbitMQ queue configuration
type AMQPQueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	// Embedded runs the pool inside the API process; required with the memory driver
	Embedded          bool          `yaml:"embedded"`
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// QueueConfig holds retry and lease policy
type QueueConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffCap    time.Duration `yaml:"backoff_cap"`
	LeaseDuration time.Duration `yaml:"lease_duration"`
	ReapInterval  time.Duration `yaml:"reap_interval"`
}

// CacheConfig holds HTTP response cache configuration
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	PendingTTL    time.Duration `yaml:"pending_ttl"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// AnalysisConfig holds submission and analyzer settings
type AnalysisConfig struct {
	DedupWindow      time.Duration `yaml:"dedup_window"`
	MaxMetadataBytes int           `yaml:"max_metadata_bytes"`
	Fetch            FetchConfig   `yaml:"fetch"`
	OpenAI           OpenAIConfig  `yaml:"openai"`
}

// FetchConfig holds outbound HTTP settings of the analyzer
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	RateLimit    float64       `yaml:"rate_limit"`
	Burst        int           `yaml:"burst"`
}

// OpenAIConfig holds the optional page summary step
type OpenAIConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// JobsConfig holds retention of finished jobs
type JobsConfig struct {
	Retention     time.Duration `yaml:"retention"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

// Default returns the configuration used for every key a file leaves out
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "restaurant-analysis",
			Version:     "dev",
			Environment: "development",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Driver:          DriverMemory,
			Path:            "analysis.db",
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		RabbitMQ: RabbitMQConfig{
			Host:       "localhost",
			Port:       5672,
			User:       "guest",
			VHost:      "/",
			Exchange:   ExchangeConfig{Name: "analysis", Type: "direct", Durable: true},
			Queue:      AMQPQueueConfig{Name: "analysis.wakeups", Durable: true},
			RoutingKey: "analysis.job",
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 2 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Publish:  PublishConfig{RetryAttempts: 3, RetryInterval: 100 * time.Millisecond},
			Consumer: ConsumerConfig{PrefetchCount: 10},
		},
		Worker: WorkerConfig{
			Embedded:          true,
			Concurrency:       4,
			JobTimeout:        60 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			PollInterval:      time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Queue: QueueConfig{
			MaxAttempts:   3,
			BackoffBase:   2 * time.Second,
			BackoffCap:    5 * time.Minute,
			LeaseDuration: 30 * time.Second,
			ReapInterval:  15 * time.Second,
		},
		Cache: CacheConfig{
			TTL:           300 * time.Second,
			PendingTTL:    2 * time.Second,
			PurgeInterval: time.Minute,
		},
		Analysis: AnalysisConfig{
			DedupWindow:      10 * time.Minute,
			MaxMetadataBytes: 8 << 10,
			Fetch: FetchConfig{
				Timeout:      20 * time.Second,
				UserAgent:    "restaurant-analysis-bot/1.0",
				MaxBodyBytes: 2 << 20,
				RateLimit:    5,
				Burst:        5,
			},
			OpenAI: OpenAIConfig{
				Model:   "gpt-4o-mini",
				Timeout: 30 * time.Second,
			},
		},
		Jobs: JobsConfig{
			Retention:     7 * 24 * time.Hour,
			PurgeInterval: time.Hour,
		},
	}
}

// Load reads the configuration file over Default and applies secret overrides from the environment
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	return config, nil
}

// applyEnv lets secrets stay out of config files
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Analysis.OpenAI.APIKey = v
	}
}

// Validate checks the settings every binary depends on
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.Host == "" {
			return errors.New("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return errors.New("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return errors.New("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return errors.New("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return errors.New("rabbitmq queue name is required")
		}
	}

	if c.Queue.MaxAttempts <= 0 {
		return errors.New("queue max_attempts must be greater than 0")
	}
	if c.Queue.BackoffBase <= 0 {
		return errors.New("queue backoff_base must be greater than 0")
	}
	if c.Queue.BackoffCap < c.Queue.BackoffBase {
		return errors.New("queue backoff_cap must not be less than backoff_base")
	}
	if c.Queue.LeaseDuration <= 0 {
		return errors.New("queue lease_duration must be greater than 0")
	}

	if c.Cache.TTL <= 0 {
		return errors.New("cache ttl must be greater than 0")
	}
	if c.Cache.PendingTTL <= 0 || c.Cache.PendingTTL > c.Cache.TTL {
		return errors.New("cache pending_ttl must be greater than 0 and at most ttl")
	}

	if c.Analysis.DedupWindow < 0 {
		return errors.New("analysis dedup_window must not be negative")
	}
	if c.Analysis.MaxMetadataBytes <= 0 {
		return errors.New("analysis max_metadata_bytes must be greater than 0")
	}
	if c.Analysis.OpenAI.Enabled && c.Analysis.OpenAI.APIKey == "" {
		return errors.New("analysis openai api_key is required when openai is enabled")
	}

	return nil
}

// ValidateAPIConfig checks the settings of the API service
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Driver == DriverMemory && !c.Worker.Embedded {
		return errors.New("memory database driver requires worker.embedded")
	}

	if c.Worker.Embedded {
		return c.validateWorker()
	}
	return nil
}

// ValidateWorkerConfig checks the settings of the standalone worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Database.Driver == DriverMemory {
		return errors.New("worker service cannot share a memory database; use sqlite or postgres")
	}

	return c.validateWorker()
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return errors.New("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return errors.New("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.HeartbeatInterval >= c.Queue.LeaseDuration {
		return errors.New("worker heartbeat_interval must be shorter than queue lease_duration")
	}

	if c.Worker.PollInterval <= 0 {
		return errors.New("worker poll_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return errors.New("worker shutdown_timeout must be greater than 0")
	}

	return nil
}
