package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Dispatch modes
const (
	DispatchInProcess = "inprocess"
	DispatchQueue     = "queue"
)

// Provider directories
const (
	DirectoryMemory = "memory"
	DirectoryRedis  = "redis"
)

// Price sample stores
const (
	SamplesMemory   = "memory"
	SamplesPostgres = "postgres"
	SamplesMongoDB  = "mongodb"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Redis    RedisConfig    `yaml:"redis"`
	MongoDB  MongoDBConfig  `yaml:"mongodb"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Worker   WorkerConfig   `yaml:"worker"`
	Notify   NotifyConfig   `yaml:"notify"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Intake   IntakeConfig   `yaml:"intake"`
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
	// StreamHeartbeat is the interval of SSE keep-alive comments
	StreamHeartbeat time.Duration `yaml:"stream_heartbeat"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	NoColor      bool   `yaml:"no_color"`
}

// StoreConfig selects the job/offer store
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
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
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the cross-instance event relay settings
type RedisConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	Channel           string        `yaml:"channel"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	QueueSize         int           `yaml:"queue_size"`
	PublishRetries    int           `yaml:"publish_retries"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// MongoDBConfig holds the price sample archive connection
type MongoDBConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	Collection     string        `yaml:"collection"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DispatchConfig holds broadcast settings
type DispatchConfig struct {
	RadiusKm         float64       `yaml:"radius_km"`
	Mode             string        `yaml:"mode"`
	BroadcastTimeout time.Duration `yaml:"broadcast_timeout"`
	// Directory selects where provider availability lives
	Directory    string `yaml:"directory"`
	DirectoryKey string `yaml:"directory_key"`
}

// WorkerConfig holds dispatch worker pool configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	QueueSize       int           `yaml:"queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// NotifyConfig holds notification hub settings
type NotifyConfig struct {
	Retention        int           `yaml:"retention"`
	ReplayWindow     time.Duration `yaml:"replay_window"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
}

// PricingConfig holds price guidance settings
type PricingConfig struct {
	Window      time.Duration          `yaml:"window"`
	SampleStore string                 `yaml:"sample_store"`
	Defaults    map[string]RangeConfig `yaml:"defaults"`
	Fallback    RangeConfig            `yaml:"fallback"`
}

// RangeConfig is a p10/p50/p90 triple written as decimal strings
type RangeConfig struct {
	P10 string `yaml:"p10"`
	P50 string `yaml:"p50"`
	P90 string `yaml:"p90"`
}

// Parse converts the triple to decimals and checks p10 <= p50 <= p90
func (r RangeConfig) Parse() (p10, p50, p90 decimal.Decimal, err error) {
	vals := make([]decimal.Decimal, 3)
	for i, s := range []string{r.P10, r.P50, r.P90} {
		vals[i], err = decimal.NewFromString(s)
		if err != nil {
			return p10, p50, p90, fmt.Errorf("invalid price %q: %w", s, err)
		}
		if vals[i].IsNegative() {
			return p10, p50, p90, fmt.Errorf("price %s must not be negative", s)
		}
	}
	if vals[0].GreaterThan(vals[1]) || vals[1].GreaterThan(vals[2]) {
		return p10, p50, p90, fmt.Errorf("prices must satisfy p10 <= p50 <= p90")
	}
	return vals[0], vals[1], vals[2], nil
}

// SweeperConfig holds the cron specs of the backstop sweeps
type SweeperConfig struct {
	ExpirySpec      string        `yaml:"expiry_spec"`
	RedispatchSpec  string        `yaml:"redispatch_spec"`
	MaintenanceSpec string        `yaml:"maintenance_spec"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	BatchSize       int           `yaml:"batch_size"`
}

// IntakeConfig holds job creation limits
type IntakeConfig struct {
	DefaultArrivalWindowHours int `yaml:"default_arrival_window_hours"`
	MaxArrivalWindowHours     int `yaml:"max_arrival_window_hours"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DispatchInProcess
	}
	if c.Dispatch.RadiusKm == 0 {
		c.Dispatch.RadiusKm = 10
	}
	if c.Dispatch.Directory == "" {
		c.Dispatch.Directory = DirectoryMemory
	}
	if c.Dispatch.BroadcastTimeout == 0 {
		c.Dispatch.BroadcastTimeout = 10 * time.Second
	}
	if c.Pricing.SampleStore == "" {
		c.Pricing.SampleStore = SamplesMemory
	}
	if c.Pricing.Window == 0 {
		c.Pricing.Window = 30 * 24 * time.Hour
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "quickbook:events"
	}
	if c.MongoDB.Collection == "" {
		c.MongoDB.Collection = "price_samples"
	}
	if c.Server.StreamHeartbeat == 0 {
		c.Server.StreamHeartbeat = 15 * time.Second
	}
}

// Validate checks the sections every service needs
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	switch c.Store.Driver {
	case StoreMemory:
		if c.Dispatch.Mode == DispatchQueue {
			return fmt.Errorf("dispatch mode %q requires the %q store driver", DispatchQueue, StorePostgres)
		}
	case StorePostgres:
		if err := c.validateDatabase(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid store driver: %q (must be %q or %q)", c.Store.Driver, StoreMemory, StorePostgres)
	}

	switch c.Dispatch.Mode {
	case DispatchInProcess:
	case DispatchQueue:
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid dispatch mode: %q (must be %q or %q)", c.Dispatch.Mode, DispatchInProcess, DispatchQueue)
	}

	if c.Dispatch.RadiusKm <= 0 {
		return fmt.Errorf("dispatch radius_km must be greater than 0")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis url is required when redis is enabled")
	}

	switch c.Dispatch.Directory {
	case DirectoryMemory:
		if c.Dispatch.Mode == DispatchQueue {
			return fmt.Errorf("dispatch mode %q requires the %q provider directory", DispatchQueue, DirectoryRedis)
		}
	case DirectoryRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("provider directory %q requires redis to be enabled", DirectoryRedis)
		}
	default:
		return fmt.Errorf("invalid provider directory: %q (must be %q or %q)", c.Dispatch.Directory, DirectoryMemory, DirectoryRedis)
	}

	switch c.Pricing.SampleStore {
	case SamplesMemory:
	case SamplesPostgres:
		if err := c.validateDatabase(); err != nil {
			return err
		}
	case SamplesMongoDB:
		if c.MongoDB.URI == "" {
			return fmt.Errorf("mongodb uri is required")
		}
		if c.MongoDB.Database == "" {
			return fmt.Errorf("mongodb database is required")
		}
	default:
		return fmt.Errorf("invalid pricing sample_store: %q", c.Pricing.SampleStore)
	}

	for category, r := range c.Pricing.Defaults {
		if _, _, _, err := r.Parse(); err != nil {
			return fmt.Errorf("pricing default for %s: %w", category, err)
		}
	}
	if c.Pricing.Fallback != (RangeConfig{}) {
		if _, _, _, err := c.Pricing.Fallback.Parse(); err != nil {
			return fmt.Errorf("pricing fallback: %w", err)
		}
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}
	return nil
}

// ValidateWorkerConfig checks the settings of the standalone worker service
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Dispatch.Mode != DispatchQueue {
		return fmt.Errorf("worker service requires dispatch mode %q", DispatchQueue)
	}

	if c.Store.Driver != StorePostgres {
		return fmt.Errorf("worker service requires the %q store driver", StorePostgres)
	}

	if !c.Redis.Enabled || c.Dispatch.Directory != DirectoryRedis {
		return fmt.Errorf("worker service requires redis for the provider directory and event relay")
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}
