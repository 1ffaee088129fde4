package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by writer.transport.
const (
	TransportLocal    = "local"
	TransportMQTT     = "mqtt"
	TransportInfluxDB = "influxdb"
	TransportKafka    = "kafka"
	TransportRedis    = "redis"
)

// Delivery modes accepted by delivery.mode.
const (
	DeliveryDirect     = "direct"
	DeliveryAsync      = "async"
	DeliveryBatch      = "batch"
	DeliveryConnection = "connection"
)

var (
	validTransports = []string{TransportLocal, TransportMQTT, TransportInfluxDB, TransportKafka, TransportRedis}
	validModes      = []string{DeliveryDirect, DeliveryAsync, DeliveryBatch, DeliveryConnection}
	validOverflow   = []string{"", "reject_newest", "drop_oldest"}
)

// Config is the root configuration structure for the stream writer service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Writer    WriterConfig    `yaml:"writer"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ClientConfig identifies the submitting client.
type ClientConfig struct {
	// ID prefixes broker client identifiers (MQTT, Kafka).
	ID string `yaml:"id"`

	// Username is recorded with every point in the local store.
	Username string `yaml:"username"`
}

// WriterConfig configures the persistent connection writer.
type WriterConfig struct {
	// Transport selects the sink the writer binds to.
	Transport string `yaml:"transport"`

	// Action is the bind action; empty means the write action.
	Action string `yaml:"action"`

	// MaxPending bounds the pending buffer. 0 means unbounded.
	MaxPending int `yaml:"max_pending"`

	// Overflow is "reject_newest" (default) or "drop_oldest".
	Overflow string `yaml:"overflow"`

	// CloseTimeout bounds the wait for a deferred close at shutdown (seconds).
	CloseTimeout int `yaml:"close_timeout"`
}

// DeliveryConfig selects how API submissions reach a sink.
type DeliveryConfig struct {
	Mode         string `yaml:"mode"`
	BatchSize    int    `yaml:"batch_size"`
	FlushDelayMS int    `yaml:"flush_delay_ms"`
	AsyncQueue   int    `yaml:"async_queue"`
}

// DatabaseConfig contains SQLite local store settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	Measurement   string `yaml:"measurement"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// KafkaConfig contains Kafka producer settings.
type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	BatchSize      int      `yaml:"batch_size"`
	BatchTimeoutMS int      `yaml:"batch_timeout_ms"`
	RequiredAcks   int      `yaml:"required_acks"`
}

// RedisConfig contains Redis stream settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains streaming ingest socket settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: OHMAGE_SECTION_KEY
// For example: OHMAGE_DATABASE_PATH, OHMAGE_WRITER_TRANSPORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config that runs entirely on the local store.
func defaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			ID: "ohmage-streams",
		},
		Writer: WriterConfig{
			Transport:    TransportLocal,
			Overflow:     "reject_newest",
			CloseTimeout: 10,
		},
		Delivery: DeliveryConfig{
			Mode:         DeliveryConnection,
			BatchSize:    100,
			FlushDelayMS: 1000,
			AsyncQueue:   256,
		},
		Database: DatabaseConfig{
			Path:        "./data/streams.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ohmage-streams",
			},
			QoS:         1,
			TopicPrefix: "ohmage/streams",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Measurement:   "stream_point",
			BatchSize:     500,
			FlushInterval: 1,
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			Topic:          "ohmage.streams",
			BatchSize:      100,
			BatchTimeoutMS: 50,
			RequiredAcks:   1,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "ohmage:streams",
			MaxLen: 100000,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: OHMAGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("OHMAGE_CLIENT_USERNAME"); v != "" {
		cfg.Client.Username = v
	}

	if v := os.Getenv("OHMAGE_WRITER_TRANSPORT"); v != "" {
		cfg.Writer.Transport = v
	}
	if v := os.Getenv("OHMAGE_DELIVERY_MODE"); v != "" {
		cfg.Delivery.Mode = v
	}

	if v := os.Getenv("OHMAGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("OHMAGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("OHMAGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("OHMAGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("OHMAGE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("OHMAGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("OHMAGE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	if v := os.Getenv("OHMAGE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("OHMAGE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("OHMAGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("OHMAGE_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing OHMAGE_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	if v := os.Getenv("OHMAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration for errors.
// All problems are reported together.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if !slices.Contains(validTransports, c.Writer.Transport) {
		errs = append(errs, fmt.Sprintf("writer.transport must be one of %s", strings.Join(validTransports, ", ")))
	}
	if c.Writer.MaxPending < 0 {
		errs = append(errs, "writer.max_pending must not be negative")
	}
	if !slices.Contains(validOverflow, c.Writer.Overflow) {
		errs = append(errs, "writer.overflow must be reject_newest or drop_oldest")
	}

	if !slices.Contains(validModes, c.Delivery.Mode) {
		errs = append(errs, fmt.Sprintf("delivery.mode must be one of %s", strings.Join(validModes, ", ")))
	}
	if c.Delivery.Mode == DeliveryBatch && c.Delivery.BatchSize < 1 {
		errs = append(errs, "delivery.batch_size must be at least 1 in batch mode")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	switch c.Writer.Transport {
	case TransportMQTT:
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required for the mqtt transport")
		}
	case TransportInfluxDB:
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required for the influxdb transport")
		}
	case TransportKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			errs = append(errs, "kafka.brokers and kafka.topic are required for the kafka transport")
		}
	case TransportRedis:
		if c.Redis.Addr == "" || c.Redis.Stream == "" {
			errs = append(errs, "redis.addr and redis.stream are required for the redis transport")
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetFlushDelay returns the batch delivery flush delay as a Duration.
func (c *Config) GetFlushDelay() time.Duration {
	return time.Duration(c.Delivery.FlushDelayMS) * time.Millisecond
}

// GetCloseTimeout returns the deferred-close wait as a Duration.
func (c *Config) GetCloseTimeout() time.Duration {
	return time.Duration(c.Writer.CloseTimeout) * time.Second
}
