package config

import (
	"fmt"
	"time"
)

// Config holds the application's configuration.
type Config struct {
	Link    LinkConfig    `mapstructure:"link"`
	Storage StorageConfig `mapstructure:"storage"`
	Vault   VaultConfig   `mapstructure:"vault"`
	PKCS11  PKCS11Config  `mapstructure:"pkcs11"`
	Sscd    SscdConfig    `mapstructure:"sscd"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Events  EventsConfig  `mapstructure:"events"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LinkConfig configures the MUSAP Link client.
type LinkConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollAttempts int           `mapstructure:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PushToken    string        `mapstructure:"push_token"`
	// TransportKeyLength is 16 (AES-128) or 32 (AES-256).
	TransportKeyLength int `mapstructure:"transport_key_length"`
	// RequestInterval is how often musapd polls Link for new requests.
	RequestInterval time.Duration `mapstructure:"request_interval"`
}

// StorageConfig selects and configures the key-value engine.
type StorageConfig struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
	SQL    SQLConfig   `mapstructure:"sql"`
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SQLConfig struct {
	Dialect string `mapstructure:"dialect"`
	DSN     string `mapstructure:"dsn"`
}

type VaultConfig struct {
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
}

type PKCS11Config struct {
	Library string `mapstructure:"library"`
	Slot    uint   `mapstructure:"slot"`
	Pin     string `mapstructure:"pin"`
	Label   string `mapstructure:"label"`
}

// SscdConfig lists the backends enabled at startup.
type SscdConfig struct {
	Enabled []string `mapstructure:"enabled"`
	// DefaultKeygen names the backend used for Link generate requests.
	DefaultKeygen string `mapstructure:"default_keygen"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQL    = "sql"
)

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if c.Link.PollAttempts <= 0 {
		return fmt.Errorf("link.poll_attempts must be positive, got %d", c.Link.PollAttempts)
	}
	if c.Link.PollInterval <= 0 {
		return fmt.Errorf("link.poll_interval must be positive, got %s", c.Link.PollInterval)
	}
	if c.Link.TransportKeyLength != 16 && c.Link.TransportKeyLength != 32 {
		return fmt.Errorf("link.transport_key_length must be 16 or 32, got %d", c.Link.TransportKeyLength)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Storage.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address is required for the redis driver")
		}
	case DriverSQL:
		if c.Storage.SQL.Dialect != "sqlite" && c.Storage.SQL.Dialect != "postgres" {
			return fmt.Errorf("unknown storage.sql.dialect %q", c.Storage.SQL.Dialect)
		}
		if c.Storage.SQL.DSN == "" {
			return fmt.Errorf("storage.sql.dsn is required for the sql driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Events.Enabled && (len(c.Events.Brokers) == 0 || c.Events.Topic == "") {
		return fmt.Errorf("events.brokers and events.topic are required when events are enabled")
	}
	if c.Tracing.Enabled && c.Tracing.JaegerEndpoint == "" {
		return fmt.Errorf("tracing.jaeger_endpoint is required when tracing is enabled")
	}
	return nil
}
