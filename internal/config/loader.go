package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/methics/musap-ios-sub000/pkg/constants"
)

// LoadConfig loads the configuration from an optional file and environment variables.
// An empty path searches ./config.yaml and /etc/musap/config.yaml.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/musap/")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("MUSAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("link.url", "https://demo.methics.fi/musapdemo/")
	v.SetDefault("link.timeout", constants.DefaultLinkTimeout)
	v.SetDefault("link.poll_attempts", constants.DefaultPollAttempts)
	v.SetDefault("link.poll_interval", constants.DefaultPollInterval)
	v.SetDefault("link.transport_key_length", constants.TransportKeyLength)
	v.SetDefault("link.request_interval", "5s")
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.redis.key_prefix", "musap:")
	v.SetDefault("storage.sql.dialect", "sqlite")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("sscd.enabled", []string{"software"})
	v.SetDefault("sscd.default_keygen", "software")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("events.topic", "musap-key-events")
	v.SetDefault("tracing.service_name", constants.ServiceName)
	v.SetDefault("tracing.sampling_rate", 1.0)
}
