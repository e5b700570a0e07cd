package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientConfig drives the headless peer. Values come from flags bound by
// the CLI and PEERCALL_* environment variables.
type ClientConfig struct {
	Server             string        `mapstructure:"server"`
	Room               string        `mapstructure:"room"`
	Name               string        `mapstructure:"name"`
	ID                 string        `mapstructure:"id"`
	Key                string        `mapstructure:"key"`
	LogLevel           string        `mapstructure:"log_level"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	DisconnectGrace    time.Duration `mapstructure:"disconnect_grace"`
	Debounce           time.Duration `mapstructure:"debounce"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	PingPeriod         time.Duration `mapstructure:"ping_period"`
	Encryption         bool          `mapstructure:"encryption"`
}

// NewClientViper returns a viper instance with client defaults and the
// PEERCALL_ environment prefix.
func NewClientViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PEERCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server", "ws://localhost:8080")
	v.SetDefault("room", "")
	v.SetDefault("name", "")
	v.SetDefault("id", "")
	v.SetDefault("key", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("disconnect_grace", "5s")
	v.SetDefault("debounce", "50ms")
	v.SetDefault("max_retries", 3)
	v.SetDefault("backoff_base", "1s")
	v.SetDefault("backoff_max", "10s")
	v.SetDefault("ping_period", "30s")
	v.SetDefault("encryption", true)
	return v
}

func LoadClient(v *viper.Viper) (*ClientConfig, error) {
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if cfg.Server == "" {
		return nil, fmt.Errorf("server url is required")
	}
	return &cfg, nil
}
