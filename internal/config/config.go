package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dkeye/peercall/internal/ice"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	ICE        ICEConfig     `mapstructure:"ice"`
	Redis      RedisConfig   `mapstructure:"redis"`
	Chat       ChatConfig    `mapstructure:"chat"`

	// ListRooms exposes room names on GET /api/rooms.
	ListRooms bool `mapstructure:"list_rooms"`
	// Backpressure is "kick" or "tolerate".
	Backpressure string `mapstructure:"backpressure"`
}

type ICEConfig struct {
	TTL     time.Duration     `mapstructure:"ttl"`
	Servers []ice.ServerEntry `mapstructure:"servers"`
}

// RedisConfig enables persisted chat history when Addr is set.
type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	Prefix       string `mapstructure:"prefix"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

type ChatConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	MaxLength    int           `mapstructure:"max_length"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setServerDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | ICE servers: %d\n", cfg.Mode, cfg.Port, len(cfg.ICE.Servers))
	return &cfg, nil
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "peercall-dev-secret")
	v.SetDefault("list_rooms", false)
	v.SetDefault("backpressure", "kick")
	v.SetDefault("ice.ttl", "24h")
	v.SetDefault("ice.servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("redis.prefix", "peercall")
	v.SetDefault("redis.history_limit", 100)
	v.SetDefault("chat.rate_limit", 5)
	v.SetDefault("chat.rate_interval", "1s")
	v.SetDefault("chat.max_length", 1024)
}
