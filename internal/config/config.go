package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`
	Port int    `mapstructure:"port"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`

	ChallengeTTL time.Duration `mapstructure:"challenge_ttl"`

	// Inbound frames per connection allowed within RateWindow.
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`

	// Storage selects the persistence backend: "postgres" or "memory"
	// (self-contained single binary, nothing survives a restart).
	Storage     string `mapstructure:"storage"`
	PostgresDSN string `mapstructure:"postgres_dsn"`

	// MediaEngineAddr is the control socket of the external media engine.
	MediaEngineAddr string `mapstructure:"media_engine_addr"`

	FeedPollInterval time.Duration `mapstructure:"feed_poll_interval"`

	// AdminTokenTTL bounds tokens minted from the per-process elevation
	// key. The key itself rotates on every restart; dev-only mechanism.
	AdminTokenTTL time.Duration `mapstructure:"admin_token_ttl"`
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

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("challenge_ttl", "2m")
	v.SetDefault("rate_limit", 60)
	v.SetDefault("rate_window", "10s")
	v.SetDefault("storage", "memory")
	v.SetDefault("media_engine_addr", "127.0.0.1:4443")
	v.SetDefault("feed_poll_interval", "5m")
	v.SetDefault("admin_token_ttl", "1h")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
