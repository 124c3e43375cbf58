// Package config loads server settings from an optional YAML file and
// WATCHPARTY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	PresenceTimeout time.Duration `mapstructure:"presence_timeout"`
	GraceWindow     time.Duration `mapstructure:"grace_window"`
	ChatMaxLength   int           `mapstructure:"chat_max_length"`
	ChatHistory     int           `mapstructure:"chat_history"`
	SendQueue       int           `mapstructure:"send_queue"`
}

// Load reads watchparty.yaml from the working directory if present, then
// applies environment overrides.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("shutdown_timeout", 5*time.Second)
	v.SetDefault("presence_timeout", 15*time.Second)
	v.SetDefault("grace_window", 60*time.Second)
	v.SetDefault("chat_max_length", 2000)
	v.SetDefault("chat_history", 100)
	v.SetDefault("send_queue", 32)

	v.SetConfigName("watchparty")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("WATCHPARTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
