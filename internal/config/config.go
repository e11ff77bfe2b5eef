package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/tbnorth/tattle/internal/heartbeat"
	"github.com/tbnorth/tattle/internal/tls"
)

// FileConfig is the top-level TOML structure for the tattle daemon.
//
//	listen = ":8111"
//	store = "tattle.sqlite"
//	default_interval = "1d"
//	keep = 20
//
//	[log]
//	level = "info"
//	file = "/var/log/tattle/tattle.log"
type FileConfig struct {
	Listen          string     `toml:"listen" mapstructure:"listen"`
	BasePath        string     `toml:"base_path" mapstructure:"base_path"`
	Store           string     `toml:"store" mapstructure:"store"` // sqlite path or postgres DSN
	DefaultInterval string     `toml:"default_interval" mapstructure:"default_interval"`
	Keep            int        `toml:"keep" mapstructure:"keep"`
	HistoryURL      string     `toml:"history_url" mapstructure:"history_url"` // optional report mirror
	Metrics         bool       `toml:"metrics" mapstructure:"metrics"`
	Sweep           string     `toml:"sweep" mapstructure:"sweep"` // e.g. "@every 1h"; empty disables
	Log             LogConfig  `toml:"log" mapstructure:"log"`
	TLS             tls.Config `toml:"tls" mapstructure:"tls"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Default returns the configuration used when no file is given.
func Default() FileConfig {
	return FileConfig{
		Listen:          ":8111",
		Store:           "tattle.sqlite",
		DefaultInterval: "1d",
		Keep:            20,
		Metrics:         true,
	}
}

// Load reads a TOML config file and fills unset fields from Default.
func Load(path string) (FileConfig, error) {
	fc := Default()
	if path == "" {
		return fc, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	if fc.Listen == "" {
		fc.Listen = Default().Listen
	}
	if fc.Store == "" {
		fc.Store = Default().Store
	}
	if fc.DefaultInterval == "" {
		fc.DefaultInterval = Default().DefaultInterval
	}
	if fc.Keep <= 0 {
		fc.Keep = Default().Keep
	}
	return fc, nil
}

// Interval resolves the configured default reporting interval.
func (c FileConfig) Interval() (time.Duration, error) {
	return heartbeat.ParseInterval(c.DefaultInterval)
}
