package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. APPSTATE_STATE_PATH.
const EnvPrefix = "APPSTATE"

// FileConfig represents the top-level TOML structure.
//
//	[app]
//	app_name = "agent"
//	log_level = "info"
//	  [app.git]
//	  default_server = "github"
//	[state]
//	path = "/var/run/agent.state"
//	atomic = true
//	[store]
//	dsn = "sqlite:///var/lib/agent/state.db"
type FileConfig struct {
	App     AppConfig     `toml:"app" mapstructure:"app"`
	State   StateConfig   `toml:"state" mapstructure:"state"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Store   StoreConfig   `toml:"store" mapstructure:"store"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

// AppConfig describes the host application. It travels with the in-memory
// state record but is not part of the state file.
type AppConfig struct {
	AppName     string          `toml:"app_name" mapstructure:"app_name" json:"app_name"`
	MaxRAMUsage uint64          `toml:"max_ram_usage" mapstructure:"max_ram_usage" json:"max_ram_usage"`
	MaxCPUUsage uint64          `toml:"max_cpu_usage" mapstructure:"max_cpu_usage" json:"max_cpu_usage"`
	Environment string          `toml:"environment" mapstructure:"environment" json:"environment"`
	DebugMode   bool            `toml:"debug_mode" mapstructure:"debug_mode" json:"debug_mode"`
	LogLevel    string          `toml:"log_level" mapstructure:"log_level" json:"log_level"`
	Git         *GitConfig      `toml:"git" mapstructure:"git" json:"git,omitempty"`
	Database    *DatabaseConfig `toml:"database" mapstructure:"database" json:"database,omitempty"`
	Aggregator  *Aggregator     `toml:"aggregator" mapstructure:"aggregator" json:"aggregator,omitempty"`
}

type GitConfig struct {
	DefaultServer   string `toml:"default_server" mapstructure:"default_server" json:"default_server"`
	CredentialsFile string `toml:"credentials_file" mapstructure:"credentials_file" json:"credentials_file"`
}

type DatabaseConfig struct {
	URL      string `toml:"url" mapstructure:"url" json:"url"`
	PoolSize uint32 `toml:"pool_size" mapstructure:"pool_size" json:"pool_size"`
}

// Aggregator points at the local status aggregator socket.
type Aggregator struct {
	SocketPath       string  `toml:"socket_path" mapstructure:"socket_path" json:"socket_path"`
	SocketPermission *uint32 `toml:"socket_permission" mapstructure:"socket_permission" json:"socket_permission,omitempty"`
}

// StateConfig controls where and how the state file is written.
// An empty Path means <tmp>/.<app_name>.state.
type StateConfig struct {
	Path        string `toml:"path" mapstructure:"path"`
	Atomic      bool   `toml:"atomic" mapstructure:"atomic"`
	MaxFieldLen int    `toml:"max_field_len" mapstructure:"max_field_len"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"` // text, json, color
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// StoreConfig enables mirroring checkpoints into a database.
type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// HistoryConfig enables exporting checkpoint events.
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.app_name", "appstate")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug_mode", false)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.max_ram_usage", 0)
	v.SetDefault("app.max_cpu_usage", 0)
	v.SetDefault("state.path", "")
	v.SetDefault("state.atomic", false)
	v.SetDefault("state.max_field_len", 255)
	v.SetDefault("log.level", "")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("history.dsn", "")
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "")
	v.SetDefault("metrics.enabled", false)
}

// LoadConfig reads a TOML file if path is non-empty, then applies
// APPSTATE_* environment overrides on top of the defaults.
func LoadConfig(path string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (fc *FileConfig) Validate() error {
	if strings.TrimSpace(fc.App.AppName) == "" {
		return errors.New("app.app_name must be provided")
	}
	if fc.State.MaxFieldLen <= 0 {
		return fmt.Errorf("state.max_field_len must be positive, got %d", fc.State.MaxFieldLen)
	}
	if fc.App.Git != nil && fc.App.Git.CredentialsFile == "" {
		return errors.New("app.git.credentials_file must be provided when [app.git] is set")
	}
	if fc.App.Aggregator != nil && fc.App.Aggregator.SocketPath == "" {
		return errors.New("app.aggregator.socket_path must be provided when [app.aggregator] is set")
	}
	switch strings.ToLower(fc.Log.Format) {
	case "", "text", "json", "color":
	default:
		return fmt.Errorf("log.format must be text, json or color, got %q", fc.Log.Format)
	}
	return nil
}

// EffectiveLogLevel prefers log.level, then app.log_level; debug_mode forces debug.
func (fc *FileConfig) EffectiveLogLevel() string {
	if fc.App.DebugMode {
		return "debug"
	}
	if fc.Log.Level != "" {
		return fc.Log.Level
	}
	return fc.App.LogLevel
}
