package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/netwarden/netwarden/internal/env"
	"github.com/netwarden/netwarden/internal/logger"
)

// Config is the top-level netwarden.toml structure.
type Config struct {
	Listen     string   `toml:"listen" mapstructure:"listen"`
	BasePath   string   `toml:"base_path" mapstructure:"base_path"`
	Packaged   bool     `toml:"packaged" mapstructure:"packaged"`
	BackendDir string   `toml:"backend_dir" mapstructure:"backend_dir"`
	Env        []string `toml:"env" mapstructure:"env"`
	EnvFiles   []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv   bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Runtime    RuntimeConfig    `toml:"runtime" mapstructure:"runtime"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Installer  InstallerConfig  `toml:"installer" mapstructure:"installer"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
}

type RuntimeConfig struct {
	Candidates   []string      `toml:"candidates" mapstructure:"candidates"`
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

type SupervisorConfig struct {
	Settle   time.Duration `toml:"settle" mapstructure:"settle"`
	StopWait time.Duration `toml:"stop_wait" mapstructure:"stop_wait"`
}

type InstallerConfig struct {
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string        `toml:"level" mapstructure:"level"`
	Mirror logger.Config `toml:"mirror" mapstructure:"mirror"`
}

// HistoryConfig lists lifecycle-history sink DSNs. Supported schemes:
// sqlite://, postgres://, clickhouse://, opensearch://.
type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:   "127.0.0.1:9876",
		UseOSEnv: true,
		Log:      LogConfig{Level: "info"},
		Metrics:  MetricsConfig{Enabled: true},
	}
}

// Load reads a TOML config file and applies defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	c := Default()
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:9876"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return c, nil
}

// BuildEnv assembles the environment handed to the backend and the installer.
// Precedence, lowest first: OS env (when enabled), env_files in order, the
// top-level env list, then the forced UTF-8 variables which always win.
func (c *Config) BuildEnv() (*env.Env, error) {
	e := env.New()
	if c.UseOSEnv {
		e.FromOS()
	} else {
		e.WithoutOS()
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, val := range pairs {
			e.Set(k, val)
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
	for k, val := range env.ForcedUTF8().Var {
		e.Set(k, val)
	}
	return e, nil
}

// loadEnvFile parses a .env file with KEY=VALUE lines. Lines starting with
// # are ignored; no export keyword, no quoting.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
