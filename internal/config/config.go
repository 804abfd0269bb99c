// Package config loads and validates kestrel's configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Auth modes accepted in engine.auth.mode.
const (
	AuthModeNone           = "none"
	AuthModeBasic          = "basic"
	AuthModeServiceAccount = "service_account"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// KESTREL_ENGINE_AUTH_PASSWORD overrides engine.auth.password.
const EnvPrefix = "KESTREL"

type Config struct {
	Engine       EngineConfig       `mapstructure:"engine" yaml:"engine"`
	QueueHandler QueueHandlerConfig `mapstructure:"queue_handler" yaml:"queue_handler"`
	Igniter      IgniterConfig      `mapstructure:"igniter" yaml:"igniter"`
	Daemon       DaemonConfig       `mapstructure:"daemon" yaml:"daemon"`
	Health       HealthConfig       `mapstructure:"health" yaml:"health"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

type EngineConfig struct {
	URL        string     `mapstructure:"url" yaml:"url"`
	APIVersion string     `mapstructure:"api_version" yaml:"api_version"`
	Auth       AuthConfig `mapstructure:"auth" yaml:"auth"`
}

type AuthConfig struct {
	Mode     string `mapstructure:"mode" yaml:"mode"`
	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file,omitempty"`
}

type QueueHandlerConfig struct {
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

type IgniterConfig struct {
	ReleaseIntervalSec int `mapstructure:"release_interval_sec" yaml:"release_interval_sec"`
}

type DaemonConfig struct {
	HeartbeatStaleSec  int    `mapstructure:"heartbeat_stale_sec" yaml:"heartbeat_stale_sec"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
	LockFile           string `mapstructure:"lock_file" yaml:"lock_file"`
}

type HealthConfig struct {
	// Addr is the listen address for the health server. Empty disables it.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file,omitempty"`
	// AuditFile enables the admission decision journal. Empty disables it.
	AuditFile string `mapstructure:"audit_file" yaml:"audit_file,omitempty"`
}

func (c QueueHandlerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c IgniterConfig) ReleaseInterval() time.Duration {
	return time.Duration(c.ReleaseIntervalSec) * time.Second
}

func (c DaemonConfig) HeartbeatStale() time.Duration {
	return time.Duration(c.HeartbeatStaleSec) * time.Second
}

func (c DaemonConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSec) * time.Second
}

// Default returns the configuration kestrel assumes before any file or
// environment override.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			APIVersion: "v1",
			Auth:       AuthConfig{Mode: AuthModeNone},
		},
		QueueHandler: QueueHandlerConfig{PollIntervalSec: 1},
		Igniter:      IgniterConfig{ReleaseIntervalSec: 1},
		Daemon: DaemonConfig{
			HeartbeatStaleSec:  300,
			ShutdownTimeoutSec: 10,
			LockFile:           filepath.Join(os.TempDir(), "kestrel.lock"),
		},
		Health:  HealthConfig{Addr: "127.0.0.1:8787"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate checks the settings a daemon cannot run without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Engine.URL) == "" {
		return fmt.Errorf("engine.url is required")
	}
	switch c.Engine.Auth.Mode {
	case AuthModeNone:
	case AuthModeBasic:
		if c.Engine.Auth.Username == "" || c.Engine.Auth.Password == "" {
			return fmt.Errorf("engine.auth: basic mode requires username and password")
		}
	case AuthModeServiceAccount:
		if c.Engine.Auth.KeyFile == "" {
			return fmt.Errorf("engine.auth: service_account mode requires key_file")
		}
	default:
		return fmt.Errorf("engine.auth.mode: unknown mode %q", c.Engine.Auth.Mode)
	}
	if c.QueueHandler.PollIntervalSec <= 0 {
		return fmt.Errorf("queue_handler.poll_interval_sec must be positive, got %d", c.QueueHandler.PollIntervalSec)
	}
	if c.Igniter.ReleaseIntervalSec <= 0 {
		return fmt.Errorf("igniter.release_interval_sec must be positive, got %d", c.Igniter.ReleaseIntervalSec)
	}
	if c.Daemon.HeartbeatStaleSec <= 0 {
		return fmt.Errorf("daemon.heartbeat_stale_sec must be positive, got %d", c.Daemon.HeartbeatStaleSec)
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		return fmt.Errorf("daemon.shutdown_timeout_sec must be positive, got %d", c.Daemon.ShutdownTimeoutSec)
	}
	return nil
}

// Loader reads kestrel configuration from a YAML file with environment
// overrides, and can watch the file for interval changes while the daemon
// runs.
type Loader struct {
	v *viper.Viper

	mu   sync.Mutex
	last Config
}

// NewLoader creates a loader for the given config file. An empty path
// searches for kestrel.yaml in the working directory and /etc/kestrel/.
func NewLoader(path string) *Loader {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kestrel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kestrel")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v}
}

// Load reads, normalizes and validates the configuration.
func (l *Loader) Load() (Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := l.unmarshal()
	if err != nil {
		return Config{}, err
	}
	l.mu.Lock()
	l.last = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) unmarshal() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Engine.URL = strings.TrimRight(strings.TrimSpace(cfg.Engine.URL), "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Every key needs a default registered so environment overrides bind even
// when the key is absent from the file.
func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("engine.url", def.Engine.URL)
	v.SetDefault("engine.api_version", def.Engine.APIVersion)
	v.SetDefault("engine.auth.mode", def.Engine.Auth.Mode)
	v.SetDefault("engine.auth.username", "")
	v.SetDefault("engine.auth.password", "")
	v.SetDefault("engine.auth.key_file", "")
	v.SetDefault("queue_handler.poll_interval_sec", def.QueueHandler.PollIntervalSec)
	v.SetDefault("igniter.release_interval_sec", def.Igniter.ReleaseIntervalSec)
	v.SetDefault("daemon.heartbeat_stale_sec", def.Daemon.HeartbeatStaleSec)
	v.SetDefault("daemon.shutdown_timeout_sec", def.Daemon.ShutdownTimeoutSec)
	v.SetDefault("daemon.lock_file", def.Daemon.LockFile)
	v.SetDefault("health.addr", def.Health.Addr)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.audit_file", "")
}
