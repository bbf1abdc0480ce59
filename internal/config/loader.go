package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// RECONPILOT_GENERAL_MAX_PARALLEL or RECONPILOT_STORAGE_DSN.
const EnvPrefix = "RECONPILOT"

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations.
type Loader interface {
	// Load retrieves, parses and validates the configuration.
	Load(ctx context.Context) (*Config, error)
}

// ViperLoader reads an optional YAML file, applies RECONPILOT_* environment
// overrides on top and fills everything else from defaults.
type ViperLoader struct {
	path string
	v    *viper.Viper
}

var _ Loader = (*ViperLoader)(nil)

// NewViperLoader creates a loader for the file at path. An empty path loads
// defaults and environment only.
func NewViperLoader(path string) *ViperLoader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// No default so that an unset broker list stays nil for validation.
	_ = v.BindEnv("kafka.brokers")
	return &ViperLoader{path: path, v: v}
}

// Set overrides a single key, taking precedence over file and environment.
// The CLI uses it for explicitly passed flags.
func (l *ViperLoader) Set(key string, value any) { l.v.Set(key, value) }

// Load implements Loader.
func (l *ViperLoader) Load(_ context.Context) (*Config, error) {
	if l.path != "" {
		l.v.SetConfigFile(l.path)
		if err := l.v.ReadInConfig(); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", l.path, err)
			}
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFileUsed returns the file that was read, if any.
func (l *ViperLoader) ConfigFileUsed() string { return l.v.ConfigFileUsed() }

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.max_parallel", 3)
	v.SetDefault("general.stealth_mode", false)
	v.SetDefault("general.stealth_delay", 2*time.Second)
	v.SetDefault("general.passive_only", false)
	v.SetDefault("general.task_timeout", 5*time.Minute)
	v.SetDefault("general.max_attempts", 1)
	v.SetDefault("general.retry_backoff", 5*time.Second)
	v.SetDefault("general.snapshot_every", 200)
	v.SetDefault("general.confirm_timeout", 60*time.Second)
	v.SetDefault("general.confirm_default", "reject")
	v.SetDefault("general.event_buffer", 1024)

	v.SetDefault("scope.include", []string{})
	v.SetDefault("scope.exclude", []string{})
	v.SetDefault("scope.in_scope_only", true)

	v.SetDefault("storage.driver", string(StorageDriverFile))
	v.SetDefault("storage.dir", defaultSessionDir())
	v.SetDefault("storage.dsn", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.sampling_ratio", 1.0)
	v.SetDefault("telemetry.insecure", false)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "reconpilot-events")
	v.SetDefault("kafka.client_id", "reconpilot")
	v.SetDefault("kafka.connect_timeout", 2*time.Minute)

	v.SetDefault("rules_file", "")
}

func defaultSessionDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".reconpilot", "sessions")
	}
	return filepath.Join(".reconpilot", "sessions")
}
