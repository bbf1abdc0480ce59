// Package config loads reconpilot's configuration from a YAML file,
// RECONPILOT_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
	"github.com/gh0stshe11/reconpilot/internal/infra/tools"
	"github.com/gh0stshe11/reconpilot/pkg/common/logger"
)

// StorageDriver selects the session store implementation.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverFile     StorageDriver = "file"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config represents the top-level configuration.
type Config struct {
	General   GeneralConfig         `mapstructure:"general" yaml:"general"`
	Scope     ScopeConfig           `mapstructure:"scope" yaml:"scope"`
	Storage   StorageConfig         `mapstructure:"storage" yaml:"storage"`
	Log       LogConfig             `mapstructure:"log" yaml:"log"`
	Telemetry TelemetryConfig       `mapstructure:"telemetry" yaml:"telemetry"`
	Kafka     KafkaConfig           `mapstructure:"kafka" yaml:"kafka"`
	Tools     map[string]ToolConfig `mapstructure:"tools" yaml:"tools" validate:"dive"`

	// RulesFile replaces the built-in rule catalog when set.
	RulesFile string `mapstructure:"rules_file" yaml:"rules_file" validate:"omitempty,file"`
}

// GeneralConfig holds the scheduler knobs.
type GeneralConfig struct {
	MaxParallel    int           `mapstructure:"max_parallel" yaml:"max_parallel" validate:"min=1,max=64"`
	StealthMode    bool          `mapstructure:"stealth_mode" yaml:"stealth_mode"`
	StealthDelay   time.Duration `mapstructure:"stealth_delay" yaml:"stealth_delay" validate:"min=0"`
	PassiveOnly    bool          `mapstructure:"passive_only" yaml:"passive_only"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout" yaml:"task_timeout" validate:"gt=0"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1,max=10"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff" validate:"min=0"`
	SnapshotEvery  int           `mapstructure:"snapshot_every" yaml:"snapshot_every" validate:"min=1"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout" validate:"gt=0"`
	// ConfirmDefault is applied when an interactive confirmation times out.
	ConfirmDefault string `mapstructure:"confirm_default" yaml:"confirm_default" validate:"oneof=approve reject"`
	EventBuffer    int    `mapstructure:"event_buffer" yaml:"event_buffer" validate:"min=1"`
}

// ScopeConfig bounds what a scan may touch.
type ScopeConfig struct {
	Include     []string `mapstructure:"include" yaml:"include"`
	Exclude     []string `mapstructure:"exclude" yaml:"exclude"`
	InScopeOnly bool     `mapstructure:"in_scope_only" yaml:"in_scope_only"`
}

// StorageConfig selects where sessions are persisted.
type StorageConfig struct {
	Driver StorageDriver `mapstructure:"driver" yaml:"driver" validate:"oneof=memory file postgres"`
	Dir    string        `mapstructure:"dir" yaml:"dir" validate:"required_if=Driver file"`
	DSN    string        `mapstructure:"dsn" yaml:"dsn" validate:"required_if=Driver postgres"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	// File enables a rotating log file in addition to stderr.
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"min=0"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint      string  `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Enabled true"`
	SamplingRatio float64 `mapstructure:"sampling_ratio" yaml:"sampling_ratio" validate:"min=0,max=1"`
	Insecure      bool    `mapstructure:"insecure" yaml:"insecure"`
}

// KafkaConfig enables forwarding of orchestration events to a topic.
type KafkaConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers        []string      `mapstructure:"brokers" yaml:"brokers" validate:"required_if=Enabled true"`
	Topic          string        `mapstructure:"topic" yaml:"topic" validate:"required_if=Enabled true"`
	ClientID       string        `mapstructure:"client_id" yaml:"client_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" validate:"min=0"`
}

// ToolConfig adjusts a single built-in tool.
type ToolConfig struct {
	Enabled *bool         `mapstructure:"enabled" yaml:"enabled"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=0"`
	Args    []string      `mapstructure:"args" yaml:"args"`
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
	}
	return fmt.Errorf("%w: invalid config: %s", domain.ErrInvalidRequest, strings.Join(msgs, "; "))
}

// ScanConfig converts the loaded configuration into the core scan settings.
func (c *Config) ScanConfig() domain.ScanConfig {
	g := c.General
	return domain.ScanConfig{
		MaxParallel:  g.MaxParallel,
		StealthMode:  g.StealthMode,
		StealthDelay: g.StealthDelay,
		PassiveOnly:  g.PassiveOnly,
		Scope: domain.ScopeConfig{
			Include:     c.Scope.Include,
			Exclude:     c.Scope.Exclude,
			InScopeOnly: c.Scope.InScopeOnly,
		},
		TaskTimeout:    g.TaskTimeout,
		MaxAttempts:    g.MaxAttempts,
		RetryBackoff:   g.RetryBackoff,
		SnapshotEvery:  g.SnapshotEvery,
		ConfirmTimeout: g.ConfirmTimeout,
		ConfirmDefault: g.ConfirmDefault == "approve",
		EventBuffer:    g.EventBuffer,
	}
}

// ToolOverrides converts per-tool settings for the tool catalog.
func (c *Config) ToolOverrides() map[string]tools.Override {
	if len(c.Tools) == 0 {
		return nil
	}
	out := make(map[string]tools.Override, len(c.Tools))
	for name, t := range c.Tools {
		out[strings.ToLower(name)] = tools.Override{Enabled: t.Enabled, Timeout: t.Timeout, Args: t.Args}
	}
	return out
}

// LogLevel returns the configured minimum log level.
func (c *Config) LogLevel() logger.Level { return logger.ParseLevel(c.Log.Level) }
