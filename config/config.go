// Package config loads runtime settings for schedulers and bridged tasks
// from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Swind/go-axon/core"
)

// Config is the root of a configuration file.
type Config struct {
	Scheduler SchedulerSection `yaml:"scheduler"`
	Bridge    BridgeSection    `yaml:"bridge"`
	Mailbox   MailboxSection   `yaml:"mailbox"`
	Logging   LoggingSection   `yaml:"logging"`
	Metrics   MetricsSection   `yaml:"metrics"`
}

type SchedulerSection struct {
	Name        string        `yaml:"name"`
	SlowMo      time.Duration `yaml:"slowmo"`
	Idle        string        `yaml:"idle"`
	HistorySize int           `yaml:"history_size"`
}

type BridgeSection struct {
	QueueLength int          `yaml:"queue_length"`
	Retry       RetrySection `yaml:"retry"`
}

type RetrySection struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	BackoffRatio float64       `yaml:"backoff_ratio"`
}

type MailboxSection struct {
	// DefaultInboxCapacity bounds the inbox of tasks built by the CLI
	// pipeline. -1 means unbounded.
	DefaultInboxCapacity int `yaml:"default_inbox_capacity"`
}

type LoggingSection struct {
	Level string `yaml:"level"`
}

type MetricsSection struct {
	Enabled      bool          `yaml:"enabled"`
	Namespace    string        `yaml:"namespace"`
	Listen       string        `yaml:"listen"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	retry := core.DefaultRetryPolicy()
	return &Config{
		Scheduler: SchedulerSection{
			Name:        "main",
			Idle:        "block",
			HistorySize: 100,
		},
		Bridge: BridgeSection{
			QueueLength: core.DefaultQueueLength,
			Retry: RetrySection{
				MaxRetries:   retry.MaxRetries,
				InitialDelay: retry.InitialDelay,
				MaxDelay:     retry.MaxDelay,
				BackoffRatio: retry.BackoffRatio,
			},
		},
		Mailbox: MailboxSection{DefaultInboxCapacity: core.Unbounded},
		Logging: LoggingSection{Level: "info"},
		Metrics: MetricsSection{
			Namespace:    "axon",
			Listen:       ":9090",
			PollInterval: time.Second,
		},
	}
}

// Load reads and validates the file at path. Fields missing from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.SlowMo < 0 {
		errs = append(errs, fmt.Errorf("scheduler.slowmo must not be negative, got %v", c.Scheduler.SlowMo))
	}
	if _, err := parseIdle(c.Scheduler.Idle); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduler.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("scheduler.history_size must not be negative, got %d", c.Scheduler.HistorySize))
	}
	if c.Bridge.QueueLength < 1 {
		errs = append(errs, fmt.Errorf("bridge.queue_length must be at least 1, got %d", c.Bridge.QueueLength))
	}
	if c.Bridge.Retry.BackoffRatio < 1 {
		errs = append(errs, fmt.Errorf("bridge.retry.backoff_ratio must be at least 1, got %v", c.Bridge.Retry.BackoffRatio))
	}
	if c.Bridge.Retry.InitialDelay < 0 || c.Bridge.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("bridge.retry delays must not be negative"))
	}
	if c.Mailbox.DefaultInboxCapacity < core.Unbounded {
		errs = append(errs, fmt.Errorf("mailbox.default_inbox_capacity must be -1 or more, got %d", c.Mailbox.DefaultInboxCapacity))
	}
	if _, err := core.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	if c.Metrics.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("metrics.poll_interval must not be negative, got %v", c.Metrics.PollInterval))
	}
	return errors.Join(errs...)
}

func parseIdle(s string) (core.IdlePolicy, error) {
	switch s {
	case "", "block":
		return core.IdleBlock, nil
	case "spin":
		return core.IdleSpin, nil
	default:
		return core.IdleBlock, fmt.Errorf("scheduler.idle must be block or spin, got %q", s)
	}
}

// Logger builds the leveled logger named by the logging section.
func (c *Config) Logger() core.Logger {
	level, _ := core.ParseLevel(c.Logging.Level)
	return core.NewLeveledLogger(level)
}

// SchedulerConfig converts the scheduler section. logger and metrics may be nil.
func (c *Config) SchedulerConfig(logger core.Logger, metrics core.Metrics) *core.SchedulerConfig {
	idle, _ := parseIdle(c.Scheduler.Idle)
	sc := core.DefaultSchedulerConfig()
	sc.Name = c.Scheduler.Name
	sc.SlowMo = c.Scheduler.SlowMo
	sc.IdlePolicy = idle
	if c.Scheduler.HistorySize > 0 {
		sc.HistorySize = c.Scheduler.HistorySize
	}
	if logger != nil {
		sc.Logger = logger
	}
	if metrics != nil {
		sc.Metrics = metrics
	}
	return sc
}

// ThreadConfig converts the bridge section.
func (c *Config) ThreadConfig() core.ThreadConfig {
	return core.ThreadConfig{
		QueueLength: c.Bridge.QueueLength,
		Retry: core.RetryPolicy{
			MaxRetries:   c.Bridge.Retry.MaxRetries,
			InitialDelay: c.Bridge.Retry.InitialDelay,
			MaxDelay:     c.Bridge.Retry.MaxDelay,
			BackoffRatio: c.Bridge.Retry.BackoffRatio,
		},
	}
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
