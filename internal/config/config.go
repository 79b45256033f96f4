package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FairForge/failoverd/internal/health"
	"github.com/FairForge/failoverd/internal/history"
	"github.com/FairForge/failoverd/internal/logging"
	"github.com/FairForge/failoverd/internal/trigger"
)

type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Logging  logging.LoggerConfig    `yaml:"logging"`
	Failover FailoverConfig          `yaml:"failover"`
	Strategy Strategy                `yaml:"strategy"`
	Targets  map[string]TargetConfig `yaml:"targets"`
	History  HistoryConfig           `yaml:"history"`
	Tracing  TracingConfig           `yaml:"tracing"`
}

type ServerConfig struct {
	Listen    string  `yaml:"listen" default:":8080"`
	RateLimit float64 `yaml:"rate_limit" default:"1"` // mutating requests per second
	RateBurst int     `yaml:"rate_burst" default:"3"`
}

type FailoverConfig struct {
	DefaultPrimary  string        `yaml:"default_primary"`
	PollInterval    time.Duration `yaml:"poll_interval" default:"5s"`
	RetryDelay      time.Duration `yaml:"retry_delay" default:"1s"`
	AttemptTimeout  time.Duration `yaml:"attempt_timeout" default:"10s"`
	Cooldown        time.Duration `yaml:"cooldown" default:"5m"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5m"`
	ShutdownPoll    time.Duration `yaml:"shutdown_poll" default:"1s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
}

// Strategy is the hot-swappable part of the configuration
type Strategy struct {
	Mode     trigger.Mode       `yaml:"mode" json:"mode"`
	Triggers []trigger.Rule     `yaml:"triggers" json:"triggers"`
	Checks   []health.CheckSpec `yaml:"checks" json:"checks"`
}

type TargetConfig struct {
	AdminURL string `yaml:"admin_url"`
}

type HistoryConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Capacity    int    `yaml:"capacity" default:"100"`
}

type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint" default:"localhost:4318"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	ServiceName string            `yaml:"service_name" default:"failoverd"`
	SampleRate  float64           `yaml:"sample_rate" default:"1"`
}

// Load reads a YAML file, applies FAILOVERD_* overrides and defaults, and
// validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	LoadFromEnv(cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in default values
func (c *Config) ApplyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 1
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 3
	}

	if c.Failover.PollInterval == 0 {
		c.Failover.PollInterval = health.DefaultPollInterval
	}
	if c.Failover.RetryDelay == 0 {
		c.Failover.RetryDelay = health.DefaultRetryDelay
	}
	if c.Failover.AttemptTimeout == 0 {
		c.Failover.AttemptTimeout = 10 * time.Second
	}
	if c.Failover.Cooldown == 0 {
		c.Failover.Cooldown = 5 * time.Minute
	}
	if c.Failover.ShutdownTimeout == 0 {
		c.Failover.ShutdownTimeout = 5 * time.Minute
	}
	if c.Failover.ShutdownPoll == 0 {
		c.Failover.ShutdownPoll = time.Second
	}
	if c.Failover.SlowThreshold == 0 {
		c.Failover.SlowThreshold = 2 * time.Second
	}

	c.Strategy.ApplyDefaults()

	if c.History.Capacity == 0 {
		c.History.Capacity = history.DefaultCapacity
	}

	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4318"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "failoverd"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1
	}
}

// Validate checks configuration
func (c *Config) Validate() error {
	if c.Failover.DefaultPrimary == "" {
		return errors.New("config: failover.default_primary is required")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	for name, t := range c.Targets {
		if t.AdminURL == "" {
			return fmt.Errorf("config: target %s: admin_url is required", name)
		}
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return errors.New("config: server rate limit must not be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("config: tracing.sample_rate %v out of range [0,1]", c.Tracing.SampleRate)
	}
	return nil
}

// AdminURLs returns target name to admin URL
func (c *Config) AdminURLs() map[string]string {
	out := make(map[string]string, len(c.Targets))
	for name, t := range c.Targets {
		out[name] = t.AdminURL
	}
	return out
}

// ApplyDefaults fills in an empty mode and zero retry counts
func (s *Strategy) ApplyDefaults() {
	if s.Mode == "" {
		s.Mode = trigger.ModeManual
	}
	for i := range s.Checks {
		if s.Checks[i].Retries == 0 {
			s.Checks[i].Retries = 1
		}
	}
}

// Validate checks the strategy
func (s Strategy) Validate() error {
	if !s.Mode.Valid() {
		return fmt.Errorf("config: invalid strategy mode %q", s.Mode)
	}
	for i, r := range s.Triggers {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("config: trigger %d: %w", i, err)
		}
	}

	seen := make(map[string]bool, len(s.Checks))
	for _, c := range s.Checks {
		if c.Name == "" {
			return errors.New("config: health check name is required")
		}
		if seen[c.Name] {
			return fmt.Errorf("config: duplicate health check %q", c.Name)
		}
		seen[c.Name] = true
		if c.Retries < 1 {
			return fmt.Errorf("config: health check %s: retries must be >= 1", c.Name)
		}
	}
	return nil
}

// Clone returns a deep copy
func (s Strategy) Clone() Strategy {
	out := Strategy{Mode: s.Mode}
	if s.Triggers != nil {
		out.Triggers = append([]trigger.Rule(nil), s.Triggers...)
	}
	if s.Checks != nil {
		out.Checks = append([]health.CheckSpec(nil), s.Checks...)
	}
	return out
}
