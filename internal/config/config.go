// Package config loads server settings from a TOML file with ABILITY_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "ABILITY_"

type Config struct {
	Runtime     RuntimeConfig     `toml:"runtime" envPrefix:"RUNTIME_"`
	Cooldowns   CooldownConfig    `toml:"cooldowns" envPrefix:"COOLDOWNS_"`
	Toggles     ToggleConfig      `toml:"toggles" envPrefix:"TOGGLES_"`
	Metrics     MetricsConfig     `toml:"metrics" envPrefix:"METRICS_"`
	Logging     LoggingConfig     `toml:"logging" envPrefix:"LOGGING_"`
	Persistence PersistenceConfig `toml:"persistence" envPrefix:"PERSISTENCE_"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics" envPrefix:"DIAGNOSTICS_"`
	Catalog     CatalogConfig     `toml:"catalog" envPrefix:"CATALOG_"`
	Tracing     TracingConfig     `toml:"tracing" envPrefix:"TRACING_"`
}

type RuntimeConfig struct {
	TickRate        int `toml:"tick_rate" env:"TICK_RATE"` // ticks per second
	IntentCapacity  int `toml:"intent_capacity" env:"INTENT_CAPACITY"`
	PerActorLimit   int `toml:"per_actor_limit" env:"PER_ACTOR_LIMIT"` // intents per actor per tick
	CatchupMaxTicks int `toml:"catchup_max_ticks" env:"CATCHUP_MAX_TICKS"`
}

type CooldownConfig struct {
	DefaultTicks       int64 `toml:"default_ticks" env:"DEFAULT_TICKS"`
	SweepIntervalTicks int   `toml:"sweep_interval_ticks" env:"SWEEP_INTERVAL_TICKS"`
}

type ToggleConfig struct {
	DefaultIntervalTicks    int64 `toml:"default_interval_ticks" env:"DEFAULT_INTERVAL_TICKS"`
	DefaultMaxDurationTicks int64 `toml:"default_max_duration_ticks" env:"DEFAULT_MAX_DURATION_TICKS"` // 0 = unbounded
}

type MetricsConfig struct {
	MaxSamples int `toml:"max_samples" env:"MAX_SAMPLES"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format     string   `toml:"format" env:"FORMAT"` // "json" or "console"
	Sinks      []string `toml:"sinks" env:"SINKS"`   // console, json, zap
	JSONPath   string   `toml:"json_path" env:"JSON_PATH"`
	BufferSize int      `toml:"buffer_size" env:"BUFFER_SIZE"`
	Color      bool     `toml:"color" env:"COLOR"` // ANSI severity colors on the console sink
	// RetainCategories may spill into the reserved lane instead of being
	// dropped when the router queue is full. Empty keeps the router default.
	RetainCategories []string `toml:"retain_categories" env:"RETAIN_CATEGORIES"`
}

type PersistenceConfig struct {
	Enabled          bool          `toml:"enabled" env:"ENABLED"`
	Path             string        `toml:"path" env:"PATH"`
	RestoreCooldowns bool          `toml:"restore_cooldowns" env:"RESTORE_COOLDOWNS"`
	BatchSize        int           `toml:"batch_size" env:"BATCH_SIZE"`
	FlushInterval    time.Duration `toml:"flush_interval" env:"FLUSH_INTERVAL"`
}

type DiagnosticsConfig struct {
	Enabled      bool          `toml:"enabled" env:"ENABLED"`
	BindAddress  string        `toml:"bind_address" env:"BIND_ADDRESS"`
	PushInterval time.Duration `toml:"push_interval" env:"PUSH_INTERVAL"`
	// EnablePprof mounts net/http/pprof under /debug/pprof/.
	EnablePprof bool `toml:"enable_pprof" env:"ENABLE_PPROF"`
}

type CatalogConfig struct {
	Paths []string `toml:"paths" env:"PATHS"`
}

type TracingConfig struct {
	Enabled     bool    `toml:"enabled" env:"ENABLED"`
	Endpoint    string  `toml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `toml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `toml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// Load reads path over the defaults and then applies environment
// overrides. A missing file yields the defaults. An empty path skips the
// file entirely.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the runtime cannot run with.
func (c *Config) Validate() error {
	if c.Runtime.TickRate <= 0 {
		return fmt.Errorf("config: runtime.tick_rate must be positive, got %d", c.Runtime.TickRate)
	}
	if c.Runtime.IntentCapacity <= 0 {
		return fmt.Errorf("config: runtime.intent_capacity must be positive, got %d", c.Runtime.IntentCapacity)
	}
	if c.Cooldowns.DefaultTicks < 0 {
		return fmt.Errorf("config: cooldowns.default_ticks must not be negative, got %d", c.Cooldowns.DefaultTicks)
	}
	if c.Toggles.DefaultMaxDurationTicks < 0 {
		return fmt.Errorf("config: toggles.default_max_duration_ticks must not be negative, got %d", c.Toggles.DefaultMaxDurationTicks)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("config: logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.Persistence.Enabled && strings.TrimSpace(c.Persistence.Path) == "" {
		return errors.New("config: persistence.path is required when persistence is enabled")
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			TickRate:        20,
			IntentCapacity:  1024,
			PerActorLimit:   8,
			CatchupMaxTicks: 3,
		},
		Cooldowns: CooldownConfig{
			DefaultTicks:       0,
			SweepIntervalTicks: 200, // ten seconds at 20 ticks/s
		},
		Toggles: ToggleConfig{
			DefaultIntervalTicks:    20,
			DefaultMaxDurationTicks: 0,
		},
		Metrics: MetricsConfig{
			MaxSamples: 1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Sinks:      []string{"zap"},
			JSONPath:   "logs/events.ndjson",
			BufferSize: 512,
		},
		Persistence: PersistenceConfig{
			Enabled:          false,
			Path:             "data/abilities.db",
			RestoreCooldowns: true,
			BatchSize:        64,
			FlushInterval:    250 * time.Millisecond,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:      true,
			BindAddress:  "127.0.0.1:8090",
			PushInterval: time.Second,
		},
		Catalog: CatalogConfig{
			Paths: []string{"config/abilities.yaml"},
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "spellforge",
			SampleRatio: 1,
		},
	}
}
