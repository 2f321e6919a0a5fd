// Package config holds the runtime settings of the trainer: logging, the
// simulation cadence and the optional telemetry and progress outputs.
// Authoring-time settings live in scenario files instead.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/core/systems"
	"github.com/zeusync/cabintrainer/internal/scenario"
)

const EnvPrefix = "CABINTRAINER"

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Sim       SimConfig       `mapstructure:"sim"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Store     StoreConfig     `mapstructure:"store"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`

	// Encoding is "json" or "console"
	Encoding string `mapstructure:"encoding"`
}

// SimConfig controls the simulation cadence.
type SimConfig struct {
	FixedStep   time.Duration `mapstructure:"fixed_step"`
	MaxSubsteps int           `mapstructure:"max_substeps"`

	// Frame is the rendered frame length scripts are replayed at
	Frame time.Duration `mapstructure:"frame"`
}

type TelemetryConfig struct {
	// Addr is the listen address of /ws and /metrics; empty disables serving
	Addr string `mapstructure:"addr"`
}

type StoreConfig struct {
	// Path of the SQLite progress log; empty disables recording
	Path string `mapstructure:"path"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Encoding: "console"},
		Sim: SimConfig{FixedStep: 20 * time.Millisecond, MaxSubsteps: 5, Frame: time.Second / 72},
	}
}

// SetDefaults registers every key with its default so env overrides apply
// even without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("sim.fixed_step", d.Sim.FixedStep)
	v.SetDefault("sim.max_substeps", d.Sim.MaxSubsteps)
	v.SetDefault("sim.frame", d.Sim.Frame)
	v.SetDefault("telemetry.addr", d.Telemetry.Addr)
	v.SetDefault("store.path", d.Store.Path)
}

// New returns a viper instance with defaults, CABINTRAINER_ env overrides
// (CABINTRAINER_SIM_FIXED_STEP for sim.fixed_step) and, when path is set,
// the YAML file at path.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return v, nil
}

// Load reads v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	if c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		errs = append(errs, fmt.Errorf("log.encoding: want json or console, got %q", c.Log.Encoding))
	}
	if c.Sim.FixedStep <= 0 {
		errs = append(errs, fmt.Errorf("sim.fixed_step: must be positive, got %s", c.Sim.FixedStep))
	}
	if c.Sim.MaxSubsteps < 1 {
		errs = append(errs, fmt.Errorf("sim.max_substeps: must be at least 1, got %d", c.Sim.MaxSubsteps))
	}
	if c.Sim.Frame <= 0 {
		errs = append(errs, fmt.Errorf("sim.frame: must be positive, got %s", c.Sim.Frame))
	}
	return errors.Join(errs...)
}

func (c LogConfig) Options() log.Options {
	return log.Options{Level: log.ParseLevel(strings.ToLower(c.Level)), Encoding: c.Encoding}
}

func (c SimConfig) Systems() systems.Options {
	return systems.Options{FixedStep: c.FixedStep.Seconds(), MaxSubsteps: c.MaxSubsteps}
}

// Scenario returns build options for the configured cadence. The bus and
// logger are left for the caller.
func (c SimConfig) Scenario() scenario.Options {
	return scenario.Options{Systems: c.Systems(), Frame: c.Frame.Seconds()}
}
