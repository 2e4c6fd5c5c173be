// Package config aggregates component configuration, loads overrides from a
// YAML file and the environment, and builds the process logger.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/confirm"
	"github.com/atlas-desktop/decision-engine/internal/engine"
	"github.com/atlas-desktop/decision-engine/internal/exits"
	"github.com/atlas-desktop/decision-engine/internal/regime"
	"github.com/atlas-desktop/decision-engine/internal/risk"
	"github.com/atlas-desktop/decision-engine/internal/selector"
	"github.com/atlas-desktop/decision-engine/internal/sizing"
	"github.com/atlas-desktop/decision-engine/internal/validation"
)

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is the full engine configuration tree.
type Config struct {
	Logging      LoggingConfig       `mapstructure:"logging"`
	Engine       engine.Config       `mapstructure:"engine"`
	Validation   validation.Config   `mapstructure:"validation"`
	Confirmation confirm.Config      `mapstructure:"confirmation"`
	Regime       regime.Config       `mapstructure:"regime"`
	Risk         risk.AssessorConfig `mapstructure:"risk"`
	Monitor      risk.MonitorConfig  `mapstructure:"monitor"`
	Sizing       sizing.Config       `mapstructure:"sizing"`
	Exits        exits.Config        `mapstructure:"exits"`
	Selector     selector.Config     `mapstructure:"selector"`
}

// Default returns the documented defaults for every component.
func Default() *Config {
	return &Config{
		Logging:      LoggingConfig{Level: "info"},
		Engine:       engine.DefaultConfig(),
		Validation:   validation.DefaultConfig(),
		Confirmation: confirm.DefaultConfig(),
		Regime:       regime.DefaultConfig(),
		Risk:         risk.DefaultAssessorConfig(),
		Monitor:      risk.DefaultMonitorConfig(),
		Sizing:       sizing.DefaultConfig(),
		Exits:        exits.DefaultConfig(),
		Selector:     selector.DefaultConfig(),
	}
}

// Load reads configuration from path (YAML), layered over defaults, with
// DECISION_ENGINE_* environment variables taking precedence. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("DECISION_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs every component's configuration check.
func (c *Config) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	if err := c.Sizing.Validate(); err != nil {
		return err
	}
	if err := c.Exits.Validate(); err != nil {
		return err
	}
	return nil
}

// BuildLogger constructs the process logger from the logging section.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("config: invalid log level %q: %w", c.Logging.Level, err)
	}

	zc := zap.NewProductionConfig()
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
