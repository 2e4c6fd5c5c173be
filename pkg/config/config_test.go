package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/decision-engine/internal/risk"
	"github.com/atlas-desktop/decision-engine/pkg/config"
)

func TestDefaultsValidate(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sizing.MaxRiskPerTrade != 0.02 {
		t.Errorf("MaxRiskPerTrade = %v, want the 0.02 default", cfg.Sizing.MaxRiskPerTrade)
	}
	if cfg.Monitor.VaRMethod != risk.VaRHistorical {
		t.Errorf("VaRMethod = %s, want historical by default", cfg.Monitor.VaRMethod)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Level = %s, want info", cfg.Logging.Level)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
sizing:
  max_risk_per_trade: 0.01
monitor:
  var_method: parametric
logging:
  level: debug
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sizing.MaxRiskPerTrade != 0.01 {
		t.Errorf("MaxRiskPerTrade = %v, want 0.01 from the file", cfg.Sizing.MaxRiskPerTrade)
	}
	if cfg.Monitor.VaRMethod != risk.VaRParametric {
		t.Errorf("VaRMethod = %s, want parametric from the file", cfg.Monitor.VaRMethod)
	}
	// Untouched keys keep their defaults.
	if cfg.Sizing.KellyClamp != 0.25 {
		t.Errorf("KellyClamp = %v, want the 0.25 default", cfg.Sizing.KellyClamp)
	}
}

func TestLoadRejectsInvalidOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("monitor:\n  var_method: montecarlo\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := config.Load(path); err == nil {
		t.Fatal("an unknown VaR method must fail validation on load")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("a missing config file must be an error, not a silent default")
	}
}

func TestBuildLogger(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "debug"
	logger, err := cfg.BuildLogger()
	if err != nil {
		t.Fatalf("BuildLogger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level must be enabled")
	}

	cfg.Logging.Level = "loud"
	if _, err := cfg.BuildLogger(); err == nil {
		t.Error("an unknown level must fail")
	}
}
