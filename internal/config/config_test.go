package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppds-sdk/sqlengine/internal/dmlguard"
)

func TestLoadDefaultsWithNoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	origHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", origHome)

	opts, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !opts.Safety.PreventDeleteWithoutWhere || !opts.Safety.PreventUpdateWithoutWhere {
		t.Errorf("expected safe-by-default DML settings, got %+v", opts.Safety)
	}
	if opts.Rate.HardCeiling != 20 || opts.Rate.RecommendedDOP != 2 {
		t.Errorf("unexpected rate defaults: %+v", opts.Rate)
	}
	if opts.PoolCapacity != 4 {
		t.Errorf("PoolCapacity = %d, want 4", opts.PoolCapacity)
	}
	if opts.OutputFormat != "text" {
		t.Errorf("OutputFormat = %q, want text", opts.OutputFormat)
	}
}

func TestLoadReadsExplicitConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	contents := `
connection:
  base_url: https://contoso.crm.dynamics.com/api/data/v9.2/
  environment_type: Production
  tds:
    enabled: true
    server: contoso.crm.dynamics.com
    database: contoso_MSCRM
safety:
  cross_env_policy: ReadOnly
rate:
  hard_ceiling: 50
  bulk_batch_size: 250
pool_capacity: 8
output_format: json
`
	if err := os.WriteFile(cfgPath, []byte(contents), 0600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	opts, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if opts.Connection.BaseURL != "https://contoso.crm.dynamics.com/api/data/v9.2/" {
		t.Errorf("BaseURL = %q", opts.Connection.BaseURL)
	}
	if opts.Connection.EnvironmentType != "Production" {
		t.Errorf("EnvironmentType = %q, want Production", opts.Connection.EnvironmentType)
	}
	if !opts.Connection.TdsEnabled || opts.Connection.TdsServer != "contoso.crm.dynamics.com" {
		t.Errorf("unexpected tds config: %+v", opts.Connection)
	}
	if opts.Safety.CrossEnvPolicy != "ReadOnly" {
		t.Errorf("CrossEnvPolicy = %q, want ReadOnly", opts.Safety.CrossEnvPolicy)
	}
	if opts.Rate.HardCeiling != 50 || opts.Rate.BulkBatchSize != 250 {
		t.Errorf("unexpected rate overrides: %+v", opts.Rate)
	}
	if opts.PoolCapacity != 8 {
		t.Errorf("PoolCapacity = %d, want 8", opts.PoolCapacity)
	}
	if opts.OutputFormat != "json" {
		t.Errorf("OutputFormat = %q, want json", opts.OutputFormat)
	}

	if got := opts.ProtectionLevel(); got != dmlguard.ProtectionProduction {
		t.Errorf("ProtectionLevel() = %q, want Production", got)
	}
}

func TestLoadMissingExplicitConfigFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for a missing explicit config file")
	}
}

func TestEngineOptionsProtectionLevelOverrideWins(t *testing.T) {
	opts := defaults()
	opts.Connection.EnvironmentType = "Production"
	opts.Safety.ProtectionLevelOverride = "Development"

	if got := opts.ProtectionLevel(); got != dmlguard.ProtectionDevelopment {
		t.Errorf("ProtectionLevel() = %q, want explicit override Development", got)
	}
}

func TestEngineOptionsProtectionLevelAutoDetects(t *testing.T) {
	opts := defaults()
	opts.Connection.EnvironmentType = "Sandbox"

	if got := opts.ProtectionLevel(); got != dmlguard.ProtectionDevelopment {
		t.Errorf("ProtectionLevel() = %q, want Development for Sandbox", got)
	}
}

func TestEngineOptionsDmlGuardSettings(t *testing.T) {
	opts := defaults()
	opts.Safety.CrossEnvPolicy = string(dmlguard.CrossEnvAllow)

	settings := opts.DmlGuardSettings()
	if !settings.PreventDeleteWithoutWhere || !settings.PreventUpdateWithoutWhere {
		t.Errorf("expected safe defaults to carry through, got %+v", settings)
	}
	if settings.CrossEnvPolicy != dmlguard.CrossEnvAllow {
		t.Errorf("CrossEnvPolicy = %q, want Allow", settings.CrossEnvPolicy)
	}
}

func TestEngineOptionsRateControllerConfig(t *testing.T) {
	opts := defaults()
	opts.Rate.RecommendedDOP = 3
	opts.Rate.Connections = 2
	opts.Rate.HardCeiling = 30

	cfg := opts.RateControllerConfig()
	if cfg.RecommendedDOP != 3 || cfg.Connections != 2 || cfg.HardCeiling != 30 {
		t.Errorf("unexpected ratectl.Config: %+v", cfg)
	}
}
