// Package config loads EngineOptions, the one place safety defaults,
// rate-controller tunables, and connection toggles come from. Grounded on
// cmd/root.go's initConfig: an optional $HOME-relative YAML file overlaid by
// PPDSQL_-prefixed environment variables, with flags (bound by the caller)
// taking precedence over both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ppds-sdk/sqlengine/internal/dmlguard"
	"github.com/ppds-sdk/sqlengine/internal/ratectl"
)

const envPrefix = "PPDSQL"

// ConnectionOptions is the Dataverse endpoint this engine instance talks to.
type ConnectionOptions struct {
	BaseURL        string // Dataverse Web API base, e.g. https://org.crm.dynamics.com/api/data/v9.2/
	BearerToken    string
	EnvironmentType string // "Production", "Sandbox", "Trial", ... — feeds dmlguard.DetectProtectionLevel

	TdsEnabled  bool
	TdsServer   string
	TdsPort     int
	TdsDatabase string
	TdsUser     string
	TdsPassword string
}

// SafetyOptions carries the standing DML policy (dmlguard.Settings) plus the
// protection level override, when the caller doesn't want auto-detection
// from EnvironmentType.
type SafetyOptions struct {
	PreventUpdateWithoutWhere bool
	PreventDeleteWithoutWhere bool
	CrossEnvPolicy            string // "Allow", "Prompt", "ReadOnly"
	ProtectionLevelOverride   string // "" defers to DetectProtectionLevel(EnvironmentType)
}

// RateControllerOptions seeds one ratectl.Config per connection.
type RateControllerOptions struct {
	RecommendedDOP int
	Connections    int
	HardCeiling    int
	BulkBatchSize  int
}

// EngineOptions is the fully-resolved configuration surface §6's service
// entry points read from.
type EngineOptions struct {
	Connection ConnectionOptions
	Safety     SafetyOptions
	Rate       RateControllerOptions
	PoolCapacity int
	OutputFormat string // "text", "plain", "json"
}

func defaults() EngineOptions {
	return EngineOptions{
		Safety: SafetyOptions{
			PreventUpdateWithoutWhere: true,
			PreventDeleteWithoutWhere: true,
			CrossEnvPolicy:            string(dmlguard.CrossEnvPrompt),
		},
		Rate: RateControllerOptions{
			RecommendedDOP: 2,
			Connections:    1,
			HardCeiling:    20,
			BulkBatchSize:  100,
		},
		PoolCapacity: 4,
		OutputFormat: "text",
	}
}

// Load resolves EngineOptions the way initConfig does: an optional config
// file (cfgFile if set, else $HOME/.ppdsql/config.yaml), overlaid by
// PPDSQL_-prefixed environment variables. A missing default config file is
// not an error — it's optional, same as the teacher's config; a cfgFile that
// names a missing file is an error.
func Load(cfgFile string) (EngineOptions, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".ppdsql"))
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	opts := defaults()
	bindDefaults(v, opts)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return opts, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	return decode(v, opts), nil
}

// bindDefaults seeds viper's default layer so env-var/file overrides merge
// with, rather than replace, the zero-value struct above.
func bindDefaults(v *viper.Viper, opts EngineOptions) {
	v.SetDefault("connection.base_url", opts.Connection.BaseURL)
	v.SetDefault("connection.environment_type", opts.Connection.EnvironmentType)
	v.SetDefault("connection.tds.enabled", opts.Connection.TdsEnabled)
	v.SetDefault("connection.tds.port", opts.Connection.TdsPort)

	v.SetDefault("safety.prevent_update_without_where", opts.Safety.PreventUpdateWithoutWhere)
	v.SetDefault("safety.prevent_delete_without_where", opts.Safety.PreventDeleteWithoutWhere)
	v.SetDefault("safety.cross_env_policy", opts.Safety.CrossEnvPolicy)
	v.SetDefault("safety.protection_level", opts.Safety.ProtectionLevelOverride)

	v.SetDefault("rate.recommended_dop", opts.Rate.RecommendedDOP)
	v.SetDefault("rate.connections", opts.Rate.Connections)
	v.SetDefault("rate.hard_ceiling", opts.Rate.HardCeiling)
	v.SetDefault("rate.bulk_batch_size", opts.Rate.BulkBatchSize)

	v.SetDefault("pool_capacity", opts.PoolCapacity)
	v.SetDefault("output_format", opts.OutputFormat)
}

func decode(v *viper.Viper, opts EngineOptions) EngineOptions {
	opts.Connection.BaseURL = v.GetString("connection.base_url")
	opts.Connection.BearerToken = v.GetString("connection.bearer_token")
	opts.Connection.EnvironmentType = v.GetString("connection.environment_type")
	opts.Connection.TdsEnabled = v.GetBool("connection.tds.enabled")
	opts.Connection.TdsServer = v.GetString("connection.tds.server")
	opts.Connection.TdsPort = v.GetInt("connection.tds.port")
	opts.Connection.TdsDatabase = v.GetString("connection.tds.database")
	opts.Connection.TdsUser = v.GetString("connection.tds.user")
	opts.Connection.TdsPassword = v.GetString("connection.tds.password")

	opts.Safety.PreventUpdateWithoutWhere = v.GetBool("safety.prevent_update_without_where")
	opts.Safety.PreventDeleteWithoutWhere = v.GetBool("safety.prevent_delete_without_where")
	opts.Safety.CrossEnvPolicy = v.GetString("safety.cross_env_policy")
	opts.Safety.ProtectionLevelOverride = v.GetString("safety.protection_level")

	opts.Rate.RecommendedDOP = v.GetInt("rate.recommended_dop")
	opts.Rate.Connections = v.GetInt("rate.connections")
	opts.Rate.HardCeiling = v.GetInt("rate.hard_ceiling")
	opts.Rate.BulkBatchSize = v.GetInt("rate.bulk_batch_size")

	opts.PoolCapacity = v.GetInt("pool_capacity")
	opts.OutputFormat = v.GetString("output_format")
	return opts
}

// DmlGuardSettings converts the loaded safety options into dmlguard.Settings.
func (o EngineOptions) DmlGuardSettings() dmlguard.Settings {
	return dmlguard.Settings{
		PreventUpdateWithoutWhere: o.Safety.PreventUpdateWithoutWhere,
		PreventDeleteWithoutWhere: o.Safety.PreventDeleteWithoutWhere,
		CrossEnvPolicy:            dmlguard.CrossEnvPolicy(o.Safety.CrossEnvPolicy),
	}
}

// ProtectionLevel resolves the effective protection level: an explicit
// override wins, otherwise it's auto-detected from EnvironmentType (§4.7
// closing paragraph).
func (o EngineOptions) ProtectionLevel() dmlguard.ProtectionLevel {
	if o.Safety.ProtectionLevelOverride != "" {
		return dmlguard.ProtectionLevel(o.Safety.ProtectionLevelOverride)
	}
	return dmlguard.DetectProtectionLevel(o.Connection.EnvironmentType)
}

// RateControllerConfig converts the loaded rate options into ratectl.Config.
func (o EngineOptions) RateControllerConfig() ratectl.Config {
	return ratectl.Config{
		RecommendedDOP: o.Rate.RecommendedDOP,
		Connections:    o.Rate.Connections,
		HardCeiling:    o.Rate.HardCeiling,
	}
}
