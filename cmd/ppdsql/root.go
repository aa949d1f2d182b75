package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/ppds-sdk/sqlengine/internal/config"
	"github.com/ppds-sdk/sqlengine/internal/engine"
	"github.com/ppds-sdk/sqlengine/internal/output"
)

var cfgFile string

func init() {
	cobra.OnInitialize(initViperConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ppdsql/config.yaml)")
	rootCmd.PersistentFlags().String("base-url", "", "Dataverse Web API base URL, e.g. https://org.crm.dynamics.com/api/data/v9.2/")
	rootCmd.PersistentFlags().String("token", "", "Dataverse bearer token (will prompt if omitted)")
	rootCmd.PersistentFlags().String("environment-type", "", "Dataverse environment type: Production, Sandbox, Trial")
	rootCmd.PersistentFlags().Bool("tds", false, "Route eligible SELECTs through the TDS endpoint")
	rootCmd.PersistentFlags().StringP("format", "f", "", "Output format: text, plain, json, markdown (default text)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show additional debug info")

	viper.BindPFlag("connection.base_url", rootCmd.PersistentFlags().Lookup("base-url"))
	viper.BindPFlag("connection.bearer_token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("connection.environment_type", rootCmd.PersistentFlags().Lookup("environment-type"))
	viper.BindPFlag("connection.tds.enabled", rootCmd.PersistentFlags().Lookup("tds"))
	viper.BindPFlag("output_format", rootCmd.PersistentFlags().Lookup("format"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initViperConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home + "/.ppdsql")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PPDSQL")
	viper.AutomaticEnv()

	// Silently ignore a missing config file — it's optional.
	_ = viper.ReadInConfig()
}

// loadEngineOptions resolves config.EngineOptions the same way initConfig
// primes viper above, then layers in the bearer token prompt when neither a
// flag, env var, nor config file supplied one.
func loadEngineOptions(cmd *cobra.Command) (config.EngineOptions, error) {
	opts, err := config.Load(cfgFile)
	if err != nil {
		return opts, err
	}
	if f := cmd.Flags().Lookup("format"); f != nil && f.Changed {
		opts.OutputFormat = f.Value.String()
	}
	if f := cmd.Flags().Lookup("base-url"); f != nil && f.Changed {
		opts.Connection.BaseURL = f.Value.String()
	}
	if f := cmd.Flags().Lookup("token"); f != nil && f.Changed {
		opts.Connection.BearerToken = f.Value.String()
	}
	if f := cmd.Flags().Lookup("environment-type"); f != nil && f.Changed {
		opts.Connection.EnvironmentType = f.Value.String()
	}
	if tds, err := cmd.Flags().GetBool("tds"); err == nil && cmd.Flags().Changed("tds") {
		opts.Connection.TdsEnabled = tds
	}
	if opts.Connection.BaseURL == "" {
		return opts, fmt.Errorf("connection.base_url is required (--base-url, PPDSQL_CONNECTION_BASE_URL, or config file)")
	}
	if opts.Connection.BearerToken == "" {
		opts.Connection.BearerToken = promptBearerToken()
	}
	return opts, nil
}

func promptBearerToken() string {
	fmt.Fprint(os.Stderr, "Enter Dataverse bearer token: ")
	token, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(token)
}

// newEngineFromCmd wires an Engine the way every subcommand needs it:
// resolved options, a renderer for its output format, and the caller
// responsible for Close().
func newEngineFromCmd(cmd *cobra.Command) (*engine.Engine, output.Renderer, error) {
	opts, err := loadEngineOptions(cmd)
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to dataverse: %w", err)
	}
	return e, output.NewRenderer(opts.OutputFormat, os.Stdout), nil
}
