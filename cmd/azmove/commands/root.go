package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/azmove/azmove/pkg/arm"
	"github.com/azmove/azmove/pkg/config"
	"github.com/azmove/azmove/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "azmove",
		Short: "Azure Policy compliance simulator for management group moves",
		Long: `azmove predicts the policy impact of moving an Azure subscription to a
new management group before the move happens.

It resolves the target group's hierarchy, collects the policy and
initiative assignments that would apply there, evaluates every resource
in the subscription against them, and reports which resources would
violate which policies with what effect.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newSimulateCommand())
	rootCmd.AddCommand(newHierarchyCommand())
	rootCmd.AddCommand(newAssignmentsCommand())
	rootCmd.AddCommand(newExemptionsCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	if jsonOutput {
		cfg.Output.Format = "json"
	}
	return cfg, nil
}

// buildTelemetry assembles the telemetry stack from the loaded config.
func buildTelemetry(cfg *config.Config, version string) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = version
	tcfg.Logging.Level = cfg.Telemetry.LogLevel
	tcfg.Logging.Format = cfg.Telemetry.LogFormat
	tcfg.Metrics.Enabled = cfg.Telemetry.MetricsEnabled
	tcfg.Metrics.ListenAddress = cfg.Telemetry.MetricsAddress
	tcfg.Tracing.Enabled = cfg.Telemetry.TracingEnabled
	tcfg.Tracing.Exporter = cfg.Telemetry.TracingExporter
	tcfg.Tracing.Endpoint = cfg.Telemetry.TracingEndpoint
	return telemetry.New(tcfg)
}

// buildClient creates the ARM client wired to the telemetry observer.
func buildClient(cfg *config.Config, tel *telemetry.Telemetry, logger zerolog.Logger) *arm.Client {
	return arm.NewClient(arm.DefaultTokenProvider(), arm.Options{
		BaseURL:     cfg.ARM.BaseURL,
		MaxAttempts: cfg.ARM.MaxAttempts,
		Timeout:     cfg.ARM.Timeout,
		Observer:    tel.Metrics,
	}, logger)
}
