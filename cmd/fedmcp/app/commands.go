// Package app provides the fedmcp command-line application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/fedmcp/pkg/config"
	"github.com/stacklok/fedmcp/pkg/logger"
	"github.com/stacklok/fedmcp/pkg/providerreg"
)

var rootCmd = &cobra.Command{
	Use:               "fedmcp",
	DisableAutoGenTag: true,
	Short:             "Federated fitness MCP server",
	Long: `fedmcp is an MCP server that exposes a tenant's connected fitness
providers (Strava, Garmin, Fitbit, Whoop, Terra) as a uniform set of
MCP tools, gated by subscription plan and per-tenant overrides.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates the fedmcp root command.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the fedmcp server",
		Long: `Start the fedmcp server: an MCP tool endpoint over stdio, plus a
small HTTP listener handling only the OAuth authorization-code callback
(not MCP transport framing).`,
		RunE: runServe,
	}
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("fedmcp version: %s", version)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long:  "Load configuration from file, environment, and defaults, and report whether it is valid.",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(providerreg.Names())
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			logger.Infof("configuration is valid")
			logger.Infof("  listener: %s:%d (oauth callback on %d)", cfg.Listener.Host, cfg.Listener.Port, cfg.Listener.OAuthCallbackPort)
			logger.Infof("  database: %s", cfg.Database.URL)
			logger.Infof("  environment: %s", cfg.Security.Environment)
			logger.Infof("  disabled tools: %v", cfg.DisabledTools)
			enabled := 0
			for _, p := range cfg.OAuthProviders {
				if p.Enabled {
					enabled++
				}
			}
			logger.Infof("  oauth providers enabled: %d/%d", enabled, len(cfg.OAuthProviders))
			return nil
		},
	}
}

// version is overridden at build time via -ldflags.
var version = "dev"
