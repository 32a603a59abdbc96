package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/facesystem/gateway/internal/config"
	"github.com/facesystem/gateway/internal/middleware"
)

const serviceName = "face-audit-worker"

// cli holds state shared by all subcommands.
type cli struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "auditworker",
		Short:         "Audit event worker",
		Long:          "Consumes audit events from RabbitMQ into PostgreSQL, Elasticsearch and the alert rules.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errs := config.Load(c.configPath)
			if len(errs) > 0 {
				for _, err := range errs {
					cmd.PrintErrln("config:", err)
				}
				return fmt.Errorf("invalid configuration (%d errors)", len(errs))
			}
			c.cfg = cfg
			c.logger = middleware.NewLogger(cfg.Env)
			slog.SetDefault(c.logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "optional YAML config file; environment variables take precedence")

	rootCmd.AddCommand(
		newConsumeCmd(c),
		newMigrateCmd(c),
		newTopologyCmd(c),
	)
	return rootCmd
}
