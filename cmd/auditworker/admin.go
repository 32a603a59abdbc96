package main

import (
	"github.com/spf13/cobra"

	"github.com/facesystem/gateway/internal/broker"
	"github.com/facesystem/gateway/internal/db"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sqlDB, err := db.Open(ctx, c.cfg.DatabaseURL, db.DefaultPoolConfig())
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if err := db.RunMigrations(ctx, sqlDB); err != nil {
				return err
			}
			c.logger.InfoContext(ctx, "migrations applied")
			return nil
		},
	}
}

func newTopologyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Declare the audit exchange, queues and dead-letter queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := broker.NewClient(c.cfg.Broker(serviceName), c.logger)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.DeclareTopology(ctx); err != nil {
				return err
			}
			c.logger.InfoContext(ctx, "broker topology declared")
			return nil
		},
	}
}
