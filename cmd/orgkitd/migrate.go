package main

import (
	migrations "github.com/PaulFidika/orgkit/migrations/postgres"
	"github.com/spf13/cobra"
)

var (
	migrateDown    bool
	migrateNoRiver bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		pool, err := openPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if migrateDown {
			return migrations.Down(ctx, pool, log)
		}
		return migrations.Up(ctx, pool, !migrateNoRiver && cfg.Sweep.Scheduler == "river", log)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the last migration group")
	migrateCmd.Flags().BoolVar(&migrateNoRiver, "skip-river", false, "do not migrate river's job tables")
}
