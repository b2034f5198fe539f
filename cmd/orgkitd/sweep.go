package main

import (
	"context"
	"time"

	"github.com/PaulFidika/orgkit/metrics"
	"github.com/PaulFidika/orgkit/sweep"
	"github.com/PaulFidika/orgkit/tenancy"
	"github.com/spf13/cobra"
)

var sweepTimeout time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Downgrade expired trials once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		eval, err := cfg.Evaluator()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), sweepTimeout)
		defer cancel()
		pool, err := openPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := tenancy.NewStore(pool, cfg.Postgres.Schema)
		caches, err := newBackends(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer caches.Close()
		s := sweep.New(store, eval,
			sweep.WithBatchSize(cfg.Sweep.BatchSize),
			sweep.WithInvalidator(tenancy.NewCachedStates(store, caches.states, log)),
			sweep.WithLogger(log),
			sweep.WithMetrics(metrics.Get()),
		)
		n, err := s.Run(ctx)
		if err != nil {
			return err
		}
		log.WithField("downgraded", n).Info("sweep finished")
		return nil
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 5*time.Minute, "abort the sweep after this long")
}
