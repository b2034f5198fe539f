package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	orggin "github.com/PaulFidika/orgkit/adapters/gin"
	orghttp "github.com/PaulFidika/orgkit/adapters/http"
	"github.com/PaulFidika/orgkit/config"
	"github.com/PaulFidika/orgkit/core"
	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/PaulFidika/orgkit/metrics"
	"github.com/PaulFidika/orgkit/session"
	"github.com/PaulFidika/orgkit/sweep"
	"github.com/PaulFidika/orgkit/tenancy"
	"github.com/PaulFidika/orgkit/webhooks"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, ops server and trial sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	eval, err := cfg.Evaluator()
	if err != nil {
		return err
	}
	pool, err := openPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	be, err := newBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.Close()

	m := metrics.Get()
	store := tenancy.NewStore(pool, cfg.Postgres.Schema)
	svc := core.NewService(core.Options{
		Store:       store,
		Cache:       be.states,
		Evaluator:   eval,
		Provisioner: tenancy.NewProvisioner(store, eval, log.WithField("component", "provisioner")),
		Webhooks: webhooks.NewDispatcher(store, eval,
			webhooks.WithVerifier(secretVerifier(cfg.Identity.WebhookSecret)),
			webhooks.WithMetrics(m),
			webhooks.WithLogger(log.WithField("component", "webhooks")),
		),
		Metrics: m,
		Log:     log,
	})

	if cfg.Identity.Issuer == "" {
		return errors.New("identity.issuer is required to verify sessions")
	}
	sessions, err := session.NewRemoteVerifier(ctx, cfg.Identity.Issuer, cfg.Identity.Audience, cfg.Identity.JWKSURL)
	if err != nil {
		return err
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log))
	orggin.Register(r, orggin.Config{
		Service:    svc,
		Sessions:   sessions,
		Limiter:    be.limiter,
		AdminToken: cfg.HTTP.AdminToken,
	})
	api := &http.Server{Addr: cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	ops := orghttp.New(cfg.Ops.Addr, cfg.Ops.Metrics, prometheus.DefaultGatherer, pool)

	stopSweep, err := startSweep(ctx, cfg, pool, store, eval, tenancy.NewCachedStates(store, be.states, log), log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("api listening")
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.WithField("addr", cfg.Ops.Addr).Info("ops listening")
		if err := ops.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.WithError(err).Error("server failed")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if e := api.Shutdown(sctx); e != nil {
		log.WithError(e).Warn("api shutdown")
	}
	if e := ops.Shutdown(sctx); e != nil {
		log.WithError(e).Warn("ops shutdown")
	}
	stopSweep(sctx)
	return err
}

// startSweep schedules the trial sweep per sweep.scheduler and returns its stop func.
func startSweep(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, store *tenancy.Store, eval *entitlements.Evaluator, cache sweep.Invalidator, log *logrus.Logger) (func(context.Context), error) {
	s := sweep.New(store, eval,
		sweep.WithBatchSize(cfg.Sweep.BatchSize),
		sweep.WithInvalidator(cache),
		sweep.WithLogger(log.WithField("component", "sweep")),
		sweep.WithMetrics(metrics.Get()),
	)
	switch cfg.Sweep.Scheduler {
	case "river":
		client, err := sweep.NewRiverClient(pool, s, cfg.Sweep.Interval)
		if err != nil {
			return nil, err
		}
		if err := client.Start(ctx); err != nil {
			return nil, err
		}
		log.WithField("interval", cfg.Sweep.Interval).Info("trial sweep scheduled on river")
		return func(ctx context.Context) {
			if err := client.Stop(ctx); err != nil {
				log.WithError(err).Warn("river stop")
			}
		}, nil
	case "cron":
		c, err := sweep.NewCron(s, cfg.Sweep.Cron, 0)
		if err != nil {
			return nil, err
		}
		c.Start()
		log.WithField("spec", cfg.Sweep.Cron).Info("trial sweep scheduled on cron")
		return func(ctx context.Context) {
			select {
			case <-c.Stop().Done():
			case <-ctx.Done():
			}
		}, nil
	default:
		log.Warn("trial sweep disabled; expired trials are still enforced at read time")
		return func(context.Context) {}, nil
	}
}

func accessLog(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("request")
			return
		}
		entry.Debug("request")
	}
}
