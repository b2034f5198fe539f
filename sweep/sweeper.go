// Package sweep downgrades organizations whose pro_trial has run out.
package sweep

import (
	"context"
	"time"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/PaulFidika/orgkit/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultBatchSize = 100

// Store is the slice of tenancy.Store the sweep needs.
type Store interface {
	ExpiredTrials(ctx context.Context, now time.Time, trialDuration time.Duration, limit int) ([]uuid.UUID, error)
	DowngradeExpiredTrial(ctx context.Context, orgID uuid.UUID, now time.Time, trialDuration time.Duration) (bool, error)
}

// Invalidator drops cached state for an organization.
type Invalidator interface {
	Invalidate(ctx context.Context, orgID uuid.UUID)
}

type Sweeper struct {
	store   Store
	eval    *entitlements.Evaluator
	cache   Invalidator
	batch   int
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

type Option func(*Sweeper)

func WithBatchSize(n int) Option { return func(s *Sweeper) { s.batch = n } }

func WithInvalidator(c Invalidator) Option { return func(s *Sweeper) { s.cache = c } }

func WithLogger(l logrus.FieldLogger) Option { return func(s *Sweeper) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Sweeper) { s.metrics = m } }

func New(store Store, eval *entitlements.Evaluator, opts ...Option) *Sweeper {
	s := &Sweeper{store: store, eval: eval, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(s)
	}
	if s.batch <= 0 {
		s.batch = defaultBatchSize
	}
	return s
}

// Run downgrades every expired pro_trial organization to solo and returns how
// many were moved. The deadline rule is the evaluator's, evaluated in SQL at a
// single instant so repeated runs are idempotent.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	now := s.eval.Now()
	dur := s.eval.TrialDuration()
	total := 0
	defer func() { s.log.WithField("downgraded", total).Debug("trial sweep finished") }()

	for {
		ids, err := s.store.ExpiredTrials(ctx, now, dur, s.batch)
		if err != nil {
			s.metrics.Sweep(total, err)
			return total, err
		}
		moved := 0
		for _, id := range ids {
			ok, err := s.store.DowngradeExpiredTrial(ctx, id, now, dur)
			if err != nil {
				s.metrics.Sweep(total, err)
				return total, err
			}
			if !ok {
				continue
			}
			moved++
			total++
			if s.cache != nil {
				s.cache.Invalidate(ctx, id)
			}
			s.log.WithFields(logrus.Fields{"org_id": id, "plan": entitlements.PlanSolo}).Info("trial expired, downgraded")
		}
		// A short batch means the backlog is drained; a batch with no moves
		// means another sweeper got there first.
		if len(ids) < s.batch || moved == 0 {
			break
		}
	}
	s.metrics.Sweep(total, nil)
	return total, nil
}
