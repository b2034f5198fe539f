package sweep

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/sirupsen/logrus"
)

// TrialSweepArgs is the river job that runs one sweep.
type TrialSweepArgs struct{}

func (TrialSweepArgs) Kind() string { return "trial_sweep" }

type Worker struct {
	river.WorkerDefaults[TrialSweepArgs]
	sweeper *Sweeper
}

func NewWorker(s *Sweeper) *Worker { return &Worker{sweeper: s} }

func (w *Worker) Work(ctx context.Context, job *river.Job[TrialSweepArgs]) error {
	n, err := w.sweeper.Run(ctx)
	if err != nil {
		return err
	}
	w.sweeper.log.WithFields(logrus.Fields{"job_id": job.ID, "downgraded": n}).Info("trial sweep job done")
	return nil
}

func (w *Worker) Timeout(*river.Job[TrialSweepArgs]) time.Duration { return 5 * time.Minute }

// PeriodicJob schedules a sweep every interval. Jobs are unique per period so
// several replicas enqueue at most one per interval.
func PeriodicJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return TrialSweepArgs{}, &river.InsertOpts{UniqueOpts: river.UniqueOpts{ByPeriod: interval}}
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

// NewRiverClient builds a river client that only runs the trial sweep.
// The caller starts and stops it.
func NewRiverClient(pool *pgxpool.Pool, s *Sweeper, interval time.Duration) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, NewWorker(s)); err != nil {
		return nil, err
	}
	return river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:       map[string]river.QueueConfig{river.QueueDefault: {MaxWorkers: 1}},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{PeriodicJob(interval)},
	})
}
