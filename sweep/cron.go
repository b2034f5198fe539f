package sweep

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// NewCron schedules the sweeper in-process on a cron spec such as "@every 1h".
// Overlapping runs are skipped. Start and Stop are left to the caller.
func NewCron(s *Sweeper, spec string, timeout time.Duration) (*cron.Cron, error) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	logger := cron.PrintfLogger(s.log)
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.Run(ctx); err != nil {
			s.log.WithError(err).Error("trial sweep failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
