package jobs

import (
	"context"
	"time"

	"stockroom/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const sweepTimeout = 2 * time.Minute

type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

// Scheduler runs the maintenance sweep on a cron schedule, outside request
// handling. Overlapping runs are skipped.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	schedule string
	log      logrus.FieldLogger
}

func NewScheduler(sweeper Sweeper, schedule string, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if schedule == "" {
		schedule = "@every 10m"
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		schedule: schedule,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.sweeper == nil {
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		return err
	}
	s.cron.Start()
	s.log.WithField("schedule", s.schedule).Info("maintenance scheduler started")
	return nil
}

// Stop halts scheduling and returns a context that is done once any running
// sweep has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.log.WithError(err).Error("maintenance sweep failed")
	}
}
