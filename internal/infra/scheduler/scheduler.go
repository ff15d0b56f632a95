package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TickFunc performs one unit of scheduled work.
type TickFunc func(ctx context.Context) error

// ReportScheduler runs a tick immediately on Start and then at a fixed rate.
// A tick that is still running when the next one is due causes that one to be skipped.
type ReportScheduler struct {
	cronEngine *cron.Cron
	job        cron.Job
	interval   time.Duration
	timeout    time.Duration
	logger     *logrus.Entry

	startOnce sync.Once
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
}

func NewReportScheduler(tick TickFunc, interval, timeout time.Duration, logger *logrus.Entry) *ReportScheduler {
	cronLogger := cron.PrintfLogger(logger)
	s := &ReportScheduler{
		cronEngine: cron.New(cron.WithLocation(time.Local), cron.WithLogger(cronLogger)),
		interval:   interval,
		timeout:    timeout,
		logger:     logger,
	}
	s.job = cron.NewChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)).
		Then(cron.FuncJob(func() { s.run(tick) }))
	return s
}

// Start schedules the ticks. Calls after the first are no-ops so that a
// reconnect does not stack a second schedule on top of the first.
func (s *ReportScheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
		s.started = true
		s.mu.Unlock()

		s.cronEngine.Schedule(cron.Every(s.interval), s.job)
		s.cronEngine.Start()
		s.logger.WithField("interval", s.interval.String()).Info("Report scheduler started")

		go s.job.Run()
	})
}

func (s *ReportScheduler) run(tick TickFunc) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()
	if err := tick(ctx); err != nil {
		s.logger.WithError(err).Error("Report tick failed")
	}
}

// Stop cancels any in-flight tick and waits for it to return.
func (s *ReportScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()

	s.logger.Info("Stopping report scheduler...")
	<-s.cronEngine.Stop().Done()
	s.logger.Info("Report scheduler stopped")
}
