// Package scheduler triggers the expired-timer sweep on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/handoff"
)

// Sweeper runs one expired-timer sweep.
type Sweeper interface {
	RunExpiredTimerSweep(ctx context.Context) (*handoff.SweepResult, error)
}

// Scheduler owns the cron runner. Overlapping ticks are skipped, so at most
// one sweep from this process runs at a time.
type Scheduler struct {
	cron     *cron.Cron
	job      cron.Job
	schedule string
	sweeper  Sweeper
	timeout  time.Duration
	logger   logger.Logger
}

// ParseSchedule accepts five-field cron expressions, an optional leading
// seconds field, and descriptors such as "@every 30s".
func ParseSchedule(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(sweeper Sweeper, schedule string, timeout time.Duration, log logger.Logger) (*Scheduler, error) {
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	log = log.WithFields(map[string]interface{}{"component": "sweep-scheduler"})
	adapter := cronLogger{log: log}

	s := &Scheduler{
		schedule: schedule,
		sweeper:  sweeper,
		timeout:  timeout,
		logger:   log,
	}
	s.job = cron.NewChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)).Then(cron.FuncJob(s.tick))
	s.cron = cron.New(cron.WithParser(parser), cron.WithLogger(adapter), cron.WithLocation(time.UTC))
	if _, err := s.cron.AddJob(schedule, s.job); err != nil {
		return nil, fmt.Errorf("register sweep job: %w", err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("sweep scheduler started", map[string]interface{}{"schedule": s.schedule})
	s.cron.Start()
}

// Stop prevents new ticks and waits for a running sweep, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("sweep scheduler stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.sweeper.RunExpiredTimerSweep(ctx)
	if err != nil {
		fields := map[string]interface{}{"error": err.Error()}
		if result != nil {
			fields["processedCount"] = result.ProcessedCount
		}
		s.logger.Error("scheduled sweep failed", fields)
	}
}

// cronLogger routes cron's own logging through the service logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, kvToFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kvToFields(keysAndValues)
	fields["error"] = err.Error()
	c.log.Error("cron: "+msg, fields)
}

func kvToFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
