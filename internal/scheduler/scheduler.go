package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Runner interface {
	Run(context.Context) error
}

// Scheduler invokes a Runner immediately and then once per Interval, until the context is cancelled.
// Invocations never overlap: if an invocation takes longer than Interval, the missed ticks are dropped.
type Scheduler struct {
	Runner   Runner
	Interval time.Duration
	Logger   *slog.Logger

	lock    sync.RWMutex
	lastErr error
	runs    int
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("invalid interval: %s", s.Interval)
	}
	s.Logger.Debug("scheduler started", "interval", s.Interval)
	defer s.Logger.Debug("scheduler stopped")

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.invoke(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.invoke(ctx)
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context) {
	err := s.Runner.Run(ctx)
	if err != nil && ctx.Err() == nil {
		s.Logger.Error("check failed", "err", err)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.runs++
	s.lastErr = err
}

// LastError returns the error returned by the most recent invocation.
func (s *Scheduler) LastError() error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.lastErr
}

// Runs returns the number of completed invocations.
func (s *Scheduler) Runs() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.runs
}
