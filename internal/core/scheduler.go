package core

import (
	"context"
	"time"

	"github.com/yanun0323/logs"
)

// Scheduler drives Engine.Step in real time.
type Scheduler struct {
	engine *Engine
}

// NewScheduler wraps an engine.
func NewScheduler(e *Engine) *Scheduler {
	return &Scheduler{engine: e}
}

// Run ticks until ctx is done. The period is re-read after every tick, so a
// speed change applies from the next tick; pause and resume restart the wait.
func (s *Scheduler) Run(ctx context.Context) {
	e := s.engine
	logs.Infof("scheduler started: period=%s", e.Period())
	defer logs.Info("scheduler stopped")

	for {
		if !e.Running() {
			select {
			case <-ctx.Done():
				return
			case <-e.changed:
				continue
			}
		}

		timer := time.NewTimer(e.Period())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.changed:
			timer.Stop()
		case <-timer.C:
			e.Step()
		}
	}
}
