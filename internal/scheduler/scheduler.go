// Package scheduler runs named recurring jobs on standard cron
// expressions, grounded on teradata-labs-loom's pkg/scheduler
// (trimmed down: relay has no per-job YAML definitions or execution
// history to persist, just a handful of fixed background jobs).
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a cron.Cron, running each registered job in its own
// goroutine with a background context a caller supplies once.
type Scheduler struct {
	engine *cron.Cron
	ctx    context.Context
}

// New builds a Scheduler whose jobs run under ctx until Stop is
// called or ctx is cancelled. The engine parses six-field
// expressions (seconds first) so sub-minute jobs are expressible,
// matching cron.WithSeconds()'s documented format.
func New(ctx context.Context) *Scheduler {
	return &Scheduler{engine: cron.New(cron.WithSeconds()), ctx: ctx}
}

// AddFunc registers fn to run on the six-field (seconds-first) cron
// expression spec. A panic inside fn is recovered and logged rather than
// crashing the whole scheduler, matching looprunner's contract for
// the gateway's other background loops.
func (s *Scheduler) AddFunc(spec, name string, fn func(ctx context.Context)) error {
	_, err := s.engine.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("scheduled job panicked", "job", name, "panic", r)
			}
		}()
		fn(s.ctx)
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.engine.Start()
}

// Stop halts the cron engine, waiting for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	<-s.engine.Stop().Done()
}
