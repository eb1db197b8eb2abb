// Package jobs runs named functions on fixed intervals until the context is
// cancelled.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner ticks every registered job in its own goroutine. A run that is
// still going when the next tick fires delays that tick instead of
// overlapping it.
type Runner struct {
	logger zerolog.Logger
	jobs   []Job
	wg     sync.WaitGroup
}

func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{logger: logger.With().Str("component", "jobs").Logger()}
}

// Add registers a job. Jobs with a non-positive interval are disabled.
func (r *Runner) Add(j Job) {
	if j.Interval <= 0 {
		r.logger.Info().Str("job", j.Name).Msg("job disabled")
		return
	}
	r.jobs = append(r.jobs, j)
}

func (r *Runner) Len() int { return len(r.jobs) }

// Start launches the jobs and returns immediately. Wait blocks until they
// have all stopped after ctx is done.
func (r *Runner) Start(ctx context.Context) {
	for _, j := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, j)
	}
}

func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) loop(ctx context.Context, j Job) {
	defer r.wg.Done()
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	r.logger.Info().Str("job", j.Name).Dur("interval", j.Interval).Msg("job started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Str("job", j.Name).Msg("job stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx, j)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, j Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("job", j.Name).Interface("panic", rec).Msg("job panicked")
		}
	}()
	started := time.Now()
	if err := j.Run(ctx); err != nil {
		r.logger.Error().Err(err).Str("job", j.Name).Msg("job failed")
		return
	}
	r.logger.Debug().Str("job", j.Name).Dur("took", time.Since(started)).Msg("job finished")
}
