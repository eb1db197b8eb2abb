package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunner_TicksUntilCancelled(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	var n atomic.Int32
	r.Add(Job{Name: "count", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		n.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	r.Wait()

	if n.Load() < 3 {
		t.Fatalf("expected at least 3 runs, got %d", n.Load())
	}
	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	if n.Load() != after {
		t.Error("job kept running after cancel")
	}
}

func TestRunner_DisabledJob(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	r.Add(Job{Name: "off", Interval: 0, Run: func(context.Context) error { return nil }})
	if r.Len() != 0 {
		t.Errorf("expected job with zero interval to be skipped")
	}
}

func TestRunner_SurvivesErrorsAndPanics(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	var n atomic.Int32
	r.Add(Job{Name: "flaky", Interval: 2 * time.Millisecond, Run: func(context.Context) error {
		switch n.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("worse")
		}
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for n.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	r.Wait()
	if n.Load() < 4 {
		t.Fatalf("runner stopped after failure, runs=%d", n.Load())
	}
}
