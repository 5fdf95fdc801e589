package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"stockroom/internal/service"
)

type countingSweeper struct {
	runs atomic.Int32
	err  error
}

func (s *countingSweeper) Sweep(context.Context) (service.SweepReport, error) {
	s.runs.Add(1)
	return service.SweepReport{}, s.err
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	scheduler := NewScheduler(&countingSweeper{}, "not a schedule", nil)
	if err := scheduler.Start(); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
}

func TestSchedulerRunsSweep(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("store down")}
	scheduler := NewScheduler(sweeper, "@every 1s", nil)
	if err := scheduler.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for sweeper.runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	<-scheduler.Stop().Done()
	if sweeper.runs.Load() == 0 {
		t.Fatalf("expected at least one sweep")
	}
}

func TestSchedulerWithoutSweeper(t *testing.T) {
	scheduler := NewScheduler(nil, "", nil)
	if err := scheduler.Start(); err != nil {
		t.Fatalf("expected nil sweeper to be a no-op, got %v", err)
	}
}
