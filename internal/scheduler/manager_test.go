package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) DeliverDue(context.Context) (int, error) {
	s.calls.Add(1)
	return 1, s.err
}

func TestDeliverySweepJobRunsOnSchedule(t *testing.T) {
	m, err := NewManager(nil)
	if err != nil {
		t.Fatal(err)
	}
	sw := &countingSweeper{}
	if err := m.Register(NewDeliverySweepJob(sw, 20*time.Millisecond, nil)); err != nil {
		t.Fatal(err)
	}
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for sw.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeps got=%d want>=2", sw.calls.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDeliverySweepJobSurvivesErrors(t *testing.T) {
	sw := &countingSweeper{err: errors.New("db down")}
	job := NewDeliverySweepJob(sw, 0, nil)
	job.Run(context.Background())
	job.Run(context.Background())
	if got := sw.calls.Load(); got != 2 {
		t.Fatalf("calls got=%d want=2", got)
	}
	if job.interval != 30*time.Second {
		t.Fatalf("default interval got=%v", job.interval)
	}
}
