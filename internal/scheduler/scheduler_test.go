package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketwarehouse/internal/orchestrator"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    int32
	block    chan struct{}
	lastReq  orchestrator.JobRequest
}

func (f *fakeRunner) RunJob(ctx context.Context, req orchestrator.JobRequest) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return "job-1", nil
}

func TestTriggerManualRunsWhenIdle(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, DefaultConfig())

	jobID, err := s.TriggerManual(context.Background(), orchestrator.JobRequest{})
	if err != nil {
		t.Fatalf("TriggerManual: %v", err)
	}
	if jobID != "job-1" {
		t.Fatalf("expected job-1, got %q", jobID)
	}
	if atomic.LoadInt32(&runner.calls) != 1 {
		t.Fatalf("expected exactly one run, got %d", runner.calls)
	}
}

func TestTriggerManualRejectsWhileRunning(t *testing.T) {
	block := make(chan struct{})
	runner := &fakeRunner{block: block}
	s := New(runner, DefaultConfig())

	done := make(chan struct{})
	go func() {
		s.TriggerManual(context.Background(), orchestrator.JobRequest{})
		close(done)
	}()

	// Give the goroutine a chance to acquire the slot before we try a
	// second, concurrent trigger.
	time.Sleep(20 * time.Millisecond)

	_, err := s.TriggerManual(context.Background(), orchestrator.JobRequest{})
	if err != ErrJobAlreadyRunning {
		t.Fatalf("expected ErrJobAlreadyRunning, got %v", err)
	}

	close(block)
	<-done
}

func TestFireDailySkipsPastMisfireGrace(t *testing.T) {
	runner := &fakeRunner{}
	cfg := DefaultConfig()
	cfg.MisfireGrace = time.Millisecond
	s := New(runner, cfg)

	scheduledAt := time.Now().Add(-time.Hour)
	s.fireDaily(context.Background(), scheduledAt)

	if atomic.LoadInt32(&runner.calls) != 0 {
		t.Fatalf("expected misfired tick to be skipped, got %d calls", runner.calls)
	}
}

func TestFireDailySkipsWhenAlreadyRunning(t *testing.T) {
	block := make(chan struct{})
	runner := &fakeRunner{block: block}
	s := New(runner, DefaultConfig())

	done := make(chan struct{})
	go func() {
		s.TriggerManual(context.Background(), orchestrator.JobRequest{})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	s.fireDaily(context.Background(), time.Now())
	if atomic.LoadInt32(&runner.calls) != 1 {
		t.Fatalf("expected the daily fire to be skipped while a manual job runs, got %d calls", runner.calls)
	}

	close(block)
	<-done
}

func TestFireDailyUsesHistoryWindow(t *testing.T) {
	runner := &fakeRunner{}
	cfg := DefaultConfig()
	cfg.HistoryWindow = 3 * 24 * time.Hour
	s := New(runner, cfg)

	s.fireDaily(context.Background(), time.Now())

	runner.mu.Lock()
	req := runner.lastReq
	runner.mu.Unlock()

	span := req.End.Sub(req.Start)
	if span < cfg.HistoryWindow-time.Minute || span > cfg.HistoryWindow+time.Minute {
		t.Fatalf("expected a %v window, got %v", cfg.HistoryWindow, span)
	}
}
