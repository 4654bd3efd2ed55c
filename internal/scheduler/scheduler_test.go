package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoffSequence(t *testing.T) {
	// spec §8 scenario 7: base=3s, cap=60s, jitter=0 -> 6, 12, 24s.
	cfg := Config{ReconnectInterval: 3 * time.Second, BackoffCap: 60 * time.Second, Jitter: 0, MaxWorkers: 1}
	s := New(cfg, nil, nil)
	defer s.Shutdown(true)

	failing := func() error { return errors.New("boom") }

	s.Register(failing, "probe", true, true)
	now := time.Now()

	for i, want := range []time.Duration{6 * time.Second, 12 * time.Second, 24 * time.Second} {
		s.Tick(now)
		waitForDrain(t, s, now)
		key := keyOf(failing)
		s.mu.Lock()
		got := s.tasks[key].interval
		s.mu.Unlock()
		if got != want {
			t.Fatalf("iteration %d: interval = %s, want %s", i, got, want)
		}
		now = now.Add(want)
	}
}

func TestSuccessResetsInterval(t *testing.T) {
	cfg := Config{ReconnectInterval: 3 * time.Second, BackoffCap: 60 * time.Second, Jitter: 0, MaxWorkers: 1}
	s := New(cfg, nil, nil)
	defer s.Shutdown(true)

	var failNext atomic.Bool
	failNext.Store(true)
	probe := func() error {
		if failNext.Load() {
			return errors.New("boom")
		}
		return nil
	}

	s.Register(probe, "probe", true, true)
	now := time.Now()
	s.Tick(now)
	waitForDrain(t, s, now)

	failNext.Store(false)
	now = now.Add(10 * time.Second)
	s.Tick(now)
	waitForDrain(t, s, now)

	key := keyOf(probe)
	s.mu.Lock()
	rec := s.tasks[key]
	interval, failures := rec.interval, rec.failures
	s.mu.Unlock()
	if interval != 3*time.Second {
		t.Fatalf("interval after success = %s, want 3s", interval)
	}
	if failures != 0 {
		t.Fatalf("failures after success = %d, want 0", failures)
	}
}

func TestGenerationMismatchDropsResult(t *testing.T) {
	cfg := Config{ReconnectInterval: 3 * time.Second, BackoffCap: 60 * time.Second, Jitter: 0, MaxWorkers: 1}
	s := New(cfg, nil, nil)
	defer s.Shutdown(true)

	block := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	probe := func() error {
		started.Done()
		<-block
		return errors.New("late failure")
	}

	s.Register(probe, "stale", true, true)
	now := time.Now()
	s.Tick(now) // dispatches the slow probe
	started.Wait()

	// Unregister while the probe is still running: bumps the scheduler
	// generation, so the stale in-flight result must be dropped.
	s.UnregisterTag("stale")
	close(block)

	time.Sleep(50 * time.Millisecond) // let the worker post its result
	s.Tick(now)

	key := keyOf(probe)
	s.mu.Lock()
	_, exists := s.tasks[key]
	s.mu.Unlock()
	if exists {
		t.Fatalf("task should have been removed by UnregisterTag and not resurrected by the stale result")
	}
}

func TestUnregisterTagMatchesPrefix(t *testing.T) {
	cfg := DefaultConfig()
	s := New(cfg, nil, nil)
	defer s.Shutdown(true)

	probeA := func() error { return nil }
	probeB := func() error { return nil }
	s.Register(probeA, "rig", true, false)
	s.Register(probeB, "rig_healthcheck", true, false)

	s.UnregisterTag("rig")

	s.mu.Lock()
	n := len(s.tasks)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("tasks remaining = %d, want 0", n)
	}
}

func waitForDrain(t *testing.T, s *Scheduler, now time.Time) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.drainResults(now)
		s.mu.Lock()
		anyInFlight := false
		for _, rec := range s.tasks {
			if rec.inFlight {
				anyInFlight = true
			}
		}
		s.mu.Unlock()
		if !anyInFlight {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for probe to drain")
}
