// Package scheduler runs tagged, parameter-less probe callables on
// their own deadlines in a bounded worker pool, applying exponential
// backoff with jitter on failure. Results flow back through a channel
// drained once per Tick so all task bookkeeping stays single-threaded.
package scheduler

import (
	"math"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Probe is a parameter-less callable scheduled by the scheduler. A
// non-nil error counts as a failed attempt for backoff purposes.
type Probe func() error

// Config tunes scheduler behavior. Non-positive durations and a
// non-positive MaxWorkers are replaced with the package defaults by New;
// a zero Jitter is kept and disables jitter.
type Config struct {
	ReconnectInterval time.Duration
	BackoffCap        time.Duration
	Jitter            float64
	MaxWorkers        int
	SlowThreshold     time.Duration
}

// DefaultConfig matches spec §4.4's defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectInterval: 3 * time.Second,
		BackoffCap:        60 * time.Second,
		Jitter:            0.10,
		MaxWorkers:        4,
		SlowThreshold:     1 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = d.BackoffCap
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = d.MaxWorkers
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = d.SlowThreshold
	}
	return c
}

type taskRecord struct {
	probe        Probe
	tag          string
	nextRun      time.Time
	interval     time.Duration
	backoff      bool
	failures     int
	lastDuration time.Duration
	generation   uint64
	inFlight     bool
}

type job struct {
	key        uintptr
	probe      Probe
	generation uint64
}

type result struct {
	key        uintptr
	generation uint64
	success    bool
	duration   time.Duration
}

// Logf receives scheduler diagnostic lines (registration, slow probes,
// unregistration counts). The orchestrator typically wires this to
// log.Printf.
type Logf func(format string, args ...any)

// SlowProbeFunc is invoked, outside the scheduler's lock, whenever a
// probe's measured duration exceeds Config.SlowThreshold. cmd/pansyncer
// wires it to a slow-probe counter and a system-load sample (see
// internal/telemetry).
type SlowProbeFunc func(tag string, duration time.Duration)

// Scheduler owns the worker pool and all task bookkeeping.
type Scheduler struct {
	cfg    Config
	logf   Logf
	onSlow SlowProbeFunc

	mu         sync.Mutex
	tasks      map[uintptr]*taskRecord
	generation uint64
	closed     bool

	jobs      chan job
	results   chan result
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New starts the worker pool and returns a ready Scheduler.
func New(cfg Config, logf Logf, onSlow SlowProbeFunc) *Scheduler {
	cfg = cfg.withDefaults()
	if logf == nil {
		logf = func(string, ...any) {}
	}
	s := &Scheduler{
		cfg:     cfg,
		logf:    logf,
		onSlow:  onSlow,
		tasks:   make(map[uintptr]*taskRecord),
		jobs:    make(chan job, 256),
		results: make(chan result, 256),
	}
	for i := 0; i < cfg.MaxWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for j := range s.jobs {
		start := time.Now()
		success := runProbe(j.probe)
		s.results <- result{key: j.key, generation: j.generation, success: success, duration: time.Since(start)}
	}
}

// runProbe invokes fn, treating a panic as an unexpected-error failure
// so a single bad probe never takes down a worker goroutine.
func runProbe(fn Probe) (success bool) {
	defer func() {
		if recover() != nil {
			success = false
		}
	}()
	return fn() == nil
}

// keyOf derives a dedup key from a probe's code pointer, mirroring the
// source scheduler's use of the callable itself as a dict key. Every
// closure made from one func literal, and every method value of one
// method, shares a code pointer and therefore a key.
func keyOf(fn Probe) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// Register schedules fn under tag. Re-registering the same fn is
// idempotent: it refreshes tag and backoff, and if runImmediately is
// set, the next-run deadline, but does not create a second task.
func (s *Scheduler) Register(fn Probe, tag string, backoffEnabled, runImmediately bool) {
	key := keyOf(fn)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if rec, ok := s.tasks[key]; ok {
		rec.tag = tag
		rec.backoff = backoffEnabled
		if runImmediately {
			rec.nextRun = now
		}
		return
	}
	first := now
	if !runImmediately {
		first = now.Add(s.cfg.ReconnectInterval)
	}
	s.tasks[key] = &taskRecord{
		probe:      fn,
		tag:        tag,
		nextRun:    first,
		interval:   s.cfg.ReconnectInterval,
		backoff:    backoffEnabled,
		generation: s.generation,
	}
	s.logf("scheduler: registered task tag=%s interval=%s generation=%d", tag, s.cfg.ReconnectInterval, s.generation)
}

// UnregisterTag removes every task whose tag equals or is prefixed by
// tag, and bumps the generation counter so in-flight results for those
// tasks are dropped on arrival rather than corrupting a re-registered
// task sharing the same tag.
func (s *Scheduler) UnregisterTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	removed := 0
	for key, rec := range s.tasks {
		if rec.tag == tag || strings.HasPrefix(rec.tag, tag) {
			delete(s.tasks, key)
			removed++
		}
	}
	s.logf("scheduler: unregistered %d task(s) for tag %q", removed, tag)
}

// Tick dispatches every due, idle task to the worker pool, then drains
// whatever results have arrived since the last Tick. It never blocks:
// when the job queue is full, the task's in-flight marker is cleared
// again and the task is retried once its advanced next-run deadline
// comes due.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var due []job
	for key, rec := range s.tasks {
		if rec.inFlight || now.Before(rec.nextRun) {
			continue
		}
		rec.nextRun = now.Add(rec.interval)
		rec.inFlight = true
		due = append(due, job{key: key, probe: rec.probe, generation: rec.generation})
	}
	s.mu.Unlock()

	for _, j := range due {
		select {
		case s.jobs <- j:
		default:
			s.mu.Lock()
			if rec, ok := s.tasks[j.key]; ok {
				rec.inFlight = false
			}
			s.mu.Unlock()
		}
	}

	s.drainResults(now)
}

func (s *Scheduler) drainResults(now time.Time) {
	for {
		var res result
		select {
		case res = <-s.results:
		default:
			return
		}

		s.mu.Lock()
		rec, ok := s.tasks[res.key]
		if !ok || res.generation != rec.generation {
			s.mu.Unlock()
			continue
		}
		rec.inFlight = false
		rec.lastDuration = res.duration
		tag := rec.tag

		if rec.backoff {
			if res.success {
				rec.failures = 0
				rec.interval = s.cfg.ReconnectInterval
			} else {
				rec.failures++
				scaled := float64(s.cfg.ReconnectInterval) * math.Pow(2, float64(rec.failures))
				rec.interval = time.Duration(math.Min(scaled, float64(s.cfg.BackoffCap)))
			}
			jitterFactor := 1 + (rand.Float64()*2-1)*s.cfg.Jitter
			rec.interval = time.Duration(float64(rec.interval) * jitterFactor)
		}
		target := now.Add(rec.interval)
		if rec.nextRun.Before(target) {
			rec.nextRun = target
		}
		s.mu.Unlock()

		if res.duration > s.cfg.SlowThreshold {
			s.logf("scheduler: probe tag=%s slow, took %s", tag, res.duration)
			if s.onSlow != nil {
				s.onSlow(tag, res.duration)
			}
		}
	}
}

// Shutdown stops future dispatches. If wait is true, it blocks until
// all in-flight workers have returned.
func (s *Scheduler) Shutdown(wait bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.jobs)
	})
	if wait {
		s.wg.Wait()
	}
}
