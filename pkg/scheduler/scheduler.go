package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sponsorscope/pkg/logger"
)

// Task is one scheduled unit of work
type Task func(ctx context.Context) error

// job is a registered task with its cadence
type job struct {
	name     string
	interval time.Duration
	run      Task
}

// Scheduler runs registered tasks on independent tickers. Each task runs
// once at start, then on its cadence. A panicking or failing cycle is
// contained and logged; the next tick runs normally.
type Scheduler struct {
	logger logger.Logger

	mu      sync.Mutex
	jobs    []job
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates an empty scheduler
func New(log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scheduler{
		logger: log,
		stop:   make(chan struct{}),
	}
}

// Add registers a task. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: task})
}

// Start launches every registered task
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	jobs := s.jobs
	s.mu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}

	s.logger.InfoWithFields("scheduler started", map[string]interface{}{
		"tasks": len(jobs),
	})
}

// Stop halts all tickers and waits for in-flight cycles to finish
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// loop drives one task: an immediate run, then ticks
func (s *Scheduler) loop(ctx context.Context, j job) {
	defer s.wg.Done()

	logger.LogComponentStart(j.name, map[string]interface{}{
		"interval": j.interval,
	})

	s.runOnce(ctx, j)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, j)
		case <-s.stop:
			logger.LogComponentStop(j.name, "scheduler stopped")
			return
		case <-ctx.Done():
			logger.LogComponentStop(j.name, "context cancelled")
			return
		}
	}
}

// runOnce executes one cycle with panic containment
func (s *Scheduler) runOnce(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorWithFields("task panicked", map[string]interface{}{
				"task":  j.name,
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()

	start := time.Now()
	if err := j.run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.ErrorWithFields("task cycle failed", map[string]interface{}{
			"task":     j.name,
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return
	}

	s.logger.DebugWithFields("task cycle complete", map[string]interface{}{
		"task":     j.name,
		"duration": time.Since(start),
	})
}
