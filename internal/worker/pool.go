package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sponsorscope/pkg/logger"
	"sponsorscope/pkg/store"
)

// RefreshJob is a single user refresh task
type RefreshJob struct {
	Username string
	Depth    int
}

// RefreshResult is the outcome of one refresh job
type RefreshResult struct {
	Job      RefreshJob
	User     *store.User
	Success  bool
	Error    error
	Duration time.Duration
}

// Pool runs refresh jobs across a fixed set of workers. Throughput is
// bounded by the rate budgets inside the pipeline, not by worker count.
type Pool struct {
	numWorkers  int
	jobQueue    chan RefreshJob
	resultQueue chan RefreshResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	pipeline    *Pipeline
	logger      logger.Logger
}

// NewPool creates a refresh worker pool
func NewPool(ctx context.Context, numWorkers int, pipeline *Pipeline, log logger.Logger) *Pool {
	poolCtx, cancel := context.WithCancel(ctx)

	if log == nil {
		log = logger.GetLogger()
	}

	return &Pool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan RefreshJob, numWorkers*2),
		resultQueue: make(chan RefreshResult, numWorkers),
		ctx:         poolCtx,
		cancel:      cancel,
		pipeline:    pipeline,
		logger:      log,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.logger.InfoWithFields("starting refresh pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains the queue, waits for in-flight jobs, then shuts down
func (p *Pool) Stop() {
	close(p.jobQueue)
	p.wg.Wait()
	close(p.resultQueue)
	p.cancel()

	p.logger.Info("refresh pool stopped")
}

// Submit enqueues a refresh job, blocking while the queue is full
func (p *Pool) Submit(job RefreshJob) error {
	select {
	case p.jobQueue <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("refresh pool is shutting down")
	}
}

// Results returns the channel of completed jobs
func (p *Pool) Results() <-chan RefreshResult {
	return p.resultQueue
}

// QueueSize returns the number of queued jobs
func (p *Pool) QueueSize() int {
	return len(p.jobQueue)
}

// worker is the main worker routine
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobQueue {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		result := p.processJob(job, id)

		select {
		case p.resultQueue <- result:
		case <-p.ctx.Done():
			return
		}
	}
}

// processJob runs the pipeline for one job
func (p *Pool) processJob(job RefreshJob, workerID int) RefreshResult {
	start := time.Now()

	p.logger.DebugWithFields("worker processing job", map[string]interface{}{
		"worker_id": workerID,
		"username":  job.Username,
		"depth":     job.Depth,
	})

	user, err := p.pipeline.Refresh(p.ctx, job.Username)
	result := RefreshResult{
		Job:      job,
		User:     user,
		Success:  err == nil,
		Error:    err,
		Duration: time.Since(start),
	}

	if err != nil {
		p.logger.WarnWithFields("refresh failed", map[string]interface{}{
			"worker_id": workerID,
			"username":  job.Username,
			"error":     err.Error(),
			"duration":  result.Duration,
		})
		return result
	}

	p.logger.DebugWithFields("refresh completed", map[string]interface{}{
		"worker_id": workerID,
		"username":  job.Username,
		"duration":  result.Duration,
	})
	return result
}
