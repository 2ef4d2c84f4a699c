package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/AuralStack/ScribeFlow/jobs"
	"github.com/AuralStack/ScribeFlow/logger"
)

// Pool runs a fixed set of workers, each pulling job IDs off the queue
// and running them to a decision. The queue hands every ID to exactly
// one worker, so no job is ever processed twice concurrently.
type Pool struct {
	runner *Runner
	queue  jobs.Queue
	count  int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a worker pool. count <= 0 uses the default.
func NewPool(runner *Runner, queue jobs.Queue, count int) *Pool {
	if count <= 0 {
		count = DefaultWorkerCount
	}
	return &Pool{runner: runner, queue: queue, count: count}
}

// Start launches the workers. They run until Stop or ctx cancellation.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	logger.Info("pipeline workers started", "count", p.count)
}

// Stop cancels the workers and waits for in-flight jobs to reach a
// stage boundary.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		jobID, err := p.queue.Pop(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("queue pop failed", "worker", id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if jobID == "" {
			continue
		}
		p.runOne(ctx, id, jobID)
	}
}

// runOne isolates worker panics: a panicking job is logged and the
// worker moves on. Slot release happens inside Run's defer either way.
func (p *Pool) runOne(ctx context.Context, id int, jobID string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("worker panic", "worker", id, "job_id", jobID, "panic", rec)
		}
	}()
	if err := p.runner.Run(ctx, jobID); err != nil {
		logger.Error("job run failed", "worker", id, "job_id", jobID, "error", err)
	}
}
