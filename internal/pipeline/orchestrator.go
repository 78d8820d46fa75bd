package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull  = errors.New("job queue is full")
	ErrJobUnknown = errors.New("job not found")
	ErrJobEnded   = errors.New("job already finished")
)

// Orchestrator owns the job queue and the worker pool.
type Orchestrator struct {
	jobs      *JobStore
	queue     chan *Job
	worker    *Worker
	log       *slog.Logger
	workers   int
	queueSize int

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(w *Worker, workers, queueSize int, jobTTL time.Duration, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		jobs:      NewJobStore(jobTTL),
		queue:     make(chan *Job, queueSize),
		worker:    w,
		log:       log,
		workers:   max(workers, 1),
		queueSize: queueSize,
	}
}

// Start launches worker goroutines. Each worker processes one job at a time.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.workers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.worker.Process(workerCtx, job)
				}
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop cancels running jobs and waits for the workers to exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.closeOnce.Do(func() { close(o.queue) })
	o.wg.Wait()
}

// Submit registers and queues a job.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		o.log.Info("job queued", "job_id", job.ID, "kind", job.Kind)
		return nil
	default:
		job.Fail(ErrQueueFull)
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.queueSize)
	}
}

// GetJob returns a job by ID, or nil.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// Revoke stops a queued or running job.
func (o *Orchestrator) Revoke(id string) error {
	job := o.jobs.Get(id)
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobUnknown, id)
	}
	if !job.Revoke() {
		return fmt.Errorf("%w: %s", ErrJobEnded, id)
	}
	o.log.Info("job revoked", "job_id", id)
	return nil
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Worker returns the worker shared by the pool.
func (o *Orchestrator) Worker() *Worker {
	return o.worker
}
