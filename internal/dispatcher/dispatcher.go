// Package dispatcher manages worker fan-out over the capture job queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/metrics"
	"github.com/JakeFAU/compliance-archiver/internal/pipeline"
	"github.com/JakeFAU/compliance-archiver/internal/queue"
	"github.com/JakeFAU/compliance-archiver/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers and accepts new jobs.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
	ids     capture.IDGenerator
	clock   capture.Clock
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	q queue.Queue,
	workers []*worker.Worker,
	ids capture.IDGenerator,
	clock capture.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   q,
		workers: workers,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// Submit validates req, wraps it in a job and enqueues it.
func (d *Dispatcher) Submit(
	ctx context.Context,
	req capture.Request,
	source capture.JobSource,
	scheduleID string,
) (capture.Job, error) {
	req, err := pipeline.Validate(req)
	if err != nil {
		return capture.Job{}, err
	}
	if d.ids == nil || d.clock == nil {
		return capture.Job{}, errors.New("dispatcher cannot create jobs without ids and clock")
	}
	id, err := d.ids.NewID()
	if err != nil {
		return capture.Job{}, fmt.Errorf("%w: generate job id: %w", capture.ErrStore, err)
	}
	job := capture.Job{
		ID:         id,
		Request:    req,
		ScheduleID: scheduleID,
		Source:     source,
		Submitted:  capture.EpochSeconds(d.clock.Now()),
	}
	if err := d.Enqueue(ctx, job); err != nil {
		return capture.Job{}, err
	}
	return job, nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job capture.Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("%w: queue enqueue: %w", capture.ErrStore, err)
	}
	metrics.ObserveJob(string(job.Source), "enqueued")
	d.logger.Debug("job enqueued", zap.String("job_id", job.ID), zap.String("source", string(job.Source)))
	return nil
}
