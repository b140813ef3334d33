// Package worker consumes capture jobs from the queue and runs the pipeline.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/metrics"
	"github.com/JakeFAU/compliance-archiver/internal/queue"
)

// Runner executes one capture attempt.
type Runner interface {
	Run(ctx context.Context, req capture.Request) (capture.Result, error)
}

// Throttle delays a job until its owner has admission capacity.
type Throttle interface {
	Wait(ctx context.Context, owner string) error
}

// Config controls Worker behavior.
type Config struct {
	// RetryDelay is the pause after a failed dequeue.
	RetryDelay time.Duration
}

// Worker consumes queue deliveries and runs each through the pipeline.
type Worker struct {
	queue    queue.Queue
	runner   Runner
	throttle Throttle
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. throttle may be nil.
func New(q queue.Queue, runner Runner, throttle Throttle, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Worker{
		queue:    q,
		runner:   runner,
		throttle: throttle,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.RetryDelay):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", d.Job.ID))
		w.process(ctx, d)
	}
}

func (w *Worker) process(ctx context.Context, d queue.Delivery) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	job := d.Job
	source := string(job.Source)
	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("source", source))

	if w.throttle != nil {
		if err := w.throttle.Wait(ctx, job.Request.Owner); err != nil {
			logger.Warn("job throttled until shutdown", zap.Error(err))
			d.Nack()
			return
		}
	}

	req := job.Request
	if job.ScheduleID != "" {
		meta := make(map[string]string, len(req.Metadata)+1)
		for k, v := range req.Metadata {
			meta[k] = v
		}
		meta["schedule_id"] = job.ScheduleID
		req.Metadata = meta
	}

	result, err := w.runner.Run(ctx, req)
	switch {
	case err == nil:
		// Failed captures are terminal too; nothing is retried.
		logger.Info("job processed",
			zap.String("capture_id", result.ID),
			zap.String("status", string(result.Status)))
		metrics.ObserveJob(source, string(result.Status))
		d.Ack()
	case errors.Is(err, capture.ErrValidation):
		logger.Warn("job rejected", zap.Error(err))
		metrics.ObserveJob(source, "rejected")
		d.Ack()
	default:
		logger.Error("job errored", zap.Error(err))
		metrics.ObserveJob(source, "error")
		d.Nack()
	}
}
