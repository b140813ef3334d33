// Package queue defines the job queue used for asynchronous captures.
// Implementations live in the memory (channel-backed) and pubsub subpackages.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
)

// ErrClosed is returned by Dequeue after the queue shuts down.
var ErrClosed = errors.New("queue closed")

// Delivery is one dequeued job. Exactly one of Ack or Nack must be called.
type Delivery struct {
	Job  capture.Job
	ack  func()
	nack func()
}

// NewDelivery wraps job with acknowledgement hooks. Nil hooks are no-ops.
func NewDelivery(job capture.Job, ack, nack func()) Delivery {
	return Delivery{Job: job, ack: ack, nack: nack}
}

// Ack marks the job as handled.
func (d Delivery) Ack() {
	if d.ack != nil {
		d.ack()
	}
}

// Nack returns the job for redelivery where the backend supports it.
func (d Delivery) Nack() {
	if d.nack != nil {
		d.nack()
	}
}

// Queue moves capture jobs from producers to workers.
type Queue interface {
	Enqueue(ctx context.Context, job capture.Job) error
	Dequeue(ctx context.Context) (Delivery, error)
}

// Encode serializes a job for transport.
func Encode(job capture.Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return data, nil
}

// Decode parses a transported job. Jobs without an id or URL are rejected.
func Decode(data []byte) (capture.Job, error) {
	var job capture.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return capture.Job{}, fmt.Errorf("%w: decode job: %w", capture.ErrValidation, err)
	}
	if job.ID == "" || job.Request.URL == "" {
		return capture.Job{}, fmt.Errorf("%w: job missing id or url", capture.ErrValidation)
	}
	return job, nil
}
