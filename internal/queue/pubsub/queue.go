// Package pubsub implements the capture job queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/queue"
)

// Queue publishes jobs to a topic and receives them from a subscription.
// Either side may be nil for a producer-only or consumer-only process.
type Queue struct {
	publisher  *pubsub.Publisher
	subscriber *pubsub.Subscriber
	logger     *zap.Logger

	deliveries chan queue.Delivery
	startOnce  sync.Once
	mu         sync.Mutex
	recvErr    error
	done       chan struct{}
}

// New builds a Queue. Receiving starts on the first Dequeue and stops when
// that call's context ends, so workers pass their long-lived context.
func New(publisher *pubsub.Publisher, subscriber *pubsub.Subscriber, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger,
		deliveries: make(chan queue.Delivery),
		done:       make(chan struct{}),
	}
}

// Enqueue publishes job and waits for the server id.
func (q *Queue) Enqueue(ctx context.Context, job capture.Job) error {
	if q.publisher == nil {
		return errors.New("pubsub queue has no publisher")
	}
	data, err := queue.Encode(job)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"job_id": job.ID, "source": string(job.Source)},
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Attributes))
	if _, err := q.publisher.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue blocks until a decodable job arrives. Undecodable messages are
// nacked and logged without reaching the caller.
func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q.subscriber == nil {
		return queue.Delivery{}, errors.New("pubsub queue has no subscriber")
	}
	q.startOnce.Do(func() { go q.receive(ctx) })
	select {
	case <-ctx.Done():
		return queue.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d := <-q.deliveries:
		return d, nil
	case <-q.done:
		q.mu.Lock()
		err := q.recvErr
		q.mu.Unlock()
		if err != nil {
			return queue.Delivery{}, fmt.Errorf("%w: %w", queue.ErrClosed, err)
		}
		return queue.Delivery{}, queue.ErrClosed
	}
}

func (q *Queue) receive(ctx context.Context) {
	defer close(q.done)
	err := q.subscriber.Receive(ctx, func(mctx context.Context, msg *pubsub.Message) {
		job, err := queue.Decode(msg.Data)
		if err != nil {
			q.logger.Warn("undecodable job message", zap.String("message_id", msg.ID), zap.Error(err))
			msg.Nack()
			return
		}
		d := queue.NewDelivery(job, msg.Ack, msg.Nack)
		select {
		case q.deliveries <- d:
		case <-mctx.Done():
			msg.Nack()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		q.logger.Error("pubsub receive stopped", zap.Error(err))
		q.mu.Lock()
		q.recvErr = err
		q.mu.Unlock()
	}
}

// Close flushes pending publishes.
func (q *Queue) Close() {
	if q.publisher != nil {
		q.publisher.Stop()
	}
}
