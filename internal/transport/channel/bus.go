// Package channel carries ingested funnel events from the HTTP layer to the
// journey tracker over a buffered in-process bus.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
)

var ErrBufferFull = errors.New("event bus buffer full")

// DefaultEmitTimeout bounds how long Emit waits for buffer space before
// giving up, so an ingest caller is never wedged behind a stalled consumer.
const DefaultEmitTimeout = 5 * time.Second

// MetricsSink records bus health. Methods must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
}

type Option func(*EventBus)

// WithEmitTimeout overrides the default emit timeout.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) { b.emitTimeout = d }
}

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) { b.metrics = sink }
}

type EventBus struct {
	ch          chan domain.Event
	capacity    int
	emitTimeout time.Duration
	metrics     MetricsSink // optional, nil = disabled
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.Event, buffer),
		capacity:    buffer,
		emitTimeout: DefaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit buffers the event. It returns ErrBufferFull once the emit timeout
// elapses, or the context error if ctx is done first.
func (b *EventBus) Emit(ctx context.Context, event domain.Event) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.observeDepth()
		return nil
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *EventBus) Channel() <-chan domain.Event {
	return b.ch
}

func (b *EventBus) observeDepth() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	if b.capacity > 0 {
		b.metrics.BufferSaturationUpdate(float64(size) / float64(b.capacity))
	}
}
