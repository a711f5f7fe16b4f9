// Package dispatcher delivers due scheduled sends through the configured
// delivery adapter on a fixed interval.
//
// Retries are persisted, not held in memory: a failed send gets its attempt
// count bumped and a next-attempt time from the backoff ladder, then is
// picked up again by a later cycle. Once the attempt cap is reached, or the
// gateway rejects the message permanently, the send is dead-lettered so a
// broken channel cannot grow the backlog without bound.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/circuitbreaker"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/delivery"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store"

	"github.com/google/uuid"
)

var defaultBackoff = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
}

type Store interface {
	// DueScheduledSends returns up to limit pending sends whose
	// next_attempt_at is at or before now, oldest first.
	DueScheduledSends(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledSend, error)
	GetExperiment(ctx context.Context, id uuid.UUID) (domain.Experiment, error)
	// MarkSendDelivered moves a pending send to sent. Implementations MUST
	// reject the transition for sends already sent or dead, returning
	// store.ErrStatusTransitionDenied. This keeps replays idempotent.
	MarkSendDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	// RecordSendFailure increments the attempt count and stores the error.
	// When dead is true, the send moves to the dead status and will never be
	// retried; otherwise it stays pending with the given next attempt time.
	RecordSendFailure(ctx context.Context, id uuid.UUID, sendErr string, nextAttemptAt time.Time, dead bool) error
	// MarkExperimentSent moves a pending experiment to sent, rejecting
	// regressions from later statuses with store.ErrStatusTransitionDenied.
	MarkExperimentSent(ctx context.Context, id uuid.UUID, at time.Time) error
	IncrementComboSent(ctx context.Context, combo domain.Combination, at time.Time) error
}

type AnalyticsSink interface {
	MessageDelivered(ctx context.Context, cohort, channel string)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryScheduled(retryable bool)
	SendsInFlightIncr()
	SendsInFlightDecr()
}

// Config holds dispatcher configuration.
type Config struct {
	// Interval is how often the dispatch cycle runs. Default: 1 minute.
	Interval time.Duration

	// BatchSize is the maximum number of due sends per cycle. Default: 50.
	BatchSize int

	// SendTimeout bounds a single delivery attempt. Default: 30 seconds.
	SendTimeout time.Duration

	// MaxAttempts is the attempt count at which a send is dead-lettered.
	// Default: 5.
	MaxAttempts int
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		BatchSize:   50,
		SendTimeout: 30 * time.Second,
		MaxAttempts: 5,
	}
}

// Dispatcher drains due scheduled sends through the delivery adapter.
type Dispatcher struct {
	config    Config
	store     Store
	adapter   delivery.Adapter
	breaker   *circuitbreaker.CircuitBreaker // optional, nil = disabled
	analytics AnalyticsSink                  // optional, nil = disabled
	metrics   MetricsSink                    // optional, nil = disabled
	backoff   []time.Duration
	clock     func() time.Time
}

func New(config Config, st Store, adapter delivery.Adapter) *Dispatcher {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	return &Dispatcher{
		config:  config,
		store:   st,
		adapter: adapter,
		backoff: defaultBackoff,
		clock:   time.Now,
	}
}

func (d *Dispatcher) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Run starts the dispatch loop. It blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	log.Printf("dispatcher: started (interval=%s, batch=%d, max_attempts=%d)",
		d.config.Interval, d.config.BatchSize, d.config.MaxAttempts)

	// Run immediately on startup, then on ticker
	d.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("dispatcher: stopped")
			return
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}

// RunCycle processes one batch of due sends.
func (d *Dispatcher) RunCycle(ctx context.Context) {
	now := d.clock().UTC()

	sends, err := d.store.DueScheduledSends(ctx, now, d.config.BatchSize)
	if err != nil {
		// Store error: log and abort cycle. Will retry next interval.
		log.Printf("dispatcher: failed to fetch due sends: %v", err)
		return
	}

	if len(sends) == 0 {
		return
	}

	log.Printf("dispatcher: found %d due sends", len(sends))

	counts := map[string]int{}
	for i, send := range sends {
		// Check context before each send to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("dispatcher: cycle interrupted, processed %d/%d sends", i, len(sends))
			return
		}
		outcome := d.process(ctx, send)
		counts[outcome]++
		if d.metrics != nil {
			d.metrics.DeliveryOutcome(outcome)
		}
	}

	log.Printf("dispatcher: cycle complete, delivered=%d retried=%d dead=%d skipped=%d",
		counts["delivered"], counts["retried"], counts["dead"], counts["skipped"])
}

// process attempts one send and returns the outcome applied to it:
// delivered, retried, dead, or skipped.
func (d *Dispatcher) process(ctx context.Context, send domain.ScheduledSend) string {
	if d.metrics != nil {
		d.metrics.SendsInFlightIncr()
		defer d.metrics.SendsInFlightDecr()
	}

	exp, err := d.store.GetExperiment(ctx, send.ExperimentID)
	if errors.Is(err, store.ErrNotFound) {
		// Data inconsistency: the send exists without its experiment. Keep
		// it pending and loud rather than quietly marking it sent.
		log.Printf("dispatcher: send=%s references missing experiment=%s, skipping", send.ID, send.ExperimentID)
		return "skipped"
	}
	if err != nil {
		log.Printf("dispatcher: get experiment for send=%s: %v", send.ID, err)
		return "skipped"
	}

	channel := exp.Combination.Channel
	if d.breaker != nil {
		if err := d.breaker.Allow(channel); err != nil {
			log.Printf("dispatcher: channel=%s circuit open, send=%s deferred", channel, send.ID)
			return "skipped"
		}
	}

	attempt := send.Attempts + 1
	result := d.adapter.Deliver(ctx, delivery.Request{
		UserID:       send.UserID,
		ExperimentID: exp.ID.String(),
		Channel:      channel,
		Message:      exp.Message,
		AttemptID:    send.ID.String() + "-" + strconv.Itoa(attempt),
		Timeout:      d.config.SendTimeout,
	})

	if d.metrics != nil {
		d.metrics.DeliveryAttemptCompleted(attempt, classifyStatusForMetrics(result.StatusCode, result.Error), result.Duration)
	}

	if result.OK() {
		return d.deliverSucceeded(ctx, send, exp, attempt, result)
	}
	return d.deliverFailed(ctx, send, exp, attempt, result)
}

func (d *Dispatcher) deliverSucceeded(ctx context.Context, send domain.ScheduledSend, exp domain.Experiment, attempt int, result delivery.Result) string {
	now := d.clock().UTC()
	channel := exp.Combination.Channel

	if d.breaker != nil {
		d.breaker.RecordSuccess(channel)
	}

	err := d.store.MarkSendDelivered(ctx, send.ID, now)
	if errors.Is(err, store.ErrStatusTransitionDenied) {
		// Already delivered by a concurrent cycle. Safe to ignore.
		log.Printf("dispatcher: send=%s already terminal, skipping status update", send.ID)
		return "skipped"
	}
	if err != nil {
		log.Printf("dispatcher: mark send=%s delivered: %v", send.ID, err)
		return "skipped"
	}

	if err := d.store.MarkExperimentSent(ctx, exp.ID, now); err != nil {
		if !errors.Is(err, store.ErrStatusTransitionDenied) {
			log.Printf("dispatcher: mark experiment=%s sent: %v", exp.ID, err)
		}
	}

	if err := d.store.IncrementComboSent(ctx, exp.Combination, now); err != nil {
		log.Printf("dispatcher: combo stat increment combo=%s: %v", exp.Combination.Key(), err)
	}

	if d.analytics != nil {
		d.analytics.MessageDelivered(ctx, exp.Cohort, channel)
	}

	log.Printf("dispatcher: delivered send=%s experiment=%s channel=%s attempt=%d duration=%s",
		send.ID, exp.ID, channel, attempt, result.Duration.Round(time.Millisecond))
	return "delivered"
}

func (d *Dispatcher) deliverFailed(ctx context.Context, send domain.ScheduledSend, exp domain.Experiment, attempt int, result delivery.Result) string {
	now := d.clock().UTC()
	channel := exp.Combination.Channel

	if d.breaker != nil {
		d.breaker.RecordFailure(channel)
	}
	if d.metrics != nil {
		d.metrics.RetryScheduled(result.Retryable())
	}

	sendErr := fmt.Sprintf("status %d", result.StatusCode)
	if result.Error != nil {
		sendErr = result.Error.Error()
	}

	dead := !result.Retryable() || attempt >= d.config.MaxAttempts
	nextAttempt := now.Add(d.backoffFor(send.Attempts))

	if err := d.store.RecordSendFailure(ctx, send.ID, sendErr, nextAttempt, dead); err != nil {
		log.Printf("dispatcher: record failure send=%s: %v", send.ID, err)
		return "skipped"
	}

	if dead {
		log.Printf("dispatcher: send=%s dead-lettered after attempt=%d channel=%s err=%s",
			send.ID, attempt, channel, sendErr)
		return "dead"
	}

	log.Printf("dispatcher: send=%s attempt=%d failed channel=%s err=%s next_attempt=%s",
		send.ID, attempt, channel, sendErr, nextAttempt.Format(time.RFC3339))
	return "retried"
}

// backoffFor returns the delay before the next attempt given the number of
// attempts already made; the ladder's last rung repeats.
func (d *Dispatcher) backoffFor(attempts int) time.Duration {
	idx := attempts
	if idx >= len(d.backoff) {
		idx = len(d.backoff) - 1
	}
	return d.backoff[idx]
}

// classifyStatusForMetrics maps an HTTP status code and error to a metrics
// status class with bounded cardinality.
func classifyStatusForMetrics(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(msg, "connection refused") ||
			strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") ||
			strings.Contains(msg, "dial") {
			return "connection_error"
		}
		return "other_error"
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other_error"
	}
}
