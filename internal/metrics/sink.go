package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Tracker metrics
	EventObserved(eventType string)
	JourneyOpened(eventType string)
	JourneyResolved(outcome string)

	// Experiment metrics
	ExperimentCreated(cohort string)
	ExperimentDeduped(cohort string)
	ConversionResolved(cohort string)

	// Dispatcher metrics
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryScheduled(retryable bool)
	SendsInFlightIncr()
	SendsInFlightDecr()

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()

	// API metrics
	EventDropped()
}
