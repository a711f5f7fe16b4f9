package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) EventObserved(eventType string)                                            {}
func (n *NoopSink) JourneyOpened(eventType string)                                            {}
func (n *NoopSink) JourneyResolved(outcome string)                                            {}
func (n *NoopSink) ExperimentCreated(cohort string)                                           {}
func (n *NoopSink) ExperimentDeduped(cohort string)                                           {}
func (n *NoopSink) ConversionResolved(cohort string)                                          {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) DeliveryOutcome(outcome string)                                            {}
func (n *NoopSink) RetryScheduled(retryable bool)                                             {}
func (n *NoopSink) SendsInFlightIncr()                                                        {}
func (n *NoopSink) SendsInFlightDecr()                                                        {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                 {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                            {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                                 {}
func (n *NoopSink) EmitError()                                                                {}
func (n *NoopSink) EventDropped()                                                             {}
