package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Tracker metrics
	eventsObservedTotal   *prometheus.CounterVec
	journeysOpenedTotal   *prometheus.CounterVec
	journeysResolvedTotal *prometheus.CounterVec

	// Experiment metrics
	experimentsCreatedTotal  *prometheus.CounterVec
	experimentsDedupedTotal  *prometheus.CounterVec
	conversionsResolvedTotal *prometheus.CounterVec

	// Dispatcher metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	deliveryDuration      prometheus.Histogram
	retriesScheduledTotal *prometheus.CounterVec
	sendsInFlight         prometheus.Gauge

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// API metrics
	eventsDroppedTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initTrackerMetrics(reg)
	s.initExperimentMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initAPIMetrics(reg)
	return s
}

func (s *PrometheusSink) initTrackerMetrics(reg prometheus.Registerer) {
	s.eventsObservedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagexp_tracker_events_observed_total",
		Help: "Total number of funnel events observed by the tracker.",
	}, []string{"event_type"})
	s.journeysOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagexp_tracker_journeys_opened_total",
		Help: "Total number of wait journeys opened.",
	}, []string{"event_type"})
	s.journeysResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagexp_tracker_journeys_resolved_total",
		Help: "Total number of journeys resolved, by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.eventsObservedTotal, "stagexp_tracker_events_observed_total")
	s.register(reg, s.journeysOpenedTotal, "stagexp_tracker_journeys_opened_total")
	s.register(reg, s.journeysResolvedTotal, "stagexp_tracker_journeys_resolved_total")
}

func (s *PrometheusSink) initExperimentMetrics(reg prometheus.Registerer) {
	s.experimentsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagexp_experiments_created_total",
		Help: "Total number of experiments created, by cohort.",
	}, []string{"cohort"})
	s.experimentsDedupedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagexp_experiments_deduped_total",
		Help: "Total number of experiment requests answered from the dedup window.",
	}, []string{"cohort"})
	s.conversionsResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagexp_conversions_resolved_total",
		Help: "Total number of conversions attributed to experiments, by cohort.",
	}, []string{"cohort"})

	s.register(reg, s.experimentsCreatedTotal, "stagexp_experiments_created_total")
	s.register(reg, s.experimentsDedupedTotal, "stagexp_experiments_deduped_total")
	s.register(reg, s.conversionsResolvedTotal, "stagexp_conversions_resolved_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagexp_dispatcher_delivery_attempts_total",
		Help: "Total number of delivery attempts.",
	}, []string{"attempt", "status_class"})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagexp_dispatcher_delivery_outcomes_total",
		Help: "Total number of per-send dispatch outcomes.",
	}, []string{"outcome"})

	s.deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stagexp_dispatcher_delivery_duration_seconds",
		Help:    "Gateway request latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.retriesScheduledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stagexp_dispatcher_retries_scheduled_total",
		Help: "Total number of failures that scheduled a retry or dead-letter.",
	}, []string{"retryable"})

	s.sendsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stagexp_dispatcher_sends_in_flight",
		Help: "Number of sends currently being processed.",
	})

	s.register(reg, s.deliveryAttemptsTotal, "stagexp_dispatcher_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "stagexp_dispatcher_delivery_outcomes_total")
	s.register(reg, s.deliveryDuration, "stagexp_dispatcher_delivery_duration_seconds")
	s.register(reg, s.retriesScheduledTotal, "stagexp_dispatcher_retries_scheduled_total")
	s.register(reg, s.sendsInFlight, "stagexp_dispatcher_sends_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stagexp_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stagexp_eventbus_buffer_capacity",
		Help: "Configured capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stagexp_eventbus_buffer_saturation",
		Help: "Event bus buffer fill ratio between 0 and 1.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stagexp_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full or cancelled).",
	})

	s.register(reg, s.bufferSize, "stagexp_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "stagexp_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "stagexp_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "stagexp_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initAPIMetrics(reg prometheus.Registerer) {
	s.eventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stagexp_api_events_dropped_total",
		Help: "Total number of ingested events dropped for missing a user id.",
	})

	s.register(reg, s.eventsDroppedTotal, "stagexp_api_events_dropped_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Tracker metrics implementation

func (s *PrometheusSink) EventObserved(eventType string) {
	s.eventsObservedTotal.WithLabelValues(eventType).Inc()
}

func (s *PrometheusSink) JourneyOpened(eventType string) {
	s.journeysOpenedTotal.WithLabelValues(eventType).Inc()
}

func (s *PrometheusSink) JourneyResolved(outcome string) {
	s.journeysResolvedTotal.WithLabelValues(outcome).Inc()
}

// Experiment metrics implementation

func (s *PrometheusSink) ExperimentCreated(cohort string) {
	s.experimentsCreatedTotal.WithLabelValues(cohort).Inc()
}

func (s *PrometheusSink) ExperimentDeduped(cohort string) {
	s.experimentsDedupedTotal.WithLabelValues(cohort).Inc()
}

func (s *PrometheusSink) ConversionResolved(cohort string) {
	s.conversionsResolvedTotal.WithLabelValues(cohort).Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.deliveryDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryScheduled(retryable bool) {
	label := "false"
	if retryable {
		label = "true"
	}
	s.retriesScheduledTotal.WithLabelValues(label).Inc()
}

func (s *PrometheusSink) SendsInFlightIncr() {
	s.sendsInFlight.Inc()
}

func (s *PrometheusSink) SendsInFlightDecr() {
	s.sendsInFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// API metrics implementation

func (s *PrometheusSink) EventDropped() {
	s.eventsDroppedTotal.Inc()
}

var _ Sink = (*PrometheusSink)(nil)
