// Package tracker consumes funnel events and advances user journeys. An
// arriving event can satisfy open journeys as their follow-up, trigger
// conversion resolution, open a new wait journey, or fire an immediate
// experiment, depending on the configured rules.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/rules"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store"
)

type Store interface {
	AppendEvent(ctx context.Context, event domain.Event) error
	// OpenJourneys returns the user's unresolved journeys whose trigger event
	// type is one of eventTypes.
	OpenJourneys(ctx context.Context, userID string, eventTypes []string) ([]domain.JourneyRecord, error)
	InsertJourney(ctx context.Context, journey domain.JourneyRecord) error
	// ResolveJourney atomically claims an unresolved journey. Implementations
	// MUST return store.ErrAlreadyResolved for a journey resolved earlier, so
	// no record is ever double-processed.
	ResolveJourney(ctx context.Context, id uuid.UUID, outcome domain.JourneyOutcome, at time.Time) error
}

type ExperimentFactory interface {
	Create(ctx context.Context, userID, cohort string, attrs map[string]string) (domain.Experiment, bool, error)
}

type ConversionResolver interface {
	ResolveConversion(ctx context.Context, userID string) error
}

// MetricsSink records tracker outcomes. All methods must be non-blocking and
// fire-and-forget.
type MetricsSink interface {
	EventObserved(eventType string)
	JourneyOpened(eventType string)
	JourneyResolved(outcome string)
}

// Tracker applies the event rules to each observed event.
type Tracker struct {
	rules        *rules.Ruleset
	store        Store
	factory      ExperimentFactory
	resolver     ConversionResolver
	metrics      MetricsSink // optional, nil = disabled
	clock        func() time.Time
	drainTimeout time.Duration
}

func New(ruleset *rules.Ruleset, st Store, factory ExperimentFactory, resolver ConversionResolver) *Tracker {
	return &Tracker{
		rules:        ruleset,
		store:        st,
		factory:      factory,
		resolver:     resolver,
		clock:        time.Now,
		drainTimeout: DrainTimeout,
	}
}

func (t *Tracker) WithMetrics(sink MetricsSink) *Tracker {
	t.metrics = sink
	return t
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (t *Tracker) WithDrainTimeout(d time.Duration) *Tracker {
	if d > 0 {
		t.drainTimeout = d
	}
	return t
}

// Run consumes events from the channel until the context is cancelled.
// After cancellation, it drains remaining buffered events with a timeout.
func (t *Tracker) Run(ctx context.Context, ch <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			t.drain(ch)
			return
		case event := <-ch:
			if err := t.Observe(ctx, event); err != nil {
				log.Printf("tracker: error: %v", err)
			}
		}
	}
}

// DrainTimeout is the default maximum time to spend on buffered events
// during shutdown.
const DrainTimeout = 30 * time.Second

// drain processes events left in the channel buffer after the shutdown
// signal. Uses a background context since the main context is cancelled.
func (t *Tracker) drain(ch <-chan domain.Event) {
	drainCtx, cancel := context.WithTimeout(context.Background(), t.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("tracker: drain timeout, processed %d events", count)
			}
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("tracker: drain complete, processed %d events", count)
				return
			}
			if err := t.Observe(drainCtx, event); err != nil {
				log.Printf("tracker: drain error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("tracker: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Observe records the event and applies every rule it matches. The same
// event may close earlier journeys as their follow-up, resolve a conversion,
// and still open its own wait journey.
func (t *Tracker) Observe(ctx context.Context, event domain.Event) error {
	if t.metrics != nil {
		t.metrics.EventObserved(event.Type)
	}

	if err := t.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	if err := t.resolveFollowUps(ctx, event); err != nil {
		return err
	}

	if t.rules.IsConversion(event.Type) {
		if err := t.resolver.ResolveConversion(ctx, event.UserID); err != nil {
			// Conversion attribution failing must not block journey handling.
			log.Printf("tracker: resolve conversion user=%s: %v", event.UserID, err)
		}
	}

	rule, ok := t.rules.RuleFor(event.Type)
	if !ok {
		return nil
	}

	switch rule.Kind {
	case rules.RuleWait:
		return t.openJourney(ctx, event, rule)
	case rules.RuleImmediate:
		if _, _, err := t.factory.Create(ctx, event.UserID, rule.Cohort, event.Attributes); err != nil {
			return fmt.Errorf("immediate experiment: %w", err)
		}
		return nil
	default:
		return nil
	}
}

// resolveFollowUps closes the user's open journeys that were waiting for
// this event type. Only events strictly later than the journey's trigger
// count; an out-of-order earlier event never satisfies a follow-up.
func (t *Tracker) resolveFollowUps(ctx context.Context, event domain.Event) error {
	sources := t.rules.FollowUpSources(event.Type)
	if len(sources) == 0 {
		return nil
	}

	journeys, err := t.store.OpenJourneys(ctx, event.UserID, sources)
	if err != nil {
		return fmt.Errorf("open journeys: %w", err)
	}

	now := t.clock().UTC()
	for _, j := range journeys {
		if !event.EventTime.After(j.EventTime) {
			continue
		}
		err := t.store.ResolveJourney(ctx, j.ID, domain.JourneyOutcomeFollowUp, now)
		if errors.Is(err, store.ErrAlreadyResolved) {
			continue
		}
		if err != nil {
			return fmt.Errorf("resolve journey %s: %w", j.ID, err)
		}
		if t.metrics != nil {
			t.metrics.JourneyResolved(string(domain.JourneyOutcomeFollowUp))
		}
		log.Printf("tracker: journey %s resolved by follow-up user=%s event=%s", j.ID, event.UserID, event.Type)
	}
	return nil
}

func (t *Tracker) openJourney(ctx context.Context, event domain.Event, rule rules.Rule) error {
	journey := domain.JourneyRecord{
		ID:         uuid.New(),
		UserID:     event.UserID,
		EventType:  event.Type,
		EventTime:  event.EventTime,
		Attributes: event.Attributes,
		Deadline:   event.EventTime.Add(rule.Timeout),
		CreatedAt:  t.clock().UTC(),
	}
	if err := t.store.InsertJourney(ctx, journey); err != nil {
		return fmt.Errorf("insert journey: %w", err)
	}
	if t.metrics != nil {
		t.metrics.JourneyOpened(event.Type)
	}
	log.Printf("tracker: journey %s opened user=%s event=%s deadline=%s",
		journey.ID, event.UserID, event.Type, journey.Deadline.Format(time.RFC3339))
	return nil
}
