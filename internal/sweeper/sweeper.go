// Package sweeper resolves journeys whose deadlines have passed.
//
// A journey is due when it is unresolved and its deadline is behind now.
// The sweep re-checks the event log before declaring abandonment, so a
// follow-up that arrived after the deadline fetch (or out of band) still
// counts. Each record is atomically claimed before any experiment is
// created, which makes re-runs and concurrent sweeps safe: a journey
// resolved by anyone else is skipped.
package sweeper

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/rules"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store"
)

type Store interface {
	// DueJourneys returns up to limit unresolved journeys with deadline <= now,
	// oldest deadline first.
	DueJourneys(ctx context.Context, now time.Time, limit int) ([]domain.JourneyRecord, error)
	// FindFollowUpEvent returns an event of the given type for the user with
	// event time strictly after the given instant, or store.ErrNotFound.
	FindFollowUpEvent(ctx context.Context, userID, eventType string, after time.Time) (domain.Event, error)
	ResolveJourney(ctx context.Context, id uuid.UUID, outcome domain.JourneyOutcome, at time.Time) error
}

type ExperimentFactory interface {
	Create(ctx context.Context, userID, cohort string, attrs map[string]string) (domain.Experiment, bool, error)
}

// MetricsSink records sweep outcomes. Methods must be non-blocking.
type MetricsSink interface {
	JourneyResolved(outcome string)
}

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often the sweep runs. Default: 1 minute.
	Interval time.Duration

	// BatchSize is the maximum number of due journeys per cycle. Default: 100.
	BatchSize int
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Minute,
		BatchSize: 100,
	}
}

// Sweeper drives due journeys to a resolution.
type Sweeper struct {
	config  Config
	rules   *rules.Ruleset
	store   Store
	factory ExperimentFactory
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a new Sweeper.
func New(config Config, ruleset *rules.Ruleset, st Store, factory ExperimentFactory) *Sweeper {
	return &Sweeper{
		config:  config,
		rules:   ruleset,
		store:   st,
		factory: factory,
		clock:   time.Now,
	}
}

func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Printf("sweeper: started (interval=%s, batch=%d)", s.config.Interval, s.config.BatchSize)

	// Run immediately on startup, then on ticker
	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper: stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one sweep over the due journeys.
func (s *Sweeper) RunCycle(ctx context.Context) {
	now := s.clock().UTC()

	due, err := s.store.DueJourneys(ctx, now, s.config.BatchSize)
	if err != nil {
		// Store error: log and abort cycle. Will retry next interval.
		log.Printf("sweeper: failed to fetch due journeys: %v", err)
		return
	}

	if len(due) == 0 {
		return
	}

	log.Printf("sweeper: found %d due journeys", len(due))

	var satisfied, abandoned, skipped int

	for _, j := range due {
		// Check context before each journey to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("sweeper: cycle interrupted, processed %d/%d journeys",
				satisfied+abandoned+skipped, len(due))
			return
		}

		switch s.sweep(ctx, j, now) {
		case domain.JourneyOutcomeFollowUp:
			satisfied++
		case domain.JourneyOutcomeAbandoned:
			abandoned++
		default:
			skipped++
		}
	}

	log.Printf("sweeper: cycle complete, follow_up=%d, abandoned=%d, skipped=%d",
		satisfied, abandoned, skipped)
}

// sweep resolves a single journey and reports the outcome it applied, or ""
// when the journey was skipped.
func (s *Sweeper) sweep(ctx context.Context, j domain.JourneyRecord, now time.Time) domain.JourneyOutcome {
	rule, ok := s.rules.RuleFor(j.EventType)
	if !ok || rule.Kind != rules.RuleWait {
		// The rule was removed or rewritten since the journey opened. There
		// is no cohort to target and no basis to call the user abandoned, so
		// claim the record as satisfied and let it stop surfacing.
		log.Printf("sweeper: no wait rule for journey=%s event=%s, resolving without action", j.ID, j.EventType)
		s.claim(ctx, j.ID, domain.JourneyOutcomeFollowUp, now)
		return ""
	}

	outcome := domain.JourneyOutcomeAbandoned
	_, err := s.store.FindFollowUpEvent(ctx, j.UserID, rule.FollowUp, j.EventTime)
	switch {
	case err == nil:
		outcome = domain.JourneyOutcomeFollowUp
	case !errors.Is(err, store.ErrNotFound):
		log.Printf("sweeper: follow-up lookup journey=%s: %v", j.ID, err)
		return ""
	}

	if !s.claim(ctx, j.ID, outcome, now) {
		return ""
	}

	if outcome == domain.JourneyOutcomeFollowUp {
		log.Printf("sweeper: journey=%s user=%s satisfied late by %s", j.ID, j.UserID, rule.FollowUp)
		return outcome
	}

	if _, created, err := s.factory.Create(ctx, j.UserID, rule.CohortIfMissing, j.Attributes); err != nil {
		// The journey stays claimed; the dedup window keeps a manual replay
		// from doubling up.
		log.Printf("sweeper: experiment for journey=%s user=%s cohort=%s: %v",
			j.ID, j.UserID, rule.CohortIfMissing, err)
	} else if created {
		log.Printf("sweeper: journey=%s user=%s abandoned, experiment created cohort=%s",
			j.ID, j.UserID, rule.CohortIfMissing)
	}
	return outcome
}

// claim marks the journey resolved and reports whether this sweep won the
// claim. Losing the claim is not an error; the tracker or an earlier cycle
// got there first.
func (s *Sweeper) claim(ctx context.Context, id uuid.UUID, outcome domain.JourneyOutcome, now time.Time) bool {
	err := s.store.ResolveJourney(ctx, id, outcome, now)
	if errors.Is(err, store.ErrAlreadyResolved) {
		return false
	}
	if err != nil {
		log.Printf("sweeper: claim journey=%s: %v", id, err)
		return false
	}
	if s.metrics != nil {
		s.metrics.JourneyResolved(string(outcome))
	}
	return true
}
