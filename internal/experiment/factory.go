// Package experiment creates re-engagement experiments for abandoned
// journeys and closes the conversion feedback loop.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store"
)

type Store interface {
	FindRecentExperiment(ctx context.Context, userID, cohort string, since time.Time) (domain.Experiment, error)
	// CreateExperiment persists the experiment and its scheduled send as one
	// unit. Implementations MUST guarantee both rows exist or neither does.
	CreateExperiment(ctx context.Context, exp domain.Experiment, send domain.ScheduledSend) error
	LatestConvertibleExperiment(ctx context.Context, userID string) (domain.Experiment, error)
	// MarkExperimentConverted sets converted status and timestamp.
	// Implementations MUST reject the transition unless the current status is
	// sent or opened, returning store.ErrStatusTransitionDenied.
	MarkExperimentConverted(ctx context.Context, id uuid.UUID, at time.Time) error
	IncrementComboConverted(ctx context.Context, combo domain.Combination, at time.Time) error
}

type Selector interface {
	Select(ctx context.Context, cohort string, attrs map[string]string) (domain.Combination, error)
}

type Composer interface {
	Compose(combo domain.Combination, attrs map[string]string) string
}

type Planner interface {
	SendAt(timing string, now time.Time) time.Time
}

// MetricsSink records factory and resolver outcomes. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	ExperimentCreated(cohort string)
	ExperimentDeduped(cohort string)
	ConversionResolved(cohort string)
}

type AnalyticsSink interface {
	ExperimentCreated(ctx context.Context, cohort string)
	ConversionRecorded(ctx context.Context, cohort string)
}

type FactoryConfig struct {
	// DedupWindow is how far back an existing (user, cohort) experiment
	// suppresses a new one. Default 1 hour.
	DedupWindow time.Duration
}

// Factory builds experiments: it deduplicates, selects a combination,
// composes the message, and persists the experiment with its scheduled send.
type Factory struct {
	config    FactoryConfig
	store     Store
	selector  Selector
	composer  Composer
	planner   Planner
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	clock     func() time.Time

	// mu serializes check-then-create so concurrent triggers for the same
	// user cannot both pass the dedup check.
	mu sync.Mutex
}

func NewFactory(config FactoryConfig, st Store, selector Selector, composer Composer, planner Planner) *Factory {
	if config.DedupWindow <= 0 {
		config.DedupWindow = time.Hour
	}
	return &Factory{
		config:   config,
		store:    st,
		selector: selector,
		composer: composer,
		planner:  planner,
		clock:    time.Now,
	}
}

func (f *Factory) WithMetrics(sink MetricsSink) *Factory {
	f.metrics = sink
	return f
}

func (f *Factory) WithAnalytics(sink AnalyticsSink) *Factory {
	f.analytics = sink
	return f
}

// Create returns the experiment for (userID, cohort), reusing one created
// inside the dedup window unchanged. The bool reports whether a new
// experiment was persisted.
func (f *Factory) Create(ctx context.Context, userID, cohort string, attrs map[string]string) (domain.Experiment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock().UTC()

	existing, err := f.store.FindRecentExperiment(ctx, userID, cohort, now.Add(-f.config.DedupWindow))
	switch {
	case err == nil:
		if f.metrics != nil {
			f.metrics.ExperimentDeduped(cohort)
		}
		log.Printf("experiment: dedup hit user=%s cohort=%s experiment=%s", userID, cohort, existing.ID)
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return domain.Experiment{}, false, fmt.Errorf("find recent experiment: %w", err)
	}

	combo, err := f.selector.Select(ctx, cohort, attrs)
	if err != nil {
		return domain.Experiment{}, false, fmt.Errorf("select combination: %w", err)
	}
	message := f.composer.Compose(combo, attrs)
	sendAt := f.planner.SendAt(combo.Timing, now)

	exp := domain.Experiment{
		ID:          uuid.New(),
		UserID:      userID,
		Cohort:      cohort,
		Combination: combo,
		Message:     message,
		Status:      domain.ExperimentStatusPending,
		CreatedAt:   now,
	}
	send := domain.ScheduledSend{
		ID:            uuid.New(),
		ExperimentID:  exp.ID,
		UserID:        userID,
		SendAt:        sendAt,
		Status:        domain.SendStatusPending,
		NextAttemptAt: sendAt,
		CreatedAt:     now,
	}

	if err := f.store.CreateExperiment(ctx, exp, send); err != nil {
		return domain.Experiment{}, false, fmt.Errorf("create experiment: %w", err)
	}

	if f.metrics != nil {
		f.metrics.ExperimentCreated(cohort)
	}
	if f.analytics != nil {
		f.analytics.ExperimentCreated(ctx, cohort)
	}
	log.Printf("experiment: created user=%s cohort=%s experiment=%s combo=%s send_at=%s",
		userID, cohort, exp.ID, exp.Combination.Key(), sendAt.Format(time.RFC3339))
	return exp, true, nil
}
