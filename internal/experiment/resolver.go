package experiment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store"
)

// Resolver attributes conversions to the user's most recent convertible
// experiment and feeds the outcome back into combination statistics.
type Resolver struct {
	store     Store
	metrics   MetricsSink   // optional, nil = disabled
	analytics AnalyticsSink // optional, nil = disabled
	clock     func() time.Time
}

func NewResolver(st Store) *Resolver {
	return &Resolver{store: st, clock: time.Now}
}

func (r *Resolver) WithMetrics(sink MetricsSink) *Resolver {
	r.metrics = sink
	return r
}

func (r *Resolver) WithAnalytics(sink AnalyticsSink) *Resolver {
	r.analytics = sink
	return r
}

// ResolveConversion marks the user's most recent sent or opened experiment
// converted. A user with no convertible experiment is a no-op, and so is a
// replayed conversion: a converted experiment is no longer convertible.
func (r *Resolver) ResolveConversion(ctx context.Context, userID string) error {
	exp, err := r.store.LatestConvertibleExperiment(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find convertible experiment: %w", err)
	}

	now := r.clock().UTC()
	err = r.store.MarkExperimentConverted(ctx, exp.ID, now)
	if errors.Is(err, store.ErrStatusTransitionDenied) {
		// Lost a race with a concurrent resolution of the same experiment.
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark converted: %w", err)
	}

	if err := r.store.IncrementComboConverted(ctx, exp.Combination, now); err != nil {
		// converted_count must never exceed sent_count; a denied increment
		// is logged, not applied.
		log.Printf("experiment: combo stat increment skipped combo=%s: %v", exp.Combination.Key(), err)
	}

	if r.metrics != nil {
		r.metrics.ConversionResolved(exp.Cohort)
	}
	if r.analytics != nil {
		r.analytics.ConversionRecorded(ctx, exp.Cohort)
	}
	log.Printf("experiment: converted user=%s experiment=%s cohort=%s", userID, exp.ID, exp.Cohort)
	return nil
}
