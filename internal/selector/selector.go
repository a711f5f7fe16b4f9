// Package selector picks treatment combinations with an epsilon-greedy
// policy over historical combination statistics.
package selector

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/rules"
)

// Stats provides read access to combination statistics.
type Stats interface {
	ListComboStats(ctx context.Context) ([]domain.ComboStat, error)
}

// Config holds the epsilon-greedy tuning knobs.
type Config struct {
	// Epsilon is the exploration probability. Default 0.2.
	Epsilon float64
	// MinSample is the sent count below which a combination's statistics are
	// ignored. Default 5.
	MinSample int64
	// TopK bounds exploitation to the K best combinations by conversion rate,
	// so a single early leader cannot starve the rest. Default 5.
	TopK int
}

// DefaultConfig returns the default selector configuration.
func DefaultConfig() Config {
	return Config{Epsilon: 0.2, MinSample: 5, TopK: 5}
}

// Selector chooses combinations for a cohort. It reads statistics and draws
// randomness but never mutates anything.
type Selector struct {
	config Config
	stats  Stats
	rules  *rules.Ruleset

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Selector seeded from the given source. Epsilon 0 (never
// explore once stats exist) and MinSample 0 (trust every stat) are valid
// settings; TopK must be at least 1.
func New(config Config, stats Stats, ruleset *rules.Ruleset, seed int64) *Selector {
	if config.TopK <= 0 {
		config.TopK = DefaultConfig().TopK
	}
	return &Selector{
		config: config,
		stats:  stats,
		rules:  ruleset,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Select picks a combination for the cohort. With probability epsilon, or
// whenever no combination has enough history, every component is drawn
// uniformly from the cohort's catalog. Otherwise one of the top-K
// combinations by conversion rate is chosen. Tone is always drawn uniformly
// from the catalog; it is not part of the statistics key.
func (s *Selector) Select(ctx context.Context, cohort string, attrs map[string]string) (domain.Combination, error) {
	catalog := s.rules.CatalogFor(cohort)

	eligible, err := s.eligibleStats(ctx, catalog)
	if err != nil {
		return domain.Combination{}, fmt.Errorf("list combo stats: %w", err)
	}

	if len(eligible) == 0 || s.draw() < s.config.Epsilon {
		return s.explore(catalog), nil
	}
	return s.exploit(eligible, catalog), nil
}

// eligibleStats returns stats with enough samples whose components the
// cohort's catalog allows, so exploitation never proposes a combination the
// cohort could not have produced.
func (s *Selector) eligibleStats(ctx context.Context, catalog rules.Catalog) ([]domain.ComboStat, error) {
	all, err := s.stats.ListComboStats(ctx)
	if err != nil {
		return nil, err
	}

	eligible := make([]domain.ComboStat, 0, len(all))
	for _, st := range all {
		if st.SentCount < s.config.MinSample {
			continue
		}
		if !catalog.Contains(st.Timing, st.Channel, st.Lever, st.Offer) {
			continue
		}
		eligible = append(eligible, st)
	}
	return eligible, nil
}

func (s *Selector) explore(catalog rules.Catalog) domain.Combination {
	return domain.Combination{
		Timing:  s.pick(catalog.Timings),
		Channel: s.pick(catalog.Channels),
		Lever:   s.pick(catalog.Levers),
		Offer:   s.pick(catalog.Offers),
		Tone:    s.pick(catalog.Tones),
	}
}

func (s *Selector) exploit(eligible []domain.ComboStat, catalog rules.Catalog) domain.Combination {
	sort.Slice(eligible, func(i, j int) bool {
		ri, rj := eligible[i].ConversionRate(), eligible[j].ConversionRate()
		if ri != rj {
			return ri > rj
		}
		// Stable order for equal rates so re-runs rank identically.
		return eligible[i].Key < eligible[j].Key
	})

	k := s.config.TopK
	if k > len(eligible) {
		k = len(eligible)
	}
	chosen := eligible[s.intn(k)]

	return domain.Combination{
		Timing:  chosen.Timing,
		Channel: chosen.Channel,
		Lever:   chosen.Lever,
		Offer:   chosen.Offer,
		Tone:    s.pick(catalog.Tones),
	}
}

func (s *Selector) pick(set []string) string {
	if len(set) == 0 {
		return ""
	}
	return set[s.intn(len(set))]
}

// rng is not safe for concurrent use; Select may be called from the tracker,
// the sweeper and the manual-trigger handler at once.
func (s *Selector) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Selector) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}
