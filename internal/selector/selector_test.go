package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/rules"
)

type stubStats struct {
	stats []domain.ComboStat
	err   error
}

func (s *stubStats) ListComboStats(ctx context.Context) ([]domain.ComboStat, error) {
	return s.stats, s.err
}

func stat(timing, channel, lever, offer string, sent, converted int64) domain.ComboStat {
	c := domain.Combination{Timing: timing, Channel: channel, Lever: lever, Offer: offer}
	return domain.ComboStat{
		Key:            c.Key(),
		Timing:         timing,
		Channel:        channel,
		Lever:          lever,
		Offer:          offer,
		SentCount:      sent,
		ConvertedCount: converted,
		UpdatedAt:      time.Now(),
	}
}

func mustRuleset(t *testing.T) *rules.Ruleset {
	t.Helper()
	rs, err := rules.LoadDefault()
	if err != nil {
		t.Fatalf("load default ruleset: %v", err)
	}
	return rs
}

func TestSelect_ExploitOnlyPicksTopRanked(t *testing.T) {
	stats := &stubStats{stats: []domain.ComboStat{
		stat("immediate", "push", "scarcity", "discount", 10, 9),
		stat("15m", "push", "urgency", "discount", 10, 8),
		stat("1h", "whatsapp", "social_proof", "none", 10, 7),
		stat("4h", "sms", "personal_benefit", "free_content", 10, 6),
		stat("next_morning", "push", "scarcity", "none", 10, 5),
		stat("next_evening", "sms", "urgency", "none", 10, 4),
		stat("15m", "whatsapp", "personal_benefit", "trial_extension", 10, 3),
		stat("1h", "push", "scarcity", "trial_extension", 10, 2),
	}}

	topKeys := map[string]bool{}
	for _, st := range stats.stats[:5] {
		topKeys[st.Key] = true
	}

	cfg := Config{Epsilon: 0, MinSample: 5, TopK: 5}
	sel := New(cfg, stats, mustRuleset(t), 1)

	catalog := mustRuleset(t).CatalogFor(rules.DefaultCohort)
	for i := 0; i < 200; i++ {
		combo, err := sel.Select(context.Background(), rules.DefaultCohort, nil)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if !topKeys[combo.Key()] {
			t.Fatalf("draw %d: selected %q, want one of the top 5 by conversion rate", i, combo.Key())
		}
		if !contains(catalog.Tones, combo.Tone) {
			t.Fatalf("draw %d: tone %q not in cohort catalog", i, combo.Tone)
		}
	}
}

func TestSelect_ExploresWithoutHistory(t *testing.T) {
	cfg := Config{Epsilon: 0, MinSample: 5, TopK: 5}
	sel := New(cfg, &stubStats{}, mustRuleset(t), 42)

	catalog := mustRuleset(t).CatalogFor(rules.DefaultCohort)
	for i := 0; i < 50; i++ {
		combo, err := sel.Select(context.Background(), rules.DefaultCohort, nil)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if !catalog.Contains(combo.Timing, combo.Channel, combo.Lever, combo.Offer) {
			t.Fatalf("draw %d: explored combination %q outside cohort catalog", i, combo.Key())
		}
		if !contains(catalog.Tones, combo.Tone) {
			t.Fatalf("draw %d: tone %q not in cohort catalog", i, combo.Tone)
		}
	}
}

func TestSelect_IgnoresUnderSampledStats(t *testing.T) {
	// The perfect-looking combo has too few sends to be trusted.
	stats := &stubStats{stats: []domain.ComboStat{
		stat("15m", "push", "urgency", "discount", 10, 1),
		stat("1h", "whatsapp", "social_proof", "none", 4, 4),
	}}

	cfg := Config{Epsilon: 0, MinSample: 5, TopK: 5}
	sel := New(cfg, stats, mustRuleset(t), 7)

	want := stats.stats[0].Key
	for i := 0; i < 50; i++ {
		combo, err := sel.Select(context.Background(), rules.DefaultCohort, nil)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if combo.Key() != want {
			t.Fatalf("draw %d: selected %q, want only eligible combo %q", i, combo.Key(), want)
		}
	}
}

func TestSelect_SkipsCombosOutsideCohortCatalog(t *testing.T) {
	// checkout_abandoners has no whatsapp channel, so the better-performing
	// whatsapp combo must never be exploited for that cohort.
	stats := &stubStats{stats: []domain.ComboStat{
		stat("15m", "whatsapp", "scarcity", "discount", 10, 10),
		stat("15m", "push", "scarcity", "discount", 10, 1),
	}}

	cfg := Config{Epsilon: 0, MinSample: 5, TopK: 5}
	sel := New(cfg, stats, mustRuleset(t), 11)

	want := stats.stats[1].Key
	for i := 0; i < 50; i++ {
		combo, err := sel.Select(context.Background(), "checkout_abandoners", nil)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if combo.Key() != want {
			t.Fatalf("draw %d: selected %q, want %q", i, combo.Key(), want)
		}
	}
}

func TestSelect_StatsError(t *testing.T) {
	boom := errors.New("stats unavailable")
	sel := New(DefaultConfig(), &stubStats{err: boom}, mustRuleset(t), 3)

	_, err := sel.Select(context.Background(), rules.DefaultCohort, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped stats error", err)
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
