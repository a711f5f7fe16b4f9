package experiment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
)

func seedExperiment(st *mockStore, userID string, status domain.ExperimentStatus, createdAt time.Time) domain.Experiment {
	exp := domain.Experiment{
		ID:          uuid.New(),
		UserID:      userID,
		Cohort:      "paywall_bouncers",
		Combination: testCombo(),
		Status:      status,
		CreatedAt:   createdAt,
	}
	st.mu.Lock()
	st.experiments[exp.ID] = exp
	st.mu.Unlock()
	return exp
}

func TestResolver_MarksLatestSentExperimentConverted(t *testing.T) {
	st := newMockStore()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	older := seedExperiment(st, "u1", domain.ExperimentStatusSent, base)
	newer := seedExperiment(st, "u1", domain.ExperimentStatusOpened, base.Add(time.Minute))

	r := NewResolver(st)
	r.clock = func() time.Time { return base.Add(time.Hour) }

	if err := r.ResolveConversion(context.Background(), "u1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if got := st.experiments[newer.ID].Status; got != domain.ExperimentStatusConverted {
		t.Errorf("newest experiment status = %s, want converted", got)
	}
	if got := st.experiments[older.ID].Status; got != domain.ExperimentStatusSent {
		t.Errorf("older experiment status = %s, want untouched sent", got)
	}
	if len(st.converted) != 1 {
		t.Fatalf("combo increments = %d, want 1", len(st.converted))
	}
	if st.converted[0].Key() != testCombo().Key() {
		t.Errorf("incremented combo %q, want %q", st.converted[0].Key(), testCombo().Key())
	}
}

func TestResolver_NoConvertibleExperimentIsNoop(t *testing.T) {
	st := newMockStore()
	seedExperiment(st, "u1", domain.ExperimentStatusPending, time.Now())

	r := NewResolver(st)
	if err := r.ResolveConversion(context.Background(), "u1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(st.converted) != 0 {
		t.Error("pending experiment must not be converted")
	}
}

func TestResolver_ReplayedConversionIsIdempotent(t *testing.T) {
	st := newMockStore()
	exp := seedExperiment(st, "u1", domain.ExperimentStatusSent, time.Now())

	r := NewResolver(st)
	if err := r.ResolveConversion(context.Background(), "u1"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if err := r.ResolveConversion(context.Background(), "u1"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}

	if got := st.experiments[exp.ID].Status; got != domain.ExperimentStatusConverted {
		t.Errorf("status = %s, want converted", got)
	}
	if len(st.converted) != 1 {
		t.Errorf("combo increments = %d, want exactly 1 after replay", len(st.converted))
	}
}

func TestResolver_UnknownUserIsNoop(t *testing.T) {
	st := newMockStore()
	r := NewResolver(st)
	if err := r.ResolveConversion(context.Background(), "ghost"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}
