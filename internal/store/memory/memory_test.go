package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/testutil"
)

var testBase = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

func testJourney(userID, eventType string, eventTime, deadline time.Time) domain.JourneyRecord {
	return domain.JourneyRecord{
		ID:        uuid.New(),
		UserID:    userID,
		EventType: eventType,
		EventTime: eventTime,
		Deadline:  deadline,
		CreatedAt: eventTime,
	}
}

func testExperiment(userID string, status domain.ExperimentStatus, createdAt time.Time) domain.Experiment {
	return domain.Experiment{
		ID:     uuid.New(),
		UserID: userID,
		Cohort: "checkout_abandoners",
		Combination: domain.Combination{
			Timing:  "1h",
			Channel: "push",
			Lever:   "urgency",
			Offer:   "none",
			Tone:    "friendly",
		},
		Message:   "your cart misses you",
		Status:    status,
		CreatedAt: createdAt,
	}
}

func testSend(expID uuid.UUID, userID string, at time.Time) domain.ScheduledSend {
	return domain.ScheduledSend{
		ID:            uuid.New(),
		ExperimentID:  expID,
		UserID:        userID,
		SendAt:        at,
		Status:        domain.SendStatusPending,
		NextAttemptAt: at,
		CreatedAt:     at,
	}
}

func TestResolveJourney_ClaimedExactlyOnce(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	journey := testJourney("user-1", "checkout_started", testBase, testBase.Add(time.Hour))
	if err := s.InsertJourney(ctx, journey); err != nil {
		t.Fatalf("InsertJourney failed: %v", err)
	}

	at := testBase.Add(30 * time.Minute)
	if err := s.ResolveJourney(ctx, journey.ID, domain.JourneyOutcomeFollowUp, at); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}

	err := s.ResolveJourney(ctx, journey.ID, domain.JourneyOutcomeAbandoned, at.Add(time.Minute))
	if !errors.Is(err, store.ErrAlreadyResolved) {
		t.Errorf("second resolve: expected ErrAlreadyResolved, got %v", err)
	}

	err = s.ResolveJourney(ctx, uuid.New(), domain.JourneyOutcomeAbandoned, at)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown id: expected ErrNotFound, got %v", err)
	}

	open, err := s.OpenJourneys(ctx, "user-1", []string{"checkout_started"})
	if err != nil {
		t.Fatalf("OpenJourneys failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("expected no open journeys after resolve, got %d", len(open))
	}
}

func TestOpenJourneys_FiltersAndOrders(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	later := testJourney("user-1", "checkout_started", testBase.Add(time.Hour), testBase.Add(2*time.Hour))
	earlier := testJourney("user-1", "signup_completed", testBase, testBase.Add(time.Hour))
	otherUser := testJourney("user-2", "checkout_started", testBase, testBase.Add(time.Hour))
	otherType := testJourney("user-1", "page_view", testBase, testBase.Add(time.Hour))

	for _, j := range []domain.JourneyRecord{later, earlier, otherUser, otherType} {
		if err := s.InsertJourney(ctx, j); err != nil {
			t.Fatalf("InsertJourney failed: %v", err)
		}
	}

	open, err := s.OpenJourneys(ctx, "user-1", []string{"checkout_started", "signup_completed"})
	if err != nil {
		t.Fatalf("OpenJourneys failed: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open journeys, got %d", len(open))
	}
	if open[0].ID != earlier.ID || open[1].ID != later.ID {
		t.Errorf("expected oldest event first, got %v then %v", open[0].EventType, open[1].EventType)
	}
}

func TestDueJourneys_DeadlineOrderAndLimit(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	first := testJourney("user-1", "checkout_started", testBase, testBase.Add(10*time.Minute))
	second := testJourney("user-2", "checkout_started", testBase, testBase.Add(20*time.Minute))
	third := testJourney("user-3", "checkout_started", testBase, testBase.Add(30*time.Minute))
	notDue := testJourney("user-4", "checkout_started", testBase, testBase.Add(2*time.Hour))

	for _, j := range []domain.JourneyRecord{third, first, notDue, second} {
		if err := s.InsertJourney(ctx, j); err != nil {
			t.Fatalf("InsertJourney failed: %v", err)
		}
	}

	due, err := s.DueJourneys(ctx, testBase.Add(time.Hour), 2)
	if err != nil {
		t.Fatalf("DueJourneys failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due journeys, got %d", len(due))
	}
	if due[0].ID != first.ID || due[1].ID != second.ID {
		t.Errorf("expected oldest deadlines first")
	}

	// A deadline exactly at now is due.
	due, err = s.DueJourneys(ctx, testBase.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("DueJourneys failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != first.ID {
		t.Errorf("expected exactly the journey due at now, got %d", len(due))
	}
}

func TestFindFollowUpEvent_StrictlyAfter(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	at := testBase
	for i, offset := range []time.Duration{0, 10 * time.Minute, 20 * time.Minute} {
		event := domain.Event{
			ID:         uuid.New(),
			UserID:     "user-1",
			Type:       "checkout_completed",
			EventTime:  at.Add(offset),
			ReceivedAt: at.Add(offset),
		}
		if err := s.AppendEvent(ctx, event); err != nil {
			t.Fatalf("AppendEvent %d failed: %v", i, err)
		}
	}

	// The event at exactly the boundary does not match; the next one does.
	found, err := s.FindFollowUpEvent(ctx, "user-1", "checkout_completed", at)
	if err != nil {
		t.Fatalf("FindFollowUpEvent failed: %v", err)
	}
	if !found.EventTime.Equal(at.Add(10 * time.Minute)) {
		t.Errorf("expected earliest event after boundary, got %v", found.EventTime)
	}

	_, err = s.FindFollowUpEvent(ctx, "user-1", "checkout_completed", at.Add(time.Hour))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound past last event, got %v", err)
	}

	_, err = s.FindFollowUpEvent(ctx, "user-2", "checkout_completed", at.Add(-time.Hour))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestExperimentLifecycle_GuardedTransitions(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	exp := testExperiment("user-1", domain.ExperimentStatusPending, testBase)
	if err := s.CreateExperiment(ctx, exp, testSend(exp.ID, exp.UserID, testBase.Add(time.Hour))); err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}

	// Conversion and open are invalid while pending.
	if err := s.MarkExperimentConverted(ctx, exp.ID, testBase); !errors.Is(err, store.ErrStatusTransitionDenied) {
		t.Errorf("converted while pending: expected ErrStatusTransitionDenied, got %v", err)
	}
	if err := s.MarkExperimentOpened(ctx, exp.ID, testBase); !errors.Is(err, store.ErrStatusTransitionDenied) {
		t.Errorf("opened while pending: expected ErrStatusTransitionDenied, got %v", err)
	}

	sentAt := testBase.Add(time.Hour)
	if err := s.MarkExperimentSent(ctx, exp.ID, sentAt); err != nil {
		t.Fatalf("MarkExperimentSent failed: %v", err)
	}
	if err := s.MarkExperimentSent(ctx, exp.ID, sentAt); !errors.Is(err, store.ErrStatusTransitionDenied) {
		t.Errorf("second sent: expected ErrStatusTransitionDenied, got %v", err)
	}

	openedAt := sentAt.Add(time.Minute)
	if err := s.MarkExperimentOpened(ctx, exp.ID, openedAt); err != nil {
		t.Fatalf("MarkExperimentOpened failed: %v", err)
	}

	convertedAt := openedAt.Add(time.Minute)
	if err := s.MarkExperimentConverted(ctx, exp.ID, convertedAt); err != nil {
		t.Fatalf("MarkExperimentConverted failed: %v", err)
	}
	if err := s.MarkExperimentConverted(ctx, exp.ID, convertedAt); !errors.Is(err, store.ErrStatusTransitionDenied) {
		t.Errorf("second conversion: expected ErrStatusTransitionDenied, got %v", err)
	}

	got, err := s.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetExperiment failed: %v", err)
	}
	if got.Status != domain.ExperimentStatusConverted {
		t.Errorf("expected converted status, got %s", got.Status)
	}
	if got.SentAt == nil || !got.SentAt.Equal(sentAt) {
		t.Errorf("expected sent_at %v, got %v", sentAt, got.SentAt)
	}
	if got.OpenedAt == nil || !got.OpenedAt.Equal(openedAt) {
		t.Errorf("expected opened_at %v, got %v", openedAt, got.OpenedAt)
	}
	if got.ConvertedAt == nil || !got.ConvertedAt.Equal(convertedAt) {
		t.Errorf("expected converted_at %v, got %v", convertedAt, got.ConvertedAt)
	}
}

func TestExperimentLifecycle_OpenedIsSkippable(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	exp := testExperiment("user-1", domain.ExperimentStatusPending, testBase)
	if err := s.CreateExperiment(ctx, exp, testSend(exp.ID, exp.UserID, testBase)); err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}
	if err := s.MarkExperimentSent(ctx, exp.ID, testBase.Add(time.Hour)); err != nil {
		t.Fatalf("MarkExperimentSent failed: %v", err)
	}
	if err := s.MarkExperimentConverted(ctx, exp.ID, testBase.Add(2*time.Hour)); err != nil {
		t.Fatalf("conversion straight from sent failed: %v", err)
	}

	got, err := s.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetExperiment failed: %v", err)
	}
	if got.OpenedAt != nil {
		t.Errorf("expected nil opened_at when open was skipped, got %v", got.OpenedAt)
	}
}

func TestFindRecentExperiment_WindowAndRecency(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	old := testExperiment("user-1", domain.ExperimentStatusSent, testBase.Add(-48*time.Hour))
	recent := testExperiment("user-1", domain.ExperimentStatusPending, testBase.Add(-time.Hour))
	newest := testExperiment("user-1", domain.ExperimentStatusPending, testBase.Add(-10*time.Minute))

	for _, exp := range []domain.Experiment{old, recent, newest} {
		if err := s.CreateExperiment(ctx, exp, testSend(exp.ID, exp.UserID, exp.CreatedAt)); err != nil {
			t.Fatalf("CreateExperiment failed: %v", err)
		}
	}

	got, err := s.FindRecentExperiment(ctx, "user-1", "checkout_abandoners", testBase.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("FindRecentExperiment failed: %v", err)
	}
	if got.ID != newest.ID {
		t.Errorf("expected newest experiment in window, got %s", got.ID)
	}

	_, err = s.FindRecentExperiment(ctx, "user-1", "trial_stallers", testBase.Add(-24*time.Hour))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for other cohort, got %v", err)
	}

	_, err = s.FindRecentExperiment(ctx, "user-1", "checkout_abandoners", testBase)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound when window excludes all, got %v", err)
	}
}

func TestLatestConvertibleExperiment(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	pending := testExperiment("user-1", domain.ExperimentStatusPending, testBase.Add(3*time.Hour))
	sent := testExperiment("user-1", domain.ExperimentStatusSent, testBase.Add(time.Hour))
	opened := testExperiment("user-1", domain.ExperimentStatusOpened, testBase.Add(2*time.Hour))
	converted := testExperiment("user-1", domain.ExperimentStatusConverted, testBase.Add(4*time.Hour))

	for _, exp := range []domain.Experiment{pending, sent, opened, converted} {
		if err := s.CreateExperiment(ctx, exp, testSend(exp.ID, exp.UserID, exp.CreatedAt)); err != nil {
			t.Fatalf("CreateExperiment failed: %v", err)
		}
	}

	got, err := s.LatestConvertibleExperiment(ctx, "user-1")
	if err != nil {
		t.Fatalf("LatestConvertibleExperiment failed: %v", err)
	}
	if got.ID != opened.ID {
		t.Errorf("expected newest sent-or-opened experiment, got status %s", got.Status)
	}

	_, err = s.LatestConvertibleExperiment(ctx, "user-2")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for user without experiments, got %v", err)
	}
}

func TestExperimentTotals_CountsTimestamps(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	// Three experiments: one fully converted, one sent, one still pending.
	full := testExperiment("user-1", domain.ExperimentStatusPending, testBase)
	sentOnly := testExperiment("user-2", domain.ExperimentStatusPending, testBase)
	pending := testExperiment("user-3", domain.ExperimentStatusPending, testBase)

	for _, exp := range []domain.Experiment{full, sentOnly, pending} {
		if err := s.CreateExperiment(ctx, exp, testSend(exp.ID, exp.UserID, testBase)); err != nil {
			t.Fatalf("CreateExperiment failed: %v", err)
		}
	}
	if err := s.MarkExperimentSent(ctx, full.ID, testBase.Add(time.Hour)); err != nil {
		t.Fatalf("MarkExperimentSent failed: %v", err)
	}
	if err := s.MarkExperimentOpened(ctx, full.ID, testBase.Add(2*time.Hour)); err != nil {
		t.Fatalf("MarkExperimentOpened failed: %v", err)
	}
	if err := s.MarkExperimentConverted(ctx, full.ID, testBase.Add(3*time.Hour)); err != nil {
		t.Fatalf("MarkExperimentConverted failed: %v", err)
	}
	if err := s.MarkExperimentSent(ctx, sentOnly.ID, testBase.Add(time.Hour)); err != nil {
		t.Fatalf("MarkExperimentSent failed: %v", err)
	}

	totals, err := s.ExperimentTotals(ctx)
	if err != nil {
		t.Fatalf("ExperimentTotals failed: %v", err)
	}
	if totals.Created != 3 {
		t.Errorf("expected 3 created, got %d", totals.Created)
	}
	if totals.Sent != 2 {
		t.Errorf("expected 2 sent, got %d", totals.Sent)
	}
	if totals.Opened != 1 {
		t.Errorf("expected 1 opened, got %d", totals.Opened)
	}
	if totals.Converted != 1 {
		t.Errorf("expected 1 converted, got %d", totals.Converted)
	}
}

func TestDueScheduledSends_OrderAndLimit(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	expA := testExperiment("user-1", domain.ExperimentStatusPending, testBase)
	expB := testExperiment("user-2", domain.ExperimentStatusPending, testBase)
	expC := testExperiment("user-3", domain.ExperimentStatusPending, testBase)

	sendA := testSend(expA.ID, expA.UserID, testBase.Add(10*time.Minute))
	sendB := testSend(expB.ID, expB.UserID, testBase.Add(5*time.Minute))
	sendC := testSend(expC.ID, expC.UserID, testBase.Add(2*time.Hour))

	for i, pair := range []struct {
		exp  domain.Experiment
		send domain.ScheduledSend
	}{{expA, sendA}, {expB, sendB}, {expC, sendC}} {
		if err := s.CreateExperiment(ctx, pair.exp, pair.send); err != nil {
			t.Fatalf("CreateExperiment %d failed: %v", i, err)
		}
	}

	due, err := s.DueScheduledSends(ctx, testBase.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("DueScheduledSends failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due sends, got %d", len(due))
	}
	if due[0].ID != sendB.ID || due[1].ID != sendA.ID {
		t.Errorf("expected earliest next attempt first")
	}

	// A delivered send leaves the queue.
	if err := s.MarkSendDelivered(ctx, sendB.ID, testBase.Add(6*time.Minute)); err != nil {
		t.Fatalf("MarkSendDelivered failed: %v", err)
	}
	due, err = s.DueScheduledSends(ctx, testBase.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("DueScheduledSends failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != sendA.ID {
		t.Errorf("expected only the undelivered send, got %d", len(due))
	}
}

func TestMarkSendDelivered_RejectsReplay(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	exp := testExperiment("user-1", domain.ExperimentStatusPending, testBase)
	send := testSend(exp.ID, exp.UserID, testBase)
	if err := s.CreateExperiment(ctx, exp, send); err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}

	if err := s.MarkSendDelivered(ctx, send.ID, testBase.Add(time.Minute)); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	err := s.MarkSendDelivered(ctx, send.ID, testBase.Add(2*time.Minute))
	if !errors.Is(err, store.ErrStatusTransitionDenied) {
		t.Errorf("replay: expected ErrStatusTransitionDenied, got %v", err)
	}

	err = s.MarkSendDelivered(ctx, uuid.New(), testBase)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown id: expected ErrNotFound, got %v", err)
	}
}

func TestRecordSendFailure_RetryAndDeadLetter(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	exp := testExperiment("user-1", domain.ExperimentStatusPending, testBase)
	send := testSend(exp.ID, exp.UserID, testBase)
	if err := s.CreateExperiment(ctx, exp, send); err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}

	retry := testBase.Add(2 * time.Minute)
	if err := s.RecordSendFailure(ctx, send.ID, "gateway timeout", retry, false); err != nil {
		t.Fatalf("RecordSendFailure failed: %v", err)
	}

	due, err := s.DueScheduledSends(ctx, retry, 10)
	if err != nil {
		t.Fatalf("DueScheduledSends failed: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected the failed send still pending, got %d", len(due))
	}
	if due[0].Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", due[0].Attempts)
	}
	if due[0].LastError != "gateway timeout" {
		t.Errorf("expected recorded error, got %q", due[0].LastError)
	}
	if !due[0].NextAttemptAt.Equal(retry) {
		t.Errorf("expected next attempt %v, got %v", retry, due[0].NextAttemptAt)
	}

	// Dead-lettering removes the send from the queue for good.
	if err := s.RecordSendFailure(ctx, send.ID, "gateway rejected", retry.Add(time.Minute), true); err != nil {
		t.Fatalf("dead-letter RecordSendFailure failed: %v", err)
	}
	due, err = s.DueScheduledSends(ctx, testBase.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("DueScheduledSends failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected no due sends after dead-letter, got %d", len(due))
	}

	err = s.RecordSendFailure(ctx, uuid.New(), "boom", retry, false)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown id: expected ErrNotFound, got %v", err)
	}
}

func TestComboStats_MonotonicCounts(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	combo := domain.Combination{Timing: "1h", Channel: "push", Lever: "urgency", Offer: "none", Tone: "friendly"}

	// Conversion before any send is rejected outright.
	err := s.IncrementComboConverted(ctx, combo, testBase)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("convert before send: expected ErrNotFound, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.IncrementComboSent(ctx, combo, testBase.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("IncrementComboSent %d failed: %v", i, err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := s.IncrementComboConverted(ctx, combo, testBase.Add(time.Hour)); err != nil {
			t.Fatalf("IncrementComboConverted %d failed: %v", i, err)
		}
	}

	// converted_count can never pass sent_count.
	err = s.IncrementComboConverted(ctx, combo, testBase.Add(2*time.Hour))
	if err == nil || errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected guard rejection when converted would exceed sent, got %v", err)
	}

	stats, err := s.ListComboStats(ctx)
	if err != nil {
		t.Fatalf("ListComboStats failed: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 combo stat, got %d", len(stats))
	}
	if stats[0].SentCount != 3 || stats[0].ConvertedCount != 3 {
		t.Errorf("expected 3/3 counts, got %d/%d", stats[0].SentCount, stats[0].ConvertedCount)
	}
	if stats[0].Key != combo.Key() {
		t.Errorf("expected key %q, got %q", combo.Key(), stats[0].Key)
	}
}

func TestListComboStats_SortedByKey(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	combos := []domain.Combination{
		{Timing: "4h", Channel: "whatsapp", Lever: "personal_benefit", Offer: "free_content"},
		{Timing: "15m", Channel: "push", Lever: "scarcity", Offer: "discount"},
		{Timing: "immediate", Channel: "sms", Lever: "urgency", Offer: "none"},
	}
	for _, combo := range combos {
		if err := s.IncrementComboSent(ctx, combo, testBase); err != nil {
			t.Fatalf("IncrementComboSent failed: %v", err)
		}
	}

	stats, err := s.ListComboStats(ctx)
	if err != nil {
		t.Fatalf("ListComboStats failed: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("expected 3 combo stats, got %d", len(stats))
	}
	for i := 1; i < len(stats); i++ {
		if stats[i-1].Key >= stats[i].Key {
			t.Errorf("expected keys in ascending order, got %q before %q", stats[i-1].Key, stats[i].Key)
		}
	}
}

func TestStore_CopiesRecordsBothWays(t *testing.T) {
	s := New()
	ctx := testutil.TestContext(t)

	attrs := map[string]string{"cart_value": "120"}
	journey := testJourney("user-1", "checkout_started", testBase, testBase.Add(time.Hour))
	journey.Attributes = attrs
	if err := s.InsertJourney(ctx, journey); err != nil {
		t.Fatalf("InsertJourney failed: %v", err)
	}

	// Mutating the caller's map after insert must not leak into the store.
	attrs["cart_value"] = "999"

	open, err := s.OpenJourneys(ctx, "user-1", []string{"checkout_started"})
	if err != nil {
		t.Fatalf("OpenJourneys failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 journey, got %d", len(open))
	}
	if got := open[0].Attributes["cart_value"]; got != "120" {
		t.Errorf("expected stored attribute 120, got %q", got)
	}

	// Mutating a returned copy must not leak back either.
	open[0].Attributes["cart_value"] = "777"
	again, err := s.OpenJourneys(ctx, "user-1", []string{"checkout_started"})
	if err != nil {
		t.Fatalf("OpenJourneys failed: %v", err)
	}
	if got := again[0].Attributes["cart_value"]; got != "120" {
		t.Errorf("expected stored attribute unchanged, got %q", got)
	}
}
