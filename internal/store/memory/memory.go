// Package memory provides a record store that lives entirely in process
// memory. State is lost on restart; it exists for local development and
// tests, where persistence is noise. It honors the same guard semantics as
// the SQL stores so components behave identically against either.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/api"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/dispatcher"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/experiment"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/selector"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/sweeper"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/tracker"
)

// Store implements every consumer-side store interface with mutex-guarded
// maps. Records are copied on the way in and out, so callers can never
// mutate shared state.
type Store struct {
	mu          sync.RWMutex
	events      []domain.Event
	journeys    map[uuid.UUID]domain.JourneyRecord
	experiments map[uuid.UUID]domain.Experiment
	sends       map[uuid.UUID]domain.ScheduledSend
	combos      map[string]domain.ComboStat
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		journeys:    make(map[uuid.UUID]domain.JourneyRecord),
		experiments: make(map[uuid.UUID]domain.Experiment),
		sends:       make(map[uuid.UUID]domain.ScheduledSend),
		combos:      make(map[string]domain.ComboStat),
	}
}

func (s *Store) AppendEvent(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, cloneEvent(event))
	return nil
}

func (s *Store) FindFollowUpEvent(ctx context.Context, userID, eventType string, after time.Time) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Event
	for i := range s.events {
		e := &s.events[i]
		if e.UserID != userID || e.Type != eventType || !e.EventTime.After(after) {
			continue
		}
		if best == nil || e.EventTime.Before(best.EventTime) {
			best = e
		}
	}
	if best == nil {
		return domain.Event{}, store.ErrNotFound
	}
	return cloneEvent(*best), nil
}

func (s *Store) InsertJourney(ctx context.Context, journey domain.JourneyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journeys[journey.ID] = cloneJourney(journey)
	return nil
}

func (s *Store) OpenJourneys(ctx context.Context, userID string, eventTypes []string) ([]domain.JourneyRecord, error) {
	wanted := make(map[string]bool, len(eventTypes))
	for _, et := range eventTypes {
		wanted[et] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.JourneyRecord
	for _, journey := range s.journeys {
		if journey.UserID != userID || journey.Resolved || !wanted[journey.EventType] {
			continue
		}
		result = append(result, cloneJourney(journey))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EventTime.Before(result[j].EventTime)
	})
	return result, nil
}

func (s *Store) DueJourneys(ctx context.Context, now time.Time, limit int) ([]domain.JourneyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.JourneyRecord
	for _, journey := range s.journeys {
		if journey.Resolved || journey.Deadline.After(now) {
			continue
		}
		result = append(result, cloneJourney(journey))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Deadline.Before(result[j].Deadline)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ResolveJourney(ctx context.Context, id uuid.UUID, outcome domain.JourneyOutcome, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	journey, ok := s.journeys[id]
	if !ok {
		return store.ErrNotFound
	}
	if journey.Resolved {
		return store.ErrAlreadyResolved
	}

	journey.Resolved = true
	journey.Outcome = outcome
	resolvedAt := at
	journey.ResolvedAt = &resolvedAt
	s.journeys[id] = journey
	return nil
}

// CreateExperiment inserts the experiment and its scheduled send under one
// lock, so no reader ever observes one without the other.
func (s *Store) CreateExperiment(ctx context.Context, exp domain.Experiment, send domain.ScheduledSend) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.experiments[exp.ID] = cloneExperiment(exp)
	s.sends[send.ID] = send
	return nil
}

func (s *Store) GetExperiment(ctx context.Context, id uuid.UUID) (domain.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.experiments[id]
	if !ok {
		return domain.Experiment{}, store.ErrNotFound
	}
	return cloneExperiment(exp), nil
}

func (s *Store) FindRecentExperiment(ctx context.Context, userID, cohort string, since time.Time) (domain.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.newestExperiment(func(exp domain.Experiment) bool {
		return exp.UserID == userID && exp.Cohort == cohort && !exp.CreatedAt.Before(since)
	})
}

func (s *Store) LatestConvertibleExperiment(ctx context.Context, userID string) (domain.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.newestExperiment(func(exp domain.Experiment) bool {
		if exp.UserID != userID {
			return false
		}
		return exp.Status == domain.ExperimentStatusSent || exp.Status == domain.ExperimentStatusOpened
	})
}

func (s *Store) MarkExperimentSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.transitionExperiment(id, domain.ExperimentStatusSent, at, domain.ExperimentStatusPending)
}

func (s *Store) MarkExperimentOpened(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.transitionExperiment(id, domain.ExperimentStatusOpened, at, domain.ExperimentStatusSent)
}

func (s *Store) MarkExperimentConverted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.transitionExperiment(id, domain.ExperimentStatusConverted, at,
		domain.ExperimentStatusSent, domain.ExperimentStatusOpened)
}

func (s *Store) ExperimentTotals(ctx context.Context) (api.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totals api.Totals
	for _, exp := range s.experiments {
		totals.Created++
		if exp.SentAt != nil {
			totals.Sent++
		}
		if exp.OpenedAt != nil {
			totals.Opened++
		}
		if exp.ConvertedAt != nil {
			totals.Converted++
		}
	}
	return totals, nil
}

func (s *Store) DueScheduledSends(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledSend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.ScheduledSend
	for _, send := range s.sends {
		if send.Status != domain.SendStatusPending || send.NextAttemptAt.After(now) {
			continue
		}
		result = append(result, send)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].NextAttemptAt.Before(result[j].NextAttemptAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) MarkSendDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.sends[id]
	if !ok {
		return store.ErrNotFound
	}
	if send.Status != domain.SendStatusPending {
		return store.ErrStatusTransitionDenied
	}

	send.Status = domain.SendStatusSent
	s.sends[id] = send
	return nil
}

func (s *Store) RecordSendFailure(ctx context.Context, id uuid.UUID, sendErr string, nextAttemptAt time.Time, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.sends[id]
	if !ok {
		return store.ErrNotFound
	}

	send.Attempts++
	send.LastError = sendErr
	send.NextAttemptAt = nextAttemptAt
	if dead {
		send.Status = domain.SendStatusDead
	}
	s.sends[id] = send
	return nil
}

func (s *Store) IncrementComboSent(ctx context.Context, combo domain.Combination, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := combo.Key()
	stat, ok := s.combos[key]
	if !ok {
		stat = domain.ComboStat{
			Key:     key,
			Timing:  combo.Timing,
			Channel: combo.Channel,
			Lever:   combo.Lever,
			Offer:   combo.Offer,
		}
	}
	stat.SentCount++
	stat.UpdatedAt = at
	s.combos[key] = stat
	return nil
}

func (s *Store) IncrementComboConverted(ctx context.Context, combo domain.Combination, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := combo.Key()
	stat, ok := s.combos[key]
	if !ok {
		return store.ErrNotFound
	}
	if stat.ConvertedCount >= stat.SentCount {
		return fmt.Errorf("combo %s: converted_count would exceed sent_count", key)
	}

	stat.ConvertedCount++
	stat.UpdatedAt = at
	s.combos[key] = stat
	return nil
}

func (s *Store) ListComboStats(ctx context.Context) ([]domain.ComboStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ComboStat, 0, len(s.combos))
	for _, stat := range s.combos {
		result = append(result, stat)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result, nil
}

// newestExperiment returns the matching experiment with the latest creation
// time. Ties break on id so repeated calls agree with the SQL stores.
// Callers must hold at least a read lock.
func (s *Store) newestExperiment(match func(domain.Experiment) bool) (domain.Experiment, error) {
	var best *domain.Experiment
	for id := range s.experiments {
		exp := s.experiments[id]
		if !match(exp) {
			continue
		}
		if best == nil || exp.CreatedAt.After(best.CreatedAt) ||
			(exp.CreatedAt.Equal(best.CreatedAt) && exp.ID.String() > best.ID.String()) {
			best = &exp
		}
	}
	if best == nil {
		return domain.Experiment{}, store.ErrNotFound
	}
	return cloneExperiment(*best), nil
}

// transitionExperiment applies a guarded status update. A missing record is
// store.ErrNotFound; a record outside the allowed source statuses is
// store.ErrStatusTransitionDenied.
func (s *Store) transitionExperiment(id uuid.UUID, to domain.ExperimentStatus, at time.Time, from ...domain.ExperimentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.experiments[id]
	if !ok {
		return store.ErrNotFound
	}

	allowed := false
	for _, status := range from {
		if exp.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return store.ErrStatusTransitionDenied
	}

	exp.Status = to
	stamp := at
	switch to {
	case domain.ExperimentStatusSent:
		exp.SentAt = &stamp
	case domain.ExperimentStatusOpened:
		exp.OpenedAt = &stamp
	case domain.ExperimentStatusConverted:
		exp.ConvertedAt = &stamp
	}
	s.experiments[id] = exp
	return nil
}

func cloneEvent(e domain.Event) domain.Event {
	e.Attributes = cloneAttrs(e.Attributes)
	return e
}

func cloneJourney(j domain.JourneyRecord) domain.JourneyRecord {
	j.Attributes = cloneAttrs(j.Attributes)
	j.ResolvedAt = cloneTime(j.ResolvedAt)
	return j
}

func cloneExperiment(e domain.Experiment) domain.Experiment {
	e.SentAt = cloneTime(e.SentAt)
	e.OpenedAt = cloneTime(e.OpenedAt)
	e.ConvertedAt = cloneTime(e.ConvertedAt)
	return e
}

func cloneAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := *t
	return &u
}

// Compile-time interface assertions
var (
	_ tracker.Store    = (*Store)(nil)
	_ sweeper.Store    = (*Store)(nil)
	_ experiment.Store = (*Store)(nil)
	_ dispatcher.Store = (*Store)(nil)
	_ selector.Stats   = (*Store)(nil)
	_ api.Store        = (*Store)(nil)
)
