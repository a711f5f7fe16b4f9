package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/api"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/dispatcher"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/experiment"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/selector"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/sweeper"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/tracker"
)

// Store implements every consumer-side store interface using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// AppendEvent inserts one event into the append-only event log.
func (s *Store) AppendEvent(ctx context.Context, event domain.Event) error {
	attrs, err := marshalAttributes(event.Attributes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, queryInsertEvent,
		event.ID,
		event.UserID,
		event.Type,
		event.EventTime,
		attrs,
		event.ReceivedAt,
	)
	return err
}

// FindFollowUpEvent returns the user's earliest event of the given type with
// event time strictly after the given instant, or store.ErrNotFound.
func (s *Store) FindFollowUpEvent(ctx context.Context, userID, eventType string, after time.Time) (domain.Event, error) {
	var event domain.Event
	var attrs []byte

	err := s.db.QueryRowContext(ctx, queryFindFollowUpEvent, userID, eventType, after).Scan(
		&event.ID,
		&event.UserID,
		&event.Type,
		&event.EventTime,
		&attrs,
		&event.ReceivedAt,
	)
	if err == sql.ErrNoRows {
		return domain.Event{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Event{}, err
	}
	if event.Attributes, err = unmarshalAttributes(attrs); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

// InsertJourney inserts a new journey record.
func (s *Store) InsertJourney(ctx context.Context, journey domain.JourneyRecord) error {
	attrs, err := marshalAttributes(journey.Attributes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, queryInsertJourney,
		journey.ID,
		journey.UserID,
		journey.EventType,
		journey.EventTime,
		attrs,
		journey.Deadline,
		journey.Resolved,
		string(journey.Outcome),
		journey.ResolvedAt,
		journey.CreatedAt,
	)
	return err
}

// OpenJourneys returns the user's unresolved journeys whose trigger event
// type is one of eventTypes, ordered by event time.
func (s *Store) OpenJourneys(ctx context.Context, userID string, eventTypes []string) ([]domain.JourneyRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryOpenJourneys, userID, pq.Array(eventTypes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJourneys(rows)
}

// DueJourneys returns up to limit unresolved journeys with deadline <= now,
// oldest deadline first.
func (s *Store) DueJourneys(ctx context.Context, now time.Time, limit int) ([]domain.JourneyRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryDueJourneys, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJourneys(rows)
}

// ResolveJourney atomically claims an unresolved journey.
// Returns store.ErrAlreadyResolved if another path claimed it first.
// This uses an atomic UPDATE with a guard in the WHERE clause to prevent
// TOCTOU race conditions.
func (s *Store) ResolveJourney(ctx context.Context, id uuid.UUID, outcome domain.JourneyOutcome, at time.Time) error {
	return s.guardedUpdate(ctx, queryResolveJourney, queryJourneyExists, id,
		store.ErrAlreadyResolved, string(outcome), at, id)
}

// CreateExperiment creates an experiment with its scheduled send in a
// transaction so both rows exist or neither does.
func (s *Store) CreateExperiment(ctx context.Context, exp domain.Experiment, send domain.ScheduledSend) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertExperiment,
		exp.ID,
		exp.UserID,
		exp.Cohort,
		exp.Combination.Timing,
		exp.Combination.Channel,
		exp.Combination.Lever,
		exp.Combination.Offer,
		exp.Combination.Tone,
		exp.Message,
		string(exp.Status),
		exp.CreatedAt,
		exp.SentAt,
		exp.OpenedAt,
		exp.ConvertedAt,
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, queryInsertScheduledSend,
		send.ID,
		send.ExperimentID,
		send.UserID,
		send.SendAt,
		string(send.Status),
		send.Attempts,
		send.LastError,
		send.NextAttemptAt,
		send.CreatedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetExperiment returns an experiment by its ID, or store.ErrNotFound.
func (s *Store) GetExperiment(ctx context.Context, id uuid.UUID) (domain.Experiment, error) {
	return scanExperiment(s.db.QueryRowContext(ctx, queryGetExperiment, id))
}

// FindRecentExperiment returns the user's newest experiment in the cohort
// created at or after since, or store.ErrNotFound.
func (s *Store) FindRecentExperiment(ctx context.Context, userID, cohort string, since time.Time) (domain.Experiment, error) {
	return scanExperiment(s.db.QueryRowContext(ctx, queryFindRecentExperiment, userID, cohort, since))
}

// LatestConvertibleExperiment returns the user's newest experiment in sent or
// opened status, or store.ErrNotFound.
func (s *Store) LatestConvertibleExperiment(ctx context.Context, userID string) (domain.Experiment, error) {
	return scanExperiment(s.db.QueryRowContext(ctx, queryLatestConvertibleExperiment, userID))
}

// MarkExperimentSent moves a pending experiment to sent.
func (s *Store) MarkExperimentSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.guardedUpdate(ctx, queryMarkExperimentSent, queryExperimentExists, id,
		store.ErrStatusTransitionDenied, at, id)
}

// MarkExperimentOpened moves a sent experiment to opened.
func (s *Store) MarkExperimentOpened(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.guardedUpdate(ctx, queryMarkExperimentOpened, queryExperimentExists, id,
		store.ErrStatusTransitionDenied, at, id)
}

// MarkExperimentConverted moves a sent or opened experiment to converted.
func (s *Store) MarkExperimentConverted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.guardedUpdate(ctx, queryMarkExperimentConverted, queryExperimentExists, id,
		store.ErrStatusTransitionDenied, at, id)
}

// ExperimentTotals returns cumulative lifecycle counts over all experiments.
func (s *Store) ExperimentTotals(ctx context.Context) (api.Totals, error) {
	var totals api.Totals
	err := s.db.QueryRowContext(ctx, queryExperimentTotals).Scan(
		&totals.Created,
		&totals.Sent,
		&totals.Opened,
		&totals.Converted,
	)
	if err != nil {
		return api.Totals{}, err
	}
	return totals, nil
}

// DueScheduledSends returns up to limit pending sends whose next_attempt_at
// is at or before now, oldest first.
func (s *Store) DueScheduledSends(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledSend, error) {
	rows, err := s.db.QueryContext(ctx, queryDueScheduledSends, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ScheduledSend
	for rows.Next() {
		var send domain.ScheduledSend
		var status string

		err := rows.Scan(
			&send.ID,
			&send.ExperimentID,
			&send.UserID,
			&send.SendAt,
			&status,
			&send.Attempts,
			&send.LastError,
			&send.NextAttemptAt,
			&send.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		send.Status = domain.SendStatus(status)
		result = append(result, send)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// MarkSendDelivered moves a pending send to sent. A send already sent or
// dead yields store.ErrStatusTransitionDenied so replays stay idempotent.
func (s *Store) MarkSendDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.guardedUpdate(ctx, queryMarkSendDelivered, querySendExists, id,
		store.ErrStatusTransitionDenied, at, id)
}

// RecordSendFailure increments the attempt count and stores the error. When
// dead is true the send moves to the dead status and is never retried.
func (s *Store) RecordSendFailure(ctx context.Context, id uuid.UUID, sendErr string, nextAttemptAt time.Time, dead bool) error {
	result, err := s.db.ExecContext(ctx, queryRecordSendFailure, sendErr, nextAttemptAt, dead, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IncrementComboSent bumps the combination's sent count, creating the stat
// row on first use.
func (s *Store) IncrementComboSent(ctx context.Context, combo domain.Combination, at time.Time) error {
	_, err := s.db.ExecContext(ctx, queryIncrementComboSent,
		combo.Key(),
		combo.Timing,
		combo.Channel,
		combo.Lever,
		combo.Offer,
		at,
	)
	return err
}

// IncrementComboConverted bumps the combination's converted count. The
// guard in the WHERE clause keeps converted_count from ever exceeding
// sent_count.
func (s *Store) IncrementComboConverted(ctx context.Context, combo domain.Combination, at time.Time) error {
	result, err := s.db.ExecContext(ctx, queryIncrementComboConverted, at, combo.Key())
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, queryComboStatExists, combo.Key()).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return fmt.Errorf("combo %s: converted_count would exceed sent_count", combo.Key())
	}
	return nil
}

// ListComboStats returns every combination aggregate, ordered by key.
func (s *Store) ListComboStats(ctx context.Context) ([]domain.ComboStat, error) {
	rows, err := s.db.QueryContext(ctx, queryListComboStats)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ComboStat
	for rows.Next() {
		var stat domain.ComboStat

		err := rows.Scan(
			&stat.Key,
			&stat.Timing,
			&stat.Channel,
			&stat.Lever,
			&stat.Offer,
			&stat.SentCount,
			&stat.ConvertedCount,
			&stat.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// guardedUpdate runs an update whose WHERE clause encodes the allowed
// transition. PostgreSQL acquires the row lock before evaluating WHERE,
// serializing access under concurrency. Zero rows affected means either the
// row is missing or the guard rejected the transition; the existence query
// distinguishes the two.
func (s *Store) guardedUpdate(ctx context.Context, updateQuery, existsQuery string, id uuid.UUID, deniedErr error, args ...any) error {
	result, err := s.db.ExecContext(ctx, updateQuery, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return deniedErr
	}

	return nil
}

func scanExperiment(row *sql.Row) (domain.Experiment, error) {
	var exp domain.Experiment
	var status string

	err := row.Scan(
		&exp.ID,
		&exp.UserID,
		&exp.Cohort,
		&exp.Combination.Timing,
		&exp.Combination.Channel,
		&exp.Combination.Lever,
		&exp.Combination.Offer,
		&exp.Combination.Tone,
		&exp.Message,
		&status,
		&exp.CreatedAt,
		&exp.SentAt,
		&exp.OpenedAt,
		&exp.ConvertedAt,
	)
	if err == sql.ErrNoRows {
		return domain.Experiment{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Experiment{}, err
	}
	exp.Status = domain.ExperimentStatus(status)
	return exp, nil
}

func scanJourneys(rows *sql.Rows) ([]domain.JourneyRecord, error) {
	var result []domain.JourneyRecord
	for rows.Next() {
		var journey domain.JourneyRecord
		var attrs []byte
		var outcome string

		err := rows.Scan(
			&journey.ID,
			&journey.UserID,
			&journey.EventType,
			&journey.EventTime,
			&attrs,
			&journey.Deadline,
			&journey.Resolved,
			&outcome,
			&journey.ResolvedAt,
			&journey.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		journey.Outcome = domain.JourneyOutcome(outcome)
		if journey.Attributes, err = unmarshalAttributes(attrs); err != nil {
			return nil, err
		}
		result = append(result, journey)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func marshalAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return json.Marshal(attrs)
}

func unmarshalAttributes(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var attrs map[string]string
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
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
