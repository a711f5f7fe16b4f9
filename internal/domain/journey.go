package domain

import (
	"time"

	"github.com/google/uuid"
)

type JourneyOutcome string

const (
	// JourneyOutcomeFollowUp means the expected follow-up event was observed.
	JourneyOutcomeFollowUp JourneyOutcome = "follow_up"
	// JourneyOutcomeAbandoned means the deadline passed with no follow-up.
	JourneyOutcomeAbandoned JourneyOutcome = "abandoned"
)

// JourneyRecord tracks one funnel step that expects a follow-up event before
// a deadline. It is resolved exactly once, either by the follow-up arriving
// or by the deadline sweep; records are never deleted.
type JourneyRecord struct {
	ID         uuid.UUID
	UserID     string
	EventType  string
	EventTime  time.Time
	Attributes map[string]string

	Deadline time.Time

	Resolved   bool
	Outcome    JourneyOutcome // empty while unresolved
	ResolvedAt *time.Time

	CreatedAt time.Time
}
