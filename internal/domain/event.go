package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is one normalized funnel event received from the ingestion layer.
// Events are retained so the deadline sweep can re-check for follow-ups that
// arrived out of order.
type Event struct {
	ID         uuid.UUID
	UserID     string
	Type       string
	EventTime  time.Time
	Attributes map[string]string

	ReceivedAt time.Time
}
