package domain

import (
	"time"

	"github.com/google/uuid"
)

type SendStatus string

const (
	SendStatusPending SendStatus = "pending"
	SendStatusSent    SendStatus = "sent"
	// SendStatusDead marks a send abandoned after exhausting its attempts.
	SendStatusDead SendStatus = "dead"
)

// ScheduledSend is a deferred instruction to deliver one experiment's message
// at a computed future time. Exactly one exists per experiment; it is created
// atomically with the experiment and retained after completion.
type ScheduledSend struct {
	ID           uuid.UUID
	ExperimentID uuid.UUID
	UserID       string

	SendAt time.Time
	Status SendStatus

	Attempts      int
	LastError     string
	NextAttemptAt time.Time

	CreatedAt time.Time
}
