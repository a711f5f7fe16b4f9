package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExperimentStatus string

const (
	ExperimentStatusPending   ExperimentStatus = "pending"
	ExperimentStatusSent      ExperimentStatus = "sent"
	ExperimentStatusOpened    ExperimentStatus = "opened"
	ExperimentStatusConverted ExperimentStatus = "converted"
)

// Experiment is one treatment offered to a user in response to abandonment
// (or an immediate-trigger cohort). Status moves monotonically along
// pending -> sent -> opened -> converted; opened is best-effort and may be
// skipped, so sent -> converted is also valid.
type Experiment struct {
	ID     uuid.UUID
	UserID string
	Cohort string

	Combination Combination
	Message     string

	Status      ExperimentStatus
	CreatedAt   time.Time
	SentAt      *time.Time
	OpenedAt    *time.Time
	ConvertedAt *time.Time
}
