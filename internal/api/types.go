package api

import (
	"time"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
)

type IngestEventRequest struct {
	UserID     string            `json:"user_id"`
	EventType  string            `json:"event_type"`
	EventTime  time.Time         `json:"event_time,omitempty"` // RFC3339; zero means "now"
	Attributes map[string]string `json:"attributes,omitempty"`
}

type IngestEventResponse struct {
	Status string `json:"status"`
}

type TriggerExperimentRequest struct {
	UserID     string            `json:"user_id"`
	Cohort     string            `json:"cohort"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type ExperimentResponse struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Cohort       string `json:"cohort"`
	Timing       string `json:"timing"`
	Channel      string `json:"channel"`
	Lever        string `json:"lever"`
	Offer        string `json:"offer"`
	Tone         string `json:"tone"`
	Message      string `json:"message"`
	Status       string `json:"status"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// Totals aggregates experiment lifecycle counts across the whole store.
// Each count is cumulative: an experiment that converted still counts as
// created, sent and (if receipted) opened.
type Totals struct {
	Created   int64
	Sent      int64
	Opened    int64
	Converted int64
}

type TotalsResponse struct {
	ExperimentsCreated int64   `json:"experiments_created"`
	MessagesSent       int64   `json:"messages_sent"`
	MessagesOpened     int64   `json:"messages_opened"`
	Conversions        int64   `json:"conversions"`
	ConversionRate     float64 `json:"conversion_rate"`
}

type ComboStatResponse struct {
	Timing         string  `json:"timing"`
	Channel        string  `json:"channel"`
	Lever          string  `json:"lever"`
	Offer          string  `json:"offer"`
	SentCount      int64   `json:"sent_count"`
	ConvertedCount int64   `json:"converted_count"`
	ConversionRate float64 `json:"conversion_rate"`
}

type StatsResponse struct {
	Totals       TotalsResponse      `json:"totals"`
	TopCombos    []ComboStatResponse `json:"top_combos"`
	BottomCombos []ComboStatResponse `json:"bottom_combos"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func comboStatResponse(s domain.ComboStat) ComboStatResponse {
	return ComboStatResponse{
		Timing:         s.Timing,
		Channel:        s.Channel,
		Lever:          s.Lever,
		Offer:          s.Offer,
		SentCount:      s.SentCount,
		ConvertedCount: s.ConvertedCount,
		ConversionRate: s.ConversionRate(),
	}
}

func experimentResponse(exp domain.Experiment, deduplicated bool) ExperimentResponse {
	return ExperimentResponse{
		ID:           exp.ID.String(),
		UserID:       exp.UserID,
		Cohort:       exp.Cohort,
		Timing:       exp.Combination.Timing,
		Channel:      exp.Combination.Channel,
		Lever:        exp.Combination.Lever,
		Offer:        exp.Combination.Offer,
		Tone:         exp.Combination.Tone,
		Message:      exp.Message,
		Status:       string(exp.Status),
		Deduplicated: deduplicated,
		CreatedAt:    formatTime(exp.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
