// Package cron parses the five-field cron expressions behind day-part send
// windows and evaluates them on the wall clock of a fixed IANA timezone.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser turns expressions like "0 8 * * *" into timezone-aware windows.
type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse builds a Window from a five-field expression. Next times are computed
// in the given timezone, so an 08:00 window means 08:00 local regardless of
// where the engine runs.
func (p *Parser) Parse(expression string, timezone string) (Window, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &window{sched: sched, loc: loc}, nil
}

// Window is a recurring local-time send window.
type Window interface {
	// Next returns the first window opening strictly after the given time.
	Next(after time.Time) time.Time
}

type window struct {
	sched cron.Schedule
	loc   *time.Location
}

func (w *window) Next(after time.Time) time.Time {
	return w.sched.Next(after.In(w.loc))
}
