// Package timing maps a combination's timing value to a concrete send time.
package timing

import (
	"fmt"
	"time"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/cron"
)

// "immediate" keeps a short grace delay so a user who converts seconds after
// abandoning is not messaged anyway. Unknown values use fallbackDelay.
const (
	immediateDelay = 2 * time.Minute
	fallbackDelay  = time.Minute
)

// Day-part timings as cron expressions; Next on these handles rolling to the
// following day once the time of day has passed.
const (
	morningExpr = "0 8 * * *"
	eveningExpr = "0 19 * * *"
)

// Planner computes send times for timing values, with day-part values
// evaluated in a fixed timezone.
type Planner struct {
	offsets map[string]time.Duration
	morning cron.Window
	evening cron.Window
}

// NewPlanner builds a Planner for the given IANA timezone name.
func NewPlanner(timezone string) (*Planner, error) {
	parser := cron.NewParser()
	morning, err := parser.Parse(morningExpr, timezone)
	if err != nil {
		return nil, fmt.Errorf("parse morning window: %w", err)
	}
	evening, err := parser.Parse(eveningExpr, timezone)
	if err != nil {
		return nil, fmt.Errorf("parse evening window: %w", err)
	}

	return &Planner{
		offsets: map[string]time.Duration{
			"immediate": immediateDelay,
			"15m":       15 * time.Minute,
			"1h":        time.Hour,
			"4h":        4 * time.Hour,
		},
		morning: morning,
		evening: evening,
	}, nil
}

// SendAt returns when a send with the given timing value should go out.
func (p *Planner) SendAt(timing string, now time.Time) time.Time {
	if d, ok := p.offsets[timing]; ok {
		return now.Add(d)
	}
	switch timing {
	case "next_morning":
		return p.morning.Next(now)
	case "next_evening":
		return p.evening.Next(now)
	}
	return now.Add(fallbackDelay)
}
