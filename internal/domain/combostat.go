package domain

import "time"

// ComboStat is the running aggregate outcome for one combination key.
// Counts only ever increase; converted never exceeds sent because a
// conversion is attributed only to an experiment that was already delivered.
type ComboStat struct {
	Key string

	Timing  string
	Channel string
	Lever   string
	Offer   string

	SentCount      int64
	ConvertedCount int64

	UpdatedAt time.Time
}

// ConversionRate returns converted/sent, or 0 for a key with no sends.
func (s ComboStat) ConversionRate() float64 {
	if s.SentCount == 0 {
		return 0
	}
	return float64(s.ConvertedCount) / float64(s.SentCount)
}
