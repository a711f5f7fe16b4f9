// Package rules holds the immutable event-rule and treatment-catalog
// configuration: which funnel events wait for a follow-up, which trigger an
// experiment immediately, which count as conversions, and the per-cohort
// value sets the selector and composer draw from.
//
// The configuration is loaded once at startup (embedded defaults or an
// override file) and validated before any loop starts. Unknown cohorts,
// levers, offers and tones are resolved through explicit fallbacks at
// lookup time, never at load time.
package rules

import (
	"sort"
	"time"
)

type RuleKind string

const (
	// RuleImmediate creates an experiment as soon as the event arrives.
	RuleImmediate RuleKind = "immediate"
	// RuleWait opens a journey that expects a follow-up event before a deadline.
	RuleWait RuleKind = "wait"
)

// Rule is the tagged event-rule variant. An immediate rule carries only the
// target cohort; a wait rule carries the expected follow-up event type, the
// deadline timeout, and the cohort assigned when the follow-up never arrives.
type Rule struct {
	Event string
	Kind  RuleKind

	// Immediate rules.
	Cohort string

	// Wait rules.
	FollowUp        string
	Timeout         time.Duration
	CohortIfMissing string
}

// Catalog is one cohort's allowed value sets.
type Catalog struct {
	Timings  []string
	Channels []string
	Levers   []string
	Offers   []string
	Tones    []string
}

// Contains reports whether the catalog allows every non-tone component of the
// given four values.
func (c Catalog) Contains(timing, channel, lever, offer string) bool {
	return contains(c.Timings, timing) &&
		contains(c.Channels, channel) &&
		contains(c.Levers, lever) &&
		contains(c.Offers, offer)
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// DefaultCohort is the catalog used for cohorts with no entry of their own.
const DefaultCohort = "default"

// GenericTemplate is the message template for levers with no template set.
const GenericTemplate = "{name}, you left something unfinished. Come back and pick up where you stopped."

// GenericCTA is the call-to-action for offers with no entry of their own.
const GenericCTA = "Come back and finish what you started."

// Ruleset is the validated, immutable rule and catalog configuration.
type Ruleset struct {
	rules       map[string]Rule
	conversions map[string]struct{}
	cohorts     map[string]Catalog
	templates   map[string][]string
	ctas        map[string]string

	// followUpSources[e] lists the event types whose wait rule expects e.
	followUpSources map[string][]string
}

// RuleFor returns the rule configured for an event type, if any.
func (rs *Ruleset) RuleFor(eventType string) (Rule, bool) {
	r, ok := rs.rules[eventType]
	return r, ok
}

// IsConversion reports whether an event type is a conversion terminal.
func (rs *Ruleset) IsConversion(eventType string) bool {
	_, ok := rs.conversions[eventType]
	return ok
}

// FollowUpSources returns the event types whose wait rule expects the given
// event type as its follow-up. The tracker uses this to resolve open journeys
// when the follow-up arrives.
func (rs *Ruleset) FollowUpSources(eventType string) []string {
	return rs.followUpSources[eventType]
}

// CatalogFor returns the cohort's value sets, falling back to the default
// cohort for unrecognized names.
func (rs *Ruleset) CatalogFor(cohort string) Catalog {
	if c, ok := rs.cohorts[cohort]; ok {
		return c
	}
	return rs.cohorts[DefaultCohort]
}

// TemplatesFor returns the lever's template set, falling back to the generic
// template for unrecognized levers.
func (rs *Ruleset) TemplatesFor(lever string) []string {
	if ts, ok := rs.templates[lever]; ok && len(ts) > 0 {
		return ts
	}
	return []string{GenericTemplate}
}

// CTAFor returns the offer's call-to-action string, falling back to the
// generic string for unrecognized offers.
func (rs *Ruleset) CTAFor(offer string) string {
	if cta, ok := rs.ctas[offer]; ok {
		return cta
	}
	return GenericCTA
}

// Rules returns all configured rules keyed by event type. The map must not
// be mutated.
func (rs *Ruleset) Rules() map[string]Rule {
	return rs.rules
}

// Cohorts returns the configured cohort names in sorted order.
func (rs *Ruleset) Cohorts() []string {
	names := make([]string, 0, len(rs.cohorts))
	for name := range rs.cohorts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
