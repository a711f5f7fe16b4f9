package rules

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// fileRule is the on-disk rule shape; Timeout is a duration string ("30m").
type fileRule struct {
	Kind            string `yaml:"kind"`
	Cohort          string `yaml:"cohort"`
	FollowUp        string `yaml:"follow_up"`
	Timeout         string `yaml:"timeout"`
	CohortIfMissing string `yaml:"cohort_if_missing"`
}

type fileCatalog struct {
	Timings  []string `yaml:"timings"`
	Channels []string `yaml:"channels"`
	Levers   []string `yaml:"levers"`
	Offers   []string `yaml:"offers"`
	Tones    []string `yaml:"tones"`
}

type fileRuleset struct {
	Rules       map[string]fileRule    `yaml:"rules"`
	Conversions []string               `yaml:"conversions"`
	Cohorts     map[string]fileCatalog `yaml:"cohorts"`
	Templates   map[string][]string    `yaml:"templates"`
	CTAs        map[string]string      `yaml:"ctas"`
}

// LoadDefault parses the embedded default rule set.
func LoadDefault() (*Ruleset, error) {
	return Parse(defaultsYAML)
}

// LoadFile parses a rule set from a YAML file.
func LoadFile(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}

// Load returns the rule set from path, or the embedded defaults when path is
// empty.
func Load(path string) (*Ruleset, error) {
	if path == "" {
		return LoadDefault()
	}
	return LoadFile(path)
}

// Parse decodes and validates a YAML rule set.
func Parse(data []byte) (*Ruleset, error) {
	var raw fileRuleset
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rs := &Ruleset{
		rules:           make(map[string]Rule, len(raw.Rules)),
		conversions:     make(map[string]struct{}, len(raw.Conversions)),
		cohorts:         make(map[string]Catalog, len(raw.Cohorts)),
		templates:       raw.Templates,
		ctas:            raw.CTAs,
		followUpSources: make(map[string][]string),
	}
	if rs.templates == nil {
		rs.templates = map[string][]string{}
	}
	if rs.ctas == nil {
		rs.ctas = map[string]string{}
	}

	for event, fr := range raw.Rules {
		rule := Rule{
			Event:           event,
			Kind:            RuleKind(fr.Kind),
			Cohort:          fr.Cohort,
			FollowUp:        fr.FollowUp,
			CohortIfMissing: fr.CohortIfMissing,
		}
		if fr.Timeout != "" {
			d, err := time.ParseDuration(fr.Timeout)
			if err != nil {
				return nil, fmt.Errorf("rule %s: invalid timeout %q: %w", event, fr.Timeout, err)
			}
			rule.Timeout = d
		}
		rs.rules[event] = rule
		if rule.Kind == RuleWait && rule.FollowUp != "" {
			rs.followUpSources[rule.FollowUp] = append(rs.followUpSources[rule.FollowUp], event)
		}
	}

	for _, ev := range raw.Conversions {
		rs.conversions[ev] = struct{}{}
	}

	for name, fc := range raw.Cohorts {
		rs.cohorts[name] = Catalog{
			Timings:  fc.Timings,
			Channels: fc.Channels,
			Levers:   fc.Levers,
			Offers:   fc.Offers,
			Tones:    fc.Tones,
		}
	}

	if err := rs.validate(); err != nil {
		return nil, err
	}
	return rs, nil
}
