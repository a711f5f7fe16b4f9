package rules

import "fmt"

// ValidationError describes one problem with a rule set.
type ValidationError struct {
	Subject string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Subject, e.Message)
}

// ValidationErrors is a collection of rule-set validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d rule validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// validate checks structural soundness at load time. Runtime gaps (a rule
// naming a cohort with no catalog entry, an unknown lever) are handled by
// lookup fallbacks instead and are deliberately not errors here.
func (rs *Ruleset) validate() error {
	var errs ValidationErrors

	for event, rule := range rs.rules {
		switch rule.Kind {
		case RuleImmediate:
			if rule.Cohort == "" {
				errs = append(errs, ValidationError{event, "immediate rule requires cohort"})
			}
			if rule.FollowUp != "" || rule.Timeout != 0 || rule.CohortIfMissing != "" {
				errs = append(errs, ValidationError{event, "immediate rule must not set follow_up, timeout or cohort_if_missing"})
			}
		case RuleWait:
			if rule.FollowUp == "" {
				errs = append(errs, ValidationError{event, "wait rule requires follow_up"})
			}
			if rule.Timeout <= 0 {
				errs = append(errs, ValidationError{event, "wait rule requires a positive timeout"})
			}
			if rule.CohortIfMissing == "" {
				errs = append(errs, ValidationError{event, "wait rule requires cohort_if_missing"})
			}
			if rule.Cohort != "" {
				errs = append(errs, ValidationError{event, "wait rule must not set cohort"})
			}
		default:
			errs = append(errs, ValidationError{event, fmt.Sprintf("unknown rule kind %q", rule.Kind)})
		}
	}

	def, ok := rs.cohorts[DefaultCohort]
	if !ok {
		errs = append(errs, ValidationError{"cohorts", "default cohort is required"})
	} else {
		errs = append(errs, validateCatalog(DefaultCohort, def)...)
	}
	for name, c := range rs.cohorts {
		if name == DefaultCohort {
			continue
		}
		errs = append(errs, validateCatalog(name, c)...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateCatalog(name string, c Catalog) ValidationErrors {
	var errs ValidationErrors
	sets := []struct {
		field  string
		values []string
	}{
		{"timings", c.Timings},
		{"channels", c.Channels},
		{"levers", c.Levers},
		{"offers", c.Offers},
		{"tones", c.Tones},
	}
	for _, s := range sets {
		if len(s.values) == 0 {
			errs = append(errs, ValidationError{
				Subject: "cohort " + name,
				Message: s.field + " must not be empty",
			})
		}
	}
	return errs
}
