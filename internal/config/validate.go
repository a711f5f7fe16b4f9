package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// STORE_DRIVER must be one of the known drivers
	switch cfg.StoreDriver {
	case "postgres", "sqlite", "memory":
	default:
		errs = append(errs, ValidationError{
			Field:   "STORE_DRIVER",
			Message: fmt.Sprintf("must be 'postgres', 'sqlite' or 'memory', got %q", cfg.StoreDriver),
		})
	}

	// DATABASE_URL is required for the postgres driver
	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required when STORE_DRIVER is 'postgres'",
		})
	}

	errs = append(errs, validateInterval("SWEEP_INTERVAL", cfg.SweepIntervalStr)...)
	errs = append(errs, validateInterval("DISPATCH_INTERVAL", cfg.DispatchIntervalStr)...)
	errs = append(errs, validateInterval("SEND_TIMEOUT", cfg.SendTimeoutStr)...)
	errs = append(errs, validateInterval("DEDUP_WINDOW", cfg.DedupWindowStr)...)

	// EPSILON is a probability
	if cfg.Epsilon < 0 || cfg.Epsilon > 1 {
		errs = append(errs, ValidationError{
			Field:   "EPSILON",
			Message: fmt.Sprintf("must be in [0, 1], got %g", cfg.Epsilon),
		})
	}

	// TIMEZONE must name a loadable IANA location
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "TIMEZONE",
				Message: fmt.Sprintf("unknown timezone: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateInterval checks that a duration string parses and is positive.
func validateInterval(field, value string) ValidationErrors {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return ValidationErrors{{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		}}
	}
	if d <= 0 {
		return ValidationErrors{{
			Field:   field,
			Message: "must be positive",
		}}
	}
	return nil
}
