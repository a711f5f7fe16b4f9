package api

import "fmt"

func validateIngestEvent(req IngestEventRequest) error {
	if req.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	return nil
}

func validateTriggerExperiment(req TriggerExperimentRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if req.Cohort == "" {
		return fmt.Errorf("cohort is required")
	}
	return nil
}
