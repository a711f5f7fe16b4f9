package delivery

import (
	"context"
	"log"
	"net/http"
	"time"
)

// LogAdapter writes deliveries to the process log instead of a gateway.
// Used in development and as a safe default when no gateways are configured.
type LogAdapter struct{}

func NewLogAdapter() *LogAdapter {
	return &LogAdapter{}
}

func (a *LogAdapter) Deliver(ctx context.Context, req Request) Result {
	start := time.Now()
	log.Printf("delivery: [%s] user=%s experiment=%s message=%q",
		req.Channel, req.UserID, req.ExperimentID, req.Message)
	return Result{StatusCode: http.StatusOK, Duration: time.Since(start)}
}
