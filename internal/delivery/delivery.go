// Package delivery hands composed messages to the channel gateways that
// actually reach users (push provider, WhatsApp bridge, SMS aggregator).
package delivery

import (
	"context"
	"errors"
	"time"
)

// ErrNoGateway means the channel has no configured gateway URL. Retrying
// cannot help until the configuration changes, so the failure is permanent.
var ErrNoGateway = errors.New("no gateway configured for channel")

// Request carries everything a gateway needs to deliver one message.
type Request struct {
	UserID       string
	ExperimentID string
	Channel      string
	Message      string
	AttemptID    string
	Timeout      time.Duration
}

// Result is the outcome of one delivery attempt.
type Result struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

// OK reports whether the attempt succeeded.
func (r Result) OK() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Retryable reports whether a later attempt could still succeed. Transport
// errors, throttling and server-side failures are retryable; a missing
// gateway or any other status is a permanent rejection.
func (r Result) Retryable() bool {
	if errors.Is(r.Error, ErrNoGateway) {
		return false
	}
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 408 || r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

// Adapter delivers a message through whatever sits behind the channel.
type Adapter interface {
	Deliver(ctx context.Context, req Request) Result
}
