package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Payload is the JSON body posted to a channel gateway.
type Payload struct {
	UserID       string `json:"user_id"`
	ExperimentID string `json:"experiment_id"`
	Channel      string `json:"channel"`
	Message      string `json:"message"`
	QueuedAt     string `json:"queued_at"`
}

// HTTPAdapter posts messages to per-channel gateway URLs with an HMAC
// signature so gateways can authenticate the engine.
type HTTPAdapter struct {
	gateways map[string]string
	secret   string
	client   *http.Client
	clock    func() time.Time
}

// NewHTTPAdapter builds an adapter over a channel to gateway URL map.
func NewHTTPAdapter(gateways map[string]string, secret string) *HTTPAdapter {
	return &HTTPAdapter{
		gateways: gateways,
		secret:   secret,
		client:   &http.Client{},
		clock:    time.Now,
	}
}

// Deliver posts the message to the channel's gateway.
// Headers: X-Stagexp-Attempt-ID, X-Stagexp-Experiment-ID, X-Stagexp-Signature.
func (a *HTTPAdapter) Deliver(ctx context.Context, req Request) Result {
	start := time.Now()

	url, ok := a.gateways[req.Channel]
	if !ok {
		return Result{Error: fmt.Errorf("%w: %q", ErrNoGateway, req.Channel), Duration: time.Since(start)}
	}

	body, err := json.Marshal(Payload{
		UserID:       req.UserID,
		ExperimentID: req.ExperimentID,
		Channel:      req.Channel,
		Message:      req.Message,
		QueuedAt:     a.clock().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Result{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	signature := computeSignature(a.secret, body)

	timeout := req.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Stagexp-Attempt-ID", req.AttemptID)
	httpReq.Header.Set("X-Stagexp-Experiment-ID", req.ExperimentID)
	httpReq.Header.Set("X-Stagexp-Signature", signature)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Result{Error: fmt.Errorf("deliver: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for gateway implementors to authenticate deliveries.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
