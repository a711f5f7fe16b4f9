// delivery-sink is a stand-in channel gateway for local testing. Point
// PUSH_GATEWAY_URL (or the whatsapp/sms variants) at /deliver and it will
// verify signatures, count deliveries per channel, and optionally fail
// every Nth request to exercise retries.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type payload struct {
	UserID       string `json:"user_id"`
	ExperimentID string `json:"experiment_id"`
	Channel      string `json:"channel"`
	Message      string `json:"message"`
	QueuedAt     string `json:"queued_at"`
}

type delivery struct {
	Timestamp    string `json:"timestamp"`
	AttemptID    string `json:"attempt_id"`
	ExperimentID string `json:"experiment_id"`
	Channel      string `json:"channel"`
	UserID       string `json:"user_id"`
	Message      string `json:"message"`
}

type stats struct {
	Count          int64            `json:"count"`
	PerChannel     map[string]int64 `json:"per_channel"`
	Rejected       int64            `json:"rejected"`
	Failed         int64            `json:"failed"`
	LastDeliveries []delivery       `json:"last_deliveries"`
	Since          string           `json:"since"`
}

var (
	mu             sync.Mutex
	count          int64
	perChannel     = make(map[string]int64)
	rejected       int64
	failed         int64
	lastDeliveries []delivery
	since          time.Time
	maxStored      = 50

	secret    string
	failEvery int64
)

func main() {
	since = time.Now().UTC()

	addr := ":9100"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	secret = os.Getenv("SECRET")
	if v := os.Getenv("FAIL_EVERY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 1 {
			failEvery = n
			log.Printf("delivery-sink: failing every %d deliveries", n)
		}
	}

	http.HandleFunc("/deliver", deliverHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		perChannel = make(map[string]int64)
		rejected = 0
		failed = 0
		lastDeliveries = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("delivery-sink listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func deliverHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if secret != "" && !verifySignature(secret, body, r.Header.Get("X-Stagexp-Signature")) {
		mu.Lock()
		rejected++
		mu.Unlock()
		log.Printf("delivery rejected: bad signature (attempt=%s)", r.Header.Get("X-Stagexp-Attempt-ID"))
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, `{"error":"bad signature"}`)
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, `{"error":"bad payload"}`)
		return
	}

	d := delivery{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		AttemptID:    r.Header.Get("X-Stagexp-Attempt-ID"),
		ExperimentID: p.ExperimentID,
		Channel:      p.Channel,
		UserID:       p.UserID,
		Message:      p.Message,
	}

	mu.Lock()
	count++
	perChannel[p.Channel]++
	lastDeliveries = append(lastDeliveries, d)
	if len(lastDeliveries) > maxStored {
		lastDeliveries = lastDeliveries[len(lastDeliveries)-maxStored:]
	}
	current := count
	injectFailure := failEvery > 1 && current%failEvery == 0
	if injectFailure {
		failed++
	}
	mu.Unlock()

	if injectFailure {
		log.Printf("delivery #%d: injected failure (channel=%s, attempt=%s)", current, p.Channel, d.AttemptID)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintln(w, `{"error":"injected failure"}`)
		return
	}

	log.Printf("delivery #%d: channel=%s user=%s experiment=%s", current, p.Channel, p.UserID, p.ExperimentID)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	channels := make(map[string]int64, len(perChannel))
	for k, v := range perChannel {
		channels[k] = v
	}
	s := stats{
		Count:          count,
		PerChannel:     channels,
		Rejected:       rejected,
		Failed:         failed,
		LastDeliveries: lastDeliveries,
		Since:          since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

// verifySignature checks the hex HMAC-SHA256 the engine sends in
// X-Stagexp-Signature.
func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
