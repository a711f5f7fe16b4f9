package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/domain"
	"github.com/shubhamsingla-netizen/stage-experiment-engine/internal/store"
)

// Stats query defaults and limits.
const (
	DefaultTopN      = 5
	MaxTopN          = 50
	DefaultMinSample = 1
)

type Store interface {
	ExperimentTotals(ctx context.Context) (Totals, error)
	ListComboStats(ctx context.Context) ([]domain.ComboStat, error)
	// MarkExperimentOpened moves a sent experiment to opened. A pending or
	// already-terminal experiment yields store.ErrStatusTransitionDenied.
	MarkExperimentOpened(ctx context.Context, id uuid.UUID, at time.Time) error
}

// EventBus accepts ingested events for asynchronous processing.
type EventBus interface {
	Emit(ctx context.Context, event domain.Event) error
}

type ExperimentFactory interface {
	Create(ctx context.Context, userID, cohort string, attrs map[string]string) (domain.Experiment, bool, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type MetricsSink interface {
	EventDropped()
}

type Handler struct {
	store   Store
	bus     EventBus
	factory ExperimentFactory
	db      HealthChecker
	metrics MetricsSink
	clock   func() time.Time
}

func NewHandler(st Store, bus EventBus, factory ExperimentFactory) *Handler {
	return &Handler{
		store:   st,
		bus:     bus,
		factory: factory,
		clock:   time.Now,
	}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) WithMetrics(sink MetricsSink) *Handler {
	h.metrics = sink
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/events" && r.Method == http.MethodPost:
		h.ingestEvent(w, r)

	case path == "/experiments" && r.Method == http.MethodPost:
		h.triggerExperiment(w, r)

	case strings.HasSuffix(path, "/opened") && r.Method == http.MethodPost:
		h.markOpened(w, r)

	case path == "/stats" && r.Method == http.MethodGet:
		h.stats(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		// Simple health check - just return ok
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	// Verbose health check - check all components
	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	// Check database connectivity with timeout
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	// Return appropriate status code based on health
	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent DoS via large payloads
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req IngestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateIngestEvent(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Events without a user cannot join any journey. They are acknowledged
	// and dropped so upstream batchers never retry them.
	if req.UserID == "" {
		log.Printf("api: dropping %s event without user_id", req.EventType)
		if h.metrics != nil {
			h.metrics.EventDropped()
		}
		writeJSON(w, http.StatusAccepted, IngestEventResponse{Status: "accepted"})
		return
	}

	now := h.clock().UTC()
	eventTime := req.EventTime
	if eventTime.IsZero() {
		eventTime = now
	}

	event := domain.Event{
		ID:         uuid.New(),
		UserID:     req.UserID,
		Type:       req.EventType,
		EventTime:  eventTime,
		Attributes: req.Attributes,
		ReceivedAt: now,
	}

	if err := h.bus.Emit(r.Context(), event); err != nil {
		log.Printf("api: emit event error: %v", err)
		writeError(w, http.StatusServiceUnavailable, "event buffer full, retry later")
		return
	}

	writeJSON(w, http.StatusAccepted, IngestEventResponse{Status: "accepted"})
}

func (h *Handler) triggerExperiment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req TriggerExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateTriggerExperiment(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	exp, created, err := h.factory.Create(r.Context(), req.UserID, req.Cohort, req.Attributes)
	if err != nil {
		log.Printf("api: trigger experiment error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create experiment")
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, experimentResponse(exp, !created))
}

func (h *Handler) markOpened(w http.ResponseWriter, r *http.Request) {
	// Extract experiment ID from path: /experiments/{id}/opened
	path := r.URL.Path
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "experiments" || parts[2] != "opened" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	experimentID, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid experiment id")
		return
	}

	if err := h.store.MarkExperimentOpened(r.Context(), experimentID, h.clock().UTC()); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "experiment not found")
		case errors.Is(err, store.ErrStatusTransitionDenied):
			writeError(w, http.StatusConflict, "experiment is not in sent status")
		default:
			log.Printf("api: mark opened error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to mark experiment opened")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	n, minSample, err := parseStatsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	totals, err := h.store.ExperimentTotals(r.Context())
	if err != nil {
		log.Printf("api: experiment totals error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	stats, err := h.store.ListComboStats(r.Context())
	if err != nil {
		log.Printf("api: list combo stats error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	var eligible []domain.ComboStat
	for _, s := range stats {
		if s.SentCount >= minSample {
			eligible = append(eligible, s)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		ri, rj := eligible[i].ConversionRate(), eligible[j].ConversionRate()
		if ri != rj {
			return ri > rj
		}
		return eligible[i].Key < eligible[j].Key
	})

	resp := StatsResponse{
		Totals:       totalsResponse(totals),
		TopCombos:    comboStatResponses(firstN(eligible, n)),
		BottomCombos: comboStatResponses(lastN(eligible, n)),
	}

	writeJSON(w, http.StatusOK, resp)
}

func totalsResponse(t Totals) TotalsResponse {
	resp := TotalsResponse{
		ExperimentsCreated: t.Created,
		MessagesSent:       t.Sent,
		MessagesOpened:     t.Opened,
		Conversions:        t.Converted,
	}
	if t.Sent > 0 {
		resp.ConversionRate = float64(t.Converted) / float64(t.Sent)
	}
	return resp
}

func comboStatResponses(stats []domain.ComboStat) []ComboStatResponse {
	resp := make([]ComboStatResponse, len(stats))
	for i, s := range stats {
		resp[i] = comboStatResponse(s)
	}
	return resp
}

func firstN(stats []domain.ComboStat, n int) []domain.ComboStat {
	if len(stats) > n {
		return stats[:n]
	}
	return stats
}

// lastN returns the final n entries worst-first.
func lastN(stats []domain.ComboStat, n int) []domain.ComboStat {
	if len(stats) > n {
		stats = stats[len(stats)-n:]
	}
	out := make([]domain.ComboStat, len(stats))
	for i, s := range stats {
		out[len(stats)-1-i] = s
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parseStatsQuery extracts and validates the n/min_sample query parameters.
// Returns DefaultTopN and DefaultMinSample for unspecified values.
func parseStatsQuery(r *http.Request) (n int, minSample int64, err error) {
	n = DefaultTopN
	minSample = DefaultMinSample

	if nStr := r.URL.Query().Get("n"); nStr != "" {
		n, err = strconv.Atoi(nStr)
		if err != nil {
			return 0, 0, err
		}
		if n < 0 {
			return 0, 0, strconv.ErrRange
		}
		if n > MaxTopN {
			return 0, 0, &topNExceededError{max: MaxTopN}
		}
		if n == 0 {
			n = DefaultTopN
		}
	}

	if msStr := r.URL.Query().Get("min_sample"); msStr != "" {
		minSample, err = strconv.ParseInt(msStr, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		if minSample < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return n, minSample, nil
}

type topNExceededError struct {
	max int
}

func (e *topNExceededError) Error() string {
	return "n exceeds maximum of " + strconv.Itoa(e.max)
}
