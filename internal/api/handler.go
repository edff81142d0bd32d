package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/mindgains/orchestrator/internal/auth"
	"github.com/mindgains/orchestrator/internal/orchestrator"
	"github.com/mindgains/orchestrator/internal/provider"
	"github.com/mindgains/orchestrator/internal/usage"
	"github.com/mindgains/orchestrator/pkg/ratelimit"
)

const (
	DefaultMaxBatchSize = 50
	maxBodyBytes        = 1 << 20
)

// Engine is the orchestration surface the HTTP handlers need.
type Engine interface {
	Execute(ctx context.Context, req orchestrator.TaskRequest) orchestrator.TaskResult
	ExecuteBatch(ctx context.Context, reqs []orchestrator.TaskRequest) []orchestrator.TaskResult
	HealthCheck(ctx context.Context) map[provider.ID]bool
	ModelStats() map[provider.ID]orchestrator.ProviderConfig
}

type Handler struct {
	engine       Engine
	usage        usage.Store
	limiter      *ratelimit.Limiter
	tracer       trace.Tracer
	logger       *zap.Logger
	maxBatchSize int
}

// NewHandler builds the task handlers. limiter may be nil to disable rate
// limiting; a nil store keeps usage in memory.
func NewHandler(engine Engine, store usage.Store, limiter *ratelimit.Limiter, tracer trace.Tracer, logger *zap.Logger, maxBatchSize int) *Handler {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	if store == nil {
		store = usage.NewMemoryStore()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("api")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:       engine,
		usage:        store,
		limiter:      limiter,
		tracer:       tracer,
		logger:       logger,
		maxBatchSize: maxBatchSize,
	}
}

type batchRequest struct {
	Requests []orchestrator.TaskRequest `json:"requests"`
}

type batchResponse struct {
	Results []orchestrator.TaskResult `json:"results"`
}

func (h *Handler) HandleTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "api.task")
	defer span.End()

	var req orchestrator.TaskRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	span.SetAttributes(attribute.String("task", req.Category.String()))

	if !h.allow(ctx, w, requestTokens(req)) {
		return
	}

	result := h.engine.Execute(ctx, req)
	h.record(ctx, req, result)

	status := http.StatusOK
	switch {
	case errors.Is(result.Err, orchestrator.ErrInvalidRequest):
		status = http.StatusBadRequest
	case !result.Success:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "api.batch")
	defer span.End()

	var body batchRequest
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if n := len(body.Requests); n == 0 || n > h.maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch must contain between 1 and %d requests", h.maxBatchSize))
		return
	}
	span.SetAttributes(attribute.Int("batch_size", len(body.Requests)))

	tokens := 0
	for _, req := range body.Requests {
		tokens += requestTokens(req)
	}
	if !h.allow(ctx, w, tokens) {
		return
	}

	results := h.engine.ExecuteBatch(ctx, body.Requests)
	for i, res := range results {
		h.record(ctx, body.Requests[i], res)
	}
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func (h *Handler) HandleProviderHealth(w http.ResponseWriter, r *http.Request) {
	health := h.engine.HealthCheck(r.Context())

	healthy := 0
	for _, ok := range health {
		if ok {
			healthy++
		}
	}
	status := http.StatusOK
	if healthy == 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"providers": health,
		"healthy":   healthy,
	})
}

func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.engine.ModelStats()})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := auth.GetClientID(ctx)

	// Default: last 30 days
	now := time.Now()
	from, to := now.AddDate(0, 0, -30), now
	var err error
	if s := r.URL.Query().Get("from"); s != "" {
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'from' date format (use RFC3339)")
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'to' date format (use RFC3339)")
			return
		}
	}

	records, err := h.usage.ListByClient(ctx, clientID, from, to)
	if err != nil {
		h.logger.Error("usage query failed", zap.Error(err), zap.String("request_id", auth.GetRequestID(ctx)))
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	summary, err := h.usage.SummarizeByClient(ctx, clientID, from, to)
	if err != nil {
		h.logger.Error("usage summary failed", zap.Error(err), zap.String("request_id", auth.GetRequestID(ctx)))
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"client_id": clientID,
		"summary":   summary,
		"records":   records,
		"from":      from,
		"to":        to,
	})
}

func (h *Handler) allow(ctx context.Context, w http.ResponseWriter, tokens int) bool {
	if h.limiter == nil {
		return true
	}
	clientID := auth.GetClientID(ctx)
	allowed, err := h.limiter.AllowWithLimit(ctx, clientID, tokens, auth.GetRateLimit(ctx))
	if err != nil {
		h.logger.Warn("rate limit check failed", zap.String("client_id", clientID), zap.Error(err))
	}
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return false
	}
	return true
}

// record writes the usage entry in the background so the ledger never
// delays the response.
func (h *Handler) record(ctx context.Context, req orchestrator.TaskRequest, res orchestrator.TaskResult) {
	cfg := h.engine.ModelStats()[res.Provider]
	rec := &usage.Record{
		ClientID:        auth.GetClientID(ctx),
		RequestID:       auth.GetRequestID(ctx),
		TaskType:        req.Category.String(),
		Provider:        res.Provider.String(),
		Model:           cfg.Model,
		Success:         res.Success,
		FallbackUsed:    res.FallbackUsed,
		EstimatedTokens: res.EstimatedTokens,
		LatencyMs:       res.Duration.Milliseconds(),
	}
	if res.Success {
		rec.CostUSD = cfg.CostPerRequest
	}
	go func() {
		if err := h.usage.Log(context.Background(), rec); err != nil {
			h.logger.Warn("failed to record usage", zap.String("request_id", rec.RequestID), zap.Error(err))
		}
	}()
}

// requestTokens is the rate-limit charge for a request: the prompt estimate
// plus the completion budget.
func requestTokens(req orchestrator.TaskRequest) int {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = orchestrator.DefaultMaxTokens
	}
	return orchestrator.EstimateTokens(req.Prompt) + maxTokens
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
