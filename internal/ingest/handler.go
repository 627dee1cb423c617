package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/llm-cost-tracker/internal/auth"
	"github.com/vnmchuo/llm-cost-tracker/internal/billing"
	"github.com/vnmchuo/llm-cost-tracker/internal/telemetry"
	"github.com/vnmchuo/llm-cost-tracker/internal/usage"
	"github.com/vnmchuo/llm-cost-tracker/pkg/ratelimit"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service *Service
	billing billing.Store
	limiter *ratelimit.Limiter
	metrics *telemetry.Metrics
}

func NewHandler(service *Service, billing billing.Store, limiter *ratelimit.Limiter, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		service: service,
		billing: billing,
		limiter: limiter,
		metrics: metrics,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := auth.GetProjectID(ctx)
	if projectID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid API key"})
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, projectID, 1)
		if err != nil {
			// Fails open.
			telemetry.FromContext(ctx).Warn("ingest: rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			h.metrics.Requests.WithLabelValues(telemetry.StatusRateLimited).Inc()
			retryAfter := h.limiter.RetryAfter()
			w.Header().Set("Retry-After", retryAfter)
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(h.limiter.Limit(), 10))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter + "s",
			})
			return
		}
	}

	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	log, err := h.service.Ingest(ctx, projectID, body)
	if err != nil {
		var verr *usage.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "Validation failed",
				"details": verr.Details,
			})
			return
		}
		telemetry.FromContext(ctx).Error("ingest: failed to record request",
			zap.String("project_id", projectID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"requestId": log.ID,
	})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := auth.GetProjectID(ctx)
	if projectID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid API key"})
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'from' date format (use RFC3339)"})
			return
		}
		from = t
	}

	if s := r.URL.Query().Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'to' date format (use RFC3339)"})
			return
		}
		to = t
	}

	if to.Before(from) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "'to' must not be before 'from'"})
		return
	}

	logs, err := h.billing.GetUsageByProject(ctx, projectID, from, to)
	if err != nil {
		telemetry.FromContext(ctx).Error("usage: failed to list requests", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	totalCost, err := h.billing.GetTotalCostByProject(ctx, projectID, from, to)
	if err != nil {
		telemetry.FromContext(ctx).Error("usage: failed to total cost", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":     projectID,
		"total_requests": len(logs),
		"total_cost":     totalCost,
		"requests":       logs,
		"from":           from,
		"to":             to,
	})
}
