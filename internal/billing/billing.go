package billing

import (
	"context"
	"errors"
	"time"
)

var ErrPriceNotFound = errors.New("price not found")

// PriceEntry holds per-1000-token rates in USD for one provider/model pair.
type PriceEntry struct {
	Provider        string  `json:"provider"         yaml:"provider"`
	Model           string  `json:"model"            yaml:"model"`
	InputCostPer1k  float64 `json:"input_cost_per_1k"  yaml:"input_cost_per_1k"`
	OutputCostPer1k float64 `json:"output_cost_per_1k" yaml:"output_cost_per_1k"`
}

// RequestLog is a persisted, priced usage record. Written once, never updated.
type RequestLog struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	InputTokens  int64          `json:"input_tokens"`
	OutputTokens int64          `json:"output_tokens"`
	Cost         float64        `json:"cost"`
	LatencyMs    int64          `json:"latency_ms"`
	Status       string         `json:"status"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	Tags         map[string]any `json:"tags,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type PricingStore interface {
	GetPrice(ctx context.Context, provider, model string) (*PriceEntry, error)
}

// PricingReplacer swaps the whole pricing table in one step.
type PricingReplacer interface {
	ReplaceAll(ctx context.Context, entries []PriceEntry) error
}

type Store interface {
	Insert(ctx context.Context, log *RequestLog) error
	GetUsageByProject(ctx context.Context, projectID string, from, to time.Time) ([]*RequestLog, error)
	GetTotalCostByProject(ctx context.Context, projectID string, from, to time.Time) (float64, error)
}
