package ingest

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-cost-tracker/internal/billing"
	"github.com/vnmchuo/llm-cost-tracker/internal/telemetry"
	"github.com/vnmchuo/llm-cost-tracker/internal/usage"
)

// Service turns a submitted usage report into a priced, persisted request.
type Service struct {
	pricing billing.PricingStore
	store   billing.Store
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

func NewService(pricing billing.PricingStore, store billing.Store, metrics *telemetry.Metrics, tracer trace.Tracer) *Service {
	return &Service{
		pricing: pricing,
		store:   store,
		metrics: metrics,
		tracer:  tracer,
	}
}

// Ingest validates body, prices it and persists it for projectID.
// Validation failures are returned as *usage.ValidationError before any
// lookup or write happens.
func (s *Service) Ingest(ctx context.Context, projectID string, body io.Reader) (*billing.RequestLog, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.record")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", projectID))

	rec, err := usage.Decode(body)
	if err != nil {
		s.metrics.Requests.WithLabelValues(telemetry.StatusInvalid).Inc()
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("provider", rec.Provider),
		attribute.String("model", rec.Model),
	)

	cost, found, err := billing.PricedCost(ctx, s.pricing, rec.Provider, rec.Model, rec.InputTokens, rec.OutputTokens)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if found {
		s.metrics.PricingLookups.WithLabelValues("hit").Inc()
	} else {
		s.metrics.PricingLookups.WithLabelValues("miss").Inc()
		telemetry.FromContext(ctx).Debug("ingest: no pricing for model, recording zero cost",
			zap.String("provider", rec.Provider),
			zap.String("model", rec.Model),
		)
	}

	log := &billing.RequestLog{
		ProjectID:    projectID,
		Provider:     rec.Provider,
		Model:        rec.Model,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		Cost:         cost,
		LatencyMs:    rec.LatencyMs,
		Status:       rec.Status,
		ErrorMessage: rec.ErrorMessage,
		Tags:         rec.Tags,
	}
	if err := s.store.Insert(ctx, log); err != nil {
		return nil, s.fail(span, err)
	}

	span.SetAttributes(
		attribute.String("request_id", log.ID),
		attribute.Float64("cost_usd", cost),
	)
	s.record(rec, cost)

	telemetry.FromContext(ctx).Info("ingest: request recorded",
		zap.String("project_id", projectID),
		zap.String("record_id", log.ID),
		zap.String("provider", rec.Provider),
		zap.String("model", rec.Model),
		zap.Float64("cost_usd", cost),
	)
	return log, nil
}

func (s *Service) fail(span trace.Span, err error) error {
	s.metrics.Requests.WithLabelValues(telemetry.StatusFailed).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("ingest: %w", err)
}

func (s *Service) record(rec *usage.Record, cost float64) {
	s.metrics.Requests.WithLabelValues(telemetry.StatusAccepted).Inc()
	s.metrics.Tokens.WithLabelValues(rec.Provider, rec.Model, "input").Add(float64(rec.InputTokens))
	s.metrics.Tokens.WithLabelValues(rec.Provider, rec.Model, "output").Add(float64(rec.OutputTokens))
	s.metrics.Cost.WithLabelValues(rec.Provider, rec.Model).Add(cost)
	s.metrics.ReportedLatency.WithLabelValues(rec.Provider).Observe(float64(rec.LatencyMs))
}
