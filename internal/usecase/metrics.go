package usecase

import (
	"context"
	"errors"
)

// ErrAttemptLogDisabled is returned by GetMetricsSummary when no attempt log is configured.
var ErrAttemptLogDisabled = errors.New("submission attempt log is disabled")

// MetricsSummary represents aggregated submission insights.
type MetricsSummary struct {
	TotalRequests              int64   `json:"total_requests"`
	SuccessfulRequests         int64   `json:"successful_requests"`
	SuccessRate                float64 `json:"success_rate"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates submission metrics from persisted attempts.
func (uc *ScreeningUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.attempts == nil {
		return nil, ErrAttemptLogDisabled
	}
	aggregation, err := uc.attempts.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		SuccessfulRequests:         aggregation.SuccessCount,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
