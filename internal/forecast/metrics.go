package forecast

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("sales-forecast.forecast")

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_forecast_runs_total",
		Help: "Forecast runs by algorithm and result",
	}, []string{"algorithm", "result"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sales_forecast_run_duration_seconds",
		Help:    "Duration of forecast runs",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"algorithm"})

	supersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_forecast_superseded_runs_total",
		Help: "Forecast runs discarded because a newer request replaced them",
	})
)

// Run results recorded in runsTotal.
const (
	resultSuccess   = "success"
	resultEmpty     = "empty"
	resultFailure   = "failure"
	resultCancelled = "cancelled"
)

func startRunSpan(ctx context.Context, algorithm string, horizon, trainingPoints int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "forecast.Run",
		trace.WithAttributes(
			attribute.String("forecast.algorithm", algorithm),
			attribute.Int("forecast.horizon", horizon),
			attribute.Int("forecast.training_points", trainingPoints),
		),
	)
}

// recordRun classifies the outcome of a run and records it on the span and
// the run metrics.
func recordRun(span trace.Span, algorithm string, duration time.Duration, points int, err error) {
	result := resultSuccess
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = resultCancelled
	case err != nil:
		result = resultFailure
	case points == 0:
		result = resultEmpty
	}

	span.SetAttributes(
		attribute.Int("forecast.points", points),
		attribute.String("forecast.result", result),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	runsTotal.WithLabelValues(algorithm, result).Inc()
	runDuration.WithLabelValues(algorithm).Observe(duration.Seconds())
}
