// Package forecast defines the forecasting algorithms, the structures
// describing a forecast run, and the functions for computing forecasts.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/datetime"
	"github.com/iwvelando/sales-forecast/pkg/mathutil"
	"go.uber.org/zap"
)

// Request selects what to forecast.
type Request struct {
	Algorithm  string        `json:"algorithm"`
	Parameters ParameterSet  `json:"parameters,omitempty"`
	Horizon    int           `json:"horizon,omitempty"`
	Start      string        `json:"start,omitempty"`
	Filter     series.Filter `json:"filter,omitempty"`
}

// Forecast holds all information related to a single forecast run.
type Forecast struct {
	ID         string         `json:"id"`
	Generation uint64         `json:"generation,omitempty"`
	Algorithm  string         `json:"algorithm"`
	Parameters ParameterSet   `json:"parameters"`
	Filter     series.Filter  `json:"filter,omitempty"`
	Start      string         `json:"start"`
	History    []series.Point `json:"history"`
	Training   []series.Point `json:"-"`
	Points     []Point        `json:"points"`
	Warnings   []string       `json:"warnings,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// StartPeriod returns the parsed start period, or the zero period when the
// forecast has none.
func (f Forecast) StartPeriod() datetime.Period {
	p, err := datetime.ParsePeriod(f.Start)
	if err != nil {
		return datetime.Period{}
	}
	return p
}

// GetForecast aggregates observations under the request's filter, truncates
// the series to the window before the start period and runs the selected
// algorithm over it. A failed run returns a forecast with no points alongside
// the error, never a partial sequence.
func GetForecast(ctx context.Context, logger *zap.Logger, registry *Registry, observations []series.Observation, req Request) (Forecast, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	name := req.Algorithm
	if name == "" {
		name = constants.DefaultAlgorithm
	}
	result := Forecast{
		ID:        uuid.NewString(),
		Algorithm: name,
		Filter:    req.Filter,
		Points:    []Point{},
	}

	alg, err := registry.Lookup(name)
	if err != nil {
		return result, err
	}
	desc, _ := registry.Descriptor(name)

	params := req.Parameters.Merge(desc.Defaults())
	if req.Horizon > 0 {
		params = params.WithHorizon(req.Horizon)
	}
	result.Warnings = desc.Validate(params)
	params, bounded := desc.Bound(params)
	result.Warnings = append(result.Warnings, bounded...)
	result.Parameters = params
	for _, warning := range result.Warnings {
		logger.Warn(warning,
			zap.String("op", "forecast.GetForecast"),
			zap.String("id", result.ID),
		)
	}

	result.History = series.Aggregate(observations, req.Filter)
	start, err := series.ResolveStart(result.History, req.Start)
	if err != nil {
		return result, err
	}
	if start.IsZero() {
		logger.Debug("no observations match the filter, skipping forecast",
			zap.String("op", "forecast.GetForecast"),
			zap.String("id", result.ID),
			zap.String("filter", req.Filter.String()),
		)
		result.Training = []series.Point{}
		return result, nil
	}
	result.Start = start.Key()
	result.Training = series.Truncate(result.History, result.Start)

	began := time.Now()
	points, err := run(ctx, alg, result.Training, params, start)
	result.Duration = time.Since(began)
	if err != nil {
		logger.Error("forecast run failed",
			zap.String("op", "forecast.GetForecast"),
			zap.String("id", result.ID),
			zap.String("algorithm", name),
			zap.Error(err),
		)
		return result, err
	}
	result.Points = points

	logger.Debug(fmt.Sprintf("computed %d forecast points", len(points)),
		zap.String("op", "forecast.GetForecast"),
		zap.String("id", result.ID),
		zap.String("algorithm", name),
		zap.String("start", result.Start),
		zap.Int("training_points", len(result.Training)),
	)
	return result, nil
}

// run executes one algorithm invocation over a private copy of training.
// Any failure other than cancellation is reported as ErrComputation.
func run(ctx context.Context, alg Algorithm, training []series.Point, params ParameterSet, start datetime.Period) (points []Point, err error) {
	ctx, span := startRunSpan(ctx, alg.Name(), params.Horizon(), len(training))
	began := time.Now()
	defer func() {
		if r := recover(); r != nil {
			points, err = nil, fmt.Errorf("%w: %v", ErrComputation, r)
		}
		if err != nil {
			points = nil
		}
		recordRun(span, alg.Name(), time.Since(began), len(points), err)
		span.End()
		if err == nil && points == nil {
			points = []Point{}
		}
	}()

	points, err = alg.Forecast(ctx, series.Clone(training), params.Clone(), start)
	if err != nil && !isCancellation(err) && !errors.Is(err, ErrComputation) {
		err = fmt.Errorf("%w: %v", ErrComputation, err)
	}
	if err == nil {
		for _, p := range points {
			if !mathutil.IsFinite(p.Value) {
				return nil, fmt.Errorf("%w: non-finite value at %s", ErrComputation, p.Period)
			}
		}
	}
	return points, err
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
