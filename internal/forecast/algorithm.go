package forecast

import (
	"context"
	"errors"

	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/datetime"
	"github.com/iwvelando/sales-forecast/pkg/mathutil"
)

// KindPredicted marks a point produced by an algorithm.
const KindPredicted = "predicted"

var (
	// ErrUnknownAlgorithm is returned when no algorithm is registered under a name.
	ErrUnknownAlgorithm = errors.New("unknown forecast algorithm")

	// ErrComputation signals an unexpected numeric failure during a run. No
	// points are published for a run that fails this way.
	ErrComputation = errors.New("forecast computation failed")

	// ErrInsufficientHistory is returned by backtests when the series is too
	// short to hold out a window and still produce a forecast.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrSuperseded is reported for a run replaced by a newer request.
	ErrSuperseded = errors.New("forecast run superseded by a newer request")
)

// Point is one forecast month.
type Point struct {
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Period string  `json:"period"`
	Value  float64 `json:"value"`
	Kind   string  `json:"kind"`
}

// PeriodValue returns the calendar month of the point.
func (p Point) PeriodValue() datetime.Period {
	return datetime.Period{Year: p.Year, Month: p.Month}
}

// Algorithm produces a forecast from a training series. Implementations
// must treat training as read-only and return either a complete sequence
// of Horizon points or none at all.
type Algorithm interface {
	Name() string
	Forecast(ctx context.Context, training []series.Point, params ParameterSet, start datetime.Period) ([]Point, error)
}

// newPoint builds the predicted point i steps (1-based) after start, with
// the value rounded and floored at zero.
func newPoint(start datetime.Period, i int, value float64) Point {
	p := start.Offset(i - 1)
	return Point{
		Year:   p.Year,
		Month:  p.Month,
		Period: p.Key(),
		Value:  mathutil.NonNegativeRound(value),
		Kind:   KindPredicted,
	}
}

// resolveHorizon returns h, or the default horizon when h is not positive.
func resolveHorizon(h int) int {
	if h > 0 {
		return h
	}
	return constants.DefaultHorizon
}
