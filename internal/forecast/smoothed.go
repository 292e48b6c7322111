package forecast

import (
	"context"

	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/datetime"
	"github.com/iwvelando/sales-forecast/pkg/mathutil"
)

// SmoothedDifferencingDescriptor documents the smoothed-differencing model.
var SmoothedDifferencingDescriptor = Descriptor{
	Name:        constants.AlgorithmWaveletARIMA,
	DisplayName: "Wavelet ARIMA",
	Description: "Trailing-window denoising followed by a differenced autoregressive and moving-average recursion.",
	Parameters: []ParameterSpec{
		{Name: "decomposition_level", Description: "Smoothing strength; the window is twice the level", Domain: Domain{Min: 1, Max: 5, Step: 1}, Limit: Domain{Min: 0, Max: 60}, Default: 2},
		{Name: "arima_p", Description: "Autoregressive order", Domain: Domain{Min: 0, Max: 5, Step: 1}, Limit: Domain{Min: 0, Max: 60}, Default: 1},
		{Name: "arima_d", Description: "Differencing order", Domain: Domain{Min: 0, Max: 2, Step: 1}, Limit: Domain{Min: 0, Max: 12}, Default: 1},
		{Name: "arima_q", Description: "Moving-average order", Domain: Domain{Min: 0, Max: 5, Step: 1}, Limit: Domain{Min: 0, Max: 60}, Default: 1},
	},
}

// SmoothedParams are the decoded smoothed-differencing knobs.
type SmoothedParams struct {
	DecompositionLevel int `mapstructure:"decomposition_level"`
	P                  int `mapstructure:"arima_p"`
	D                  int `mapstructure:"arima_d"`
	Q                  int `mapstructure:"arima_q"`
	Horizon            int `mapstructure:"horizon"`
}

// SmoothedDifferencing smooths the series with a causal moving average,
// differences it arima_d times, forecasts the innermost difference and
// integrates back up. It is deterministic.
type SmoothedDifferencing struct{}

// NewSmoothedDifferencing returns the smoothed-differencing algorithm.
func NewSmoothedDifferencing() *SmoothedDifferencing {
	return &SmoothedDifferencing{}
}

// Name implements Algorithm.
func (s *SmoothedDifferencing) Name() string {
	return constants.AlgorithmWaveletARIMA
}

// Smooth returns the trailing moving average of values over window points.
// Early points average what is available.
func Smooth(values []float64, window int) []float64 {
	if window < 1 {
		window = 1
	}
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		count := i + 1
		if count > window {
			count = window
		}
		out[i] = sum / float64(count)
	}
	return out
}

// Difference returns the first difference of values, one element shorter.
func Difference(values []float64) []float64 {
	if len(values) < 2 {
		return []float64{}
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// Forecast implements Algorithm. An empty training series yields an empty
// forecast. Negative orders are treated as zero.
func (s *SmoothedDifferencing) Forecast(ctx context.Context, training []series.Point, params ParameterSet, start datetime.Period) ([]Point, error) {
	values := series.Values(training)
	if len(values) == 0 {
		return []Point{}, nil
	}

	var p SmoothedParams
	if err := params.Merge(SmoothedDifferencingDescriptor.Defaults()).Decode(&p); err != nil {
		return nil, err
	}
	horizon := resolveHorizon(p.Horizon)
	p.P = max(p.P, 0)
	p.D = max(p.D, 0)
	p.Q = max(p.Q, 0)

	window := max(2, p.DecompositionLevel*2)
	levels := make([][]float64, p.D+1)
	levels[0] = Smooth(values, window)
	for k := 0; k < p.D; k++ {
		levels[k+1] = Difference(levels[k])
	}

	// Newest first.
	errs := make([]float64, p.Q)

	points := make([]Point, 0, horizon)
	for i := 1; i <= horizon; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inner := levels[p.D]

		var next float64
		if p.P == 0 && p.Q == 0 {
			// No AR or MA terms: the innermost level persists.
			next = last(inner)
		} else {
			ar := mathutil.DecayWeightedAverage(mathutil.Reverse(mathutil.Tail(inner, p.P)))
			ma := mathutil.DecayWeightedAverage(errs)
			next = ar + ma
		}

		if p.Q > 0 {
			copy(errs[1:], errs[:p.Q-1])
			errs[0] = next
		}
		levels[p.D] = append(inner, next)

		for level := p.D - 1; level >= 0; level-- {
			levels[level] = append(levels[level], last(levels[level])+last(levels[level+1]))
		}

		value := last(levels[0])
		if !mathutil.IsFinite(value) {
			return nil, ErrComputation
		}
		points = append(points, newPoint(start, i, value))
	}
	return points, nil
}
