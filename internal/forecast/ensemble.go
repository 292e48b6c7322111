package forecast

import (
	"context"
	"math"

	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/datetime"
	"github.com/iwvelando/sales-forecast/pkg/mathutil"
)

const (
	// ensembleWindow is both the moving-average window and the trend lookback.
	ensembleWindow    = 6
	seasonalAmplitude = 0.15
	expSmoothing      = 0.7
)

var weightDomain = Domain{Min: 0, Max: 1, Step: 0.1}

// EnsembleDescriptor documents the ensemble algorithm.
var EnsembleDescriptor = Descriptor{
	Name:        constants.AlgorithmEnsemble,
	DisplayName: "Advanced Ensemble",
	Description: "Weighted blend of trend, seasonal, moving-average and exponential-smoothing estimators.",
	Parameters: []ParameterSpec{
		{Name: "trend_weight", Description: "Weight of the linear trend estimator", Domain: weightDomain, Default: 1},
		{Name: "seasonal_weight", Description: "Weight of the 12-month seasonal estimator", Domain: weightDomain, Default: 1},
		{Name: "ma_weight", Description: "Weight of the 6-month moving average", Domain: weightDomain, Default: 0.1},
		{Name: "exp_weight", Description: "Weight of the exponential-smoothing estimator", Domain: weightDomain, Default: 0.7},
	},
}

// EnsembleParams are the decoded ensemble knobs.
type EnsembleParams struct {
	TrendWeight    float64 `mapstructure:"trend_weight"`
	SeasonalWeight float64 `mapstructure:"seasonal_weight"`
	MAWeight       float64 `mapstructure:"ma_weight"`
	ExpWeight      float64 `mapstructure:"exp_weight"`
	Horizon        int     `mapstructure:"horizon"`
}

// Ensemble is the closed-form blended estimator. It is deterministic.
type Ensemble struct{}

// NewEnsemble returns the ensemble algorithm.
func NewEnsemble() *Ensemble {
	return &Ensemble{}
}

// Name implements Algorithm.
func (e *Ensemble) Name() string {
	return constants.AlgorithmEnsemble
}

// Forecast implements Algorithm. Fewer than six training points yield an
// empty forecast.
func (e *Ensemble) Forecast(ctx context.Context, training []series.Point, params ParameterSet, start datetime.Period) ([]Point, error) {
	values := series.Values(training)
	if len(values) < ensembleWindow {
		return []Point{}, nil
	}

	var p EnsembleParams
	if err := params.Merge(EnsembleDescriptor.Defaults()).Decode(&p); err != nil {
		return nil, err
	}
	horizon := resolveHorizon(p.Horizon)

	n := len(values)
	last := values[n-1]
	movingAverage := mathutil.Mean(mathutil.Tail(values, ensembleWindow))
	back := n - 1 - ensembleWindow
	if back < 0 {
		back = 0
	}
	trend := (last - values[back]) / ensembleWindow
	expForecast := expSmoothing*last + (1-expSmoothing)*movingAverage

	weightSum := p.TrendWeight + p.SeasonalWeight + p.MAWeight + p.ExpWeight
	if weightSum == 0 {
		weightSum = 1
	}

	points := make([]Point, 0, horizon)
	for i := 1; i <= horizon; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trendForecast := last + trend*float64(i)
		seasonalForecast := movingAverage * (1 + seasonalAmplitude*math.Sin(2*math.Pi*float64(i-1)/constants.MonthsPerYear))
		weighted := (trendForecast*p.TrendWeight +
			seasonalForecast*p.SeasonalWeight +
			movingAverage*p.MAWeight +
			expForecast*p.ExpWeight) / weightSum
		if !mathutil.IsFinite(weighted) {
			return nil, ErrComputation
		}
		points = append(points, newPoint(start, i, weighted))
	}
	return points, nil
}
