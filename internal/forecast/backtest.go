package forecast

import (
	"context"
	"fmt"
	"math"

	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
)

// Score measures forecast error over a holdout window.
type Score struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	// MAPE is a percentage over the non-zero actuals.
	MAPE float64 `json:"mape"`
	N    int     `json:"n"`
}

// Backtest holds out the last holdout points, forecasts them from the rest of
// the series and scores the result. holdout <= 0 uses the default window.
func Backtest(ctx context.Context, alg Algorithm, points []series.Point, params ParameterSet, holdout int) (Score, error) {
	if holdout <= 0 {
		holdout = constants.DefaultHoldout
	}
	if len(points) <= holdout {
		return Score{}, fmt.Errorf("%w: %d points for a holdout of %d", ErrInsufficientHistory, len(points), holdout)
	}

	cut := len(points) - holdout
	training, actual := points[:cut], points[cut:]
	predicted, err := run(ctx, alg, training, params.WithHorizon(holdout), actual[0].PeriodValue())
	if err != nil {
		return Score{}, err
	}
	if len(predicted) < holdout {
		return Score{}, fmt.Errorf("%w: %s produced %d of %d points", ErrInsufficientHistory, alg.Name(), len(predicted), holdout)
	}
	return score(series.Values(actual), predicted[:holdout]), nil
}

func score(actual []float64, predicted []Point) Score {
	var s Score
	var squared, pct float64
	pctCount := 0
	for i, a := range actual {
		diff := predicted[i].Value - a
		s.MAE += math.Abs(diff)
		squared += diff * diff
		if a != 0 {
			pct += math.Abs(diff / a)
			pctCount++
		}
	}
	s.N = len(actual)
	if s.N > 0 {
		s.MAE /= float64(s.N)
		s.RMSE = math.Sqrt(squared / float64(s.N))
	}
	if pctCount > 0 {
		s.MAPE = pct / float64(pctCount) * 100
	}
	return s
}
