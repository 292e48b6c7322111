package forecast

import (
	"context"
	"testing"

	"github.com/iwvelando/sales-forecast/pkg/datetime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forecastPoints(start string, values ...float64) []Point {
	p := datetime.MustParsePeriod(start)
	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = newPoint(p, i+1, v)
	}
	return points
}

func TestSummarize(t *testing.T) {
	history := monthly("2024-01", 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100)

	tests := []struct {
		name           string
		points         []Point
		total          float64
		growth         float64
		averageMonthly float64
		span           string
	}{
		{
			name:           "full year",
			points:         forecastPoints("2025-01", 110, 110, 110, 110, 110, 110, 110, 110, 110, 110, 110, 110),
			total:          1320,
			growth:         10,
			averageMonthly: 110,
			span:           "2025",
		},
		{
			name:           "spans two years",
			points:         forecastPoints("2025-11", 120, 120, 130, 130),
			total:          500,
			growth:         -80,
			averageMonthly: 120,
			span:           "2025-2026",
		},
		{
			name:           "no previous year",
			points:         forecastPoints("2027-01", 50, 50),
			total:          100,
			growth:         0,
			averageMonthly: 50,
			span:           "2027",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(history, tt.points)
			assert.Equal(t, tt.total, s.TotalPredicted)
			assert.Equal(t, tt.growth, s.GrowthRate)
			assert.Equal(t, tt.averageMonthly, s.AverageMonthly)
			assert.Equal(t, tt.span, s.YearSpan)
		})
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, nil)
	assert.Zero(t, s.TotalPredicted)
	assert.Empty(t, s.Years())
}

func TestSummaryYears(t *testing.T) {
	s := Summarize(nil, forecastPoints("2025-06", make([]float64, 24)...))
	assert.Equal(t, []int{2025, 2026, 2027}, s.Years())
}

func TestBand(t *testing.T) {
	band := Band(forecastPoints("2025-01", 100, 0))
	require.Len(t, band, 2)
	assert.Equal(t, BandPoint{Period: "2025-01", Lower: 85, Value: 100, Upper: 115}, band[0])
	assert.Equal(t, BandPoint{Period: "2025-02"}, band[1])
}

func TestBacktest(t *testing.T) {
	flat := monthly("2023-01", 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100)

	s, err := Backtest(context.Background(), NewSmoothedDifferencing(), flat, ParameterSet{"arima_p": 0, "arima_q": 0, "arima_d": 0}, 6)
	require.NoError(t, err)
	assert.Equal(t, Score{N: 6}, s)

	s, err = Backtest(context.Background(), NewSmoothedDifferencing(), flat, ParameterSet{"arima_p": 0, "arima_q": 0, "arima_d": 0}, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, s.N)

	_, err = Backtest(context.Background(), NewEnsemble(), flat[:8], ParameterSet{}, 6)
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	_, err = Backtest(context.Background(), NewEnsemble(), flat[:6], ParameterSet{}, 6)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestScore(t *testing.T) {
	s := score([]float64{100, 200, 0}, forecastPoints("2025-01", 110, 180, 5))
	assert.InDelta(t, 35.0/3, s.MAE, 1e-9)
	assert.InDelta(t, 13.2287565, s.RMSE, 1e-6)
	assert.InDelta(t, 10.0, s.MAPE, 1e-9)
	assert.Equal(t, 3, s.N)
}
