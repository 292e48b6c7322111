package forecast

import (
	"sort"

	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/datetime"
	"github.com/iwvelando/sales-forecast/pkg/mathutil"
)

// Summary holds headline statistics for a forecast.
type Summary struct {
	TotalPredicted    float64         `json:"totalPredicted"`
	YearTotals        map[int]float64 `json:"yearTotals"`
	FirstYear         int             `json:"firstYear"`
	FirstYearTotal    float64         `json:"firstYearTotal"`
	PreviousYearTotal float64         `json:"previousYearTotal"`
	GrowthRate        float64         `json:"growthRate"`
	AverageMonthly    float64         `json:"averageMonthly"`
	YearSpan          string          `json:"yearSpan"`
}

// Summarize compares the first forecast year against the calendar year
// before it in history. Growth is a percentage and is 0 when the previous
// year has no sales.
func Summarize(history []series.Point, points []Point) Summary {
	s := Summary{YearTotals: make(map[int]float64)}
	if len(points) == 0 {
		return s
	}

	for _, p := range points {
		s.TotalPredicted += p.Value
		s.YearTotals[p.Year] += p.Value
	}
	s.FirstYear = points[0].Year
	s.FirstYearTotal = s.YearTotals[s.FirstYear]

	months := 0
	for _, p := range points {
		if p.Year == s.FirstYear {
			months++
		}
	}
	if months > constants.MonthsPerYear {
		months = constants.MonthsPerYear
	}
	s.AverageMonthly = mathutil.Round(s.FirstYearTotal / float64(months))

	for _, h := range history {
		if h.Year == s.FirstYear-1 {
			s.PreviousYearTotal += h.Value
		}
	}
	if s.PreviousYearTotal > 0 {
		s.GrowthRate = mathutil.Round(mathutil.CalculatePercentage(s.FirstYearTotal-s.PreviousYearTotal, s.PreviousYearTotal))
	}

	s.YearSpan = datetime.YearSpan(points[0].PeriodValue(), len(points))
	return s
}

// Years returns the forecast years in ascending order.
func (s Summary) Years() []int {
	years := make([]int, 0, len(s.YearTotals))
	for y := range s.YearTotals {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// BandPoint is the confidence band around one forecast point.
type BandPoint struct {
	Period string  `json:"period"`
	Lower  float64 `json:"lower"`
	Value  float64 `json:"value"`
	Upper  float64 `json:"upper"`
}

// Band returns the ±15% confidence band for each point.
func Band(points []Point) []BandPoint {
	band := make([]BandPoint, len(points))
	for i, p := range points {
		band[i] = BandPoint{
			Period: p.Period,
			Lower:  mathutil.Round(p.Value * (1 - constants.ConfidenceBandRatio)),
			Value:  p.Value,
			Upper:  mathutil.Round(p.Value * (1 + constants.ConfidenceBandRatio)),
		}
	}
	return band
}
