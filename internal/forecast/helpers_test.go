package forecast

import (
	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/datetime"
)

// monthly builds consecutive monthly points starting at start.
func monthly(start string, values ...float64) []series.Point {
	p := datetime.MustParsePeriod(start)
	points := make([]series.Point, len(values))
	for i, v := range values {
		cur := p.Offset(i)
		points[i] = series.Point{Year: cur.Year, Month: cur.Month, Period: cur.Key(), Value: v}
	}
	return points
}

func pointValues(points []Point) []float64 {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return values
}
