// Package series reduces raw sales observations into an ordered monthly
// series and cuts it down to the analysis window that precedes a forecast.
package series

import (
	"sort"
	"strings"

	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/datetime"
)

// Observation is a single raw sales record.
type Observation struct {
	Year       int
	Month      int
	Dimensions map[string]string
	Value      float64
}

// Period returns the calendar month of the observation.
func (o Observation) Period() datetime.Period {
	return datetime.Period{Year: o.Year, Month: o.Month}
}

// Dimension returns the label for name, or the "other" sentinel when the
// observation carries none.
func (o Observation) Dimension(name string) string {
	if v, ok := o.Dimensions[name]; ok && v != "" {
		return v
	}
	return constants.DimensionOther
}

// Point is one aggregated monthly total.
type Point struct {
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Period string  `json:"period"`
	Value  float64 `json:"value"`
}

// PeriodValue returns the calendar month of the point.
func (p Point) PeriodValue() datetime.Period {
	return datetime.Period{Year: p.Year, Month: p.Month}
}

// Filter maps a dimension name to the required label. Missing dimensions and
// the "all" wildcard impose no restriction.
type Filter map[string]string

// Matches reports whether obs passes every dimension constraint.
func (f Filter) Matches(obs Observation) bool {
	for dim, want := range f {
		if want == "" || strings.EqualFold(want, constants.FilterAll) {
			continue
		}
		if obs.Dimension(dim) != want {
			return false
		}
	}
	return true
}

// String renders the filter as sorted dim=value pairs joined by ';'.
func (f Filter) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := f[k]
		if v == "" {
			v = constants.FilterAll
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ";")
}

// Aggregate sums the observations passing filter into one point per period,
// ordered by (year, month) ascending.
func Aggregate(observations []Observation, filter Filter) []Point {
	grouped := make(map[string]*Point)
	for _, obs := range observations {
		if !filter.Matches(obs) {
			continue
		}
		key := obs.Period().Key()
		point, ok := grouped[key]
		if !ok {
			point = &Point{Year: obs.Year, Month: obs.Month, Period: key}
			grouped[key] = point
		}
		point.Value += obs.Value
	}

	points := make([]Point, 0, len(grouped))
	for _, p := range grouped {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Year != points[j].Year {
			return points[i].Year < points[j].Year
		}
		return points[i].Month < points[j].Month
	})
	return points
}

// Truncate keeps the points whose period key is strictly less than start.
// An empty start keeps everything.
func Truncate(points []Point, start string) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if start == "" || p.Period < start {
			out = append(out, p)
		}
	}
	return out
}

// DefaultStart returns the period following the last point, or the zero
// period when there are no points.
func DefaultStart(points []Point) datetime.Period {
	if len(points) == 0 {
		return datetime.Period{}
	}
	return points[len(points)-1].PeriodValue().Next()
}

// ResolveStart parses start, falling back to DefaultStart when it is empty.
func ResolveStart(points []Point, start string) (datetime.Period, error) {
	if strings.TrimSpace(start) == "" {
		return DefaultStart(points), nil
	}
	return datetime.ParsePeriod(start)
}

// Values extracts the point values in order.
func Values(points []Point) []float64 {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return values
}

// Clone returns an independent copy of points.
func Clone(points []Point) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	return out
}

// DimensionValues lists the distinct labels of each named dimension, sorted
// and prefixed by the "all" wildcard.
func DimensionValues(observations []Observation, dimensions []string) map[string][]string {
	catalogue := make(map[string][]string, len(dimensions))
	for _, dim := range dimensions {
		seen := make(map[string]struct{})
		for _, obs := range observations {
			seen[obs.Dimension(dim)] = struct{}{}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
		catalogue[dim] = append([]string{constants.FilterAll}, values...)
	}
	return catalogue
}
