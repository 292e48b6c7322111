// Package testutil provides common utility functions for testing.
package testutil

import (
	"github.com/iwvelando/sales-forecast/internal/forecast"
	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/datetime"
)

// FindPoint finds the forecast point for period in points.
// Returns a pointer to the point if found, nil otherwise.
func FindPoint(points []forecast.Point, period string) *forecast.Point {
	for i := range points {
		if points[i].Period == period {
			return &points[i]
		}
	}
	return nil
}

// Series builds consecutive monthly points starting at start (YYYY-MM).
func Series(start string, values ...float64) []series.Point {
	p := datetime.MustParsePeriod(start)
	points := make([]series.Point, len(values))
	for i, v := range values {
		points[i] = series.Point{Year: p.Year, Month: p.Month, Period: p.Key(), Value: v}
		p = p.Next()
	}
	return points
}

// Observations builds consecutive monthly observations starting at start,
// all carrying the same dimension labels.
func Observations(start string, dimensions map[string]string, values ...float64) []series.Observation {
	p := datetime.MustParsePeriod(start)
	obs := make([]series.Observation, len(values))
	for i, v := range values {
		labels := make(map[string]string, len(dimensions))
		for k, l := range dimensions {
			labels[k] = l
		}
		obs[i] = series.Observation{Year: p.Year, Month: p.Month, Value: v, Dimensions: labels}
		p = p.Next()
	}
	return obs
}
