// Package datetime provides calendar-month period utilities.
package datetime

import (
	"fmt"
	"strings"
	"time"

	"github.com/iwvelando/sales-forecast/pkg/constants"
)

const (
	// DateTimeLayout is the period key layout, e.g. 2025-01.
	DateTimeLayout = constants.DateTimeLayout
)

// Period identifies a single calendar month.
type Period struct {
	Year  int
	Month int
}

// NewPeriod returns the period for year and month, rolling months outside
// 1-12 into the neighbouring years.
func NewPeriod(year, month int) Period {
	idx := year*constants.MonthsPerYear + (month - 1)
	return fromIndex(idx)
}

func fromIndex(idx int) Period {
	year := idx / constants.MonthsPerYear
	month := idx % constants.MonthsPerYear
	if month < 0 {
		month += constants.MonthsPerYear
		year--
	}
	return Period{Year: year, Month: month + 1}
}

func (p Period) index() int {
	return p.Year*constants.MonthsPerYear + (p.Month - 1)
}

// Key returns the zero-padded YYYY-MM key. Keys sort lexicographically in
// chronological order.
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// String implements fmt.Stringer.
func (p Period) String() string {
	return p.Key()
}

// Offset returns the period the given number of months away.
func (p Period) Offset(months int) Period {
	return fromIndex(p.index() + months)
}

// Next returns the following month.
func (p Period) Next() Period {
	return p.Offset(1)
}

// Before reports whether p is strictly earlier than other.
func (p Period) Before(other Period) bool {
	return p.index() < other.index()
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// ParsePeriod parses a YYYY-MM key.
func ParsePeriod(key string) (Period, error) {
	t, err := time.Parse(DateTimeLayout, strings.TrimSpace(key))
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", key, err)
	}
	return Period{Year: t.Year(), Month: int(t.Month())}, nil
}

// MustParsePeriod parses a period key and panics on error.
// This is intended for use in tests where the key is known to be valid.
func MustParsePeriod(key string) Period {
	p, err := ParsePeriod(key)
	if err != nil {
		panic(err)
	}
	return p
}

// YearSpan renders the calendar years covered by horizon months starting at
// start, e.g. "2025" or "2025-2026".
func YearSpan(start Period, horizon int) string {
	if horizon < 1 {
		horizon = 1
	}
	end := start.Offset(horizon - 1)
	if end.Year == start.Year {
		return fmt.Sprintf("%d", start.Year)
	}
	return fmt.Sprintf("%d-%d", start.Year, end.Year)
}
