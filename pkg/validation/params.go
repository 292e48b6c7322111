package validation

import (
	"fmt"
	"math"

	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/datetime"
	"github.com/iwvelando/sales-forecast/pkg/mathutil"
)

// gridTolerance absorbs float drift in values such as 0.30000000000000004.
const gridTolerance = 1e-6

// ValidateParameter checks a parameter value against its declared domain and
// step grid. It returns a warning, or "" when the value is acceptable.
func ValidateParameter(algorithm, name string, value, min, max, step float64) string {
	if !mathutil.IsFinite(value) {
		return fmt.Sprintf("Algorithm '%s' parameter '%s' is not a finite number", algorithm, name)
	}
	if value < min || value > max {
		return fmt.Sprintf("Algorithm '%s' parameter '%s' is outside its domain (%g not in [%g, %g])",
			algorithm, name, value, min, max)
	}
	if step > 0 {
		steps := (value - min) / step
		if !mathutil.WithinTolerance(steps, math.Round(steps), gridTolerance) {
			return fmt.Sprintf("Algorithm '%s' parameter '%s' is off its step grid (%g is not %g + k*%g)",
				algorithm, name, value, min, step)
		}
	}
	return ""
}

// ValidateHorizon checks that the horizon is one of the supported lengths.
func ValidateHorizon(horizon int) string {
	if horizon != constants.DefaultHorizon && horizon != constants.ExtendedHorizon {
		return fmt.Sprintf("Horizon %d is not one of the supported values (%d or %d)",
			horizon, constants.DefaultHorizon, constants.ExtendedHorizon)
	}
	return ""
}

// ValidateStartPeriod checks that a forecast start period, when set, is a
// well-formed YYYY-MM key.
func ValidateStartPeriod(start string) error {
	if start == "" {
		return nil
	}
	p, err := datetime.ParsePeriod(start)
	if err != nil {
		return err
	}
	if p.Key() != start {
		return fmt.Errorf("start period %q must be zero-padded as %s", start, p.Key())
	}
	return nil
}
