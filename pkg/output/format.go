// Package output provides utilities for formatting and exporting forecast results.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/iwvelando/sales-forecast/internal/forecast"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/format"
	"github.com/iwvelando/sales-forecast/pkg/optimization"
)

// PrettyFormat writes a human-readable rather than machine-readable table of
// the forecast, its confidence band and headline statistics.
func PrettyFormat(w io.Writer, result forecast.Forecast) {
	filter := result.Filter.String()
	if filter == "" {
		filter = constants.FilterAll
	}
	_, _ = fmt.Fprintf(w, "--- Forecast %s (%s) ---\n", result.Algorithm, filter)
	_, _ = fmt.Fprintf(w, "Parameters: %s\n", result.Parameters.String())
	for _, warning := range result.Warnings {
		_, _ = fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	if len(result.Points) == 0 {
		_, _ = fmt.Fprintf(w, "No forecast: insufficient history (%d training points)\n", len(result.Training))
		return
	}

	_, _ = fmt.Fprintf(w, "Period  | Predicted     | Lower         | Upper\n")
	_, _ = fmt.Fprintf(w, "______  | _____________ | _____________ | _____________\n")
	for _, b := range forecast.Band(result.Points) {
		_, _ = fmt.Fprintf(w, "%s | %13s | %13s | %13s\n",
			b.Period, format.Units(b.Value), format.Units(b.Lower), format.Units(b.Upper))
	}

	s := forecast.Summarize(result.History, result.Points)
	_, _ = fmt.Fprintf(w, "\n")
	_, _ = fmt.Fprintf(w, "Total predicted (%s): %s\n", s.YearSpan, format.Units(s.TotalPredicted))
	for _, year := range s.Years() {
		_, _ = fmt.Fprintf(w, "  %d: %s\n", year, format.Units(s.YearTotals[year]))
	}
	_, _ = fmt.Fprintf(w, "Growth vs %d: %s\n", s.FirstYear-1, format.Percent(s.GrowthRate))
	_, _ = fmt.Fprintf(w, "Average monthly (%d): %s\n", s.FirstYear, format.Units(s.AverageMonthly))
}

// PrettyTuning writes the tuning summaries as a readable list.
func PrettyTuning(w io.Writer, summaries []optimization.Summary) {
	if len(summaries) == 0 {
		_, _ = fmt.Fprintf(w, "No parameters tuned\n")
		return
	}
	_, _ = fmt.Fprintf(w, "--- Tuning results ---\n")
	for _, s := range summaries {
		status := "converged"
		if !s.Converged {
			status = "not converged"
		}
		_, _ = fmt.Fprintf(w, "%s.%s: %g -> %g (MAE %s -> %s, %s better, %d candidates, holdout %d, %s)\n",
			s.Algorithm, s.Parameter, s.Original, s.Value, format.Decimal(s.OriginalError), format.Decimal(s.Error),
			format.Percent(s.Improvement()), s.Candidates, s.Holdout, status)
		if len(s.Notes) > 0 {
			_, _ = fmt.Fprintf(w, "  Notes: %s\n", strings.Join(s.Notes, "; "))
		}
	}
}

// CsvFormat writes the forecast as the export table.
func CsvFormat(w io.Writer, result forecast.Forecast) error {
	return WriteExport(w, result)
}
