// Package datasource loads sales observations from CSV imports or generates
// a synthetic sample dataset.
package datasource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/mathutil"
	"go.uber.org/zap"
)

// ErrMissingColumns is returned when the header lacks a required column.
var ErrMissingColumns = errors.New("CSV header is missing required columns")

// DefaultDimensions are the dimension columns read when none are configured.
var DefaultDimensions = []string{constants.DimensionCountry, constants.DimensionProduct}

// valueColumns are accepted names for the sales column, in preference order.
var valueColumns = []string{"sales", "value"}

// SkippedRow records why a data row was not imported.
type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ImportReport summarizes a CSV import.
type ImportReport struct {
	Imported int          `json:"imported"`
	Skipped  []SkippedRow `json:"skipped,omitempty"`
}

// ImportCSV reads observations from r. The header must contain year, month
// and sales (or value); the named dimension columns are optional and default
// to "other". Rows with missing or malformed required fields are skipped and
// listed in the report.
func ImportCSV(logger *zap.Logger, r io.Reader, dimensions []string) ([]series.Observation, ImportReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(dimensions) == 0 {
		dimensions = DefaultDimensions
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, ImportReport{}, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, exists := columns[name]; !exists {
			columns[name] = i
		}
	}

	valueCol := -1
	for _, name := range valueColumns {
		if idx, ok := columns[name]; ok {
			valueCol = idx
			break
		}
	}
	yearCol, hasYear := columns["year"]
	monthCol, hasMonth := columns["month"]
	var missing []string
	if !hasYear {
		missing = append(missing, "year")
	}
	if !hasMonth {
		missing = append(missing, "month")
	}
	if valueCol < 0 {
		missing = append(missing, "sales")
	}
	if len(missing) > 0 {
		return nil, ImportReport{}, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var (
		observations []series.Observation
		report       ImportReport
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.StartLine
			}
			report.Skipped = append(report.Skipped, SkippedRow{Line: line, Reason: err.Error()})
			continue
		}
		line, _ := reader.FieldPos(0)
		if isBlank(row) {
			continue
		}

		obs, reason := parseRow(row, yearCol, monthCol, valueCol, columns, dimensions)
		if reason != "" {
			report.Skipped = append(report.Skipped, SkippedRow{Line: line, Reason: reason})
			continue
		}
		observations = append(observations, obs)
	}
	report.Imported = len(observations)

	logger.Info("imported CSV observations",
		zap.String("op", "datasource.ImportCSV"),
		zap.Int("imported", report.Imported),
		zap.Int("skipped", len(report.Skipped)),
	)
	return observations, report, nil
}

func parseRow(row []string, yearCol, monthCol, valueCol int, columns map[string]int, dimensions []string) (series.Observation, string) {
	field := func(idx int) string {
		if idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	year, err := strconv.Atoi(field(yearCol))
	if err != nil {
		return series.Observation{}, fmt.Sprintf("invalid year %q", field(yearCol))
	}
	month, err := strconv.Atoi(field(monthCol))
	if err != nil || month < 1 || month > constants.MonthsPerYear {
		return series.Observation{}, fmt.Sprintf("invalid month %q", field(monthCol))
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(field(valueCol), ",", ""), 64)
	if err != nil || !mathutil.IsFinite(value) || value < 0 {
		return series.Observation{}, fmt.Sprintf("invalid sales value %q", field(valueCol))
	}

	labels := make(map[string]string, len(dimensions))
	for _, dim := range dimensions {
		label := constants.DimensionOther
		if idx, ok := columns[dim]; ok {
			if v := field(idx); v != "" {
				label = v
			}
		}
		labels[dim] = label
	}
	return series.Observation{Year: year, Month: month, Dimensions: labels, Value: value}, ""
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
