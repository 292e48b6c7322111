package output

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/iwvelando/sales-forecast/internal/forecast"
	"github.com/iwvelando/sales-forecast/pkg/constants"
)

// ExportHeader is the header row of the export table.
var ExportHeader = []string{"period", "value", "dimension filters", "algorithm", "parameters"}

// ErrBadExport is returned when an export table cannot be read back.
var ErrBadExport = errors.New("malformed export table")

// ExportRow is one row of the export table.
type ExportRow struct {
	Period     string
	Value      float64
	Filters    string
	Algorithm  string
	Parameters string
}

// WriteExport writes one row per forecast point. Values are written in their
// shortest exact decimal form so they read back unchanged.
func WriteExport(w io.Writer, result forecast.Forecast) error {
	filters := result.Filter.String()
	if filters == "" {
		filters = constants.FilterAll
	}
	params := result.Parameters.String()

	writer := csv.NewWriter(w)
	if err := writer.Write(ExportHeader); err != nil {
		return err
	}
	for _, p := range result.Points {
		row := []string{
			p.Period,
			strconv.FormatFloat(p.Value, 'f', -1, 64),
			filters,
			result.Algorithm,
			params,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// CsvString returns the export table as a string.
func CsvString(result forecast.Forecast) (string, error) {
	var buf bytes.Buffer
	if err := WriteExport(&buf, result); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ReadExport parses an export table produced by WriteExport.
func ReadExport(r io.Reader) ([]ExportRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(ExportHeader)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadExport, err)
	}
	if strings.Join(header, ",") != strings.Join(ExportHeader, ",") {
		return nil, fmt.Errorf("%w: unexpected header %q", ErrBadExport, header)
	}

	var rows []ExportRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadExport, err)
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid value %q for %s", ErrBadExport, record[1], record[0])
		}
		rows = append(rows, ExportRow{
			Period:     record[0],
			Value:      value,
			Filters:    record[2],
			Algorithm:  record[3],
			Parameters: record[4],
		})
	}
	return rows, nil
}
