package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iwvelando/sales-forecast/internal/datasource"
	"github.com/iwvelando/sales-forecast/internal/forecast"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/output"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T, maxUploadSize int64) (http.Handler, *datasource.Store) {
	t.Helper()
	store := datasource.NewStore(nil)
	store.Replace(datasource.GenerateSample(1), sampleSource)
	registry := forecast.NewDefaultRegistry(zap.NewNop(), 1)
	return NewHandler(zap.NewNop(), registry, store, Options{MaxUploadSize: maxUploadSize, Version: "test"}), store
}

func TestHandleVersion(t *testing.T) {
	handler, _ := newTestHandler(t, 0)

	rr := perform(handler, http.MethodGet, "/api/version", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["version"] != "test" {
		t.Fatalf("expected version test, got %q", resp["version"])
	}
}

func TestHandleAlgorithms(t *testing.T) {
	handler, _ := newTestHandler(t, 0)

	rr := perform(handler, http.MethodGet, "/api/algorithms", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp []struct {
		Name       string                   `json:"name"`
		Parameters []forecast.ParameterSpec `json:"parameters"`
		Defaults   map[string]float64       `json:"defaults"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	expected := []string{constants.AlgorithmEnsemble, constants.AlgorithmGRU, constants.AlgorithmWaveletARIMA}
	if len(resp) != len(expected) {
		t.Fatalf("expected %d algorithms, got %d", len(expected), len(resp))
	}
	for i, name := range expected {
		if resp[i].Name != name {
			t.Errorf("algorithm %d = %q, expected %q", i, resp[i].Name, name)
		}
		if len(resp[i].Parameters) != 4 {
			t.Errorf("%s: expected 4 parameters, got %d", name, len(resp[i].Parameters))
		}
		if resp[i].Defaults[forecast.HorizonKey] != constants.DefaultHorizon {
			t.Errorf("%s: expected default horizon, got %v", name, resp[i].Defaults)
		}
	}
}

func TestHandleDimensions(t *testing.T) {
	handler, _ := newTestHandler(t, 0)

	rr := perform(handler, http.MethodGet, "/api/dimensions", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp dimensionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	countries := resp.Values[constants.DimensionCountry]
	if len(countries) != 6 || countries[0] != constants.FilterAll {
		t.Fatalf("unexpected countries %v", countries)
	}
	if resp.Data.Source != sampleSource || resp.Data.Observations != 6*12*5*4 {
		t.Fatalf("unexpected data info %+v", resp.Data)
	}
}

func TestHandleForecast(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantPoints int
		wantError  string
	}{
		{
			name:       "Ensemble for one country",
			body:       `{"algorithm":"advanced_ensemble","filter":{"country":"Korea"}}`,
			wantStatus: http.StatusOK,
			wantPoints: 12,
		},
		{
			name:       "Extended horizon",
			body:       `{"algorithm":"wavelet_arima","horizon":24}`,
			wantStatus: http.StatusOK,
			wantPoints: 24,
		},
		{
			name:       "Filter with no data",
			body:       `{"algorithm":"advanced_ensemble","filter":{"country":"Atlantis"}}`,
			wantStatus: http.StatusOK,
			wantPoints: 0,
		},
		{
			name:       "Resource parameters are bounded",
			body:       `{"algorithm":"wavelet_arima","parameters":{"arima_p":1e11,"arima_q":1e11},"horizon":100000}`,
			wantStatus: http.StatusOK,
			wantPoints: constants.MaxHorizon,
		},
		{
			name:       "Unknown algorithm",
			body:       `{"algorithm":"prophet"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "unknown forecast algorithm",
		},
	}

	handler, _ := newTestHandler(t, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := perform(handler, http.MethodPost, "/api/forecast", strings.NewReader(tt.body))
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}

			var resp forecastResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if tt.wantError != "" {
				if !strings.Contains(resp.Error, tt.wantError) {
					t.Fatalf("expected error containing %q, got %q", tt.wantError, resp.Error)
				}
				if len(resp.Forecast.Points) != 0 {
					t.Fatalf("expected no points on failure, got %d", len(resp.Forecast.Points))
				}
				return
			}
			if len(resp.Forecast.Points) != tt.wantPoints {
				t.Fatalf("expected %d points, got %d", tt.wantPoints, len(resp.Forecast.Points))
			}
			if len(resp.Band) != tt.wantPoints {
				t.Fatalf("expected %d band points, got %d", tt.wantPoints, len(resp.Band))
			}
			if tt.wantPoints > 0 {
				if resp.Forecast.Points[0].Period != "2025-01" {
					t.Fatalf("expected forecast to start at 2025-01, got %s", resp.Forecast.Points[0].Period)
				}
				if resp.Summary.FirstYear != 2025 {
					t.Fatalf("expected first forecast year 2025, got %d", resp.Summary.FirstYear)
				}
				if !strings.HasPrefix(resp.CSV, strings.Join(output.ExportHeader, ",")) {
					t.Fatalf("expected CSV export, got %q", resp.CSV)
				}
			}
			if resp.Duration == "" {
				t.Fatal("expected duration in response")
			}
		})
	}
}

func TestHandleForecastMalformedBody(t *testing.T) {
	handler, _ := newTestHandler(t, 0)

	rr := perform(handler, http.MethodPost, "/api/forecast", strings.NewReader("{"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "failed to decode forecast request") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestHandleForecastMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t, 0)

	rr := perform(handler, http.MethodGet, "/api/forecast", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
}

func TestHandleExport(t *testing.T) {
	handler, _ := newTestHandler(t, 0)

	body := `{"algorithm":"advanced_ensemble","filter":{"country":"Korea","product":"Product A"}}`
	rr := perform(handler, http.MethodPost, "/api/export", strings.NewReader(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "forecast-advanced_ensemble.csv") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}

	rows, err := output.ReadExport(rr.Body)
	if err != nil {
		t.Fatalf("ReadExport() error = %v", err)
	}
	if len(rows) != constants.DefaultHorizon {
		t.Fatalf("expected %d rows, got %d", constants.DefaultHorizon, len(rows))
	}
	if rows[0].Filters != "country=Korea;product=Product A" {
		t.Fatalf("unexpected filters %q", rows[0].Filters)
	}
}

func TestHandleUpload(t *testing.T) {
	handler, store := newTestHandler(t, 0)

	content := "year,month,sales,country,product\n" +
		"2024,1,100,KR,Phone\n" +
		"2024,2,110,KR,Phone\n" +
		"2024,13,5,KR,Phone\n"
	rr := performUpload(t, handler, content, "sales.csv")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp uploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Report.Imported != 2 || len(resp.Report.Skipped) != 1 {
		t.Fatalf("unexpected report %+v", resp.Report)
	}
	if resp.Data.Source != "sales.csv" || resp.Data.Version != 2 {
		t.Fatalf("unexpected data info %+v", resp.Data)
	}
	if got := store.Catalogue()[constants.DimensionCountry]; len(got) != 2 || got[1] != "KR" {
		t.Fatalf("expected the uploaded dataset to replace the sample, got %v", got)
	}

	rr = perform(handler, http.MethodPost, "/api/data/sample?seed=3", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if info := store.Info(); info.Source != sampleSource || info.Observations != 6*12*5*4 {
		t.Fatalf("expected sample data to be restored, got %+v", info)
	}
}

func TestHandleUploadErrors(t *testing.T) {
	tests := []struct {
		name          string
		maxUploadSize int64
		content       string
		skipFile      bool
		wantStatus    int
		wantError     string
	}{
		{
			name:          "Too large",
			maxUploadSize: 64,
			content:       strings.Repeat("a", 128),
			wantStatus:    http.StatusRequestEntityTooLarge,
			wantError:     "upload exceeds limit",
		},
		{
			name:       "Missing file",
			skipFile:   true,
			wantStatus: http.StatusBadRequest,
			wantError:  "missing data file",
		},
		{
			name:       "Missing columns",
			content:    "year,month\n2024,1\n",
			wantStatus: http.StatusBadRequest,
			wantError:  "failed to import data",
		},
		{
			name:       "No valid rows",
			content:    "year,month,sales\n2024,0,10\n",
			wantStatus: http.StatusBadRequest,
			wantError:  "no valid rows",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, store := newTestHandler(t, tt.maxUploadSize)

			var rr *httptest.ResponseRecorder
			if tt.skipFile {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				if err := writer.Close(); err != nil {
					t.Fatalf("failed to close writer: %v", err)
				}
				req := httptest.NewRequest(http.MethodPost, "/api/data", body)
				req.Header.Set("Content-Type", writer.FormDataContentType())
				rr = httptest.NewRecorder()
				handler.ServeHTTP(rr, req)
			} else {
				rr = performUpload(t, handler, tt.content, "sales.csv")
			}

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			var resp map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if !strings.Contains(resp["error"], tt.wantError) {
				t.Fatalf("expected error containing %q, got %q", tt.wantError, resp["error"])
			}
			if store.Info().Source != sampleSource {
				t.Fatalf("a failed upload must leave the dataset unchanged")
			}
		})
	}
}

func TestHandleTune(t *testing.T) {
	handler, _ := newTestHandler(t, 0)

	body := `{"algorithm":"wavelet_arima","parameters":["arima_d"],"holdout":6}`
	rr := perform(handler, http.MethodPost, "/api/tune", strings.NewReader(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp tuneResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(resp.Summaries))
	}
	summary := resp.Summaries[0]
	if summary.Parameter != "arima_d" || summary.Holdout != 6 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Error > summary.OriginalError {
		t.Fatalf("tuning must never make the error worse: %+v", summary)
	}
	if _, ok := resp.Parameters["arima_d"]; !ok {
		t.Fatalf("expected tuned parameters, got %v", resp.Parameters)
	}
}

func TestHandleTuneInsufficientHistory(t *testing.T) {
	handler, _ := newTestHandler(t, 0)

	body := `{"algorithm":"wavelet_arima","filter":{"country":"Atlantis"}}`
	rr := perform(handler, http.MethodPost, "/api/tune", strings.NewReader(body))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "insufficient history") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestMetricsExposed(t *testing.T) {
	handler, _ := newTestHandler(t, 0)
	perform(handler, http.MethodGet, "/api/version", nil)

	rr := perform(handler, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "sales_forecast_http_requests_total") {
		t.Fatal("expected request counter in metrics output")
	}
}

func TestHandleForecastAfterNonFiniteUpload(t *testing.T) {
	handler, _ := newTestHandler(t, 0)

	var content strings.Builder
	content.WriteString("year,month,country,product,sales\n")
	for m := 1; m <= 12; m++ {
		value := fmt.Sprintf("%d", 100+m)
		if m == 6 {
			value = "NaN"
		}
		fmt.Fprintf(&content, "2024,%d,KR,A,%s\n", m, value)
	}
	rr := performUpload(t, handler, content.String(), "sales.csv")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected upload status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var upload uploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &upload); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	if upload.Report.Imported != 11 || len(upload.Report.Skipped) != 1 || upload.Report.Skipped[0].Line != 7 {
		t.Fatalf("expected the NaN row to be skipped, got %+v", upload.Report)
	}

	rr = perform(handler, http.MethodPost, "/api/forecast", strings.NewReader(`{"algorithm":"advanced_ensemble"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp forecastResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode forecast response %q: %v", rr.Body.String(), err)
	}
	if len(resp.Forecast.Points) != 12 {
		t.Fatalf("expected 12 points, got %d", len(resp.Forecast.Points))
	}
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	h := &handler{logger: zap.NewNop()}
	rr := httptest.NewRecorder()

	h.writeJSON(rr, http.StatusOK, map[string]float64{"total": math.NaN()})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected a JSON error body, got %q: %v", rr.Body.String(), err)
	}
	if !strings.Contains(body["error"], "failed to encode response") {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestHandleForecastTimeout(t *testing.T) {
	store := datasource.NewStore(nil)
	store.Replace(datasource.GenerateSample(1), sampleSource)
	handler := NewHandler(zap.NewNop(), nil, store, Options{Version: "test", Timeout: time.Nanosecond})

	rr := perform(handler, http.MethodPost, "/api/forecast", strings.NewReader(`{"algorithm":"wavelet_arima"}`))
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected status 504, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestForecastStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "Deadline", err: fmt.Errorf("run: %w", context.DeadlineExceeded), expected: http.StatusGatewayTimeout},
		{name: "Computation", err: fmt.Errorf("%w: diverged", forecast.ErrComputation), expected: http.StatusInternalServerError},
		{name: "Unknown algorithm", err: forecast.ErrUnknownAlgorithm, expected: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := forecastStatus(tt.err); got != tt.expected {
				t.Errorf("forecastStatus() = %d, expected %d", got, tt.expected)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	store := datasource.NewStore(nil)
	store.Replace(datasource.GenerateSample(1), sampleSource)
	handler := NewHandler(zap.NewNop(), nil, store, Options{Version: "test", RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		if rr := perform(handler, http.MethodGet, "/api/version", nil); rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i, rr.Code)
		}
	}
	rr := perform(handler, http.MethodGet, "/api/version", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}

	// Metrics are outside the limited API.
	if rr := perform(handler, http.MethodGet, "/metrics", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected metrics status 200, got %d", rr.Code)
	}
}

func perform(handler http.Handler, method, path string, body *strings.Reader) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func performUpload(t *testing.T, handler http.Handler, content, filename string) *httptest.ResponseRecorder {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write form data: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/data", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}
