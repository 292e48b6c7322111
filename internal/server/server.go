package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/iwvelando/sales-forecast/internal/datasource"
	"github.com/iwvelando/sales-forecast/internal/forecast"
	"github.com/iwvelando/sales-forecast/internal/optimizer"
	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/optimization"
	"github.com/iwvelando/sales-forecast/pkg/output"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_forecast_http_requests_total",
		Help: "HTTP requests by route and method.",
	}, []string{"route", "method"})

	sharedForecastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_forecast_http_shared_forecasts_total",
		Help: "Forecast requests answered from an identical in-flight computation.",
	})

	throttledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_forecast_http_throttled_total",
		Help: "API requests rejected by the rate limiter.",
	})
)

const sampleSource = "sample"

// Options tunes the handler. RateLimit is the sustained number of API
// requests per second shared by all clients; zero disables limiting.
type Options struct {
	MaxUploadSize  int64
	Version        string
	SampleSeed     int64
	RateLimit      float64
	RateBurst      int
	Timeout        time.Duration
	AllowedOrigins []string
	Tuning         optimizer.Options
}

type handler struct {
	logger         *zap.Logger
	registry       *forecast.Registry
	store          *datasource.Store
	maxUploadSize  int64
	version        string
	sampleSeed     int64
	tuning         optimizer.Options
	limiter        *rate.Limiter
	timeout        time.Duration
	allowedOrigins []string
	flight         singleflight.Group
}

// NewHandler constructs the HTTP handler that serves the forecast API and
// the live WebSocket session.
func NewHandler(logger *zap.Logger, registry *forecast.Registry, store *datasource.Store, opts Options) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = forecast.NewDefaultRegistry(logger, 1)
	}
	if store == nil {
		store = datasource.NewStore(nil)
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = constants.DefaultMaxUploadSizeBytes
	}
	if opts.SampleSeed == 0 {
		opts.SampleSeed = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout, _ = time.ParseDuration(constants.DefaultForecastTimeout)
	}

	trimmedVersion := strings.TrimSpace(opts.Version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	h := &handler{
		logger:         logger,
		registry:       registry,
		store:          store,
		maxUploadSize:  opts.MaxUploadSize,
		version:        trimmedVersion,
		sampleSeed:     opts.SampleSeed,
		tuning:         opts.Tuning,
		limiter:        rate.NewLimiter(rate.Inf, 0),
		timeout:        opts.Timeout,
		allowedOrigins: opts.AllowedOrigins,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	router := mux.NewRouter()
	router.Use(countRequests)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.throttle)
	api.HandleFunc("/version", h.handleVersion).Methods(http.MethodGet)
	api.HandleFunc("/algorithms", h.handleAlgorithms).Methods(http.MethodGet)
	api.HandleFunc("/dimensions", h.handleDimensions).Methods(http.MethodGet)
	api.HandleFunc("/data", h.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/data/sample", h.handleSample).Methods(http.MethodPost)
	api.HandleFunc("/forecast", h.handleForecast).Methods(http.MethodPost)
	api.HandleFunc("/export", h.handleExport).Methods(http.MethodPost)
	api.HandleFunc("/tune", h.handleTune).Methods(http.MethodPost)

	router.HandleFunc("/ws", h.handleWebSocket).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		requestsTotal.WithLabelValues(route, r.Method).Inc()
		next.ServeHTTP(w, r)
	})
}

func (h *handler) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			throttledTotal.Inc()
			w.Header().Set("Retry-After", "1")
			h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded", "server.throttle")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type algorithmInfo struct {
	forecast.Descriptor
	Defaults forecast.ParameterSet `json:"defaults"`
}

type dimensionsResponse struct {
	Dimensions []string            `json:"dimensions"`
	Values     map[string][]string `json:"values"`
	Data       datasource.Info     `json:"data"`
}

type uploadResponse struct {
	Data   datasource.Info         `json:"data"`
	Report datasource.ImportReport `json:"report"`
}

// forecastResponse is the body of /api/forecast and of each WebSocket
// result message.
type forecastResponse struct {
	Forecast forecast.Forecast    `json:"forecast"`
	Summary  forecast.Summary     `json:"summary"`
	Band     []forecast.BandPoint `json:"band"`
	CSV      string               `json:"csv"`
	Warnings []string             `json:"warnings,omitempty"`
	Duration string               `json:"duration"`
	Error    string               `json:"error,omitempty"`
}

type tuneRequest struct {
	Algorithm  string                `json:"algorithm"`
	Parameters []string              `json:"parameters,omitempty"`
	Base       forecast.ParameterSet `json:"base,omitempty"`
	Filter     series.Filter         `json:"filter,omitempty"`
	Start      string                `json:"start,omitempty"`
	Holdout    int                   `json:"holdout,omitempty"`
}

type tuneResponse struct {
	Summaries  []optimization.Summary `json:"summaries"`
	Parameters forecast.ParameterSet  `json:"parameters,omitempty"`
	Duration   string                 `json:"duration"`
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

func (h *handler) handleAlgorithms(w http.ResponseWriter, r *http.Request) {
	descriptors := h.registry.Descriptors()
	infos := make([]algorithmInfo, 0, len(descriptors))
	for _, d := range descriptors {
		infos = append(infos, algorithmInfo{Descriptor: d, Defaults: d.Defaults()})
	}
	h.writeJSON(w, http.StatusOK, infos)
}

func (h *handler) handleDimensions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, dimensionsResponse{
		Dimensions: h.store.Dimensions(),
		Values:     h.store.Catalogue(),
		Data:       h.store.Info(),
	})
}

func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleUpload"

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds limit of %d bytes", h.maxUploadSize), op)
			return
		}
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse upload: %v", err), op)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "missing data file", op)
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			h.logger.Warn("failed to close uploaded file",
				zap.String("op", op),
				zap.Error(closeErr),
			)
		}
	}()

	observations, report, err := datasource.ImportCSV(h.logger, file, h.store.Dimensions())
	if err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to import data: %v", err), op)
		return
	}
	if len(observations) == 0 {
		h.respondError(w, http.StatusBadRequest, "data file contains no valid rows", op)
		return
	}

	h.store.Replace(observations, header.Filename)
	h.logger.Info("dataset replaced",
		zap.String("op", op),
		zap.String("source", header.Filename),
		zap.Int("imported", report.Imported),
		zap.Int("skipped", len(report.Skipped)),
	)
	h.writeJSON(w, http.StatusOK, uploadResponse{Data: h.store.Info(), Report: report})
}

func (h *handler) handleSample(w http.ResponseWriter, r *http.Request) {
	seed := h.sampleSeed
	if raw := r.URL.Query().Get("seed"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid seed %q", raw), "server.handleSample")
			return
		}
		seed = parsed
	}

	observations := datasource.GenerateSample(seed)
	h.store.Replace(observations, sampleSource)
	h.writeJSON(w, http.StatusOK, uploadResponse{
		Data:   h.store.Info(),
		Report: datasource.ImportReport{Imported: len(observations)},
	})
}

func (h *handler) handleForecast(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleForecast"

	req, ok := h.decodeRequest(w, r, op)
	if !ok {
		return
	}

	resp, err := h.computeShared(r.Context(), req)
	if err != nil {
		status := forecastStatus(err)
		h.logger.Error("forecast request failed",
			zap.String("op", op),
			zap.Int("status", status),
			zap.Error(err),
		)
		resp.Error = err.Error()
		h.writeJSON(w, status, resp)
		return
	}

	h.logger.Info("forecast computed",
		zap.String("op", op),
		zap.String("algorithm", resp.Forecast.Algorithm),
		zap.Int("points", len(resp.Forecast.Points)),
		zap.String("duration", resp.Duration),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleExport"

	req, ok := h.decodeRequest(w, r, op)
	if !ok {
		return
	}

	resp, err := h.computeShared(r.Context(), req)
	if err != nil {
		h.respondError(w, forecastStatus(err), fmt.Sprintf("failed to compute forecast: %v", err), op)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
		fmt.Sprintf("forecast-%s.csv", resp.Forecast.Algorithm)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(resp.CSV)); err != nil {
		h.logger.Error("failed to write export", zap.String("op", op), zap.Error(err))
	}
}

func (h *handler) handleTune(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleTune"
	start := time.Now()

	var req tuneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to decode tuning request: %v", err), op)
		return
	}
	if req.Algorithm == "" {
		req.Algorithm = constants.DefaultAlgorithm
	}

	history := series.Truncate(series.Aggregate(h.store.Observations(), req.Filter), req.Start)
	opts := h.tuning
	if req.Holdout > 0 {
		opts.Holdout = req.Holdout
	}

	runner, err := optimizer.NewRunner(h.logger, h.registry, history, opts)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to initialize optimizer: %v", err), op)
		return
	}
	result, err := runner.Run(r.Context(), []optimizer.Directive{{
		Algorithm:  req.Algorithm,
		Parameters: req.Parameters,
		Base:       req.Base,
	}})
	if err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("optimizer execution failed: %v", err), op)
		return
	}

	h.writeJSON(w, http.StatusOK, tuneResponse{
		Summaries:  result.All([]string{req.Algorithm}),
		Parameters: result.Parameters[req.Algorithm],
		Duration:   time.Since(start).String(),
	})
}

func (h *handler) decodeRequest(w http.ResponseWriter, r *http.Request, op string) (forecast.Request, bool) {
	var req forecast.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to decode forecast request: %v", err), op)
		return req, false
	}
	return req, true
}

// computeShared collapses identical concurrent requests against the same
// dataset version into one computation. The computation is detached from
// any single caller's cancellation.
func (h *handler) computeShared(ctx context.Context, req forecast.Request) (forecastResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return forecastResponse{}, err
	}
	key := fmt.Sprintf("%d:%s", h.store.Info().Version, body)

	// The computation is shared by every caller with the same key, so it
	// outlives any one of them but never the handler timeout.
	v, err, shared := h.flight.Do(key, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		defer cancel()
		observations := h.store.Observations()
		f, err := forecast.GetForecast(runCtx, h.logger, h.registry, observations, req)
		return buildResponse(f), err
	})
	if shared {
		sharedForecastsTotal.Inc()
	}
	return v.(forecastResponse), err
}

// forecastStatus maps a forecast error to an HTTP status.
func forecastStatus(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, forecast.ErrComputation):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func buildResponse(f forecast.Forecast) forecastResponse {
	csv, err := output.CsvString(f)
	if err != nil {
		csv = ""
	}
	return forecastResponse{
		Forecast: f,
		Summary:  forecast.Summarize(f.History, f.Points),
		Band:     forecast.Band(f.Points),
		CSV:      csv,
		Warnings: f.Warnings,
		Duration: f.Duration.String(),
	}
}

func (h *handler) respondError(w http.ResponseWriter, status int, msg string, op string) {
	h.logger.Error("request failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error", msg),
	)
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// writeJSON encodes payload before committing the status, so a payload that
// cannot be encoded becomes a 500 with an error body instead of an empty 200.
func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		h.logger.Error("failed to encode JSON response",
			zap.String("op", "server.writeJSON"),
			zap.Int("status", status),
			zap.Error(err),
		)
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(map[string]string{"error": "failed to encode response: " + err.Error()})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Error("failed to write JSON response",
			zap.String("op", "server.writeJSON"),
			zap.Error(err),
		)
	}
}
