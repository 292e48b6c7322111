package forecast

import (
	"context"
	"sync"

	"github.com/iwvelando/sales-forecast/internal/series"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Outcome is what a Runner publishes for a completed run. A failed run has
// no points and a non-nil Err.
type Outcome struct {
	Forecast Forecast
	Err      error
}

// Sink receives the outcome of the latest run.
type Sink interface {
	Publish(Outcome)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Outcome)

// Publish implements Sink.
func (f SinkFunc) Publish(o Outcome) {
	f(o)
}

// Runner executes forecast runs in the background with a latest request
// wins discipline: submitting a run cancels the one in flight, and only the
// run matching the current generation may publish.
type Runner struct {
	logger   *zap.Logger
	registry *Registry
	sink     Sink

	generation atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner returns a runner publishing to sink. The sink is called with the
// runner's lock held and must not call back into the runner.
func NewRunner(logger *zap.Logger, registry *Registry, sink Sink) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger:   logger,
		registry: registry,
		sink:     sink,
	}
}

// Submit cancels any in-flight run and starts a new one, returning its
// generation.
func (r *Runner) Submit(ctx context.Context, observations []series.Observation, req Request) uint64 {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	gen := r.generation.Inc()
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer cancel()
		f, err := GetForecast(runCtx, r.logger, r.registry, observations, req)
		f.Generation = gen
		r.publish(gen, Outcome{Forecast: f, Err: err})
	}()
	return gen
}

// Run computes a forecast synchronously. It does not take part in
// supersession.
func (r *Runner) Run(ctx context.Context, observations []series.Observation, req Request) (Forecast, error) {
	return GetForecast(ctx, r.logger, r.registry, observations, req)
}

// Cancel cancels the in-flight run, if any, and discards its result.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.generation.Inc()
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Close cancels the in-flight run and waits for it to return.
func (r *Runner) Close() {
	r.Cancel()
	r.Wait()
}

// Generation returns the generation of the most recent request.
func (r *Runner) Generation() uint64 {
	return r.generation.Load()
}

func (r *Runner) publish(gen uint64, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current := r.generation.Load(); gen != current {
		supersededTotal.Inc()
		r.logger.Debug("discarding superseded forecast",
			zap.String("op", "forecast.Runner.publish"),
			zap.Uint64("generation", gen),
			zap.Uint64("current", current),
			zap.String("id", o.Forecast.ID),
		)
		return
	}
	if o.Err != nil {
		o.Forecast.Points = []Point{}
	}
	if r.sink != nil {
		r.sink.Publish(o)
	}
}
