// Package optimizer tunes algorithm parameters by backtesting candidate
// values against a held-out window of the aggregated history.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/iwvelando/sales-forecast/internal/forecast"
	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/optimization"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sales_forecast_tuning_evaluations_total",
	Help: "Candidate parameter evaluations by algorithm and result",
}, []string{"algorithm", "result"})

// Options bounds a tuning run. Zero values select the defaults.
type Options struct {
	Holdout       int `mapstructure:"holdout" json:"holdout"`
	MaxCandidates int `mapstructure:"max_candidates" json:"maxCandidates"`
	Concurrency   int `mapstructure:"concurrency" json:"concurrency"`
}

func (o Options) withDefaults() Options {
	if o.Holdout <= 0 {
		o.Holdout = constants.DefaultHoldout
	}
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = constants.DefaultMaxCandidates
	}
	if o.Concurrency <= 0 {
		o.Concurrency = constants.DefaultTuningConcurrency
	}
	return o
}

// Directive asks for the named parameters of one algorithm to be tuned,
// starting from Base. An empty Parameters list tunes every declared
// parameter.
type Directive struct {
	Algorithm  string                `mapstructure:"algorithm" json:"algorithm"`
	Parameters []string              `mapstructure:"parameters" json:"parameters,omitempty"`
	Base       forecast.ParameterSet `mapstructure:"-" json:"base,omitempty"`
}

// Runner evaluates tuning directives against one aggregated history.
type Runner struct {
	logger   *zap.Logger
	registry *forecast.Registry
	history  []series.Point
	opts     Options
}

type target struct {
	algorithm forecast.Algorithm
	spec      forecast.ParameterSpec
}

type evaluation struct {
	value    float64
	score    forecast.Score
	feasible bool
}

// Result holds the tuned parameter sets and the summaries keyed by algorithm.
type Result struct {
	Parameters map[string]forecast.ParameterSet
	Summaries  map[string][]optimization.Summary
}

// Empty indicates whether any parameters were tuned.
func (r Result) Empty() bool {
	return len(r.Summaries) == 0
}

// All returns every summary, algorithms in the order given.
func (r Result) All(order []string) []optimization.Summary {
	var out []optimization.Summary
	for _, name := range order {
		out = append(out, r.Summaries[name]...)
	}
	return out
}

// Apply copies the tuned parameter values into selection.
func (r Result) Apply(selection forecast.Selection) {
	for name, set := range r.Parameters {
		for param, value := range set {
			selection.Set(name, param, value)
		}
	}
}

// NewRunner constructs a Runner over the given history.
func NewRunner(logger *zap.Logger, registry *forecast.Registry, history []series.Point, opts Options) (*Runner, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	if len(history) <= opts.Holdout {
		return nil, fmt.Errorf("%w: %d points for a holdout of %d", forecast.ErrInsufficientHistory, len(history), opts.Holdout)
	}
	return &Runner{logger: logger, registry: registry, history: series.Clone(history), opts: opts}, nil
}

// Run tunes each directive's parameters one at a time, carrying the best
// value of each parameter into the search for the next.
func (r *Runner) Run(ctx context.Context, directives []Directive) (*Result, error) {
	result := &Result{
		Parameters: make(map[string]forecast.ParameterSet),
		Summaries:  make(map[string][]optimization.Summary),
	}

	for _, d := range directives {
		targets, err := r.collectTargets(d)
		if err != nil {
			return nil, err
		}
		desc, _ := r.registry.Descriptor(d.Algorithm)
		current := d.Base.Merge(desc.Defaults())

		for _, t := range targets {
			summary, best, err := r.optimizeParameter(ctx, t, current)
			if err != nil {
				return nil, err
			}
			current = best
			result.Summaries[d.Algorithm] = append(result.Summaries[d.Algorithm], summary)

			r.logger.Info("optimizer tuned parameter",
				zap.String("op", "optimizer.Run"),
				zap.String("algorithm", summary.Algorithm),
				zap.String("parameter", summary.Parameter),
				zap.Float64("original", summary.Original),
				zap.Float64("optimized", summary.Value),
				zap.Float64("originalError", summary.OriginalError),
				zap.Float64("error", summary.Error),
				zap.Int("candidates", summary.Candidates),
				zap.Bool("converged", summary.Converged),
			)
		}
		if len(targets) > 0 {
			result.Parameters[d.Algorithm] = current
		}
	}
	return result, nil
}

func (r *Runner) collectTargets(d Directive) ([]target, error) {
	alg, err := r.registry.Lookup(d.Algorithm)
	if err != nil {
		return nil, err
	}
	desc, _ := r.registry.Descriptor(d.Algorithm)

	names := d.Parameters
	if len(names) == 0 {
		for _, p := range desc.Parameters {
			names = append(names, p.Name)
		}
	}

	targets := make([]target, 0, len(names))
	for _, name := range names {
		if name == forecast.HorizonKey {
			return nil, fmt.Errorf("algorithm %s: the horizon cannot be tuned", d.Algorithm)
		}
		spec, ok := desc.Spec(name)
		if !ok {
			return nil, fmt.Errorf("algorithm %s has no parameter %q", d.Algorithm, name)
		}
		targets = append(targets, target{algorithm: alg, spec: spec})
	}
	return targets, nil
}

// optimizeParameter sweeps one parameter over its domain grid with the other
// parameters held at base, and returns the summary and the updated set.
func (r *Runner) optimizeParameter(ctx context.Context, t target, base forecast.ParameterSet) (optimization.Summary, forecast.ParameterSet, error) {
	name := t.algorithm.Name()
	original := base[t.spec.Name]

	summary := optimization.Summary{
		Algorithm: name,
		Parameter: t.spec.Name,
		Original:  original,
		Value:     original,
		Holdout:   r.opts.Holdout,
	}

	baseline, err := r.evaluate(ctx, t, base, original)
	if err != nil {
		return summary, base, err
	}
	if baseline.feasible {
		summary.OriginalError = baseline.score.MAE
	} else {
		summary.Notes = append(summary.Notes, "original value produced no forecast for the holdout window")
	}

	candidates := t.spec.Domain.Grid(r.opts.MaxCandidates)
	evals := make([]evaluation, len(candidates))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, value := range candidates {
		g.Go(func() error {
			eval, err := r.evaluate(gCtx, t, base, value)
			if err != nil {
				return err
			}
			evals[i] = eval
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, base, err
	}
	summary.Candidates = len(candidates)

	best := baseline
	for _, eval := range evals {
		if better(eval, best, original) {
			best = eval
		}
	}

	summary.Converged = best.feasible
	if !best.feasible {
		summary.Error = summary.OriginalError
		summary.Notes = append(summary.Notes, "no candidate produced a forecast for the holdout window")
		return summary, base, nil
	}
	summary.Value = best.value
	summary.Error = best.score.MAE
	if best.value == original {
		summary.Notes = append(summary.Notes, "no candidate improved the error")
	}

	tuned := base.Clone()
	tuned[t.spec.Name] = best.value
	return summary, tuned, nil
}

// better prefers feasible evaluations with lower error, then values closer
// to the original.
func better(candidate, best evaluation, original float64) bool {
	if !candidate.feasible {
		return false
	}
	if !best.feasible {
		return true
	}
	const epsilon = 1e-9
	if candidate.score.MAE < best.score.MAE-epsilon {
		return true
	}
	if math.Abs(candidate.score.MAE-best.score.MAE) <= epsilon {
		return math.Abs(candidate.value-original) < math.Abs(best.value-original)-epsilon
	}
	return false
}

func (r *Runner) evaluate(ctx context.Context, t target, base forecast.ParameterSet, value float64) (evaluation, error) {
	params := base.Clone()
	params[t.spec.Name] = value

	score, err := forecast.Backtest(ctx, t.algorithm, r.history, params, r.opts.Holdout)
	switch {
	case err == nil:
		evaluationsTotal.WithLabelValues(t.algorithm.Name(), "scored").Inc()
		return evaluation{value: value, score: score, feasible: true}, nil
	case errors.Is(err, forecast.ErrInsufficientHistory), errors.Is(err, forecast.ErrComputation):
		evaluationsTotal.WithLabelValues(t.algorithm.Name(), "infeasible").Inc()
		r.logger.Debug("candidate could not be scored",
			zap.String("op", "optimizer.evaluate"),
			zap.String("algorithm", t.algorithm.Name()),
			zap.String("parameter", t.spec.Name),
			zap.Float64("value", value),
			zap.Error(err),
		)
		return evaluation{value: value}, nil
	default:
		evaluationsTotal.WithLabelValues(t.algorithm.Name(), "error").Inc()
		return evaluation{}, fmt.Errorf("optimizer evaluation of %s.%s=%g failed: %w", t.algorithm.Name(), t.spec.Name, value, err)
	}
}
