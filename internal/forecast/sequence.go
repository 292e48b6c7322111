package forecast

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/iwvelando/sales-forecast/internal/neural"
	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/datetime"
	"github.com/iwvelando/sales-forecast/pkg/mathutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SequenceModelDescriptor documents the recurrent sequence model.
var SequenceModelDescriptor = Descriptor{
	Name:        constants.AlgorithmGRU,
	DisplayName: "GRU Network",
	Description: "Gated recurrent network trained on sliding windows of the normalized series, rolled forward on its own predictions.",
	Parameters: []ParameterSpec{
		{Name: "hidden_size", Description: "Number of recurrent units", Domain: Domain{Min: 16, Max: 128, Step: 8}, Limit: Domain{Min: 1, Max: 256}, Default: 50},
		{Name: "sequence_length", Description: "Length of each input window in months", Domain: Domain{Min: 6, Max: 24, Step: 2}, Limit: Domain{Min: 1, Max: 120}, Default: 12},
		{Name: "learning_rate", Description: "Adam learning rate", Domain: Domain{Min: 0.001, Max: 0.1, Step: 0.001}, Default: 0.01},
		{Name: "dropout_rate", Description: "Input dropout applied while training", Domain: Domain{Min: 0.1, Max: 0.5, Step: 0.1}, Default: 0.2},
	},
}

// SequenceParams are the decoded sequence-model knobs.
type SequenceParams struct {
	HiddenSize     int     `mapstructure:"hidden_size"`
	SequenceLength int     `mapstructure:"sequence_length"`
	LearningRate   float64 `mapstructure:"learning_rate"`
	DropoutRate    float64 `mapstructure:"dropout_rate"`
	Horizon        int     `mapstructure:"horizon"`
}

// SequenceModel trains a fresh recurrent network on every run and forecasts
// autoregressively. Runs with the same inputs and Seed are reproducible.
type SequenceModel struct {
	Epochs    int
	BatchSize int
	Seed      int64

	logger *zap.Logger
}

// NewSequenceModel returns a sequence model using the default training
// schedule.
func NewSequenceModel(logger *zap.Logger, seed int64) *SequenceModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SequenceModel{
		Epochs:    constants.DefaultTrainingEpochs,
		BatchSize: constants.DefaultBatchSize,
		Seed:      seed,
		logger:    logger,
	}
}

// Name implements Algorithm.
func (m *SequenceModel) Name() string {
	return constants.AlgorithmGRU
}

// minMaxScaler maps values onto [0, 1].
type minMaxScaler struct {
	min, max float64
}

func newMinMaxScaler(values []float64) minMaxScaler {
	lo, hi := mathutil.MinMax(values)
	return minMaxScaler{min: lo, max: hi}
}

// transform normalizes v. A flat series uses a denominator of 1.
func (s minMaxScaler) transform(v float64) float64 {
	denom := s.max - s.min
	if denom == 0 {
		denom = 1
	}
	return (v - s.min) / denom
}

// inverse maps a normalized value back. A flat series maps everything to min.
func (s minMaxScaler) inverse(v float64) float64 {
	return v*(s.max-s.min) + s.min
}

// windows builds the supervised pairs: each run of length consecutive values
// maps to the value that follows it.
func windows(values []float64, length int) []neural.Sample {
	samples := make([]neural.Sample, 0, len(values)-length)
	for i := length; i < len(values); i++ {
		input := make([]float64, length)
		copy(input, values[i-length:i])
		samples = append(samples, neural.Sample{Input: input, Target: values[i]})
	}
	return samples
}

// Forecast implements Algorithm. The training series must be strictly longer
// than sequence_length, otherwise the forecast is empty. The network is
// released on every exit path.
func (m *SequenceModel) Forecast(ctx context.Context, training []series.Point, params ParameterSet, start datetime.Period) ([]Point, error) {
	var p SequenceParams
	if err := params.Merge(SequenceModelDescriptor.Defaults()).Decode(&p); err != nil {
		return nil, err
	}
	horizon := resolveHorizon(p.Horizon)
	if p.SequenceLength < 1 {
		p.SequenceLength = 1
	}

	values := series.Values(training)
	if len(values) <= p.SequenceLength {
		return []Point{}, nil
	}

	scaler := newMinMaxScaler(values)
	normalized := make([]float64, len(values))
	for i, v := range values {
		normalized[i] = scaler.transform(v)
	}

	rng := rand.New(rand.NewSource(m.Seed))
	net := neural.NewGRU(p.HiddenSize, rng)
	defer net.Release()

	if err := m.train(ctx, net, windows(normalized, p.SequenceLength), p, rng); err != nil {
		return nil, err
	}

	buffer := mathutil.Tail(normalized, p.SequenceLength)
	points := make([]Point, 0, horizon)
	for i := 1; i <= horizon; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prediction, err := net.Predict(buffer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrComputation, err)
		}
		if !mathutil.IsFinite(prediction) {
			return nil, fmt.Errorf("%w: non-finite prediction at step %d", ErrComputation, i)
		}
		points = append(points, newPoint(start, i, scaler.inverse(prediction)))

		next := make([]float64, len(buffer))
		copy(next, buffer[1:])
		next[len(next)-1] = prediction
		buffer = next
	}
	return points, nil
}

func (m *SequenceModel) train(ctx context.Context, net *neural.GRU, samples []neural.Sample, p SequenceParams, rng *rand.Rand) error {
	ctx, span := tracer.Start(ctx, "forecast.SequenceModel.Train",
		trace.WithAttributes(
			attribute.Int("gru.hidden_size", net.Hidden),
			attribute.Int("gru.sequence_length", p.SequenceLength),
			attribute.Int("gru.samples", len(samples)),
			attribute.Int("gru.epochs", m.Epochs),
		),
	)
	defer span.End()

	began := time.Now()
	loss, err := net.Fit(ctx, samples, neural.TrainConfig{
		Epochs:       m.Epochs,
		BatchSize:    m.BatchSize,
		LearningRate: p.LearningRate,
		Dropout:      p.DropoutRate,
	}, rng)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, neural.ErrDiverged) {
			m.logger.Warn("sequence model training diverged",
				zap.String("op", "forecast.SequenceModel.train"),
				zap.Float64("learning_rate", p.LearningRate),
			)
			return fmt.Errorf("%w: %v", ErrComputation, err)
		}
		return err
	}

	span.SetAttributes(attribute.Float64("gru.loss", loss))
	m.logger.Debug("sequence model trained",
		zap.String("op", "forecast.SequenceModel.train"),
		zap.Int("samples", len(samples)),
		zap.Int("hidden_size", net.Hidden),
		zap.Float64("loss", loss),
		zap.Duration("duration", time.Since(began)),
	)
	return nil
}
