package neural

import (
	"context"
	"errors"
	"math"
	"math/rand"
)

// Sample is one supervised window: Input maps to Target.
type Sample struct {
	Input  []float64
	Target float64
}

// TrainConfig controls Fit.
type TrainConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Dropout      float64
}

// ErrDiverged is returned when the training loss stops being finite.
var ErrDiverged = errors.New("neural: training diverged")

// Fit trains the network on samples with mini-batch Adam minimizing mean
// squared error, and returns the loss of the final epoch. Input dropout is
// applied per sample during training only. The context is checked between
// epochs and batches.
func (n *GRU) Fit(ctx context.Context, samples []Sample, cfg TrainConfig, rng *rand.Rand) (float64, error) {
	if n.released {
		return 0, ErrReleased
	}
	if len(samples) == 0 || cfg.Epochs <= 0 {
		return 0, nil
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > len(samples) {
		batchSize = len(samples)
	}
	dropout := cfg.Dropout
	if dropout < 0 || math.IsNaN(dropout) {
		dropout = 0
	}
	if dropout > 0.95 {
		dropout = 0.95
	}

	params := n.params()
	grad := zeroGRU(n.Hidden)
	grads := grad.params()
	opt := newAdam(cfg.LearningRate, params)

	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}

	var epochLoss float64
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		epochLoss = 0
		for start := 0; start < len(order); start += batchSize {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			end := start + batchSize
			if end > len(order) {
				end = len(order)
			}
			weight := 1 / float64(end-start)

			grad.zeroGrad()
			for _, idx := range order[start:end] {
				s := samples[idx]
				epochLoss += n.accumulate(s.Input, s.Target, dropoutScale(dropout, rng), weight, grad)
			}
			opt.step(params, grads)
		}
		epochLoss /= float64(len(samples))
		if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
			return epochLoss, ErrDiverged
		}
	}
	return epochLoss, nil
}

// dropoutScale draws the inverted-dropout mask for a scalar input.
func dropoutScale(rate float64, rng *rand.Rand) float64 {
	if rate <= 0 {
		return 1
	}
	if rng.Float64() < rate {
		return 0
	}
	return 1 / (1 - rate)
}
