package forecast

import (
	"math"
	"testing"

	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainGrid(t *testing.T) {
	tests := []struct {
		name     string
		domain   Domain
		limit    int
		expected []float64
	}{
		{name: "integer steps", domain: Domain{Min: 1, Max: 5, Step: 1}, expected: []float64{1, 2, 3, 4, 5}},
		{name: "fractional steps", domain: Domain{Min: 0, Max: 0.5, Step: 0.1}, expected: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5}},
		{name: "thinned", domain: Domain{Min: 0, Max: 9, Step: 1}, limit: 4, expected: []float64{0, 3, 6, 9}},
		{name: "no step", domain: Domain{Min: 2, Max: 4}, expected: []float64{2}},
		{name: "horizon", domain: HorizonDomain, expected: []float64{12, 24}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.domain.Grid(tt.limit))
		})
	}
}

func TestDomainClamp(t *testing.T) {
	d := Domain{Min: 0, Max: 5, Step: 1}
	assert.Equal(t, 0.0, d.Clamp(-3))
	assert.Equal(t, 5.0, d.Clamp(9))
	assert.Equal(t, 2.5, d.Clamp(2.5))
	assert.True(t, d.Contains(5))
	assert.False(t, d.Contains(5.01))
}

func TestDescriptorBound(t *testing.T) {
	tests := []struct {
		name     string
		params   ParameterSet
		expected ParameterSet
		warnings int
	}{
		{
			name:     "defaults untouched",
			params:   SequenceModelDescriptor.Defaults(),
			expected: SequenceModelDescriptor.Defaults(),
		},
		{
			name:     "outside domain but within limit",
			params:   ParameterSet{"hidden_size": 200, "sequence_length": 3},
			expected: ParameterSet{"hidden_size": 200, "sequence_length": 3},
		},
		{
			name:     "beyond limit",
			params:   ParameterSet{"hidden_size": 1e9, HorizonKey: -6},
			expected: ParameterSet{"hidden_size": 256, HorizonKey: 0},
			warnings: 2,
		},
		{
			name:     "not finite",
			params:   ParameterSet{"dropout_rate": math.Inf(1)},
			expected: ParameterSet{"dropout_rate": 0.2},
			warnings: 1,
		},
		{
			name:     "unknown and unlimited parameters",
			params:   ParameterSet{"alpha": 1e12, "learning_rate": 50},
			expected: ParameterSet{"alpha": 1e12, "learning_rate": 50},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings := SequenceModelDescriptor.Bound(tt.params)
			assert.Equal(t, tt.expected, got)
			assert.Len(t, warnings, tt.warnings)
		})
	}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name     string
		params   ParameterSet
		warnings int
	}{
		{name: "defaults", params: EnsembleDescriptor.Defaults(), warnings: 0},
		{name: "outside domain", params: ParameterSet{"trend_weight": 1.5}, warnings: 1},
		{name: "off grid", params: ParameterSet{"ma_weight": 0.15}, warnings: 1},
		{name: "unknown parameter", params: ParameterSet{"alpha": 0.2}, warnings: 1},
		{name: "bad horizon", params: ParameterSet{HorizonKey: 18}, warnings: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, EnsembleDescriptor.Validate(tt.params), tt.warnings)
		})
	}
}

func TestParameterSetDecode(t *testing.T) {
	var p SmoothedParams
	set := ParameterSet{"decomposition_level": 3, "arima_p": 2, "arima_d": 1, "arima_q": 0, HorizonKey: 24}
	require.NoError(t, set.Decode(&p))
	assert.Equal(t, SmoothedParams{DecompositionLevel: 3, P: 2, D: 1, Q: 0, Horizon: 24}, p)

	var e EnsembleParams
	require.NoError(t, ParameterSet{"trend_weight": 0.4}.Decode(&e))
	assert.Equal(t, 0.4, e.TrendWeight)
	assert.Equal(t, 0.0, e.ExpWeight)
}

func TestParameterSetHelpers(t *testing.T) {
	set := ParameterSet{"b": 2, "a": 1}
	assert.Equal(t, []string{"a", "b"}, set.Names())
	assert.Equal(t, `{"a":1,"b":2}`, set.String())

	merged := set.Merge(ParameterSet{"a": 9, "c": 3})
	assert.Equal(t, ParameterSet{"a": 1, "b": 2, "c": 3}, merged)

	withHorizon := set.WithHorizon(24)
	assert.Equal(t, 24, withHorizon.Horizon())
	assert.Equal(t, 0, set.Horizon(), "WithHorizon must not modify the receiver")
}

func TestSelectionKeepsIndependentSets(t *testing.T) {
	registry := NewDefaultRegistry(nil, 1)
	selection := NewSelection(registry)

	selection.Set(constants.AlgorithmEnsemble, "trend_weight", 0.3)
	selection.Set(constants.AlgorithmWaveletARIMA, "arima_p", 4)

	ensemble := selection.For(registry, constants.AlgorithmEnsemble)
	assert.Equal(t, 0.3, ensemble["trend_weight"])
	assert.Equal(t, 0.7, ensemble["exp_weight"])

	wavelet := selection.For(registry, constants.AlgorithmWaveletARIMA)
	assert.Equal(t, 4.0, wavelet["arima_p"])
	_, leaked := wavelet["trend_weight"]
	assert.False(t, leaked)

	gru := selection.For(registry, constants.AlgorithmGRU)
	assert.Equal(t, 50.0, gru["hidden_size"])
	assert.Equal(t, 12, gru.Horizon())

	// For returns a copy.
	ensemble["trend_weight"] = 0.9
	assert.Equal(t, 0.3, selection.For(registry, constants.AlgorithmEnsemble)["trend_weight"])

	selection.Reset(registry, constants.AlgorithmEnsemble)
	assert.Equal(t, 1.0, selection.For(registry, constants.AlgorithmEnsemble)["trend_weight"])
	assert.Equal(t, 4.0, selection.For(registry, constants.AlgorithmWaveletARIMA)["arima_p"])
}
