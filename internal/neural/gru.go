// Package neural implements the small single-layer gated recurrent network
// used by the sequence-model forecaster: one scalar input per time step, a
// GRU hidden layer, and a linear projection to a single output.
package neural

import (
	"errors"
	"math"
	"math/rand"
)

// ErrReleased is returned when a released network is used.
var ErrReleased = errors.New("neural: network has been released")

// GRU holds the network weights. Recurrent matrices are stored row-major:
// U[i*Hidden+j] maps h_prev[j] into unit i.
//
// Step equations (update gate z, reset gate r):
//
//	z  = sigmoid(Wz*x + Uz*h + Bz)
//	r  = sigmoid(Wr*x + Ur*h + Br)
//	hc = tanh(Wh*x + Uh*(r ⊙ h) + Bh)
//	h' = z ⊙ h + (1 - z) ⊙ hc
//
// and the output is Wo·h_T + Bo.
type GRU struct {
	Hidden int

	Wz, Wr, Wh []float64
	Uz, Ur, Uh []float64
	Bz, Br, Bh []float64
	Wo, Bo     []float64

	released bool
}

// NewGRU returns a network with Glorot-uniform weights and zero biases.
func NewGRU(hidden int, rng *rand.Rand) *GRU {
	if hidden < 1 {
		hidden = 1
	}
	n := zeroGRU(hidden)

	inputLimit := math.Sqrt(6.0 / float64(1+3*hidden))
	recurrentLimit := math.Sqrt(6.0 / float64(hidden+3*hidden))
	outputLimit := math.Sqrt(6.0 / float64(hidden+1))

	for _, w := range [][]float64{n.Wz, n.Wr, n.Wh} {
		uniform(w, inputLimit, rng)
	}
	for _, u := range [][]float64{n.Uz, n.Ur, n.Uh} {
		uniform(u, recurrentLimit, rng)
	}
	uniform(n.Wo, outputLimit, rng)
	return n
}

func zeroGRU(hidden int) *GRU {
	hh := hidden * hidden
	return &GRU{
		Hidden: hidden,
		Wz:     make([]float64, hidden),
		Wr:     make([]float64, hidden),
		Wh:     make([]float64, hidden),
		Uz:     make([]float64, hh),
		Ur:     make([]float64, hh),
		Uh:     make([]float64, hh),
		Bz:     make([]float64, hidden),
		Br:     make([]float64, hidden),
		Bh:     make([]float64, hidden),
		Wo:     make([]float64, hidden),
		Bo:     make([]float64, 1),
	}
}

func uniform(dst []float64, limit float64, rng *rand.Rand) {
	for i := range dst {
		dst[i] = (rng.Float64()*2 - 1) * limit
	}
}

// params lists every weight slice in a fixed order shared with gradients.
func (n *GRU) params() [][]float64 {
	return [][]float64{n.Wz, n.Wr, n.Wh, n.Uz, n.Ur, n.Uh, n.Bz, n.Br, n.Bh, n.Wo, n.Bo}
}

func (n *GRU) zeroGrad() {
	for _, p := range n.params() {
		for i := range p {
			p[i] = 0
		}
	}
}

// Released reports whether Release has been called.
func (n *GRU) Released() bool {
	return n.released
}

// Release drops the weights. The network cannot be used afterwards.
func (n *GRU) Release() {
	if n.released {
		return
	}
	n.Wz, n.Wr, n.Wh = nil, nil, nil
	n.Uz, n.Ur, n.Uh = nil, nil, nil
	n.Bz, n.Br, n.Bh = nil, nil, nil
	n.Wo, n.Bo = nil, nil
	n.released = true
}

type step struct {
	x     float64
	hPrev []float64
	z     []float64
	r     []float64
	hc    []float64
	rh    []float64
	h     []float64
}

// forward runs the sequence through the network, scaling every input by
// inputScale (the dropout mask), and returns the output and per-step caches.
func (n *GRU) forward(seq []float64, inputScale float64) (float64, []step) {
	hidden := n.Hidden
	h := make([]float64, hidden)
	steps := make([]step, len(seq))

	for t, raw := range seq {
		x := raw * inputScale
		s := step{
			x:     x,
			hPrev: h,
			z:     make([]float64, hidden),
			r:     make([]float64, hidden),
			hc:    make([]float64, hidden),
			rh:    make([]float64, hidden),
			h:     make([]float64, hidden),
		}

		for i := 0; i < hidden; i++ {
			az := n.Wz[i]*x + n.Bz[i]
			ar := n.Wr[i]*x + n.Br[i]
			row := i * hidden
			for j := 0; j < hidden; j++ {
				az += n.Uz[row+j] * h[j]
				ar += n.Ur[row+j] * h[j]
			}
			s.z[i] = sigmoid(az)
			s.r[i] = sigmoid(ar)
		}
		for j := 0; j < hidden; j++ {
			s.rh[j] = s.r[j] * h[j]
		}
		for i := 0; i < hidden; i++ {
			ah := n.Wh[i]*x + n.Bh[i]
			row := i * hidden
			for j := 0; j < hidden; j++ {
				ah += n.Uh[row+j] * s.rh[j]
			}
			s.hc[i] = math.Tanh(ah)
			s.h[i] = s.z[i]*h[i] + (1-s.z[i])*s.hc[i]
		}

		steps[t] = s
		h = s.h
	}

	out := n.Bo[0]
	for i := 0; i < hidden; i++ {
		out += n.Wo[i] * h[i]
	}
	return out, steps
}

// backward propagates dOut (dLoss/dOutput) through the unrolled sequence and
// accumulates gradients into g.
func (n *GRU) backward(steps []step, dOut float64, g *GRU) {
	hidden := n.Hidden
	dh := make([]float64, hidden)

	var last []float64
	if len(steps) > 0 {
		last = steps[len(steps)-1].h
	} else {
		last = make([]float64, hidden)
	}
	for i := 0; i < hidden; i++ {
		g.Wo[i] += dOut * last[i]
		dh[i] = dOut * n.Wo[i]
	}
	g.Bo[0] += dOut

	daZ := make([]float64, hidden)
	daR := make([]float64, hidden)
	daH := make([]float64, hidden)
	drh := make([]float64, hidden)

	for t := len(steps) - 1; t >= 0; t-- {
		s := steps[t]
		dhPrev := make([]float64, hidden)

		for i := 0; i < hidden; i++ {
			dhc := dh[i] * (1 - s.z[i])
			dz := dh[i] * (s.hPrev[i] - s.hc[i])
			dhPrev[i] += dh[i] * s.z[i]
			daH[i] = dhc * (1 - s.hc[i]*s.hc[i])
			daZ[i] = dz * s.z[i] * (1 - s.z[i])
			drh[i] = 0
		}

		for i := 0; i < hidden; i++ {
			row := i * hidden
			for j := 0; j < hidden; j++ {
				g.Uh[row+j] += daH[i] * s.rh[j]
				drh[j] += n.Uh[row+j] * daH[i]
			}
		}

		for j := 0; j < hidden; j++ {
			dr := drh[j] * s.hPrev[j]
			dhPrev[j] += drh[j] * s.r[j]
			daR[j] = dr * s.r[j] * (1 - s.r[j])
		}

		for i := 0; i < hidden; i++ {
			g.Wz[i] += daZ[i] * s.x
			g.Wr[i] += daR[i] * s.x
			g.Wh[i] += daH[i] * s.x
			g.Bz[i] += daZ[i]
			g.Br[i] += daR[i]
			g.Bh[i] += daH[i]

			row := i * hidden
			for j := 0; j < hidden; j++ {
				g.Uz[row+j] += daZ[i] * s.hPrev[j]
				g.Ur[row+j] += daR[i] * s.hPrev[j]
				dhPrev[j] += n.Uz[row+j]*daZ[i] + n.Ur[row+j]*daR[i]
			}
		}

		dh = dhPrev
	}
}

// accumulate runs one sample forward and backward, adding weight*gradient of
// the squared error into g, and returns the squared error.
func (n *GRU) accumulate(seq []float64, target, inputScale, weight float64, g *GRU) float64 {
	out, steps := n.forward(seq, inputScale)
	diff := out - target
	n.backward(steps, weight*2*diff, g)
	return diff * diff
}

// Predict returns the network output for seq without dropout.
func (n *GRU) Predict(seq []float64) (float64, error) {
	if n.released {
		return 0, ErrReleased
	}
	out, _ := n.forward(seq, 1)
	return out, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
