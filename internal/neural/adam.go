package neural

import "math"

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// adam is the Adam optimizer with bias-corrected step size.
type adam struct {
	lr float64
	t  int
	m  [][]float64
	v  [][]float64
}

func newAdam(lr float64, params [][]float64) *adam {
	a := &adam{lr: lr, m: make([][]float64, len(params)), v: make([][]float64, len(params))}
	for k, p := range params {
		a.m[k] = make([]float64, len(p))
		a.v[k] = make([]float64, len(p))
	}
	return a
}

func (a *adam) step(params, grads [][]float64) {
	a.t++
	correction := math.Sqrt(1-math.Pow(adamBeta2, float64(a.t))) / (1 - math.Pow(adamBeta1, float64(a.t)))
	lr := a.lr * correction
	for k, p := range params {
		g := grads[k]
		m := a.m[k]
		v := a.v[k]
		for i := range p {
			m[i] = adamBeta1*m[i] + (1-adamBeta1)*g[i]
			v[i] = adamBeta2*v[i] + (1-adamBeta2)*g[i]*g[i]
			p[i] -= lr * m[i] / (math.Sqrt(v[i]) + adamEpsilon)
		}
	}
}
