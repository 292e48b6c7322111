// Package optimization provides shared data structures for parameter tuning results.
package optimization

// Summary captures the result of tuning a single algorithm parameter.
type Summary struct {
	Algorithm     string   `json:"algorithm"`
	Parameter     string   `json:"parameter"`
	Original      float64  `json:"original"`
	Value         float64  `json:"value"`
	OriginalError float64  `json:"originalError"`
	Error         float64  `json:"error"`
	Holdout       int      `json:"holdout"`
	Candidates    int      `json:"candidates"`
	Converged     bool     `json:"converged"`
	Notes         []string `json:"notes,omitempty"`
}

// Improvement returns the relative reduction in error as a percentage, or 0
// when the original error was already zero.
func (s Summary) Improvement() float64 {
	if s.OriginalError == 0 {
		return 0
	}
	return (s.OriginalError - s.Error) / s.OriginalError * 100
}
