package shape

import "math"

// DefaultDeltaFactor scales a hyperparameter's range into the step used for
// finite differences.
const DefaultDeltaFactor = 1e-5

// Hyperparameter is a script parameter with its current value.
type Hyperparameter struct {
	Name  string
	Value float64
	Min   float64
	Max   float64
}

// Range returns Max - Min.
func (h Hyperparameter) Range() float64 {
	return h.Max - h.Min
}

// Delta returns a small step for this parameter: fac times its range,
// negated when stepping up would leave the range. A fac of zero or less
// means DefaultDeltaFactor.
func (h Hyperparameter) Delta(fac float64) float64 {
	if fac <= 0 {
		fac = DefaultDeltaFactor
	}
	d := h.Range() * fac
	if h.Value+d > h.Max {
		return -d
	}
	return d
}

// Set changes the value, clamped to [Min, Max]. NaN is ignored.
func (h *Hyperparameter) Set(v float64) {
	if math.IsNaN(v) {
		return
	}
	h.Value = math.Min(h.Max, math.Max(h.Min, v))
}

// Add moves the value by d, clamped like Set.
func (h *Hyperparameter) Add(d float64) {
	h.Set(h.Value + d)
}
