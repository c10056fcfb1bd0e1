package jacobian

import (
	"fmt"
	"math"
	"strings"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Filter reduces per-sample jacobians to one derivative per hyperparameter.
// Columns a solver should ignore are zero.
type Filter interface {
	// Reduce returns K derivatives. radius is the brush radius the samples
	// were drawn for.
	Reduce(j *Jacobians, s *Samples, radius float64) []v3.Vec
	// SampleRadius returns the radius to sample at for a brush of radius.
	SampleRadius(radius float64) float64
}

// FilterKind selects a Filter.
type FilterKind int

const (
	FilterMean FilterKind = iota
	FilterContrast
)

func (k FilterKind) String() string {
	switch k {
	case FilterMean:
		return "mean"
	case FilterContrast:
		return "contrast"
	default:
		return fmt.Sprintf("FilterKind(%d)", int(k))
	}
}

// ParseFilter parses a filter name.
func ParseFilter(name string) (FilterKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mean", "average":
		return FilterMean, nil
	case "contrast", "negative":
		return FilterContrast, nil
	}
	return 0, fmt.Errorf("jacobian: unknown filter %q, expected mean or contrast", name)
}

// NewFilter returns the filter of kind k with default settings.
func NewFilter(k FilterKind) Filter {
	if k == FilterContrast {
		return NewContrastFilter()
	}
	return MeanFilter{}
}

// MeanFilter averages the valid jacobians of every sample.
type MeanFilter struct{}

func (MeanFilter) Reduce(j *Jacobians, _ *Samples, _ float64) []v3.Vec {
	out := make([]v3.Vec, j.K)
	for k := range out {
		if m := j.Mean(k, nil); !math.IsNaN(m.X) {
			out[k] = m
		}
	}
	return out
}

func (MeanFilter) SampleRadius(radius float64) float64 { return radius }

// Contrast filter defaults.
const (
	DefaultRadiusFactor       = 1.5
	DefaultContrastThreshold  = 0.75
	DefaultVariationThreshold = 5.0
	minLeastVariation         = 1e-2
	negligibleNorm            = 1e-8
)

// ContrastFilter samples beyond the brush and keeps the parameters whose
// influence is both steady inside the brush and stronger inside than
// outside it.
//
// A parameter is dropped when the coefficient of variation of its
// jacobian norms inside the brush exceeds VariationThreshold times the
// least one, or when its contrast (mean norm inside over mean norm
// outside) is below ContrastThreshold times the best contrast.
type ContrastFilter struct {
	RadiusFactor       float64 // sample radius over brush radius
	ContrastThreshold  float64 // in [0, 1]
	VariationThreshold float64 // at least 1
}

// NewContrastFilter returns a ContrastFilter with default settings.
func NewContrastFilter() *ContrastFilter {
	return &ContrastFilter{
		RadiusFactor:       DefaultRadiusFactor,
		ContrastThreshold:  DefaultContrastThreshold,
		VariationThreshold: DefaultVariationThreshold,
	}
}

func (f *ContrastFilter) SampleRadius(radius float64) float64 {
	if f.RadiusFactor < 1 {
		return radius
	}
	return radius * f.RadiusFactor
}

func (f *ContrastFilter) Reduce(j *Jacobians, s *Samples, radius float64) []v3.Vec {
	inside := func(i int) bool { return s.Offsets[i].Length() < radius }
	outside := func(i int) bool { return !inside(i) }

	lambdaV := 1 / math.Max(f.VariationThreshold, 1)
	lambdaC := f.ContrastThreshold

	inMean := make([]float64, j.K)
	outMean := make([]float64, j.K)
	cv := make([]float64, j.K)
	minCV := math.Inf(1)
	for k := 0; k < j.K; k++ {
		var inStd float64
		inMean[k], inStd = meanStd(j.Norms(k, inside))
		outMean[k], _ = meanStd(j.Norms(k, outside))
		// No tracked sample means no measurable influence.
		if math.IsNaN(inMean[k]) {
			inMean[k], inStd = 0, 0
		}
		if math.IsNaN(outMean[k]) {
			outMean[k] = 0
		}
		cv[k] = inStd / inMean[k]
		if !math.IsNaN(cv[k]) {
			minCV = math.Min(minCV, cv[k])
		}
	}
	minCV = math.Max(minCV, minLeastVariation)

	dropped := make([]bool, j.K)
	contrast := make([]float64, j.K)
	best := math.Inf(-1)
	for k := 0; k < j.K; k++ {
		if minCV/cv[k] < lambdaV {
			dropped[k] = true
			inMean[k] = 0
		}
		switch {
		case inMean[k] < negligibleNorm:
			contrast[k] = 0
		case outMean[k] < negligibleNorm:
			contrast[k] = math.Inf(1)
		default:
			contrast[k] = inMean[k] / outMean[k]
		}
		best = math.Max(best, contrast[k])
	}

	out := make([]v3.Vec, j.K)
	for k := 0; k < j.K; k++ {
		if contrast[k]/best < lambdaC {
			dropped[k] = true
		}
		if dropped[k] {
			continue
		}
		if m := j.Mean(k, inside); !math.IsNaN(m.X) {
			out[k] = m
		}
	}
	return out
}
