// Package jacobian measures how surface points move when a shape's
// hyperparameters change. Points are identified by coparams; their
// jacobians are estimated by finite differences, one re-evaluation of the
// shape per hyperparameter, and filters reduce them to the columns a
// solver should act on.
package jacobian

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/chazu/amend/pkg/coparam"
	"github.com/chazu/amend/pkg/profiling"
	"github.com/chazu/amend/pkg/shape"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"go.uber.org/zap"
)

// Jacobians holds one 3-vector per (sample, hyperparameter): the
// derivative of the sample's world position with respect to the parameter.
type Jacobians struct {
	N, K   int
	values []v3.Vec // i*K + k
	valid  []bool
}

// NewJacobians returns n by k jacobians, all invalid.
func NewJacobians(n, k int) *Jacobians {
	return &Jacobians{
		N:      n,
		K:      k,
		values: make([]v3.Vec, n*k),
		valid:  make([]bool, n*k),
	}
}

// Set stores the derivative of sample i with respect to parameter k. NaN
// components mark the entry invalid.
func (j *Jacobians) Set(i, k int, d v3.Vec) {
	j.values[i*j.K+k] = d
	j.valid[i*j.K+k] = !coparam.IsNaN(d)
}

// Column returns the derivative of sample i with respect to parameter k.
func (j *Jacobians) Column(i, k int) v3.Vec {
	return j.values[i*j.K+k]
}

// At returns one component of Column(i, k).
func (j *Jacobians) At(i, axis, k int) float64 {
	return j.values[i*j.K+k].Get(axis)
}

// Valid reports whether sample i could be tracked through the change of
// parameter k.
func (j *Jacobians) Valid(i, k int) bool {
	return j.valid[i*j.K+k]
}

// Mean averages the valid derivatives with respect to parameter k over the
// samples for which include returns true, or over all samples when include
// is nil. It returns NaN when no sample qualifies.
func (j *Jacobians) Mean(k int, include func(i int) bool) v3.Vec {
	var sum v3.Vec
	n := 0
	for i := 0; i < j.N; i++ {
		if !j.Valid(i, k) || (include != nil && !include(i)) {
			continue
		}
		sum = sum.Add(j.Column(i, k))
		n++
	}
	if n == 0 {
		return nanVec()
	}
	return sum.DivScalar(float64(n))
}

type options struct {
	fac    float64
	maxErr float64
	log    *zap.Logger
	trace  *profiling.Trace
	prof   *profiling.Pool
}

// Option configures ComputeJacobians.
type Option func(*options)

// WithDeltaFactor sets the fraction of each parameter's range used as the
// finite-difference step.
func WithDeltaFactor(fac float64) Option {
	return func(o *options) { o.fac = fac }
}

// WithMaxError sets the largest projection error at which a coparam is
// still considered on the surface.
func WithMaxError(maxErr float64) Option {
	return func(o *options) { o.maxErr = maxErr }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTrace attaches a "jacobians" span, with one child per parameter, to
// parent.
func WithTrace(parent *profiling.Trace) Option {
	return func(o *options) { o.trace = parent }
}

// WithProfiling records per-parameter timings into p.
func WithProfiling(p *profiling.Pool) Option {
	return func(o *options) { o.prof = p }
}

// ComputeJacobians estimates the jacobians of s's samples with respect to
// every hyperparameter of sh. Each parameter is moved by its Delta, the
// shape is re-evaluated, the samples are mapped back to world positions and
// the parameter is restored. A parameter whose perturbed script does not
// evaluate leaves its column invalid. sh is left updated with its original
// values.
func ComputeJacobians(ctx context.Context, sh *shape.Shape, s *Samples, opts ...Option) (j *Jacobians, err error) {
	o := options{
		fac:    shape.DefaultDeltaFactor,
		maxErr: coparam.DefaultMaxProjectionError,
		log:    zap.NewNop(),
		prof:   profiling.NewPool(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	trace := profiling.InitTrace("jacobians")
	defer trace.Finish(o.trace)
	timer := profiling.Start()
	defer o.prof.Counter("jacobian:compute").AddTimer(timer)

	hps := sh.Hyperparams()
	j = NewJacobians(s.Len(), len(hps))
	if s.Len() == 0 {
		return j, nil
	}

	values := make([]float64, len(hps))
	for k, h := range hps {
		values[k] = h.Value
	}
	defer func() {
		if restoreErr := sh.SetHyperparams(values); restoreErr != nil && err == nil {
			err = restoreErr
		}
		if _, updateErr := sh.Update(ctx); updateErr != nil && err == nil {
			err = fmt.Errorf("jacobian: restore: %w", updateErr)
		}
	}()

	objects, err := sh.Update(ctx)
	if err != nil {
		return nil, fmt.Errorf("jacobian: base evaluation: %w", err)
	}
	base := EvalPositions(objects, s, o.maxErr)

	for k, h := range hps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := column(ctx, sh, s, j, k, h, base, &o, trace); err != nil {
			return nil, err
		}
	}

	o.log.Debug("jacobians computed",
		zap.Int("samples", j.N),
		zap.Int("hyperparams", j.K),
		zap.Duration("elapsed", timer.Elapsed()))
	return j, nil
}

// column fills the jacobians of parameter k and puts the parameter back,
// so that the next column is taken around the same point.
func column(ctx context.Context, sh *shape.Shape, s *Samples, j *Jacobians, k int, h shape.Hyperparameter, base []v3.Vec, o *options, parent *profiling.Trace) (err error) {
	span := profiling.InitTrace("param " + h.Name)
	defer span.Finish(parent)
	timer := profiling.Start()
	defer o.prof.Counter("jacobian:param").AddTimer(timer)

	value, err := sh.SetValue(k, h.Value+h.Delta(o.fac))
	if err != nil {
		return err
	}
	defer func() {
		if _, restoreErr := sh.SetValue(k, h.Value); restoreErr != nil && err == nil {
			err = fmt.Errorf("jacobian: param %s: restore: %w", h.Name, restoreErr)
		}
	}()

	delta := value - h.Value
	if delta == 0 {
		// The parameter cannot move.
		for i := 0; i < j.N; i++ {
			j.Set(i, k, v3.Vec{})
		}
		return nil
	}

	objects, err := sh.Update(ctx)
	if err != nil {
		var se *shape.ScriptError
		if errors.As(err, &se) {
			o.log.Warn("perturbed shape does not evaluate",
				zap.String("param", h.Name),
				zap.Float64("value", value),
				zap.Error(err))
			return nil
		}
		return fmt.Errorf("jacobian: param %s: %w", h.Name, err)
	}

	pos := EvalPositions(objects, s, o.maxErr)
	for i := range pos {
		j.Set(i, k, pos[i].Sub(base[i]).DivScalar(delta))
	}
	o.log.Debug("param jacobian",
		zap.String("param", h.Name),
		zap.Float64("delta", delta),
		zap.Int("valid", j.validCount(k)))
	return nil
}

func (j *Jacobians) validCount(k int) int {
	n := 0
	for i := 0; i < j.N; i++ {
		if j.Valid(i, k) {
			n++
		}
	}
	return n
}

// Norms returns |Column(i, k)| for every valid sample i selected by
// include, in sample order.
func (j *Jacobians) Norms(k int, include func(i int) bool) []float64 {
	var norms []float64
	for i := 0; i < j.N; i++ {
		if !j.Valid(i, k) || (include != nil && !include(i)) {
			continue
		}
		norms = append(norms, j.Column(i, k).Length())
	}
	return norms
}

// meanStd returns the mean and population standard deviation of xs, or
// NaN for both when xs is empty.
func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return math.NaN(), math.NaN()
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(std / float64(len(xs)))
}
