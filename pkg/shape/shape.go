// Package shape turns a shape script into evaluated objects. A Shape owns
// the script's hyperparameters; each Update evaluates the script with the
// current values, tessellates every part and builds the indices used to
// project points onto the result.
package shape

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/chazu/amend/pkg/accel"
	"github.com/chazu/amend/pkg/coparam"
	"github.com/chazu/amend/pkg/engine"
	"github.com/chazu/amend/pkg/graph"
	"github.com/chazu/amend/pkg/kernel"
	"github.com/chazu/amend/pkg/mesh"
	"github.com/chazu/amend/pkg/profiling"
	"github.com/chazu/amend/pkg/tessellate"
	"github.com/deadsy/sdfx/sdf"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Object is one evaluated part of the shape.
type Object struct {
	Name       string
	Mesh       *mesh.Buffer // local space
	Param      *coparam.ParamMesh
	Transform  sdf.M44 // local to world
	Inverse    sdf.M44
	Index      accel.Index // over Mesh
	ParamIndex accel.Index // over Param.Param
}

// ScriptError reports a script that does not evaluate to a valid graph.
type ScriptError struct {
	Eval     []engine.EvalError
	Findings []graph.ValidationError
}

func (e *ScriptError) Error() string {
	var msgs []string
	for _, ee := range e.Eval {
		msgs = append(msgs, ee.Error())
	}
	for _, f := range e.Findings {
		msgs = append(msgs, f.Error())
	}
	if len(msgs) == 0 {
		return "shape: script error"
	}
	return "shape: " + strings.Join(msgs, "; ")
}

// Shape is a parametric shape. It is safe for concurrent use; updates are
// serialized.
type Shape struct {
	mu          sync.Mutex
	source      string
	engine      *engine.Engine
	kernel      kernel.Kernel
	cache       *accel.Cache
	log         *zap.Logger
	prof        *profiling.Pool
	workers     int
	hyperparams []Hyperparameter
	objects     []*Object
}

// Option configures a Shape.
type Option func(*Shape)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Shape) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCache shares an index cache between shapes.
func WithCache(c *accel.Cache) Option {
	return func(s *Shape) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithProfiling records update timings into p.
func WithProfiling(p *profiling.Pool) Option {
	return func(s *Shape) {
		if p != nil {
			s.prof = p
		}
	}
}

// WithWorkers bounds the number of objects indexed concurrently. Values
// below 1 mean runtime.NumCPU.
func WithWorkers(n int) Option {
	return func(s *Shape) {
		s.workers = n
	}
}

// New evaluates source once with default values to discover its
// hyperparameters. The shape is not tessellated until Update.
func New(source string, k kernel.Kernel, opts ...Option) (*Shape, error) {
	if k == nil {
		return nil, fmt.Errorf("shape: nil kernel")
	}
	s := &Shape{
		engine: engine.NewEngine(),
		kernel: k,
		log:    zap.NewNop(),
		prof:   profiling.NewPool(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = runtime.NumCPU()
	}
	if s.cache == nil {
		s.cache = accel.NewCache(accel.DefaultCacheSize, s.log)
	}
	if err := s.SetSource(source); err != nil {
		return nil, err
	}
	return s, nil
}

// SetSource replaces the script. Parameters that keep their name keep
// their value, clamped to the new range.
func (s *Shape) SetSource(source string) error {
	g, err := s.evaluate(source, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := make(map[string]float64, len(s.hyperparams))
	for _, h := range s.hyperparams {
		old[h.Name] = h.Value
	}
	hps := make([]Hyperparameter, len(g.Params))
	for i, p := range g.Params {
		hps[i] = Hyperparameter{Name: p.Name, Value: p.Value, Min: p.Min, Max: p.Max}
		if v, ok := old[p.Name]; ok {
			hps[i].Set(v)
		}
	}
	s.source = source
	s.hyperparams = hps
	s.objects = nil
	s.log.Debug("shape source set", zap.Int("hyperparams", len(hps)))
	return nil
}

func (s *Shape) evaluate(source string, overrides map[string]float64) (*graph.Graph, error) {
	timer := profiling.Start()
	defer s.prof.Counter("shape:evaluate").AddTimer(timer)

	g, evalErrs, err := s.engine.Evaluate(source, overrides)
	if err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}
	if len(evalErrs) > 0 {
		return nil, &ScriptError{Eval: evalErrs}
	}
	return g, nil
}

// Hyperparams returns a copy of the hyperparameters in declaration order.
func (s *Shape) Hyperparams() []Hyperparameter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Hyperparameter(nil), s.hyperparams...)
}

// Hyperparam returns the k-th hyperparameter.
func (s *Shape) Hyperparam(k int) (Hyperparameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k < 0 || k >= len(s.hyperparams) {
		return Hyperparameter{}, fmt.Errorf("shape: hyperparameter %d out of range [0, %d)", k, len(s.hyperparams))
	}
	return s.hyperparams[k], nil
}

// SetValue sets the k-th hyperparameter, clamped to its range, and returns
// the value actually stored.
func (s *Shape) SetValue(k int, v float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k < 0 || k >= len(s.hyperparams) {
		return 0, fmt.Errorf("shape: hyperparameter %d out of range [0, %d)", k, len(s.hyperparams))
	}
	s.hyperparams[k].Set(v)
	return s.hyperparams[k].Value, nil
}

// SetHyperparam sets a hyperparameter by name.
func (s *Shape) SetHyperparam(name string, v float64) error {
	s.mu.Lock()
	names := make([]string, len(s.hyperparams))
	for i, h := range s.hyperparams {
		names[i] = h.Name
	}
	s.mu.Unlock()

	for k, n := range names {
		if n == name {
			_, err := s.SetValue(k, v)
			return err
		}
	}
	if guess := suggest(name, names); guess != "" {
		return fmt.Errorf("shape: no hyperparameter %q (did you mean %q?)", name, guess)
	}
	return fmt.Errorf("shape: no hyperparameter %q", name)
}

// SetHyperparams sets every hyperparameter in declaration order.
func (s *Shape) SetHyperparams(values []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(values) != len(s.hyperparams) {
		return fmt.Errorf("shape: %d values for %d hyperparameters", len(values), len(s.hyperparams))
	}
	for i, v := range values {
		s.hyperparams[i].Set(v)
	}
	return nil
}

// suggestThreshold is the least similarity for a name to be suggested.
const suggestThreshold = 0.5

func suggest(name string, candidates []string) string {
	best, bestScore := "", suggestThreshold
	for _, c := range candidates {
		if score := strutil.Similarity(name, c, metrics.NewLevenshtein()); score >= bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// Objects returns the objects of the last successful Update.
func (s *Shape) Objects() []*Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects
}

// Update evaluates the script with the current hyperparameters and returns
// the resulting objects, one per tessellated part.
func (s *Shape) Update(ctx context.Context) ([]*Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := profiling.Start()
	defer s.prof.Counter("shape:update").AddTimer(timer)

	overrides := make(map[string]float64, len(s.hyperparams))
	for _, h := range s.hyperparams {
		overrides[h.Name] = h.Value
	}
	g, err := s.evaluate(s.source, overrides)
	if err != nil {
		return nil, err
	}
	if findings := graph.Errors(graph.Validate(g)); len(findings) > 0 {
		return nil, &ScriptError{Findings: findings}
	}

	tessTimer := profiling.Start()
	parts, err := tessellate.Tessellate(g, s.kernel)
	s.prof.Counter("shape:tessellate").AddTimer(tessTimer)
	if err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}

	objects, err := s.index(ctx, parts)
	if err != nil {
		return nil, err
	}
	s.objects = objects
	s.log.Debug("shape updated",
		zap.Int("objects", len(objects)),
		zap.Duration("elapsed", timer.Elapsed()))
	return objects, nil
}

// index converts parts to objects, building their indices concurrently.
func (s *Shape) index(ctx context.Context, parts []tessellate.Part) ([]*Object, error) {
	timer := profiling.Start()
	defer s.prof.Counter("shape:index").AddTimer(timer)

	objects := make([]*Object, len(parts))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for i, part := range parts {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			obj, err := s.object(part)
			if err != nil {
				return fmt.Errorf("shape: object %s: %w", part.Name, err)
			}
			objects[i] = obj
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return objects, nil
}

func (s *Shape) object(part tessellate.Part) (*Object, error) {
	m, err := mesh.FromKernel(part.Mesh)
	if err != nil {
		return nil, err
	}
	idx, err := s.cache.Get(m)
	if err != nil {
		return nil, err
	}
	// Cached indices may hold an equal buffer built earlier; use it so that
	// the param mesh and the index agree.
	m = idx.Mesh()
	pm, err := coparam.Triplanar(m)
	if err != nil {
		return nil, err
	}
	pidx, err := s.cache.Get(pm.Param)
	if err != nil {
		return nil, err
	}
	pm.Param = pidx.Mesh()
	return &Object{
		Name:       part.Name,
		Mesh:       m,
		Param:      pm,
		Transform:  part.Transform,
		Inverse:    part.Transform.Inverse(),
		Index:      idx,
		ParamIndex: pidx,
	}, nil
}
