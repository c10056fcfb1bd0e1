package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"

	"github.com/chazu/amend/internal/config"
	"github.com/chazu/amend/pkg/accel"
	"github.com/chazu/amend/pkg/jacobian"
	"github.com/chazu/amend/pkg/kernel/sdfx"
	"github.com/chazu/amend/pkg/mesh"
	"github.com/chazu/amend/pkg/profiling"
	"github.com/chazu/amend/pkg/shape"
	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// App runs one script through evaluation, sampling, the coparam round trip
// and jacobians. The index cache and kernel are kept across runs, so that
// watch mode only rebuilds indices for meshes that changed.
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	kernel *sdfx.SdfxKernel
	cache  *accel.Cache
	prof   *profiling.Pool

	// Hyperparameter values set before each run.
	Overrides map[string]float64
	// STLDir, when set, receives one world-space STL file per object.
	STLDir string
	// ProjectSTL, when set, is an external mesh the samples are projected onto.
	ProjectSTL string
}

// ObjectReport describes one evaluated object.
type ObjectReport struct {
	Name      string
	Triangles int
	Bounds    sdf.Box3 // world space
}

// ParamReport describes the influence of one hyperparameter on the samples.
type ParamReport struct {
	Name     string
	Value    float64
	Valid    int    // samples tracked through the perturbation
	Mean     v3.Vec // over every valid sample
	Filtered v3.Vec // zero when the filter drops the parameter
}

// ProjectionReport summarizes projecting the samples onto an external mesh.
type ProjectionReport struct {
	Path      string
	Triangles int
	Backend   accel.Backend
	MeanDist  float64
	MaxDist   float64
}

// Report is the outcome of one run.
type Report struct {
	Objects      []ObjectReport
	Samples      int
	Main         v3.Vec
	RoundTripMax float64 // largest |position - position(coparam(position))|
	Lost         int     // samples whose coparam no longer maps back
	Params       []ParamReport
	Projection   *ProjectionReport
	Trace        *profiling.Trace
}

// NewApp creates an App from a validated config.
func NewApp(cfg *config.Config, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	k := sdfx.New()
	k.SetMeshCells(cfg.Shape.MeshCells)
	return &App{
		cfg:    cfg,
		log:    log,
		kernel: k,
		cache: accel.NewCache(cfg.Accel.CacheSize, log.Named("accel"),
			accel.WithBackend(cfg.Backend()),
			accel.WithLeafSize(cfg.Accel.LeafSize)),
		prof:      profiling.NewPool(),
		Overrides: map[string]float64{},
	}
}

// Profiling returns the counters accumulated over every run.
func (a *App) Profiling() *profiling.Pool {
	return a.prof
}

// Run evaluates source and measures it.
func (a *App) Run(ctx context.Context, source string) (*Report, error) {
	root := profiling.InitTrace("run")
	defer root.Finish(nil)
	report := &Report{Trace: root}

	span := profiling.InitTrace("evaluate")
	sh, err := shape.New(source, a.kernel,
		shape.WithLogger(a.log.Named("shape")),
		shape.WithCache(a.cache),
		shape.WithProfiling(a.prof),
		shape.WithWorkers(a.cfg.Accel.Workers))
	if err != nil {
		return nil, err
	}
	for name, v := range a.Overrides {
		if err := sh.SetHyperparam(name, v); err != nil {
			return nil, err
		}
	}
	objects, err := sh.Update(ctx)
	span.Finish(root)
	if err != nil {
		return nil, err
	}
	for _, o := range objects {
		report.Objects = append(report.Objects, ObjectReport{
			Name:      o.Name,
			Triangles: o.Mesh.TriangleCount(),
			Bounds:    worldBounds(o),
		})
	}

	if a.STLDir != "" {
		span = profiling.InitTrace("export")
		err := a.exportSTL(objects)
		span.Finish(root)
		if err != nil {
			return nil, err
		}
	}

	center, err := a.cfg.Center()
	if err != nil {
		return nil, err
	}
	filter := a.cfg.Filter()
	radius := a.cfg.Sampling.Radius

	span = profiling.InitTrace("sample")
	timer := profiling.Start()
	samples, err := jacobian.SampleAround(objects, center, filter.SampleRadius(radius), a.cfg.Sampling.Count, a.cfg.Sampling.Seed)
	a.prof.Counter("app:sample").AddTimer(timer)
	span.Finish(root)
	if err != nil {
		return nil, err
	}
	report.Samples = samples.Len()
	report.Main, _ = samples.MainPosition()

	span = profiling.InitTrace("round trip")
	report.RoundTripMax, report.Lost = roundTrip(objects, samples, a.cfg.Jacobian.MaxProjectionError)
	span.Finish(root)

	if a.ProjectSTL != "" {
		span = profiling.InitTrace("project")
		report.Projection, err = a.project(samples.Positions)
		span.Finish(root)
		if err != nil {
			return nil, err
		}
	}

	j, err := jacobian.ComputeJacobians(ctx, sh, samples,
		jacobian.WithDeltaFactor(a.cfg.Jacobian.DeltaFactor),
		jacobian.WithMaxError(a.cfg.Jacobian.MaxProjectionError),
		jacobian.WithLogger(a.log.Named("jacobian")),
		jacobian.WithTrace(root),
		jacobian.WithProfiling(a.prof))
	if err != nil {
		return nil, err
	}
	reduced := filter.Reduce(j, samples, radius)
	for k, h := range sh.Hyperparams() {
		p := ParamReport{Name: h.Name, Value: h.Value, Filtered: reduced[k]}
		p.Valid = len(j.Norms(k, nil))
		if m := j.Mean(k, nil); !math.IsNaN(m.X) {
			p.Mean = m
		}
		report.Params = append(report.Params, p)
	}
	return report, nil
}

// roundTrip maps each sample to its coparam position and back, returning
// the largest error and the number of samples that did not map back.
func roundTrip(objects []*shape.Object, s *jacobian.Samples, maxErr float64) (float64, int) {
	back := jacobian.EvalPositions(objects, s, maxErr)
	worst, lost := 0.0, 0
	for i, p := range back {
		d := p.Sub(s.Positions[i]).Length()
		if math.IsNaN(d) {
			lost++
			continue
		}
		worst = math.Max(worst, d)
	}
	return worst, lost
}

func worldBounds(o *shape.Object) sdf.Box3 {
	b := o.Mesh.Bounds()
	box := sdf.Box3{Min: o.Transform.MulPosition(b.Min), Max: o.Transform.MulPosition(b.Min)}
	for _, c := range b.Vertices() {
		box = box.Include(o.Transform.MulPosition(c))
	}
	return box
}

func worldTriangles(o *shape.Object) []*sdf.Triangle3 {
	tris := o.Mesh.Triangles()
	for _, t := range tris {
		for j := range t {
			t[j] = o.Transform.MulPosition(t[j])
		}
	}
	return tris
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// exportSTL writes one STL file per object into STLDir.
func (a *App) exportSTL(objects []*shape.Object) error {
	if err := os.MkdirAll(a.STLDir, 0755); err != nil {
		return err
	}
	for _, o := range objects {
		path := filepath.Join(a.STLDir, unsafeName.ReplaceAllString(o.Name, "_")+".stl")
		if err := render.SaveSTL(path, worldTriangles(o)); err != nil {
			return fmt.Errorf("export %s: %w", o.Name, err)
		}
		a.log.Info("wrote STL", zap.String("object", o.Name), zap.String("path", path))
	}
	return nil
}

// project projects points onto the mesh in ProjectSTL.
func (a *App) project(points []v3.Vec) (*ProjectionReport, error) {
	tris, err := render.LoadSTL(a.ProjectSTL)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", a.ProjectSTL, err)
	}
	idx, err := a.cache.Get(mesh.FromTriangles(tris))
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", a.ProjectSTL, err)
	}

	timer := profiling.Start()
	hits := accel.QueryVecs(idx, points, accel.WithWorkers(a.cfg.Accel.Workers))
	a.prof.Counter("app:project").AddTimer(timer)

	r := &ProjectionReport{Path: a.ProjectSTL, Triangles: len(tris), Backend: idx.Backend()}
	n := 0
	for _, h := range hits {
		if !h.OK() {
			continue
		}
		d := h.Distance()
		r.MeanDist += d
		r.MaxDist = math.Max(r.MaxDist, d)
		n++
	}
	if n > 0 {
		r.MeanDist /= float64(n)
	}
	return r, nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r *Report) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("objects", len(r.Objects))
	enc.AddInt("samples", r.Samples)
	enc.AddString("main", formatVec(r.Main))
	enc.AddFloat64("round_trip_max", r.RoundTripMax)
	enc.AddInt("lost", r.Lost)
	if p := r.Projection; p != nil {
		enc.AddString("project", p.Path)
		enc.AddFloat64("project_mean", p.MeanDist)
		enc.AddFloat64("project_max", p.MaxDist)
	}
	return enc.AddArray("params", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
		for _, p := range r.Params {
			if err := arr.AppendObject(p); err != nil {
				return err
			}
		}
		return nil
	}))
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (p ParamReport) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", p.Name)
	enc.AddFloat64("value", p.Value)
	enc.AddInt("valid", p.Valid)
	enc.AddString("mean", formatVec(p.Mean))
	enc.AddString("filtered", formatVec(p.Filtered))
	return nil
}

func formatVec(v v3.Vec) string {
	return fmt.Sprintf("(%.4g, %.4g, %.4g)", v.X, v.Y, v.Z)
}
