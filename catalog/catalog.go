package catalog

import (
	"context"
	"fmt"

	"github.com/fieldsafe/riskreactor/configstore"
	"github.com/fieldsafe/riskreactor/errors"
	"github.com/fieldsafe/riskreactor/metricstore"
	"github.com/fieldsafe/riskreactor/riskmodel"
	"github.com/fieldsafe/riskreactor/sitecondition"
)

// Env carries the collaborators a compute function may touch. Workers
// are constructed with a full Env; nothing here is ambient process
// state.
type Env struct {
	Metrics    metricstore.Store
	Source     SourceReader
	Configs    *configstore.Loader
	Conditions *sitecondition.Evaluator
}

// Deps holds the dependency metric points the caller resolved before
// invoking compute.
type Deps struct {
	points map[riskmodel.MetricType]map[riskmodel.MetricKey]riskmodel.MetricPoint
}

// NewDeps builds a dependency set from resolved points.
func NewDeps(points []riskmodel.MetricPoint) Deps {
	d := Deps{points: make(map[riskmodel.MetricType]map[riskmodel.MetricKey]riskmodel.MetricPoint)}
	for _, p := range points {
		byKey := d.points[p.Type]
		if byKey == nil {
			byKey = make(map[riskmodel.MetricKey]riskmodel.MetricPoint)
			d.points[p.Type] = byKey
		}
		byKey[p.Key] = p
	}
	return d
}

// Value returns the resolved dependency value or a MissingMetricError.
func (d Deps) Value(m riskmodel.MetricType, key riskmodel.MetricKey) (float64, error) {
	if p, ok := d.points[m][key]; ok {
		return p.Value, nil
	}
	return 0, &riskmodel.MissingMetricError{Type: m, Key: key}
}

// Values returns every resolved value of one dependency type, in
// unspecified order.
func (d Deps) Values(m riskmodel.MetricType) []float64 {
	byKey := d.points[m]
	out := make([]float64, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p.Value)
	}
	return out
}

// Outcome is a successful compute result. Inputs and Params are opaque
// diagnostic payloads persisted alongside the value; either may be nil.
type Outcome struct {
	Value  float64
	Inputs any
	Params any
}

// ComputeFunc computes one metric value from the job key, resolved
// dependencies, and declared source reads.
type ComputeFunc func(ctx context.Context, env *Env, key riskmodel.MetricKey, deps Deps) (Outcome, error)

// Dependency binds a metric type to the two key projections the
// reactor needs: downstream job key to dependency keys (for loading
// before compute), and freshly stored dependency key to downstream job
// keys (for cascading after store).
type Dependency struct {
	Type    riskmodel.MetricType
	Project func(ctx context.Context, env *Env, key riskmodel.MetricKey) ([]riskmodel.MetricKey, error)
	Expand  func(ctx context.Context, env *Env, depKey riskmodel.MetricKey) ([]riskmodel.MetricKey, error)
}

// Descriptor is one metric type's registry entry.
type Descriptor struct {
	Type         riskmodel.MetricType
	Dependencies []Dependency
	Variants     map[riskmodel.VariantTag]ComputeFunc
	Config       configstore.Spec
}

// Catalog is the startup-built registry: a flat arena of descriptors
// indexed by the metric type discriminant, plus the inverted dependency
// edges used for cascade expansion.
type Catalog struct {
	descriptors [riskmodel.MetricTypeCount]Descriptor
	downstream  map[riskmodel.MetricType][]downstreamEdge
}

type downstreamEdge struct {
	metric riskmodel.MetricType
	expand func(ctx context.Context, env *Env, depKey riskmodel.MetricKey) ([]riskmodel.MetricKey, error)
}

// New builds and validates the registry. Building fails when a metric
// type lacks a descriptor, a descriptor lacks its default variant, or
// the dependency graph has a cycle.
func New() (*Catalog, error) {
	c := &Catalog{downstream: make(map[riskmodel.MetricType][]downstreamEdge)}
	for _, d := range buildDescriptors() {
		c.descriptors[int(d.Type)] = d
	}
	for _, m := range riskmodel.AllMetricTypes() {
		d := c.descriptors[int(m)]
		if d.Type != m {
			return nil, errors.WrapInvalid(fmt.Errorf("metric %s has no descriptor", m), "catalog", "New", "validate registry")
		}
		if _, ok := d.Variants[d.Config.DefaultVariant]; !ok {
			return nil, errors.WrapInvalid(fmt.Errorf("metric %s missing default variant %s", m, d.Config.DefaultVariant), "catalog", "New", "validate registry")
		}
		for _, dep := range d.Dependencies {
			if !dep.Type.Valid() {
				return nil, errors.WrapInvalid(fmt.Errorf("metric %s depends on invalid metric %d", m, dep.Type), "catalog", "New", "validate registry")
			}
			if dep.Expand != nil {
				c.downstream[dep.Type] = append(c.downstream[dep.Type], downstreamEdge{metric: m, expand: dep.Expand})
			}
		}
	}
	if err := c.checkAcyclic(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustNew builds the registry or panics; for use at process startup
// where a broken registry is unrecoverable.
func MustNew() *Catalog {
	c, err := New()
	if err != nil {
		panic(err)
	}
	return c
}

// checkAcyclic runs a three-color depth-first search over the static
// dependency edges.
func (c *Catalog) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, riskmodel.MetricTypeCount)
	var visit func(m riskmodel.MetricType) error
	visit = func(m riskmodel.MetricType) error {
		color[int(m)] = gray
		for _, dep := range c.descriptors[int(m)].Dependencies {
			switch color[int(dep.Type)] {
			case gray:
				return errors.WrapInvalid(fmt.Errorf("dependency cycle through %s and %s", m, dep.Type), "catalog", "checkAcyclic", "validate dependency graph")
			case white:
				if err := visit(dep.Type); err != nil {
					return err
				}
			}
		}
		color[int(m)] = black
		return nil
	}
	for _, m := range riskmodel.AllMetricTypes() {
		if color[int(m)] == white {
			if err := visit(m); err != nil {
				return err
			}
		}
	}
	return nil
}

// Descriptor returns the registry entry for a metric type.
func (c *Catalog) Descriptor(m riskmodel.MetricType) (Descriptor, error) {
	if !m.Valid() {
		return Descriptor{}, errors.WrapInvalid(fmt.Errorf("unknown metric type %d", m), "catalog", "Descriptor", "resolve metric")
	}
	return c.descriptors[int(m)], nil
}

// Compute resolves the compute function for a variant. An unregistered
// variant is a configuration fault, never a silent default.
func (c *Catalog) Compute(m riskmodel.MetricType, variant riskmodel.VariantTag) (ComputeFunc, error) {
	d, err := c.Descriptor(m)
	if err != nil {
		return nil, err
	}
	fn, ok := d.Variants[variant]
	if !ok {
		return nil, &riskmodel.MissingConfigError{Name: d.Config.TypeName()}
	}
	return fn, nil
}

// DependencyRequests projects a job key onto the metric-store requests
// the job needs resolved before compute.
func (c *Catalog) DependencyRequests(ctx context.Context, env *Env, m riskmodel.MetricType, key riskmodel.MetricKey) ([]metricstore.Request, error) {
	d, err := c.Descriptor(m)
	if err != nil {
		return nil, err
	}
	var reqs []metricstore.Request
	for _, dep := range d.Dependencies {
		if dep.Project == nil {
			continue
		}
		keys, err := dep.Project(ctx, env, key)
		if err != nil {
			return nil, errors.Wrap(err, "catalog", "DependencyRequests", "project "+dep.Type.String())
		}
		for _, k := range keys {
			reqs = append(reqs, metricstore.Request{Type: dep.Type, Key: k})
		}
	}
	return reqs, nil
}

// Downstream expands a freshly stored point into the jobs whose
// dependency sets include it.
func (c *Catalog) Downstream(ctx context.Context, env *Env, m riskmodel.MetricType, key riskmodel.MetricKey) ([]metricstore.Request, error) {
	var reqs []metricstore.Request
	for _, edge := range c.downstream[m] {
		keys, err := edge.expand(ctx, env, key)
		if err != nil {
			return nil, errors.Wrap(err, "catalog", "Downstream", "expand "+edge.metric.String())
		}
		for _, k := range keys {
			reqs = append(reqs, metricstore.Request{Type: edge.metric, Key: k})
		}
	}
	return reqs, nil
}
