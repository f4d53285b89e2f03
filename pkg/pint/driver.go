package pint

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"pintsurf/internal/models"
	"pintsurf/pkg/geometry"
	"pintsurf/pkg/logging"
	"pintsurf/pkg/metrics"
	"pintsurf/pkg/objective"
	"pintsurf/pkg/regions"
	"pintsurf/pkg/relocation"
	"pintsurf/pkg/signal"
)

// IterationSummary describes one finished iteration.
type IterationSummary struct {
	Phase       string
	Iteration   int
	MaxDistance float64
	Moved       int
}

// Result is the outcome of a run. The vertex records of the table passed to
// Run carry the per-vertex results.
type Result struct {
	// State is the terminal state of the first phase.
	State State

	// RepairState is the terminal state of the repair phase, or empty when
	// no repair was needed.
	RepairState State

	// Iterations is the total number of iterations over both phases.
	Iterations int

	Summary []IterationSummary

	// Violations lists the roiidx of vertices still outside their
	// anatomical limits after the repair phase.
	Violations []int

	Duration time.Duration
}

// Converged reports whether the last phase that ran converged.
func (r *Result) Converged() bool {
	if r.RepairState != "" {
		return r.RepairState == RepairConverged
	}
	return r.State == Converged
}

// Option configures a Driver.
type Option func(*Driver)

// WithRand sets the source of the per-iteration visitation order.
func WithRand(rng *rand.Rand) Option {
	return func(d *Driver) { d.rng = rng }
}

// WithSeed seeds the visitation order.
func WithSeed(seed int64) Option {
	return func(d *Driver) { d.rng = rand.New(rand.NewSource(seed)) }
}

// WithLimits enables the repair phase. labels holds one anatomical label
// per signal row; a vertex must finish on the label found at its origin.
// Origins labelled 0 are unconstrained.
func WithLimits(labels []int) Option {
	return func(d *Driver) { d.limits = labels }
}

// WithMetrics records iteration and geometry metrics.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(d *Driver) { d.metrics = rec }
}

// WithRunID tags log records with the given run id.
func WithRunID(id string) Option {
	return func(d *Driver) { d.runID = id }
}

// Driver owns the vertex table during a run and advances it in place.
type Driver struct {
	params   Params
	provider geometry.Provider
	engine   *relocation.Engine
	rng      *rand.Rand
	limits   []int
	metrics  *metrics.Recorder
	runID    string
	log      *slog.Logger
}

// NewDriver creates a driver. Without WithRand or WithSeed the visitation
// order is seeded with 1.
func NewDriver(params Params, provider geometry.Provider, logger *slog.Logger, opts ...Option) *Driver {
	d := &Driver{
		params: params,
		engine: relocation.NewEngine(objective.NewEvaluator(params.Mode)),
		log:    logging.OrDefault(logger),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(1))
	}
	if d.params.Workers < 1 {
		d.params.Workers = 1
	}
	d.provider = metrics.Instrument(provider, d.metrics)
	return d
}

// Run refines every vertex of table against sig. On success each record's
// Final, FinalDistance and LimitsOK are set.
func (d *Driver) Run(ctx context.Context, table models.Table, sig *signal.Matrix) (*Result, error) {
	start := time.Now()
	if err := d.validate(table, sig); err != nil {
		return nil, err
	}

	logging.LogRunStart(d.log, d.runID, len(table), len(table.Networks()), map[string]any{
		"sampling_radius": d.params.Radii.Sampling,
		"search_radius":   d.params.Radii.Search,
		"padding_radius":  d.params.Radii.Padding,
		"mode":            d.params.Mode.String(),
		"limits":          d.limits != nil,
	})

	silent := sig.SilentMask(d.params.SilentSample, d.params.SilentThreshold)
	res := &Result{}

	d.setState(Iterating)
	// A table refined before continues its history instead of reusing
	// iteration indices.
	converged, err := d.converge(ctx, table, sig, silent, table.NextIteration(), PhaseIterate, res)
	if err != nil {
		return nil, err
	}
	res.State = IterationLimitReached
	if converged {
		res.State = Converged
	}
	d.setState(res.State)

	if d.limits != nil {
		if err := d.repair(ctx, table, sig, silent, res); err != nil {
			return nil, err
		}
	}

	if err := d.finalDistances(ctx, table); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	final := res.State
	if res.RepairState != "" {
		final = res.RepairState
	}
	logging.LogRunComplete(d.log, d.runID, string(final), res.Iterations, res.Duration)
	return res, nil
}

func (d *Driver) validate(table models.Table, sig *signal.Matrix) error {
	if err := table.Validate(); err != nil {
		return err
	}
	imap := sig.Index()
	for _, h := range models.Hemispheres {
		if n := d.provider.VertexCount(h); n != imap.Count(h) {
			return fmt.Errorf("%w: %s surface has %d vertices, signal has %d",
				ErrSurfaceMismatch, h.Structure(), n, imap.Count(h))
		}
	}
	for _, rec := range table {
		if !imap.Contains(rec.Hemi, rec.Origin) {
			return fmt.Errorf("%w: roi %d vertex %d on %s", ErrVertexOutOfRange, rec.ROI, rec.Origin, rec.Hemi.Structure())
		}
	}
	if d.limits != nil && len(d.limits) != imap.Total() {
		return fmt.Errorf("%w: limits cover %d vertices, signal has %d", ErrSurfaceMismatch, len(d.limits), imap.Total())
	}
	return nil
}

// converge runs iterations first, first+1, ... until the largest
// displacement is within the threshold or the budget is spent.
func (d *Driver) converge(ctx context.Context, table models.Table, sig *signal.Matrix, silent []bool, first int, phase string, res *Result) (bool, error) {
	for it := first; it < first+d.params.MaxIterations; it++ {
		sum, err := d.iterate(ctx, table, sig, silent, it)
		if err != nil {
			return false, fmt.Errorf("%s iteration %d: %w", phase, it, err)
		}
		sum.Phase = phase
		res.Summary = append(res.Summary, sum)
		res.Iterations++

		logging.LogIteration(d.log, phase, it, sum.MaxDistance, sum.Moved)
		d.metrics.ObserveIteration(phase, sum.MaxDistance, sum.Moved)

		if sum.MaxDistance <= d.params.MoveThreshold {
			return true, nil
		}
	}
	return false, nil
}

// iterate performs one relocation pass. Every decision reads the same frozen
// snapshot, so decisions run concurrently and are applied afterwards.
func (d *Driver) iterate(ctx context.Context, table models.Table, sig *signal.Matrix, silent []bool, it int) (IterationSummary, error) {
	if err := ctx.Err(); err != nil {
		return IterationSummary{}, err
	}

	masks, err := regions.Build(ctx, d.provider, table, d.params.Radii, sig.Index())
	if err != nil {
		return IterationSummary{}, err
	}
	masks.Sampling = masks.Sampling.Zero(silent)

	means := regions.MeanSignals(sig, masks.Sampling)
	snap := &relocation.Snapshot{
		Signal: sig,
		Table:  table,
		Masks:  masks,
		Silent: silent,
		Means:  means,
	}
	if d.params.Mode == objective.Partial {
		snap.Networks = regions.NetworkMeans(table, means)
	}

	order := d.rng.Perm(len(table))
	steps := make([]models.Step, len(table))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.params.Workers)
	for _, idx := range order {
		rec := table[idx]
		g.Go(func() error {
			dec, err := d.engine.Relocate(rec, snap)
			if err != nil {
				return err
			}
			d.metrics.ObserveCandidates(dec.Candidates)
			if dec.Reason == relocation.NoCandidates {
				d.log.Debug("no relocation candidates", "roi", rec.ROI, "iteration", it)
			}

			dist, err := d.displacement(gctx, rec.Hemi, rec.Current(), dec.Vertex)
			if err != nil {
				return fmt.Errorf("roi %d: %w", rec.ROI, err)
			}
			steps[idx] = models.Step{Iteration: it, Vertex: dec.Vertex, Distance: dist}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return IterationSummary{}, err
	}

	sum := IterationSummary{Iteration: it}
	for _, idx := range order {
		table[idx].Record(steps[idx])
		if steps[idx].Distance > 0 {
			sum.Moved++
		}
		sum.MaxDistance = math.Max(sum.MaxDistance, steps[idx].Distance)
	}
	return sum, nil
}

// displacement measures a move within the search radius.
func (d *Driver) displacement(ctx context.Context, h models.Hemisphere, from, to int) (float64, error) {
	if from == to {
		return 0, nil
	}
	dist, ok, err := geometry.DistanceBetween(ctx, d.provider, h, from, to, d.params.Radii.Search)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %d to %d on %s beyond %gmm", ErrUnsetDistance, from, to, h.Structure(), d.params.Radii.Search)
	}
	return dist, nil
}

// finalDistances sets Final and the origin-to-final distance of every record.
func (d *Driver) finalDistances(ctx context.Context, table models.Table) error {
	dists := make([]float64, len(table))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.params.Workers)
	for i, rec := range table {
		g.Go(func() error {
			dist, ok, err := geometry.DistanceBetween(gctx, d.provider, rec.Hemi, rec.Origin, rec.Current(), d.params.FinalDistanceLimit)
			if err != nil {
				return fmt.Errorf("final distance of roi %d: %w", rec.ROI, err)
			}
			if !ok {
				return fmt.Errorf("%w: roi %d moved beyond %gmm", ErrUnsetDistance, rec.ROI, d.params.FinalDistanceLimit)
			}
			dists[i] = dist
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, rec := range table {
		rec.Final = rec.Current()
		rec.FinalDistance = dists[i]
	}
	return nil
}

func (d *Driver) setState(s State) {
	d.metrics.SetState(string(s))
}
