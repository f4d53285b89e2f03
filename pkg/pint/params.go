// Package pint runs the Personal Intrinsic Network Topology refinement: seed
// vertices are moved, iteration after iteration, to the nearby surface
// location whose signal best matches the rest of their network, until the
// largest move falls below a threshold.
package pint

import (
	"errors"

	"pintsurf/pkg/config"
	"pintsurf/pkg/objective"
	"pintsurf/pkg/regions"
)

// Params holds the run-wide constants of a refinement. A Params value is
// never modified once a run starts.
type Params struct {
	// Radii are the sampling, search and padding disk radii in mm.
	// Sampling disks are averaged into each vertex's signal, search disks
	// bound one iteration's move and padding disks keep seeds apart.
	Radii regions.Radii

	// Mode selects plain or partial correlation as the objective.
	Mode objective.Mode

	// MaxIterations caps each convergence phase.
	MaxIterations int

	// MoveThreshold is the largest displacement in mm at which the run
	// counts as converged.
	MoveThreshold float64

	// FinalDistanceLimit bounds the origin-to-final geodesic search in mm.
	FinalDistanceLimit float64

	// RepairStartIteration is the iteration index the repair phase starts
	// counting from.
	RepairStartIteration int

	// Workers is the number of vertices relocated concurrently.
	Workers int

	// SilentSample and SilentThreshold define silent vertices: a vertex
	// whose magnitude at SilentSample is below SilentThreshold, or whose
	// series is constant, is never sampled and never a candidate.
	SilentSample    int
	SilentThreshold float64
}

// DefaultParams returns the published PINT settings.
func DefaultParams() Params {
	return ParamsFromConfig(config.DefaultConfig())
}

// ParamsFromConfig extracts the algorithm parameters from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	mode := objective.Plain
	if cfg.PINT.PartialCorrelation {
		mode = objective.Partial
	}
	return Params{
		Radii: regions.Radii{
			Sampling: cfg.PINT.SamplingRadius,
			Search:   cfg.PINT.SearchRadius,
			Padding:  cfg.PINT.PaddingRadius,
		},
		Mode:                 mode,
		MaxIterations:        cfg.PINT.MaxIterations,
		MoveThreshold:        cfg.PINT.MoveThreshold,
		FinalDistanceLimit:   cfg.PINT.FinalDistanceLimit,
		RepairStartIteration: cfg.PINT.RepairStartIteration,
		Workers:              cfg.PINT.Workers,
		SilentSample:         cfg.PINT.SilentSample,
		SilentThreshold:      cfg.PINT.SilentThreshold,
	}
}

// State is a convergence driver state.
type State string

const (
	Iterating             State = "iterating"
	Converged             State = "converged"
	IterationLimitReached State = "iteration_limit_reached"
	RepairIterating       State = "repair_iterating"
	RepairConverged       State = "repair_converged"
	RepairLimitReached    State = "repair_limit_reached"
)

// Phase names used in summaries, logs and metrics.
const (
	PhaseIterate = "iterate"
	PhaseRepair  = "repair"
)

var (
	// ErrUnsetDistance is returned when the geometry provider cannot
	// measure a displacement within its limit. No output may be written
	// with unset distances, so the run fails.
	ErrUnsetDistance = errors.New("pint: geodesic distance unset")

	// ErrSurfaceMismatch is returned when surfaces and signal disagree on
	// the vertex count of a hemisphere.
	ErrSurfaceMismatch = errors.New("pint: surface and signal vertex counts differ")

	// ErrVertexOutOfRange is returned for seeds outside their surface.
	ErrVertexOutOfRange = errors.New("pint: seed vertex out of range")
)
