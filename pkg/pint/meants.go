package pint

import (
	"context"
	"math"

	"pintsurf/internal/models"
	"pintsurf/pkg/regions"
	"pintsurf/pkg/signal"
)

// Meants returns the sampling-disk mean signal of every record in table
// order, taken around the origins (final false) or the final positions.
// Records without a sampled region get a row of NaN.
func (d *Driver) Meants(ctx context.Context, table models.Table, sig *signal.Matrix, final bool) ([][]float64, error) {
	positions := make(models.Table, len(table))
	for i, rec := range table {
		v := rec.Origin
		if final {
			v = rec.Current()
		}
		positions[i] = models.NewVertexRecord(rec.ROI, rec.Network, rec.Hemi, v)
	}

	mask, err := regions.BuildMask(ctx, d.provider, positions, d.params.Radii.Sampling, sig.Index())
	if err != nil {
		return nil, err
	}
	silent := sig.SilentMask(d.params.SilentSample, d.params.SilentThreshold)
	means := regions.MeanSignals(sig, mask.Zero(silent))

	rows := make([][]float64, len(table))
	for i, rec := range table {
		if m, ok := means[rec.ROI]; ok {
			rows[i] = m
			continue
		}
		rows[i] = make([]float64, sig.Timepoints())
		for t := range rows[i] {
			rows[i][t] = math.NaN()
		}
	}
	return rows, nil
}
