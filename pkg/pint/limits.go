package pint

import (
	"context"

	"pintsurf/internal/models"
	"pintsurf/pkg/signal"
)

// violations returns the records whose current position lies outside the
// anatomical label of their origin.
func (d *Driver) violations(table models.Table, imap models.IndexMap) []*models.VertexRecord {
	var out []*models.VertexRecord
	for _, rec := range table {
		want := d.limits[imap.Global(rec.Hemi, rec.Origin)]
		if want == 0 {
			continue
		}
		if d.limits[imap.Global(rec.Hemi, rec.Current())] != want {
			out = append(out, rec)
		}
	}
	return out
}

// repair resets vertices that left their limits and reruns the convergence
// loop once from RepairStartIteration, or from the next unused index when the
// first phase got that far. Vertices still outside afterwards are flagged and
// reported, not retried.
func (d *Driver) repair(ctx context.Context, table models.Table, sig *signal.Matrix, silent []bool, res *Result) error {
	imap := sig.Index()
	failing := d.violations(table, imap)
	if len(failing) == 0 {
		return nil
	}

	start := max(d.params.RepairStartIteration, table.NextIteration())
	rois := make([]int, len(failing))
	for i, rec := range failing {
		rois[i] = rec.ROI
		rec.Reset()
	}
	d.log.Info("vertices outside anatomical limits, starting repair",
		"run_id", d.runID,
		"count", len(failing),
		"roiidx", rois,
		"start_iteration", start,
	)

	d.setState(RepairIterating)
	converged, err := d.converge(ctx, table, sig, silent, start, PhaseRepair, res)
	if err != nil {
		return err
	}
	res.RepairState = RepairLimitReached
	if converged {
		res.RepairState = RepairConverged
	}
	d.setState(res.RepairState)

	for _, rec := range d.violations(table, imap) {
		rec.LimitsOK = false
		res.Violations = append(res.Violations, rec.ROI)
		d.log.Warn("vertex still outside anatomical limits after repair",
			"run_id", d.runID,
			"roi", rec.ROI,
			"network", rec.Network,
			"hemi", rec.Hemi.String(),
			"vertex", rec.Current(),
		)
	}
	return nil
}
