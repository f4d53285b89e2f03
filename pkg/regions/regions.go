// Package regions turns seed positions into geodesic region masks and
// aggregates the functional signal over them.
package regions

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"pintsurf/internal/models"
	"pintsurf/pkg/geometry"
	"pintsurf/pkg/signal"
)

// Mask assigns each row of the signal matrix to a region: the value is the
// owning roiidx, or 0 when no region owns the vertex.
type Mask []int

// Radii are the three run-wide disk radii in mm.
type Radii struct {
	Sampling float64
	Search   float64
	Padding  float64
}

// Set holds the three masks built for one iteration.
type Set struct {
	Sampling Mask
	Search   Mask
	Padding  Mask
}

// Build grows the sampling, search and padding masks concurrently from the
// current positions in table.
func Build(ctx context.Context, p geometry.Provider, table models.Table, radii Radii, imap models.IndexMap) (*Set, error) {
	set := &Set{}
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range []struct {
		dst    *Mask
		radius float64
	}{
		{&set.Sampling, radii.Sampling},
		{&set.Search, radii.Search},
		{&set.Padding, radii.Padding},
	} {
		g.Go(func() error {
			m, err := BuildMask(ctx, p, table, job.radius, imap)
			if err != nil {
				return err
			}
			*job.dst = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}

// BuildMask grows EXCLUDE-resolved disks of the given radius around the
// current position of every record, one provider call per hemisphere.
func BuildMask(ctx context.Context, p geometry.Provider, table models.Table, radius float64, imap models.IndexMap) (Mask, error) {
	mask := make(Mask, imap.Total())
	for _, h := range models.Hemispheres {
		recs := table.OnHemisphere(h)
		if len(recs) == 0 {
			continue
		}
		vertices := make([]int, len(recs))
		for i, r := range recs {
			vertices[i] = r.Current()
		}

		owner, err := p.Regions(ctx, h, radius, vertices)
		if err != nil {
			return nil, fmt.Errorf("build %gmm regions on %s: %w", radius, h.Structure(), err)
		}
		if len(owner) != imap.Count(h) {
			return nil, fmt.Errorf("regions: %s mask covers %d vertices, signal has %d", h.Structure(), len(owner), imap.Count(h))
		}
		for v, o := range owner {
			if o > 0 {
				mask[imap.Global(h, v)] = recs[o-1].ROI
			}
		}
	}
	return mask, nil
}

// Zero returns a copy of the mask with the flagged rows unowned.
func (m Mask) Zero(silent []bool) Mask {
	out := make(Mask, len(m))
	copy(out, m)
	for i, s := range silent {
		if s && i < len(out) {
			out[i] = 0
		}
	}
	return out
}

// Members returns the rows owned by roi in ascending order.
func (m Mask) Members(roi int) []int {
	var rows []int
	for i, o := range m {
		if o == roi {
			rows = append(rows, i)
		}
	}
	return rows
}

// Groups returns the owned rows of every region.
func (m Mask) Groups() map[int][]int {
	groups := make(map[int][]int)
	for i, o := range m {
		if o != 0 {
			groups[o] = append(groups[o], i)
		}
	}
	return groups
}

// MeanSignals averages the signal over each region of the mask. Regions
// without members are absent from the result.
func MeanSignals(sig *signal.Matrix, mask Mask) map[int][]float64 {
	means := make(map[int][]float64)
	for roi, rows := range mask.Groups() {
		means[roi] = sig.Mean(rows)
	}
	return means
}

// average returns the element-wise mean of series, or nil.
func average(series [][]float64) []float64 {
	if len(series) == 0 {
		return nil
	}
	out := make([]float64, len(series[0]))
	for _, s := range series {
		floats.Add(out, s)
	}
	floats.Scale(1/float64(len(series)), out)
	return out
}

// NetworkMeans averages the region means of every network's members.
// Networks whose members all lack a mean are absent.
func NetworkMeans(table models.Table, means map[int][]float64) map[string][]float64 {
	out := make(map[string][]float64)
	for _, network := range table.Networks() {
		var series [][]float64
		for _, r := range table.Members(network) {
			if m, ok := means[r.ROI]; ok {
				series = append(series, m)
			}
		}
		if len(series) > 0 {
			out[network] = average(series)
		}
	}
	return out
}

// ReferenceExcluding returns the network reference for rec: the mean of the
// region means of the other members of its network. rec's own region never
// contributes. It returns nil when no other member has a mean.
func ReferenceExcluding(table models.Table, rec *models.VertexRecord, means map[int][]float64) []float64 {
	var series [][]float64
	for _, r := range table.Members(rec.Network) {
		if r.ROI == rec.ROI {
			continue
		}
		if m, ok := means[r.ROI]; ok {
			series = append(series, m)
		}
	}
	return average(series)
}

// OtherNetworks returns the means of every network except own, ordered by
// network name.
func OtherNetworks(networkMeans map[string][]float64, own string) [][]float64 {
	names := make([]string, 0, len(networkMeans))
	for n := range networkMeans {
		if n != own {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	out := make([][]float64, len(names))
	for i, n := range names {
		out[i] = networkMeans[n]
	}
	return out
}
