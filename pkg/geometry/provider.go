// Package geometry provides geodesic queries on cortical surfaces.
//
// PINT never touches mesh topology directly: it asks a Provider for geodesic
// distance fields and for geodesic disk regions. The Workbench provider shells
// out to Connectome Workbench; the Mesh provider answers the same queries
// in-process with a bounded Dijkstra over the triangle edges.
package geometry

import (
	"context"
	"errors"

	"pintsurf/internal/models"
)

// Unset marks vertices outside the requested distance limit.
const Unset = -1.0

var (
	// ErrToolNotFound is returned when the geometry tool binary is missing.
	ErrToolNotFound = errors.New("geometry: tool not found")

	// ErrVertexOutOfRange is returned for vertex indices outside the surface.
	ErrVertexOutOfRange = errors.New("geometry: vertex out of range")

	// ErrUnknownHemisphere is returned when no surface is loaded for a hemisphere.
	ErrUnknownHemisphere = errors.New("geometry: no surface for hemisphere")
)

// Provider answers geodesic queries on the two hemisphere surfaces.
//
// Distance returns a per-vertex distance field from origin; vertices farther
// than limit hold Unset.
//
// Regions grows a geodesic disk of the given radius around each vertex and
// resolves overlaps with the EXCLUDE policy: a surface vertex reached by more
// than one disk belongs to none of them. The result holds, per surface vertex,
// the 1-based position of the owning entry in vertices, or 0.
type Provider interface {
	Distance(ctx context.Context, hemi models.Hemisphere, origin int, limit float64) ([]float64, error)
	Regions(ctx context.Context, hemi models.Hemisphere, radius float64, vertices []int) ([]int, error)
	VertexCount(hemi models.Hemisphere) int
}

// DistanceBetween returns the geodesic distance from a to b, searching no
// farther than limit. ok is false when b lies beyond the limit.
func DistanceBetween(ctx context.Context, p Provider, hemi models.Hemisphere, a, b int, limit float64) (d float64, ok bool, err error) {
	if a == b {
		return 0, true, nil
	}
	field, err := p.Distance(ctx, hemi, a, limit)
	if err != nil {
		return 0, false, err
	}
	if b < 0 || b >= len(field) {
		return 0, false, ErrVertexOutOfRange
	}
	if field[b] < 0 {
		return 0, false, nil
	}
	return field[b], true, nil
}

// excludeOverlaps converts per-disk membership into an EXCLUDE region array.
// owner[v] is 0 for unreached vertices, -1 for vertices claimed twice.
func excludeOverlaps(owner []int) []int {
	out := make([]int, len(owner))
	for v, o := range owner {
		if o > 0 {
			out[v] = o
		}
	}
	return out
}

// claim records that disk id reaches vertex v.
func claim(owner []int, v, id int) {
	switch owner[v] {
	case 0:
		owner[v] = id
	case id, -1:
	default:
		owner[v] = -1
	}
}
