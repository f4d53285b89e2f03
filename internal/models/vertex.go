package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Hemisphere identifies the cortical surface a vertex lives on.
type Hemisphere int

const (
	Left Hemisphere = iota
	Right
)

// Hemispheres lists both hemispheres in signal-matrix order.
var Hemispheres = []Hemisphere{Left, Right}

// String returns the single-letter code used in vertex tables.
func (h Hemisphere) String() string {
	if h == Right {
		return "R"
	}
	return "L"
}

// Structure returns the CIFTI structure name for the hemisphere.
func (h Hemisphere) Structure() string {
	if h == Right {
		return "CORTEX_RIGHT"
	}
	return "CORTEX_LEFT"
}

// ParseHemisphere accepts L/R, left/right and CORTEX_LEFT/CORTEX_RIGHT.
func ParseHemisphere(s string) (Hemisphere, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L", "LEFT", "CORTEX_LEFT":
		return Left, nil
	case "R", "RIGHT", "CORTEX_RIGHT":
		return Right, nil
	}
	return Left, fmt.Errorf("unknown hemisphere %q", s)
}

// IndexMap converts between per-hemisphere vertex indices and rows of the
// concatenated signal matrix, where Left vertices come first.
type IndexMap struct {
	Left  int
	Right int
}

// Count returns the number of vertices on hemisphere h.
func (m IndexMap) Count(h Hemisphere) int {
	if h == Right {
		return m.Right
	}
	return m.Left
}

// Total returns the number of rows in the concatenated matrix.
func (m IndexMap) Total() int { return m.Left + m.Right }

// Global maps a hemisphere-local vertex to its concatenated row.
func (m IndexMap) Global(h Hemisphere, local int) int {
	if h == Right {
		return m.Left + local
	}
	return local
}

// Local maps a concatenated row back to its hemisphere and local index.
func (m IndexMap) Local(global int) (Hemisphere, int) {
	if global >= m.Left {
		return Right, global - m.Left
	}
	return Left, global
}

// Offset returns the first global row of hemisphere h.
func (m IndexMap) Offset(h Hemisphere) int {
	if h == Right {
		return m.Left
	}
	return 0
}

// Contains reports whether local is a valid vertex on hemisphere h.
func (m IndexMap) Contains(h Hemisphere, local int) bool {
	return local >= 0 && local < m.Count(h)
}

// Step is one entry of a vertex's relocation history.
type Step struct {
	// Iteration is the driver iteration index that produced the step.
	// Repair passes continue numbering from the repair start index.
	Iteration int

	// Vertex is the hemisphere-local position after the iteration.
	Vertex int

	// Distance is the geodesic displacement from the previous position in mm.
	Distance float64
}

// VertexRecord is one seed region tracked through the refinement.
type VertexRecord struct {
	ROI     int
	Network string
	Hemi    Hemisphere

	// Origin is the immutable starting vertex (tvertex).
	Origin int

	History []Step

	// Final and FinalDistance hold the refined vertex (ivertex) and the
	// geodesic distance between Origin and Final.
	Final         int
	FinalDistance float64

	// LimitsOK is false when the final vertex still violates the
	// anatomical limits after the repair pass.
	LimitsOK bool

	reset bool
}

// NewVertexRecord creates a record positioned at its origin.
func NewVertexRecord(roi int, network string, hemi Hemisphere, origin int) *VertexRecord {
	return &VertexRecord{
		ROI:      roi,
		Network:  network,
		Hemi:     hemi,
		Origin:   origin,
		Final:    origin,
		LimitsOK: true,
	}
}

// Current returns the latest recorded position, or the origin.
func (r *VertexRecord) Current() int {
	if n := len(r.History); n > 0 && !r.reset {
		return r.History[n-1].Vertex
	}
	return r.Origin
}

// Record appends a step to the history.
func (r *VertexRecord) Record(s Step) {
	r.History = append(r.History, s)
	r.reset = false
}

// Reset places the vertex back on its origin without dropping history. The
// next recorded step is measured from the origin.
func (r *VertexRecord) Reset() {
	r.reset = true
}

// Table is the ordered set of vertex records for one run.
type Table []*VertexRecord

// ErrEmptyTable is returned when a run is started without vertices.
var ErrEmptyTable = errors.New("models: vertex table is empty")

// Validate checks that ROI ids are positive and unique.
func (t Table) Validate() error {
	if len(t) == 0 {
		return ErrEmptyTable
	}
	seen := make(map[int]bool, len(t))
	for _, r := range t {
		if r.ROI <= 0 {
			return fmt.Errorf("models: roiidx must be positive, got %d", r.ROI)
		}
		if seen[r.ROI] {
			return fmt.Errorf("models: duplicate roiidx %d", r.ROI)
		}
		seen[r.ROI] = true
	}
	return nil
}

// Networks returns the distinct network labels in sorted order.
func (t Table) Networks() []string {
	set := make(map[string]bool)
	for _, r := range t {
		set[r.Network] = true
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Members returns the records of one network in table order.
func (t Table) Members(network string) []*VertexRecord {
	var out []*VertexRecord
	for _, r := range t {
		if r.Network == network {
			out = append(out, r)
		}
	}
	return out
}

// ByROI looks up a record by its roiidx.
func (t Table) ByROI(roi int) *VertexRecord {
	for _, r := range t {
		if r.ROI == roi {
			return r
		}
	}
	return nil
}

// OnHemisphere returns the records of hemisphere h in table order.
func (t Table) OnHemisphere(h Hemisphere) []*VertexRecord {
	var out []*VertexRecord
	for _, r := range t {
		if r.Hemi == h {
			out = append(out, r)
		}
	}
	return out
}

// NextIteration returns the iteration index following every recorded step,
// or 0 for a table without history.
func (t Table) NextIteration() int {
	next := 0
	for _, r := range t {
		for _, s := range r.History {
			if s.Iteration >= next {
				next = s.Iteration + 1
			}
		}
	}
	return next
}
