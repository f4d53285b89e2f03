// Package signal holds the functional signal matrix shared read-only by every
// PINT iteration, and the loaders that build it from surface data files.
package signal

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"pintsurf/internal/models"
)

var (
	// ErrEmpty is returned for a matrix without vertices or timepoints.
	ErrEmpty = errors.New("signal: matrix is empty")

	// ErrRagged is returned when vertices carry different series lengths.
	ErrRagged = errors.New("signal: time series lengths differ")
)

// varianceFloor is the variance below which a series counts as constant.
const varianceFloor = 1e-12

// Matrix is the [vertex x time] signal matrix. Left hemisphere vertices
// occupy the first rows and Right vertices follow.
type Matrix struct {
	data *mat.Dense
	imap models.IndexMap
}

// New concatenates per-hemisphere rows (one []float64 per vertex) into a
// Matrix.
func New(left, right [][]float64) (*Matrix, error) {
	imap := models.IndexMap{Left: len(left), Right: len(right)}
	if imap.Total() == 0 {
		return nil, ErrEmpty
	}

	var t int
	if len(left) > 0 {
		t = len(left[0])
	} else {
		t = len(right[0])
	}
	if t == 0 {
		return nil, ErrEmpty
	}

	data := make([]float64, 0, imap.Total()*t)
	for _, rows := range [][][]float64{left, right} {
		for i, row := range rows {
			if len(row) != t {
				return nil, fmt.Errorf("%w: vertex %d has %d samples, want %d", ErrRagged, i, len(row), t)
			}
			data = append(data, row...)
		}
	}
	return &Matrix{data: mat.NewDense(imap.Total(), t, data), imap: imap}, nil
}

// Index returns the hemisphere layout of the matrix rows.
func (m *Matrix) Index() models.IndexMap { return m.imap }

// Timepoints returns the series length.
func (m *Matrix) Timepoints() int {
	_, c := m.data.Dims()
	return c
}

// Row returns the series of a global row. The slice aliases the matrix and
// must not be modified.
func (m *Matrix) Row(global int) []float64 {
	return m.data.RawRowView(global)
}

// Vertex returns the series of a hemisphere-local vertex.
func (m *Matrix) Vertex(h models.Hemisphere, local int) []float64 {
	return m.Row(m.imap.Global(h, local))
}

// Mean averages the given global rows. It returns nil for an empty set.
func (m *Matrix) Mean(rows []int) []float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]float64, m.Timepoints())
	for _, r := range rows {
		floats.Add(out, m.Row(r))
	}
	floats.Scale(1/float64(len(rows)), out)
	return out
}

// SilentMask flags degenerate vertices: those whose magnitude at the given
// sample is below threshold, and those whose series is constant.
func (m *Matrix) SilentMask(sample int, threshold float64) []bool {
	n := m.imap.Total()
	if sample >= m.Timepoints() {
		sample = m.Timepoints() - 1
	}
	silent := make([]bool, n)
	for i := 0; i < n; i++ {
		row := m.Row(i)
		if math.Abs(row[sample]) < threshold || !(stat.Variance(row, nil) >= varianceFloor) {
			silent[i] = true
		}
	}
	return silent
}
