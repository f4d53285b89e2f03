// Package objective scores relocation candidates by their similarity to a
// network reference signal.
//
// Plain mode uses the Pearson correlation. Partial mode first regresses an
// intercept and a set of confound signals out of both series and correlates
// the residuals. Undefined scores are reported as NaN, never as errors.
package objective

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Mode selects the similarity measure for a run.
type Mode int

const (
	// Plain is the Pearson correlation.
	Plain Mode = iota
	// Partial is the partial correlation controlling for confounds.
	Partial
)

func (m Mode) String() string {
	if m == Partial {
		return "partial"
	}
	return "plain"
}

var (
	// ErrUndefinedReference is returned when binding an empty reference.
	ErrUndefinedReference = errors.New("objective: reference signal is undefined")

	// ErrLength is returned when a confound does not match the series length.
	ErrLength = errors.New("objective: signal length mismatch")

	// ErrFactorize is returned when neither QR nor SVD can factor the design.
	ErrFactorize = errors.New("objective: confound design cannot be factorized")
)

const (
	// varianceFloor is the variance below which a series is constant.
	varianceFloor = 1e-12

	// maxCondition is the largest condition number accepted from QR before
	// falling back to the rank-revealing SVD basis.
	maxCondition = 1e10
)

// Pearson returns the correlation of x and y, or NaN when either series is
// constant or the lengths differ.
func Pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return math.NaN()
	}
	if !(stat.Variance(x, nil) > varianceFloor) || !(stat.Variance(y, nil) > varianceFloor) {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

// Residualizer projects series onto the orthogonal complement of an
// intercept plus confound design.
type Residualizer struct {
	n     int
	basis *mat.Dense // orthonormal columns spanning the design
}

// NewResidualizer builds the projection for series of length n. Collinear
// or duplicated confounds are tolerated.
func NewResidualizer(n int, confounds [][]float64) (*Residualizer, error) {
	if n == 0 {
		return nil, fmt.Errorf("%w: empty series", ErrLength)
	}
	p := len(confounds) + 1
	x := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
	}
	for j, c := range confounds {
		if len(c) != n {
			return nil, fmt.Errorf("%w: confound %d has %d samples, want %d", ErrLength, j, len(c), n)
		}
		x.SetCol(j+1, c)
	}

	basis, err := qrBasis(x)
	if err != nil {
		// Rank deficient design: fall back to the SVD basis.
		basis, err = svdBasis(x)
		if err != nil {
			return nil, err
		}
	}
	return &Residualizer{n: n, basis: basis}, nil
}

// Rank returns the number of independent design columns.
func (r *Residualizer) Rank() int {
	if r.basis == nil {
		return 0
	}
	_, c := r.basis.Dims()
	return c
}

// Residual returns y minus its least-squares fit on the design.
func (r *Residualizer) Residual(y []float64) []float64 {
	out := make([]float64, len(y))
	copy(out, y)
	if r.basis == nil || len(y) != r.n {
		return out
	}
	var coef, fit mat.VecDense
	coef.MulVec(r.basis.T(), mat.NewVecDense(r.n, out))
	fit.MulVec(r.basis, &coef)
	floats.Sub(out, fit.RawVector().Data)
	return out
}

func qrBasis(x *mat.Dense) (*mat.Dense, error) {
	n, p := x.Dims()
	if n < p {
		return nil, mat.ErrShape
	}
	var qr mat.QR
	qr.Factorize(x)
	if c := qr.Cond(); math.IsNaN(c) || c > maxCondition {
		return nil, mat.Condition(c)
	}
	var q mat.Dense
	qr.QTo(&q)
	return mat.DenseCopyOf(q.Slice(0, n, 0, p)), nil
}

func svdBasis(x *mat.Dense) (*mat.Dense, error) {
	n, p := x.Dims()
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, ErrFactorize
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return nil, nil
	}
	tol := values[0] * float64(max(n, p)) * 1e-12
	rank := 0
	for _, s := range values {
		if s > tol {
			rank++
		}
	}
	var u mat.Dense
	svd.UTo(&u)
	return mat.DenseCopyOf(u.Slice(0, n, 0, rank)), nil
}

// Scorer scores candidate series against one bound reference.
type Scorer interface {
	Score(candidate []float64) float64
}

// Evaluator creates scorers for a fixed mode.
type Evaluator struct {
	mode Mode
}

// NewEvaluator returns an evaluator in the given mode.
func NewEvaluator(mode Mode) Evaluator { return Evaluator{mode: mode} }

// Mode returns the evaluator's mode.
func (e Evaluator) Mode() Mode { return e.mode }

// Bind fixes the reference and, in partial mode, the confound signals.
// Confounds are ignored in plain mode.
func (e Evaluator) Bind(reference []float64, confounds [][]float64) (Scorer, error) {
	if len(reference) == 0 {
		return nil, ErrUndefinedReference
	}
	if e.mode == Plain {
		return plainScorer{ref: reference}, nil
	}

	res, err := NewResidualizer(len(reference), confounds)
	if err != nil {
		return nil, err
	}
	return partialScorer{res: res, ref: res.Residual(reference)}, nil
}

type plainScorer struct {
	ref []float64
}

func (s plainScorer) Score(candidate []float64) float64 {
	return Pearson(s.ref, candidate)
}

type partialScorer struct {
	res *Residualizer
	ref []float64
}

func (s partialScorer) Score(candidate []float64) float64 {
	if len(candidate) != len(s.ref) {
		return math.NaN()
	}
	return Pearson(s.ref, s.res.Residual(candidate))
}
