// Package relocation picks the next position of a single seed vertex.
package relocation

import (
	"fmt"
	"math"

	"pintsurf/internal/models"
	"pintsurf/pkg/objective"
	"pintsurf/pkg/regions"
	"pintsurf/pkg/signal"
)

// Reason explains a relocation decision.
type Reason string

const (
	// Moved means the best candidate differs from the current position.
	Moved Reason = "moved"
	// Stayed means the current position scored best.
	Stayed Reason = "stayed"
	// NoCandidates means the search and padding disks left nothing to score.
	NoCandidates Reason = "no_candidates"
	// UndefinedReference means no other network member has a sampled region.
	UndefinedReference Reason = "undefined_reference"
	// NoValidScore means every candidate scored NaN.
	NoValidScore Reason = "no_valid_score"
)

// Snapshot is the frozen state of one iteration. Every relocation in the
// iteration reads the same snapshot and none of them write to it.
type Snapshot struct {
	Signal   *signal.Matrix
	Table    models.Table
	Masks    *regions.Set
	Silent   []bool
	Means    map[int][]float64
	Networks map[string][]float64
}

// Decision is the outcome of relocating one vertex.
type Decision struct {
	// Vertex is the chosen hemisphere-local position.
	Vertex     int
	Candidates int
	Score      float64
	Reason     Reason
}

// Engine relocates vertices with a fixed objective.
type Engine struct {
	eval objective.Evaluator
}

// NewEngine returns an engine scoring with eval.
func NewEngine(eval objective.Evaluator) *Engine {
	return &Engine{eval: eval}
}

// Candidates returns the global rows rec may move to: rows inside its own
// search disk and its own padding disk that are not silent, ascending.
func Candidates(rec *models.VertexRecord, snap *Snapshot) []int {
	imap := snap.Signal.Index()
	lo := imap.Offset(rec.Hemi)
	hi := lo + imap.Count(rec.Hemi)

	var rows []int
	for i := lo; i < hi; i++ {
		if snap.Masks.Search[i] != rec.ROI || snap.Masks.Padding[i] != rec.ROI {
			continue
		}
		if i < len(snap.Silent) && snap.Silent[i] {
			continue
		}
		rows = append(rows, i)
	}
	return rows
}

// Relocate scores every candidate against the network reference of rec and
// returns the best one. Ties go to the lowest vertex index and NaN scores
// are never chosen. When nothing can be scored the vertex stays put.
func (e *Engine) Relocate(rec *models.VertexRecord, snap *Snapshot) (Decision, error) {
	stay := Decision{Vertex: rec.Current(), Score: math.NaN()}

	rows := Candidates(rec, snap)
	stay.Candidates = len(rows)
	if len(rows) == 0 {
		stay.Reason = NoCandidates
		return stay, nil
	}

	ref := regions.ReferenceExcluding(snap.Table, rec, snap.Means)
	if ref == nil {
		stay.Reason = UndefinedReference
		return stay, nil
	}

	var confounds [][]float64
	if e.eval.Mode() == objective.Partial {
		confounds = regions.OtherNetworks(snap.Networks, rec.Network)
	}
	scorer, err := e.eval.Bind(ref, confounds)
	if err != nil {
		return stay, fmt.Errorf("roi %d: %w", rec.ROI, err)
	}

	best, bestScore := -1, math.NaN()
	for _, row := range rows {
		s := scorer.Score(snap.Signal.Row(row))
		if math.IsNaN(s) {
			continue
		}
		if best < 0 || s > bestScore {
			best, bestScore = row, s
		}
	}
	if best < 0 {
		stay.Reason = NoValidScore
		return stay, nil
	}

	_, local := snap.Signal.Index().Local(best)
	d := Decision{Vertex: local, Candidates: len(rows), Score: bestScore, Reason: Moved}
	if local == rec.Current() {
		d.Reason = Stayed
	}
	return d, nil
}
