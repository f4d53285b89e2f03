// Package table reads seed vertex tables and writes PINT result tables.
package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"pintsurf/internal/models"
	"pintsurf/pkg/geometry"
	"pintsurf/pkg/pint"
)

// ErrMissingColumn is returned when a required column is absent.
var ErrMissingColumn = errors.New("table: missing column")

// Locators snap coordinates to vertices, one per hemisphere. They are only
// needed for seed tables that give x, y, z instead of tvertex.
type Locators map[models.Hemisphere]*geometry.VertexLocator

// ReadFile reads a seed table from path. The delimiter is a tab for .tsv and
// .txt files when the header holds a tab, and a comma otherwise.
func ReadFile(path string, loc Locators) (models.Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vertex table: %w", err)
	}
	return Read(bytes.NewReader(raw), sniffDelimiter(path, raw), loc)
}

func sniffDelimiter(path string, raw []byte) rune {
	header, _, _ := bytes.Cut(raw, []byte("\n"))
	if bytes.ContainsRune(header, '\t') {
		return '\t'
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".tsv" && !bytes.ContainsRune(header, ',') {
		return '\t'
	}
	return ','
}

type columns map[string]int

func indexHeader(header []string) columns {
	cols := make(columns, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return cols
}

func (c columns) get(rec []string, name string) (string, bool) {
	i, ok := c[name]
	if !ok || i >= len(rec) {
		return "", false
	}
	return strings.TrimSpace(rec[i]), true
}

func (c columns) atoi(rec []string, name string, line int) (int, error) {
	s, _ := c.get(rec, name)
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("table: line %d: %s: %w", line, name, err)
	}
	return v, nil
}

func (c columns) atof(rec []string, name string, line int) (float64, error) {
	s, _ := c.get(rec, name)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("table: line %d: %s: %w", line, name, err)
	}
	return v, nil
}

func newReader(r io.Reader, comma rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.TrimLeadingSpace = true
	return cr
}

// Read parses a seed table with columns hemi, NETWORK and tvertex, and an
// optional roiidx (assigned 1..N in input order when absent). A table with
// x, y, z instead of tvertex is snapped to the nearest vertex using loc.
func Read(r io.Reader, comma rune, loc Locators) (models.Table, error) {
	rows, err := newReader(r, comma).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse vertex table: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrEmptyTable
	}

	cols := indexHeader(rows[0])
	for _, name := range []string{"hemi", "network"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	_, hasVertex := cols["tvertex"]
	_, hasX := cols["x"]
	if !hasVertex && (!hasX || loc == nil) {
		return nil, fmt.Errorf("%w: tvertex (or x, y, z with surfaces)", ErrMissingColumn)
	}
	_, hasROI := cols["roiidx"]

	var out models.Table
	for i, rec := range rows[1:] {
		line := i + 2
		hs, _ := cols.get(rec, "hemi")
		hemi, err := models.ParseHemisphere(hs)
		if err != nil {
			return nil, fmt.Errorf("table: line %d: %w", line, err)
		}
		network, _ := cols.get(rec, "network")

		roi := i + 1
		if hasROI {
			if roi, err = cols.atoi(rec, "roiidx", line); err != nil {
				return nil, err
			}
		}

		var vertex int
		if hasVertex {
			vertex, err = cols.atoi(rec, "tvertex", line)
		} else {
			vertex, err = snap(cols, rec, line, loc[hemi])
		}
		if err != nil {
			return nil, err
		}
		out = append(out, models.NewVertexRecord(roi, network, hemi, vertex))
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func snap(cols columns, rec []string, line int, loc *geometry.VertexLocator) (int, error) {
	if loc == nil {
		return 0, fmt.Errorf("table: line %d: no surface to snap coordinates to", line)
	}
	var xyz [3]float64
	for i, name := range []string{"x", "y", "z"} {
		v, err := cols.atof(rec, name, line)
		if err != nil {
			return 0, err
		}
		xyz[i] = v
	}
	v, _ := loc.Nearest(xyz[0], xyz[1], xyz[2])
	if v < 0 {
		return 0, fmt.Errorf("table: line %d: surface has no vertices", line)
	}
	return v, nil
}

// iterations returns the sorted distinct iteration indices of the table.
func iterations(t models.Table) []int {
	seen := make(map[int]bool)
	for _, rec := range t {
		for _, s := range rec.History {
			seen[s.Iteration] = true
		}
	}
	out := make([]int, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Write writes one result row per record. With fullHistory, every
// iteration adds a vertex_k and dist_k column pair.
func Write(w io.Writer, t models.Table, fullHistory bool) error {
	header := []string{"hemi", "NETWORK", "roiidx", "tvertex", "ivertex", "distance", "limits_ok"}
	var its []int
	if fullHistory {
		its = iterations(t)
		for _, k := range its {
			header = append(header, "vertex_"+strconv.Itoa(k), "dist_"+strconv.Itoa(k))
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range t {
		row := []string{
			rec.Hemi.String(),
			rec.Network,
			strconv.Itoa(rec.ROI),
			strconv.Itoa(rec.Origin),
			strconv.Itoa(rec.Final),
			formatFloat(rec.FinalDistance),
			strconv.FormatBool(rec.LimitsOK),
		}
		if fullHistory {
			byIt := make(map[int]models.Step, len(rec.History))
			for _, s := range rec.History {
				byIt[s.Iteration] = s
			}
			for _, k := range its {
				s, ok := byIt[k]
				if !ok {
					row = append(row, "", "")
					continue
				}
				row = append(row, strconv.Itoa(s.Vertex), formatFloat(s.Distance))
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the result table to path.
func WriteFile(path string, t models.Table, fullHistory bool) error {
	return writeFile(path, func(w io.Writer) error { return Write(w, t, fullHistory) })
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadResults parses a table produced by Write, including any
// vertex_k/dist_k history columns.
func ReadResults(r io.Reader) (models.Table, error) {
	rows, err := newReader(r, ',').ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse result table: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrEmptyTable
	}
	cols := indexHeader(rows[0])
	for _, name := range []string{"hemi", "network", "roiidx", "tvertex", "ivertex", "distance"} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	var its []int
	for name := range cols {
		if k, ok := strings.CutPrefix(name, "vertex_"); ok {
			if n, err := strconv.Atoi(k); err == nil {
				its = append(its, n)
			}
		}
	}
	sort.Ints(its)

	var out models.Table
	for i, rec := range rows[1:] {
		line := i + 2
		hs, _ := cols.get(rec, "hemi")
		hemi, err := models.ParseHemisphere(hs)
		if err != nil {
			return nil, fmt.Errorf("table: line %d: %w", line, err)
		}
		network, _ := cols.get(rec, "network")
		roi, err := cols.atoi(rec, "roiidx", line)
		if err != nil {
			return nil, err
		}
		origin, err := cols.atoi(rec, "tvertex", line)
		if err != nil {
			return nil, err
		}

		vr := models.NewVertexRecord(roi, network, hemi, origin)
		if vr.Final, err = cols.atoi(rec, "ivertex", line); err != nil {
			return nil, err
		}
		if vr.FinalDistance, err = cols.atof(rec, "distance", line); err != nil {
			return nil, err
		}
		if s, ok := cols.get(rec, "limits_ok"); ok && s != "" {
			if vr.LimitsOK, err = strconv.ParseBool(s); err != nil {
				return nil, fmt.Errorf("table: line %d: limits_ok: %w", line, err)
			}
		}

		for _, k := range its {
			vname, dname := "vertex_"+strconv.Itoa(k), "dist_"+strconv.Itoa(k)
			if s, _ := cols.get(rec, vname); s == "" {
				continue
			}
			v, err := cols.atoi(rec, vname, line)
			if err != nil {
				return nil, err
			}
			d, err := cols.atof(rec, dname, line)
			if err != nil {
				return nil, err
			}
			vr.Record(models.Step{Iteration: k, Vertex: v, Distance: d})
		}
		out = append(out, vr)
	}
	return out, nil
}

// WriteSummary writes one row per iteration.
func WriteSummary(w io.Writer, summary []pint.IterationSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"iteration", "max_distance", "moved"}); err != nil {
		return err
	}
	for _, s := range summary {
		if err := cw.Write([]string{strconv.Itoa(s.Iteration), formatFloat(s.MaxDistance), strconv.Itoa(s.Moved)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaryFile writes the iteration summary to path.
func WriteSummaryFile(path string, summary []pint.IterationSummary) error {
	return writeFile(path, func(w io.Writer) error { return WriteSummary(w, summary) })
}
