package signal

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"pintsurf/internal/models"
	"pintsurf/pkg/gifti"
)

// Separator splits a CIFTI file into per-hemisphere GIFTI files. kind is
// "metric" or "label".
type Separator interface {
	SeparateCortex(ctx context.Context, cifti, kind string) (left, right string, err error)
}

// IsCIFTI reports whether path names a CIFTI file.
func IsCIFTI(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".nii")
}

// splitPair splits "left,right" into its two paths.
func splitPair(path string) (string, string, error) {
	parts := strings.Split(path, ",")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("signal: %q is neither a CIFTI file nor a left,right pair", path)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// Load reads functional data from a CIFTI file (through sep) or from a
// "left,right" pair of GIFTI metric or comma-delimited text files.
func Load(ctx context.Context, path string, sep Separator) (*Matrix, error) {
	if IsCIFTI(path) {
		return LoadCIFTI(ctx, sep, path)
	}
	left, right, err := splitPair(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(strings.ToLower(left), ".gii") {
		return LoadGIFTI(left, right)
	}
	return LoadText(left, right)
}

// LoadGIFTI reads one metric file per hemisphere, one data array per
// timepoint.
func LoadGIFTI(leftPath, rightPath string) (*Matrix, error) {
	left, err := readMetricRows(leftPath)
	if err != nil {
		return nil, err
	}
	right, err := readMetricRows(rightPath)
	if err != nil {
		return nil, err
	}
	return New(left, right)
}

func readMetricRows(path string) ([][]float64, error) {
	cols, err := gifti.ReadMetric(path)
	if err != nil {
		return nil, fmt.Errorf("read functional data %s: %w", path, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, path)
	}
	rows := make([][]float64, len(cols[0]))
	for v := range rows {
		rows[v] = make([]float64, len(cols))
		for t, col := range cols {
			rows[v][t] = col[v]
		}
	}
	return rows, nil
}

// LoadCIFTI separates the cortical surfaces out of a dense CIFTI file and
// loads them.
func LoadCIFTI(ctx context.Context, sep Separator, path string) (*Matrix, error) {
	if sep == nil {
		return nil, fmt.Errorf("signal: no geometry tool to read CIFTI %s", path)
	}
	left, right, err := sep.SeparateCortex(ctx, path, "metric")
	if err != nil {
		return nil, fmt.Errorf("separate %s: %w", path, err)
	}
	return LoadGIFTI(left, right)
}

// LoadText reads comma-delimited text with one row per vertex and one
// column per timepoint.
func LoadText(leftPath, rightPath string) (*Matrix, error) {
	left, err := readTextRows(leftPath)
	if err != nil {
		return nil, err
	}
	right, err := readTextRows(rightPath)
	if err != nil {
		return nil, err
	}
	return New(left, right)
}

func readTextRows(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read functional data: %w", err)
	}
	defer f.Close()
	return ReadRows(f)
}

// ReadRows parses comma-delimited numeric rows.
func ReadRows(r io.Reader) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var rows [][]float64
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse signal rows: %w", err)
		}
		row := make([]float64, len(rec))
		for i, field := range rec {
			row[i], err = strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("parse signal row %d: %w", len(rows)+1, err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteMeants writes one row per region and one column per timepoint.
func WriteMeants(path string, rows [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteRows(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteRows writes numeric rows as comma-delimited text.
func WriteRows(w io.Writer, rows [][]float64) error {
	cw := csv.NewWriter(w)
	for _, row := range rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = strconv.FormatFloat(v, 'f', 6, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadLabels reads an integer label per vertex (for example anatomical
// limits) from a CIFTI dlabel file or a "left,right" pair of label GIFTI
// files, concatenated Left first.
func LoadLabels(ctx context.Context, path string, sep Separator, imap models.IndexMap) ([]int, error) {
	var left, right string
	var err error
	if IsCIFTI(path) {
		if sep == nil {
			return nil, fmt.Errorf("signal: no geometry tool to read CIFTI %s", path)
		}
		left, right, err = sep.SeparateCortex(ctx, path, "label")
	} else {
		left, right, err = splitPair(path)
	}
	if err != nil {
		return nil, err
	}

	out := make([]int, 0, imap.Total())
	for _, hp := range []struct {
		h    models.Hemisphere
		path string
	}{{models.Left, left}, {models.Right, right}} {
		keys, err := gifti.ReadLabel(hp.path)
		if err != nil {
			return nil, fmt.Errorf("read labels %s: %w", hp.path, err)
		}
		if len(keys) != imap.Count(hp.h) {
			return nil, fmt.Errorf("signal: %s labels cover %d vertices, want %d", hp.h.Structure(), len(keys), imap.Count(hp.h))
		}
		out = append(out, keys...)
	}
	return out, nil
}
