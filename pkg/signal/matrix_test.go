package signal

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintsurf/internal/models"
	"pintsurf/pkg/gifti"
)

func sampleMatrix(t *testing.T) *Matrix {
	t.Helper()
	m, err := New(
		[][]float64{
			{10, 20, 30, 40, 50, 60},
			{100, 100, 100, 100, 100, 100},
		},
		[][]float64{
			{1, 2, 3, 4, 1, 2},
			{-20, 20, -20, 20, -20, 20},
			{8, 9, 10, 11, 12, 13},
		},
	)
	require.NoError(t, err)
	return m
}

func TestNewLayout(t *testing.T) {
	m := sampleMatrix(t)
	assert.Equal(t, models.IndexMap{Left: 2, Right: 3}, m.Index())
	assert.Equal(t, 6, m.Timepoints())
	assert.Equal(t, []float64{1, 2, 3, 4, 1, 2}, m.Row(2))
	assert.Equal(t, m.Row(3), m.Vertex(models.Right, 1))
	assert.Equal(t, m.Row(1), m.Vertex(models.Left, 1))
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = New([][]float64{{}}, nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = New([][]float64{{1, 2}}, [][]float64{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrRagged)
}

func TestMean(t *testing.T) {
	m := sampleMatrix(t)
	assert.Nil(t, m.Mean(nil))
	assert.InDeltaSlice(t, []float64{55, 60, 65, 70, 75, 80}, m.Mean([]int{0, 1}), 1e-12)
	assert.InDeltaSlice(t, m.Row(4), m.Mean([]int{4}), 1e-12)
}

func TestSilentMask(t *testing.T) {
	m := sampleMatrix(t)
	// Sample 5 holds 60, 100, 2, 20, 13. Row 1 is constant and row 2 is
	// below the threshold.
	assert.Equal(t, []bool{false, true, true, false, false}, m.SilentMask(5, 5))

	// Out-of-range samples fall back to the last timepoint.
	assert.Equal(t, []bool{false, true, true, false, false}, m.SilentMask(99, 5))
}

func TestLoadGIFTI(t *testing.T) {
	dir := t.TempDir()
	left := filepath.Join(dir, "L.func.gii")
	right := filepath.Join(dir, "R.func.gii")
	// One column per timepoint.
	require.NoError(t, gifti.WriteFile(left, gifti.MetricImage([][]float64{{1, 2}, {3, 4}, {5, 6}})))
	require.NoError(t, gifti.WriteFile(right, gifti.MetricImage([][]float64{{7}, {8}, {9}})))

	m, err := Load(context.Background(), left+","+right, nil)
	require.NoError(t, err)
	assert.Equal(t, models.IndexMap{Left: 2, Right: 1}, m.Index())
	assert.Equal(t, []float64{1, 3, 5}, m.Row(0))
	assert.Equal(t, []float64{2, 4, 6}, m.Row(1))
	assert.Equal(t, []float64{7, 8, 9}, m.Row(2))
}

type fakeSeparator struct {
	left, right string
	kinds       []string
}

func (f *fakeSeparator) SeparateCortex(_ context.Context, _ string, kind string) (string, string, error) {
	f.kinds = append(f.kinds, kind)
	return f.left, f.right, nil
}

func TestLoadCIFTIThroughSeparator(t *testing.T) {
	dir := t.TempDir()
	sep := &fakeSeparator{left: filepath.Join(dir, "L.func.gii"), right: filepath.Join(dir, "R.func.gii")}
	require.NoError(t, gifti.WriteFile(sep.left, gifti.MetricImage([][]float64{{1}, {2}})))
	require.NoError(t, gifti.WriteFile(sep.right, gifti.MetricImage([][]float64{{3}, {4}})))

	m, err := Load(context.Background(), "sub-01.dtseries.nii", sep)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, m.Row(1))
	assert.Equal(t, []string{"metric"}, sep.kinds)

	_, err = Load(context.Background(), "sub-01.dtseries.nii", nil)
	assert.Error(t, err)
}

func TestLoadText(t *testing.T) {
	dir := t.TempDir()
	left := filepath.Join(dir, "L.csv")
	right := filepath.Join(dir, "R.csv")
	require.NoError(t, WriteMeants(left, [][]float64{{1, 2, 3}, {4, 5, 6}}))
	require.NoError(t, WriteMeants(right, [][]float64{{7.25, 8, 9}}))

	m, err := Load(context.Background(), left+","+right, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Index().Total())
	assert.Equal(t, []float64{7.25, 8, 9}, m.Row(2))

	_, err = Load(context.Background(), left, nil)
	assert.Error(t, err)
}

func TestReadRowsErrors(t *testing.T) {
	_, err := ReadRows(strings.NewReader("1,2\n3,x\n"))
	assert.Error(t, err)

	_, err = ReadRows(strings.NewReader("1,2\n3\n"))
	assert.Error(t, err)
}

func TestWriteRowsFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRows(&buf, [][]float64{{1, 0.5}, {-2, 3.1234567}}))
	assert.Equal(t, "1.000000,0.500000\n-2.000000,3.123457\n", buf.String())
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()
	left := filepath.Join(dir, "L.label.gii")
	right := filepath.Join(dir, "R.label.gii")
	require.NoError(t, gifti.WriteFile(left, gifti.LabelImage([]int{0, 1})))
	require.NoError(t, gifti.WriteFile(right, gifti.LabelImage([]int{2, 2, 0})))

	imap := models.IndexMap{Left: 2, Right: 3}
	labels, err := LoadLabels(context.Background(), left+","+right, nil, imap)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 2, 0}, labels)

	_, err = LoadLabels(context.Background(), left+","+right, nil, models.IndexMap{Left: 3, Right: 3})
	assert.Error(t, err)
}
