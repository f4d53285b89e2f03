package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintsurf/internal/models"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordRunAndReadBack(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	a := models.NewVertexRecord(2, "DMN", models.Left, 100)
	a.Final, a.FinalDistance = 104, 3.5
	b := models.NewVertexRecord(1, "DAN", models.Right, 7)
	b.LimitsOK = false

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	run := &Run{
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		FuncPath:   "sub-01.dtseries.nii",
		TablePath:  "seeds.csv",
		State:      "converged",
		Iterations: 7,
		ConfigJSON: `{"pint":{}}`,
		Vertices:   models.Table{a, b},
	}
	require.NoError(t, s.RecordRun(ctx, run))
	require.NotEmpty(t, run.ID)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "converged", got.State)
	assert.Empty(t, got.RepairState)
	assert.Equal(t, 7, got.Iterations)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, 90*time.Second, got.FinishedAt.Sub(got.StartedAt))

	rows, err := s.Vertices(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, VertexRow{ROI: 1, Hemi: "R", Network: "DAN", TVertex: 7, IVertex: 7, Distance: 0, LimitsOK: false}, rows[0])
	assert.Equal(t, VertexRow{ROI: 2, Hemi: "L", Network: "DMN", TVertex: 100, IVertex: 104, Distance: 3.5, LimitsOK: true}, rows[1])
}

func TestGetRunNotFound(t *testing.T) {
	s := openTemp(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordRunRejectsDuplicateID(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	run := &Run{ID: "fixed", State: "converged", StartedAt: time.Now(), FinishedAt: time.Now()}
	require.NoError(t, s.RecordRun(ctx, run))
	assert.Error(t, s.RecordRun(ctx, run))

	rows, err := s.Vertices(ctx, "fixed")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(context.Background(), &Run{ID: "r1", State: "converged", StartedAt: time.Now(), FinishedAt: time.Now()}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetRun(context.Background(), "r1")
	assert.NoError(t, err)
}

func TestNilStoreClose(t *testing.T) {
	var s *Store
	assert.NoError(t, s.Close())
}
