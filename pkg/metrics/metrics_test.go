package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintsurf/internal/models"
	"pintsurf/pkg/geometry"
)

func TestObserveIteration(t *testing.T) {
	r := NewRecorder()
	r.ObserveIteration("iterate", 4.5, 3)
	r.ObserveIteration("iterate", 0.5, 1)
	r.ObserveIteration("repair", 0, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.iterations.WithLabelValues("iterate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.iterations.WithLabelValues("repair")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.moves))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.maxDisplacement))
}

func TestSetStateKeepsSingleState(t *testing.T) {
	r := NewRecorder()
	r.SetState("iterating")
	r.SetState("converged")

	assert.Equal(t, 1, testutil.CollectAndCount(r.runState))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runState.WithLabelValues("converged")))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveIteration("iterate", 1, 1)
	r.ObserveCandidates(3)
	r.SetState("converged")
	assert.Nil(t, r.Registry())
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))

	p := geometry.NewMesh(geometry.NewGridMesh(3, 3, 1), nil)
	assert.Same(t, p, Instrument(p, nil))
}

func TestInstrumentCountsCalls(t *testing.T) {
	r := NewRecorder()
	p := Instrument(geometry.NewMesh(geometry.NewGridMesh(4, 4, 1), nil), r)
	ctx := context.Background()

	_, err := p.Distance(ctx, models.Left, 0, 3)
	require.NoError(t, err)
	_, err = p.Regions(ctx, models.Left, 1, []int{0, 15})
	require.NoError(t, err)
	_, err = p.Distance(ctx, models.Left, 99, 3)
	require.Error(t, err)

	assert.Equal(t, 16, p.VertexCount(models.Left))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.geometryCalls.WithLabelValues("distance", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.geometryCalls.WithLabelValues("distance", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.geometryCalls.WithLabelValues("regions", "ok")))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveIteration("iterate", 2, 1)
	r.ObserveCandidates(12)

	path := filepath.Join(t.TempDir(), "pint.prom")
	require.NoError(t, r.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	assert.True(t, strings.Contains(text, `pintsurf_iterations_total{phase="iterate"} 1`))
	assert.Contains(t, text, "pintsurf_max_displacement_mm 2")
	assert.Contains(t, text, "pintsurf_candidates_count 1")
}
