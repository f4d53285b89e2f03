package geometry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintsurf/internal/models"
	"pintsurf/pkg/gifti"
)

// fakeWorkbench imitates wb_command by answering from an in-process mesh
// and writing GIFTI outputs where the real tool would.
type fakeWorkbench struct {
	mesh  *Mesh
	hemis map[string]models.Hemisphere
	fail  bool

	mu    sync.Mutex
	calls [][]string
}

func (f *fakeWorkbench) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	if f.fail {
		return []byte("ERROR: surface file is corrupt"), errors.New("exit status 1")
	}

	switch args[0] {
	case "-surface-geodesic-distance":
		h := f.hemis[args[1]]
		v, _ := strconv.Atoi(args[2])
		limit, _ := strconv.ParseFloat(args[5], 64)
		field, err := f.mesh.Distance(ctx, h, v, limit)
		if err != nil {
			return nil, err
		}
		return nil, gifti.WriteFile(args[3], gifti.MetricImage([][]float64{field}))

	case "-surface-geodesic-rois":
		h := f.hemis[args[1]]
		radius, _ := strconv.ParseFloat(args[2], 64)
		raw, err := os.ReadFile(args[3])
		if err != nil {
			return nil, err
		}
		var vertices []int
		for _, line := range strings.Fields(string(raw)) {
			v, _ := strconv.Atoi(line)
			vertices = append(vertices, v)
		}
		owner, err := f.mesh.Regions(ctx, h, radius, vertices)
		if err != nil {
			return nil, err
		}
		cols := make([][]float64, len(vertices))
		for i := range cols {
			cols[i] = make([]float64, len(owner))
			for v, o := range owner {
				if o == i+1 {
					cols[i][v] = 1
				}
			}
		}
		return nil, gifti.WriteFile(args[4], gifti.MetricImage(cols))

	case "-version":
		return []byte("Connectome Workbench\nType: Command Line Application\nVersion: 1.5.0\n"), nil
	}
	return []byte("unknown command"), fmt.Errorf("unexpected %s", args[0])
}

func newFakeWorkbench(t *testing.T) (*Workbench, *fakeWorkbench) {
	t.Helper()
	dir := t.TempDir()
	left := NewGridMesh(8, 6, 1)
	right := NewGridMesh(5, 5, 1)
	leftPath := filepath.Join(dir, "L.surf.gii")
	rightPath := filepath.Join(dir, "R.surf.gii")
	require.NoError(t, gifti.WriteFile(leftPath, gifti.SurfaceImage(left)))
	require.NoError(t, gifti.WriteFile(rightPath, gifti.SurfaceImage(right)))

	fake := &fakeWorkbench{
		mesh:  NewMesh(left, right),
		hemis: map[string]models.Hemisphere{leftPath: models.Left, rightPath: models.Right},
	}
	wb, err := NewWorkbench(WorkbenchOptions{
		Binary:       "wb_command",
		TempDir:      dir,
		RunID:        "test",
		LeftSurface:  leftPath,
		RightSurface: rightPath,
		Runner:       fake,
	})
	require.NoError(t, err)
	t.Cleanup(func() { wb.Close() })
	return wb, fake
}

func TestWorkbenchVertexCount(t *testing.T) {
	wb, _ := newFakeWorkbench(t)
	assert.Equal(t, 48, wb.VertexCount(models.Left))
	assert.Equal(t, 25, wb.VertexCount(models.Right))
}

func TestWorkbenchDistanceMatchesMesh(t *testing.T) {
	wb, fake := newFakeWorkbench(t)
	ctx := context.Background()

	got, err := wb.Distance(ctx, models.Left, 9, 3)
	require.NoError(t, err)
	want, err := fake.mesh.Distance(ctx, models.Left, 9, 3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-6)

	require.Len(t, fake.calls, 1)
	call := fake.calls[0]
	assert.Equal(t, "wb_command", call[0])
	assert.Equal(t, "-surface-geodesic-distance", call[1])
	assert.Equal(t, "9", call[3])
	assert.Equal(t, []string{"-limit", "3"}, call[5:])
}

func TestWorkbenchRegionsExclude(t *testing.T) {
	wb, fake := newFakeWorkbench(t)
	ctx := context.Background()

	got, err := wb.Regions(ctx, models.Right, 1.5, []int{6, 8, 18})
	require.NoError(t, err)
	want, err := fake.mesh.Regions(ctx, models.Right, 1.5, []int{6, 8, 18})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	call := fake.calls[len(fake.calls)-1]
	assert.Equal(t, []string{"-overlap-logic", "EXCLUDE"}, call[len(call)-2:])
}

func TestWorkbenchRegionsEmptyListSkipsTool(t *testing.T) {
	wb, fake := newFakeWorkbench(t)
	got, err := wb.Regions(context.Background(), models.Left, 6, nil)
	require.NoError(t, err)
	assert.Equal(t, make([]int, 48), got)
	assert.Empty(t, fake.calls)
}

func TestWorkbenchToolFailure(t *testing.T) {
	wb, fake := newFakeWorkbench(t)
	fake.fail = true

	_, err := wb.Distance(context.Background(), models.Left, 0, 6)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surface file is corrupt")

	_, err = wb.Distance(context.Background(), models.Left, 100, 6)
	assert.ErrorIs(t, err, ErrVertexOutOfRange)
}

func TestWorkbenchCloseRemovesScratch(t *testing.T) {
	wb, _ := newFakeWorkbench(t)
	dir := wb.TempDir()
	require.DirExists(t, dir)
	assert.True(t, strings.HasPrefix(filepath.Base(dir), "pintsurf-test-"))

	_, err := wb.Distance(context.Background(), models.Left, 0, 2)
	require.NoError(t, err)

	require.NoError(t, wb.Close())
	assert.NoDirExists(t, dir)
	assert.NoError(t, wb.Close())
}

func TestWorkbenchSmoothAndSeparateArgs(t *testing.T) {
	wb, fake := newFakeWorkbench(t)
	fake.fail = false
	ctx := context.Background()

	// The fake rejects these commands; only the argument layout is checked.
	_, err := wb.Smooth(ctx, "func.dtseries.nii", 4)
	require.Error(t, err)
	call := fake.calls[len(fake.calls)-1]
	assert.Equal(t, "-cifti-smoothing", call[1])
	sigma, perr := strconv.ParseFloat(call[3], 64)
	require.NoError(t, perr)
	assert.InDelta(t, 1.6986, sigma, 1e-3)
	assert.Equal(t, "COLUMN", call[5])

	_, _, err = wb.SeparateCortex(ctx, "func.dtseries.nii", "metric")
	require.Error(t, err)
	call = fake.calls[len(fake.calls)-1]
	assert.Equal(t, []string{"-cifti-separate", "func.dtseries.nii", "COLUMN", "-metric", "CORTEX_LEFT"}, call[1:6])
	assert.Equal(t, []string{"-metric", "CORTEX_RIGHT"}, call[7:9])
}

func TestCheckToolMissingBinary(t *testing.T) {
	status := CheckTool(context.Background(), "pintsurf-no-such-binary", &fakeWorkbench{})
	assert.False(t, status.Available)
	assert.ErrorIs(t, status.Error, ErrToolNotFound)
}

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "1.5.0", extractVersion("Connectome Workbench\nVersion: 1.5.0\nCommit: abc\n"))
	assert.Equal(t, "unknown", extractVersion("garbage"))
}
