package regions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintsurf/internal/models"
	"pintsurf/pkg/geometry"
	"pintsurf/pkg/signal"
)

func stripProvider() *geometry.Mesh {
	strip := geometry.NewGridMesh(10, 2, 1)
	return geometry.NewMesh(strip, strip)
}

func stripTable() models.Table {
	return models.Table{
		models.NewVertexRecord(1, "A", models.Left, 2),
		models.NewVertexRecord(2, "B", models.Left, 7),
		models.NewVertexRecord(3, "A", models.Right, 0),
	}
}

func TestBuildMaskMapsROIsAndOffsets(t *testing.T) {
	imap := models.IndexMap{Left: 20, Right: 20}
	mask, err := BuildMask(context.Background(), stripProvider(), stripTable(), 1, imap)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 12}, mask.Members(1))
	assert.Equal(t, []int{6, 7, 8, 17}, mask.Members(2))
	assert.Equal(t, []int{20, 21, 30}, mask.Members(3))
	assert.Empty(t, mask.Members(4))
}

func TestBuildMaskUsesCurrentPosition(t *testing.T) {
	table := stripTable()
	table[0].Record(models.Step{Iteration: 0, Vertex: 4, Distance: 2})

	mask, err := BuildMask(context.Background(), stripProvider(), table, 0.5, models.IndexMap{Left: 20, Right: 20})
	require.NoError(t, err)
	assert.Equal(t, []int{4}, mask.Members(1))
}

func TestBuildSet(t *testing.T) {
	imap := models.IndexMap{Left: 20, Right: 20}
	set, err := Build(context.Background(), stripProvider(), stripTable(), Radii{Sampling: 0.5, Search: 1, Padding: 3}, imap)
	require.NoError(t, err)

	assert.Equal(t, []int{2}, set.Sampling.Members(1))
	assert.Equal(t, []int{1, 2, 3, 12}, set.Search.Members(1))
	// Padding disks of 1 and 2 overlap between vertices 4 and 5.
	assert.NotContains(t, set.Padding.Members(1), 4)
	assert.NotContains(t, set.Padding.Members(2), 5)
	assert.Contains(t, set.Padding.Members(1), 0)
}

type failingProvider struct{ geometry.Provider }

func (failingProvider) Regions(context.Context, models.Hemisphere, float64, []int) ([]int, error) {
	return nil, errors.New("wb_command exited 255")
}

func TestBuildPropagatesProviderFailure(t *testing.T) {
	_, err := Build(context.Background(), failingProvider{stripProvider()}, stripTable(), Radii{1, 1, 1}, models.IndexMap{Left: 20, Right: 20})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wb_command exited 255")
}

func TestBuildMaskRejectsShapeMismatch(t *testing.T) {
	_, err := BuildMask(context.Background(), stripProvider(), stripTable(), 1, models.IndexMap{Left: 25, Right: 20})
	assert.Error(t, err)
}

func TestMaskZero(t *testing.T) {
	m := Mask{1, 1, 2, 0}
	z := m.Zero([]bool{true, false, true, true})
	assert.Equal(t, Mask{0, 1, 0, 0}, z)
	assert.Equal(t, Mask{1, 1, 2, 0}, m)
}

func TestMeanSignalsAndNetworks(t *testing.T) {
	sig, err := signal.New(
		[][]float64{{1, 1}, {3, 3}, {10, 20}},
		[][]float64{{5, 7}},
	)
	require.NoError(t, err)

	table := models.Table{
		models.NewVertexRecord(1, "A", models.Left, 0),
		models.NewVertexRecord(2, "A", models.Left, 2),
		models.NewVertexRecord(3, "A", models.Right, 0),
		models.NewVertexRecord(4, "B", models.Left, 2),
	}
	means := MeanSignals(sig, Mask{1, 1, 2, 0})
	assert.Equal(t, []float64{2, 2}, means[1])
	assert.Equal(t, []float64{10, 20}, means[2])
	_, ok := means[3]
	assert.False(t, ok)

	nets := NetworkMeans(table, means)
	assert.Equal(t, []float64{6, 11}, nets["A"])
	_, ok = nets["B"]
	assert.False(t, ok)
}

func TestReferenceExcludesSelf(t *testing.T) {
	table := models.Table{
		models.NewVertexRecord(1, "A", models.Left, 0),
		models.NewVertexRecord(2, "A", models.Left, 5),
		models.NewVertexRecord(3, "B", models.Left, 9),
	}
	means := map[int][]float64{
		1: {100, 100},
		2: {1, 2},
		3: {-7, 7},
	}

	assert.Equal(t, []float64{1, 2}, ReferenceExcluding(table, table[0], means))
	assert.Equal(t, []float64{100, 100}, ReferenceExcluding(table, table[1], means))
	assert.Nil(t, ReferenceExcluding(table, table[2], means))

	delete(means, 2)
	assert.Nil(t, ReferenceExcluding(table, table[0], means))
}

func TestOtherNetworks(t *testing.T) {
	nets := map[string][]float64{"C": {3}, "A": {1}, "B": {2}}
	assert.Equal(t, [][]float64{{1}, {3}}, OtherNetworks(nets, "B"))
	assert.Empty(t, OtherNetworks(map[string][]float64{"A": {1}}, "A"))
}
