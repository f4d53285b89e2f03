package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHemisphere(t *testing.T) {
	testCases := []struct {
		in   string
		want Hemisphere
	}{
		{"L", Left}, {"left", Left}, {" CORTEX_LEFT ", Left},
		{"r", Right}, {"Right", Right}, {"CORTEX_RIGHT", Right},
	}
	for _, tc := range testCases {
		got, err := ParseHemisphere(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseHemisphere("both")
	assert.Error(t, err)
}

func TestIndexMap(t *testing.T) {
	m := IndexMap{Left: 10, Right: 4}
	assert.Equal(t, 14, m.Total())
	assert.Equal(t, 3, m.Global(Left, 3))
	assert.Equal(t, 13, m.Global(Right, 3))
	assert.Equal(t, 10, m.Offset(Right))

	h, local := m.Local(12)
	assert.Equal(t, Right, h)
	assert.Equal(t, 2, local)
	h, local = m.Local(9)
	assert.Equal(t, Left, h)
	assert.Equal(t, 9, local)

	assert.True(t, m.Contains(Right, 3))
	assert.False(t, m.Contains(Right, 4))
	assert.False(t, m.Contains(Left, -1))
}

func TestVertexRecordHistory(t *testing.T) {
	r := NewVertexRecord(1, "DMN", Left, 100)
	assert.Equal(t, 100, r.Current())
	assert.True(t, r.LimitsOK)

	r.Record(Step{Iteration: 0, Vertex: 104, Distance: 2})
	r.Record(Step{Iteration: 1, Vertex: 105, Distance: 1})
	assert.Equal(t, 105, r.Current())

	r.Reset()
	assert.Equal(t, 100, r.Current())
	assert.Len(t, r.History, 2)

	r.Record(Step{Iteration: 50, Vertex: 101, Distance: 1})
	assert.Equal(t, 101, r.Current())
	assert.Equal(t, Left, r.Hemi)
	assert.Equal(t, 100, r.Origin)
}

func TestTableValidate(t *testing.T) {
	assert.ErrorIs(t, Table{}.Validate(), ErrEmptyTable)
	assert.Error(t, Table{NewVertexRecord(0, "A", Left, 1)}.Validate())
	assert.Error(t, Table{NewVertexRecord(1, "A", Left, 1), NewVertexRecord(1, "B", Right, 2)}.Validate())
	assert.NoError(t, Table{NewVertexRecord(2, "A", Left, 1), NewVertexRecord(1, "B", Right, 2)}.Validate())
}

func TestTableQueries(t *testing.T) {
	tbl := Table{
		NewVertexRecord(1, "VIS", Left, 1),
		NewVertexRecord(2, "DMN", Right, 2),
		NewVertexRecord(3, "DMN", Left, 3),
	}
	assert.Equal(t, []string{"DMN", "VIS"}, tbl.Networks())

	members := tbl.Members("DMN")
	require.Len(t, members, 2)
	assert.Equal(t, 2, members[0].ROI)
	assert.Equal(t, 3, members[1].ROI)

	assert.Equal(t, 3, tbl.ByROI(3).Origin)
	assert.Nil(t, tbl.ByROI(9))
	assert.Len(t, tbl.OnHemisphere(Left), 2)
}

func TestHemisphereNames(t *testing.T) {
	assert.Equal(t, "L", Left.String())
	assert.Equal(t, "R", Right.String())
	assert.Equal(t, "CORTEX_RIGHT", Right.Structure())
}

func TestTableNextIteration(t *testing.T) {
	a := NewVertexRecord(1, "A", Left, 1)
	b := NewVertexRecord(2, "A", Right, 2)
	tbl := Table{a, b}
	assert.Equal(t, 0, tbl.NextIteration())

	a.Record(Step{Iteration: 0, Vertex: 1})
	a.Record(Step{Iteration: 1, Vertex: 3})
	b.Record(Step{Iteration: 50, Vertex: 2})
	assert.Equal(t, 51, tbl.NextIteration())
}
