package geometry

import (
	"gonum.org/v1/gonum/spatial/kdtree"
)

// located is a surface position tagged with its vertex index. Dimensions
// index straight into pos.
type located struct {
	pos    [3]float64
	vertex int
}

func (p located) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.pos[d] - c.(located).pos[d]
}

func (located) Dims() int { return 3 }

// Distance is the squared Euclidean distance.
func (p located) Distance(c kdtree.Comparable) float64 {
	q := c.(located)
	var sum float64
	for k := range p.pos {
		d := p.pos[k] - q.pos[k]
		sum += d * d
	}
	return sum
}

// cloud is the kdtree.Interface over a surface's vertices.
type cloud []located

func (c cloud) Index(i int) kdtree.Comparable         { return c[i] }
func (c cloud) Len() int                              { return len(c) }
func (c cloud) Slice(start, end int) kdtree.Interface { return c[start:end] }

func (c cloud) Pivot(d kdtree.Dim) int {
	s := byAxis{cloud: c, axis: d}
	return kdtree.Partition(s, kdtree.MedianOfRandoms(s, 100))
}

// byAxis orders a cloud along one axis for pivot selection.
type byAxis struct {
	cloud
	axis kdtree.Dim
}

func (b byAxis) Less(i, j int) bool { return b.cloud[i].pos[b.axis] < b.cloud[j].pos[b.axis] }
func (b byAxis) Swap(i, j int)      { b.cloud[i], b.cloud[j] = b.cloud[j], b.cloud[i] }

func (b byAxis) Slice(start, end int) kdtree.SortSlicer {
	return byAxis{cloud: b.cloud[start:end], axis: b.axis}
}

// VertexLocator snaps coordinates to the closest surface vertex.
type VertexLocator struct {
	tree *kdtree.Tree
}

// NewVertexLocator indexes the vertex coordinates of one surface.
func NewVertexLocator(points [][3]float64) *VertexLocator {
	if len(points) == 0 {
		return &VertexLocator{}
	}
	pts := make(cloud, len(points))
	for i, c := range points {
		pts[i] = located{pos: c, vertex: i}
	}
	return &VertexLocator{tree: kdtree.New(pts, false)}
}

// Nearest returns the closest vertex index and its Euclidean distance
// squared, or -1 for an empty surface.
func (l *VertexLocator) Nearest(x, y, z float64) (int, float64) {
	if l.tree == nil || l.tree.Root == nil {
		return -1, 0
	}
	got, d := l.tree.Nearest(located{pos: [3]float64{x, y, z}})
	if got == nil {
		return -1, 0
	}
	return got.(located).vertex, d
}
