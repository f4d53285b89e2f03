package geometry

import (
	"container/heap"
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph/simple"

	"pintsurf/internal/models"
	"pintsurf/pkg/gifti"
)

// Mesh answers geodesic queries in-process. Geodesic distance is
// approximated by the shortest path along triangle edges, which matches the
// exact geodesic on flat regular meshes up to the edge discretisation.
type Mesh struct {
	graphs map[models.Hemisphere]*simple.WeightedUndirectedGraph
	counts map[models.Hemisphere]int
	points map[models.Hemisphere][][3]float64
}

// NewMesh builds a provider from the left and right surfaces.
func NewMesh(left, right *gifti.Surface) *Mesh {
	m := &Mesh{
		graphs: make(map[models.Hemisphere]*simple.WeightedUndirectedGraph, 2),
		counts: make(map[models.Hemisphere]int, 2),
		points: make(map[models.Hemisphere][][3]float64, 2),
	}
	m.add(models.Left, left)
	m.add(models.Right, right)
	return m
}

// LoadMesh reads both .surf.gii files and builds a Mesh provider.
func LoadMesh(leftPath, rightPath string) (*Mesh, error) {
	left, err := gifti.ReadSurface(leftPath)
	if err != nil {
		return nil, fmt.Errorf("load left surface: %w", err)
	}
	right, err := gifti.ReadSurface(rightPath)
	if err != nil {
		return nil, fmt.Errorf("load right surface: %w", err)
	}
	return NewMesh(left, right), nil
}

func (m *Mesh) add(h models.Hemisphere, s *gifti.Surface) {
	if s == nil {
		return
	}
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := range s.Points {
		g.AddNode(simple.Node(i))
	}
	for _, tri := range s.Triangles {
		for k := 0; k < 3; k++ {
			a, b := tri[k], tri[(k+1)%3]
			if a == b {
				continue
			}
			w := edgeLength(s.Points[a], s.Points[b])
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(a), simple.Node(b), w))
		}
	}
	m.graphs[h] = g
	m.counts[h] = len(s.Points)
	m.points[h] = s.Points
}

func edgeLength(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// VertexCount returns the number of vertices on hemisphere h.
func (m *Mesh) VertexCount(h models.Hemisphere) int { return m.counts[h] }

// Points returns the vertex coordinates of hemisphere h.
func (m *Mesh) Points(h models.Hemisphere) [][3]float64 { return m.points[h] }

// Distance returns the bounded geodesic distance field from origin.
func (m *Mesh) Distance(ctx context.Context, h models.Hemisphere, origin int, limit float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g, ok := m.graphs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHemisphere, h)
	}
	if origin < 0 || origin >= m.counts[h] {
		return nil, fmt.Errorf("%w: %d on %s", ErrVertexOutOfRange, origin, h)
	}
	return boundedDijkstra(g, m.counts[h], origin, limit), nil
}

// Regions grows EXCLUDE-resolved geodesic disks around vertices.
func (m *Mesh) Regions(ctx context.Context, h models.Hemisphere, radius float64, vertices []int) ([]int, error) {
	n := m.counts[h]
	owner := make([]int, n)
	for i, v := range vertices {
		field, err := m.Distance(ctx, h, v, radius)
		if err != nil {
			return nil, err
		}
		for u, d := range field {
			if d >= 0 {
				claim(owner, u, i+1)
			}
		}
	}
	return excludeOverlaps(owner), nil
}

// boundedDijkstra explores outward from origin and stops once the closest
// unsettled vertex lies beyond limit. Unreached vertices hold Unset.
func boundedDijkstra(g *simple.WeightedUndirectedGraph, n, origin int, limit float64) []float64 {
	dist := make([]float64, n)
	for i := range dist {
		dist[i] = math.Inf(1)
	}
	settled := make([]bool, n)

	pq := distQueue{{id: origin, dist: 0}}
	dist[origin] = 0
	for pq.Len() > 0 {
		item := heap.Pop(&pq).(distItem)
		if settled[item.id] || item.dist > dist[item.id] {
			continue
		}
		if item.dist > limit {
			break
		}
		settled[item.id] = true

		uid := int64(item.id)
		nodes := g.From(uid)
		for nodes.Next() {
			vid := nodes.Node().ID()
			w, _ := g.Weight(uid, vid)
			nd := item.dist + w
			if nd < dist[vid] && nd <= limit {
				dist[vid] = nd
				heap.Push(&pq, distItem{id: int(vid), dist: nd})
			}
		}
	}

	for i := range dist {
		if !settled[i] {
			dist[i] = Unset
		}
	}
	return dist
}

type distItem struct {
	id   int
	dist float64
}

// distQueue is a min-heap on distance with lazy decrease-key.
type distQueue []distItem

func (q distQueue) Len() int { return len(q) }
func (q distQueue) Less(i, j int) bool {
	if q[i].dist == q[j].dist {
		return q[i].id < q[j].id
	}
	return q[i].dist < q[j].dist
}
func (q distQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *distQueue) Push(x any) { *q = append(*q, x.(distItem)) }
func (q *distQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// NewGridMesh builds a flat triangulated cols x rows grid with the given
// vertex spacing. Vertex (x, y) has index y*cols + x. Each square is split
// along its main diagonal, so geodesic distances along the grid axes are
// exact multiples of spacing.
func NewGridMesh(cols, rows int, spacing float64) *gifti.Surface {
	s := &gifti.Surface{Points: make([][3]float64, 0, cols*rows)}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			s.Points = append(s.Points, [3]float64{float64(x) * spacing, float64(y) * spacing, 0})
		}
	}
	for y := 0; y+1 < rows; y++ {
		for x := 0; x+1 < cols; x++ {
			a := y*cols + x
			b := a + 1
			c := a + cols
			d := c + 1
			s.Triangles = append(s.Triangles, [3]int{a, b, d}, [3]int{a, d, c})
		}
	}
	return s
}
