package locate

import "gonum.org/v1/gonum/spatial/kdtree"

// centroid is an element centroid in the spatial index. It carries the
// compacted element slot so a query candidate can be mapped back to its
// precomputed barycentric data.
type centroid struct {
	pos  [3]float64
	slot int32
}

// Compare implements the kdtree.Comparable interface
func (c centroid) Compare(cm kdtree.Comparable, d kdtree.Dim) float64 {
	q := cm.(centroid)
	switch d {
	case 0:
		return c.pos[0] - q.pos[0]
	case 1:
		return c.pos[1] - q.pos[1]
	case 2:
		return c.pos[2] - q.pos[2]
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (c centroid) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (c centroid) Distance(cm kdtree.Comparable) float64 {
	q := cm.(centroid)
	dx := c.pos[0] - q.pos[0]
	dy := c.pos[1] - q.pos[1]
	dz := c.pos[2] - q.pos[2]
	return dx*dx + dy*dy + dz*dz // Squared distance for efficiency
}

// centroids is a collection of centroid that satisfies kdtree.Interface
type centroids []centroid

func (p centroids) Index(i int) kdtree.Comparable          { return p[i] }
func (p centroids) Len() int                               { return len(p) }
func (p centroids) Slice(start, end int) kdtree.Interface  { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p centroids) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(centroidPlane{centroids: p, Dim: d}, kdtree.MedianOfRandoms(centroidPlane{centroids: p, Dim: d}, 100))
}

// centroidPlane implements sort.Interface and kdtree.SortSlicer for centroids
type centroidPlane struct {
	centroids
	kdtree.Dim
}

func (p centroidPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.centroids[i].pos[0] < p.centroids[j].pos[0]
	case 1:
		return p.centroids[i].pos[1] < p.centroids[j].pos[1]
	case 2:
		return p.centroids[i].pos[2] < p.centroids[j].pos[2]
	default:
		panic("illegal dimension")
	}
}

func (p centroidPlane) Slice(start, end int) kdtree.SortSlicer {
	return centroidPlane{centroids: p.centroids[start:end], Dim: p.Dim}
}

func (p centroidPlane) Swap(i, j int) {
	p.centroids[i], p.centroids[j] = p.centroids[j], p.centroids[i]
}
