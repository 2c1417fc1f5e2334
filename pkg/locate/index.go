// Package locate answers point-location queries against a tetrahedral mesh:
// which element contains a given point, and with what barycentric
// coordinates. Queries are accelerated by a KD-tree over element centroids
// so that locating every center of a large voxel grid stays tractable for
// realistic mesh sizes (10^4-10^6 elements, 10^5-10^7 query points).
package locate

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
)

// weightTol is how far below zero a barycentric weight may fall while the
// point is still considered inside the element. Points exactly on shared
// faces produce tiny negative weights from rounding; the weights themselves
// are reported unclamped.
const weightTol = 1e-9

// element holds the precomputed affine inverse used to evaluate barycentric
// coordinates of one tetrahedron.
type element struct {
	id    int32      // element index in the mesh
	nodes [4]int32   // node indices
	base  [3]float64 // first vertex
	inv   [3][3]float64
}

// Index is an immutable spatial index over a tetrahedral mesh. It is safe
// for concurrent queries.
type Index struct {
	elems    []element
	tree     *kdtree.Tree
	searchR2 float64 // squared search radius covering every element
	skipped  int
}

// NewIndex precomputes per-element barycentric transforms and builds the
// centroid KD-tree. Elements with (near-)zero volume are skipped rather
// than failing the build; a mesh with no usable elements is a geometry
// error.
func NewIndex(mesh *models.Mesh) (*Index, error) {
	if err := mesh.Validate(); err != nil {
		return nil, err
	}

	ix := &Index{}
	pts := make(centroids, 0, mesh.NumElements())

	for e := 0; e < mesh.NumElements(); e++ {
		nodes := mesh.ElementNodes(e)
		v0 := mesh.Node(int(nodes[0]))
		v1 := mesh.Node(int(nodes[1]))
		v2 := mesh.Node(int(nodes[2]))
		v3 := mesh.Node(int(nodes[3]))

		e1 := sub(v1, v0)
		e2 := sub(v2, v0)
		e3 := sub(v3, v0)
		det := dot(e1, cross(e2, e3))

		// Degenerate (flat) tetrahedra cannot be inverted; skip them so a
		// handful of bad elements does not abort the whole search.
		scale := math.Max(norm(e1), math.Max(norm(e2), norm(e3)))
		if scale == 0 || math.Abs(det) <= 1e-12*scale*scale*scale {
			ix.skipped++
			continue
		}

		// Rows of the inverse edge matrix: lambda = inv * (p - v0).
		r0 := cross(e2, e3)
		r1 := cross(e3, e1)
		r2 := cross(e1, e2)
		var inv [3][3]float64
		for a := 0; a < 3; a++ {
			inv[0][a] = r0[a] / det
			inv[1][a] = r1[a] / det
			inv[2][a] = r2[a] / det
		}

		slot := int32(len(ix.elems))
		ix.elems = append(ix.elems, element{id: int32(e), nodes: nodes, base: v0, inv: inv})

		var c [3]float64
		for a := 0; a < 3; a++ {
			c[a] = (v0[a] + v1[a] + v2[a] + v3[a]) / 4
		}
		pts = append(pts, centroid{pos: c, slot: slot})

		// Any point inside the tetrahedron is at most the farthest vertex
		// distance from the centroid, so this radius makes the candidate
		// search exhaustive.
		for _, v := range [][3]float64{v0, v1, v2, v3} {
			d := sub(v, c)
			if r := dot(d, d); r > ix.searchR2 {
				ix.searchR2 = r
			}
		}
	}

	if len(ix.elems) == 0 {
		return nil, fmt.Errorf("%w: mesh has no non-degenerate elements", models.ErrGeometry)
	}
	ix.tree = kdtree.New(pts, true)
	return ix, nil
}

// NumSkipped returns how many degenerate elements were excluded from the
// index.
func (ix *Index) NumSkipped() int { return ix.skipped }

// Locate finds the mesh element containing point p. ok is false when the
// point lies outside the mesh hull, which is the common case for a
// bounding-box voxel grid and not an error. For a located point the
// returned barycentric weights sum to 1 and follow the element's node
// order; weights may be slightly negative near faces and are not clamped.
func (ix *Index) Locate(p [3]float64) (elem int32, w [4]float64, ok bool) {
	keeper := kdtree.NewDistKeeper(ix.searchR2 * (1 + 1e-12))
	ix.tree.NearestSet(keeper, centroid{pos: p})

	// Candidates come off the keeper heap in no particular order; sort by
	// element id so points on shared faces resolve deterministically.
	cand := make([]int32, 0, len(keeper.Heap))
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		cand = append(cand, cd.Comparable.(centroid).slot)
	}
	sort.Slice(cand, func(i, j int) bool { return ix.elems[cand[i]].id < ix.elems[cand[j]].id })

	for _, slot := range cand {
		el := &ix.elems[slot]
		bw := el.barycentric(p)
		if bw[0] >= -weightTol && bw[1] >= -weightTol && bw[2] >= -weightTol && bw[3] >= -weightTol {
			return el.id, bw, true
		}
	}
	return -1, [4]float64{}, false
}

// barycentric evaluates the element's barycentric coordinates at p.
func (el *element) barycentric(p [3]float64) [4]float64 {
	d := sub(p, el.base)
	var lam [3]float64
	for r := 0; r < 3; r++ {
		lam[r] = el.inv[r][0]*d[0] + el.inv[r][1]*d[1] + el.inv[r][2]*d[2]
	}
	return [4]float64{1 - lam[0] - lam[1] - lam[2], lam[0], lam[1], lam[2]}
}

// LocateGrid locates every voxel center of g. The queries are independent
// per voxel and run in parallel across the given number of workers with
// read-only access to the index; each result lands in a disjoint slot of
// the returned LocationMap.
func (ix *Index) LocateGrid(g models.VoxelGrid, workers int) (*models.LocationMap, error) {
	nv := g.NumVoxels()
	loc := &models.LocationMap{
		Elem:    make([]int32, nv),
		Weights: make([]float64, nv*models.NodesPerElement),
	}

	if workers < 1 {
		workers = runtime.NumCPU()
	}
	chunk := (nv + workers - 1) / workers

	var eg errgroup.Group
	eg.SetLimit(workers)
	for start := 0; start < nv; start += chunk {
		end := start + chunk
		if end > nv {
			end = nv
		}
		start, end := start, end
		eg.Go(func() error {
			for v := start; v < end; v++ {
				elem, w, ok := ix.Locate(g.CenterAt(v))
				if !ok {
					loc.Elem[v] = -1
					continue
				}
				loc.Elem[v] = elem
				copy(loc.Weights[v*models.NodesPerElement:], w[:])
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return loc, nil
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func norm(a [3]float64) float64 { return math.Sqrt(dot(a, a)) }
