package models

import "math"

// VoxelGrid is a regular 3D lattice of voxel centers laid over the mesh
// bounding box. Voxel (i,j,k) has its center at Origin + Pitch*(i,j,k); the
// linear index runs x-fastest: idx = i + Nx*(j + Ny*k). The index-to-world
// map is an exact invertible affine map, so world coordinates recovered
// from an index round-trip back to the same index.
type VoxelGrid struct {
	// Origin is the world coordinate of the center of voxel (0,0,0), in mm.
	Origin [3]float64 `yaml:"origin"`

	// Pitch is the voxel edge length in mm.
	Pitch float64 `yaml:"pitch"`

	// Nx, Ny, Nz are the voxel counts along each axis.
	Nx int `yaml:"nx"`
	Ny int `yaml:"ny"`
	Nz int `yaml:"nz"`
}

// NumVoxels returns the total number of voxels in the grid.
func (g VoxelGrid) NumVoxels() int { return g.Nx * g.Ny * g.Nz }

// LinearIndex returns the linear index of voxel (i,j,k).
func (g VoxelGrid) LinearIndex(i, j, k int) int { return i + g.Nx*(j+g.Ny*k) }

// Coords returns the (i,j,k) lattice coordinates of a linear index.
func (g VoxelGrid) Coords(idx int) (i, j, k int) {
	i = idx % g.Nx
	j = (idx / g.Nx) % g.Ny
	k = idx / (g.Nx * g.Ny)
	return i, j, k
}

// Center returns the world coordinate of the center of voxel (i,j,k).
func (g VoxelGrid) Center(i, j, k int) [3]float64 {
	return [3]float64{
		g.Origin[0] + g.Pitch*float64(i),
		g.Origin[1] + g.Pitch*float64(j),
		g.Origin[2] + g.Pitch*float64(k),
	}
}

// CenterAt returns the world coordinate of the voxel with the given
// linear index.
func (g VoxelGrid) CenterAt(idx int) [3]float64 {
	i, j, k := g.Coords(idx)
	return g.Center(i, j, k)
}

// IndexOf maps a world coordinate to the lattice coordinates of the nearest
// voxel center. ok is false when the point falls outside the grid.
func (g VoxelGrid) IndexOf(p [3]float64) (i, j, k int, ok bool) {
	i = int(math.Round((p[0] - g.Origin[0]) / g.Pitch))
	j = int(math.Round((p[1] - g.Origin[1]) / g.Pitch))
	k = int(math.Round((p[2] - g.Origin[2]) / g.Pitch))
	ok = i >= 0 && i < g.Nx && j >= 0 && j < g.Ny && k >= 0 && k < g.Nz
	return i, j, k, ok
}

// LocationMap records, for every voxel center, the mesh element containing
// it and the barycentric coordinates inside that element. Voxels outside
// the mesh hull carry element -1; this is the expected state for most of a
// bounding-box grid, not an error. Weights of located voxels sum to 1 and
// may be slightly negative near element faces; they are never clamped.
//
// One LocationMap is computed per run and shared by every interpolation
// pass (Gs, Gd, dc), so the spatial search runs exactly once.
type LocationMap struct {
	// Elem holds the containing element index per voxel, -1 if unlocated.
	Elem []int32

	// Weights holds 4 barycentric weights per voxel, aligned with Elem.
	Weights []float64
}

// NumVoxels returns the number of voxels covered by the map.
func (l *LocationMap) NumVoxels() int { return len(l.Elem) }

// Located reports whether voxel idx lies inside a mesh element.
func (l *LocationMap) Located(idx int) bool { return l.Elem[idx] >= 0 }

// WeightsAt returns the barycentric weights of voxel idx.
func (l *LocationMap) WeightsAt(idx int) [4]float64 {
	i := idx * NodesPerElement
	return [4]float64{l.Weights[i], l.Weights[i+1], l.Weights[i+2], l.Weights[i+3]}
}

// NumLocated counts voxels that fall inside the mesh.
func (l *LocationMap) NumLocated() int {
	n := 0
	for _, e := range l.Elem {
		if e >= 0 {
			n++
		}
	}
	return n
}

// VoxelField maps each voxel of a grid to a vector of channel values.
// Layout matches NodeField: the value of channel c at voxel v is
// Data[v*Channels+c]. Voxels outside the mesh carry NaN in every channel so
// downstream masking can distinguish "outside tissue" from a genuine zero.
type VoxelField struct {
	Data     []float64
	Channels int
}

// NumVoxels returns the number of voxels covered by the field.
func (f *VoxelField) NumVoxels() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Data) / f.Channels
}

// At returns the value of channel c at voxel v.
func (f *VoxelField) At(v, c int) float64 { return f.Data[v*f.Channels+c] }
