// Package grid builds the regular voxel lattice that the mesh fields are
// resampled onto. The lattice covers the axis-aligned bounding box of the
// mesh nodes at a configurable pitch and is centered inside the box, so the
// voxel index to world coordinate map is an exact invertible affine map.
package grid

import (
	"fmt"
	"math"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
)

// DefaultPitch is the default voxel edge length in mm.
const DefaultPitch = 2.0

// Build computes the voxel grid covering the bounding box of the given mesh
// node coordinates (flat, 3 per node) at the given pitch in mm.
//
// A degenerate axis (zero extent, e.g. a flat 2D mesh embedded in 3D)
// yields a single-voxel extent along that axis rather than an error.
// A non-positive pitch or an empty node array is a configuration error.
func Build(nodes []float64, pitch float64) (models.VoxelGrid, error) {
	if pitch <= 0 {
		return models.VoxelGrid{}, fmt.Errorf("%w: voxel pitch %g mm must be positive", models.ErrConfig, pitch)
	}
	if len(nodes) == 0 || len(nodes)%3 != 0 {
		return models.VoxelGrid{}, fmt.Errorf("%w: node array length %d is not a multiple of 3", models.ErrGeometry, len(nodes))
	}

	var lo, hi [3]float64
	for a := 0; a < 3; a++ {
		lo[a] = nodes[a]
		hi[a] = nodes[a]
	}
	for n := 3; n < len(nodes); n += 3 {
		for a := 0; a < 3; a++ {
			lo[a] = math.Min(lo[a], nodes[n+a])
			hi[a] = math.Max(hi[a], nodes[n+a])
		}
	}

	g := models.VoxelGrid{Pitch: pitch}
	var counts [3]int
	for a := 0; a < 3; a++ {
		extent := hi[a] - lo[a]
		// Whole number of pitches that fit the extent; the small relative
		// slack keeps exact multiples (extent == n*pitch) from flooring
		// one voxel short.
		n := int(math.Floor(extent/pitch+1e-9)) + 1
		if n < 1 {
			n = 1
		}
		counts[a] = n
		// Center the lattice inside the bounding box so cropping is
		// symmetric when the extent is not a whole number of pitches.
		g.Origin[a] = lo[a] + (extent-float64(n-1)*pitch)/2
	}
	g.Nx, g.Ny, g.Nz = counts[0], counts[1], counts[2]
	return g, nil
}
