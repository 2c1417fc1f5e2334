// Package interpolation resamples node-indexed mesh fields onto a regular
// voxel grid. Given the LocationMap produced by the locate package, each
// located voxel receives the barycentric blend of the field values at its
// element's four nodes; voxels outside the mesh receive NaN in every
// channel so they stay distinguishable from genuine zeros downstream.
//
// The same LocationMap serves every field of a run (source Green's
// functions, detector Green's functions, optical properties), so the
// spatial search cost is paid once.
package interpolation

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
)

// Outside is the sentinel value written to every channel of a voxel that
// lies outside the mesh hull.
var Outside = math.NaN()

// Interpolate resamples field onto the voxel grid described by loc. The
// output has one value per (voxel, channel), loc.NumVoxels() voxels total.
// The per-voxel blends are independent and run in parallel across workers,
// each writing a disjoint slice of the output.
func Interpolate(mesh *models.Mesh, field *models.NodeField, loc *models.LocationMap, workers int) (*models.VoxelField, error) {
	if err := field.Validate(mesh.NumNodes()); err != nil {
		return nil, err
	}
	nv := loc.NumVoxels()
	nc := field.Channels
	out := &models.VoxelField{
		Data:     make([]float64, nv*nc),
		Channels: nc,
	}

	if workers < 1 {
		workers = runtime.NumCPU()
	}
	chunk := (nv + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < nv; start += chunk {
		end := start + chunk
		if end > nv {
			end = nv
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for v := start; v < end; v++ {
				dst := out.Data[v*nc : (v+1)*nc]
				if !loc.Located(v) {
					for c := range dst {
						dst[c] = Outside
					}
					continue
				}
				nodes := mesh.ElementNodes(int(loc.Elem[v]))
				w := loc.WeightsAt(v)
				for c := 0; c < nc; c++ {
					dst[c] = w[0]*field.At(int(nodes[0]), c) +
						w[1]*field.At(int(nodes[1]), c) +
						w[2]*field.At(int(nodes[2]), c) +
						w[3]*field.At(int(nodes[3]), c)
				}
			}
		}(start, end)
	}
	wg.Wait()
	return out, nil
}

// CheckConsistent verifies that two voxel fields produced from the same
// LocationMap agree on which voxels are outside the mesh. Fields resampled
// in the same run must always pass; a mismatch means they were produced
// from different location maps.
func CheckConsistent(a, b *models.VoxelField) error {
	if a.NumVoxels() != b.NumVoxels() {
		return fmt.Errorf("%w: fields cover %d and %d voxels", models.ErrDimension, a.NumVoxels(), b.NumVoxels())
	}
	for v := 0; v < a.NumVoxels(); v++ {
		if math.IsNaN(a.At(v, 0)) != math.IsNaN(b.At(v, 0)) {
			return fmt.Errorf("%w: voxel %d is outside the mesh in one field but not the other", models.ErrDimension, v)
		}
	}
	return nil
}
