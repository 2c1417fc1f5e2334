// Package mask derives the set of voxels retained for inversion: voxels
// that lie inside the tissue mesh and carry enough combined source/detector
// sensitivity to constrain the reconstruction. The retained set and its
// grid<->active index mappings are what the downstream solver uses to
// scatter a reconstructed image back onto the full 3D grid for display.
package mask

import (
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
)

// Policy selects how voxels are retained once their combined sensitivity is
// known. Voxels outside the mesh are excluded under every policy.
type Policy string

const (
	// PolicyGLevel keeps voxels whose best-channel sensitivity reaches a
	// fraction (the threshold) of the maximum observed sensitivity.
	PolicyGLevel Policy = "glevel"

	// PolicyGTop keeps the top fraction (the threshold) of located voxels
	// ranked by sensitivity.
	PolicyGTop Policy = "gtop"
)

// DefaultThreshold is the default glevel sensitivity threshold.
const DefaultThreshold = 1e-3

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyGLevel:
		return PolicyGLevel, nil
	case PolicyGTop:
		return PolicyGTop, nil
	default:
		return "", fmt.Errorf("%w: unknown keep policy %q", models.ErrConfig, s)
	}
}

// Options configures voxel retention.
type Options struct {
	// Threshold is the glevel sensitivity level relative to the maximum
	// (PolicyGLevel) or the fraction of located voxels to keep
	// (PolicyGTop).
	Threshold float64

	// Policy is the retention policy.
	Policy Policy
}

// GoodVoxelSet is the ordered subset of grid voxels retained for inversion,
// together with the mappings between full-grid linear indices and compacted
// active indices.
type GoodVoxelSet struct {
	// Voxels holds the retained full-grid linear indices.
	Voxels *roaring.Bitmap

	// ActiveToGrid maps active index -> full-grid linear index, ascending.
	ActiveToGrid []int32

	// GridToActive maps full-grid linear index -> active index, -1 when
	// the voxel was excluded.
	GridToActive []int32

	// Grid is the voxel lattice the indices refer to.
	Grid models.VoxelGrid
}

// NumActive returns the number of retained voxels.
func (s *GoodVoxelSet) NumActive() int { return len(s.ActiveToGrid) }

// Select computes the good-voxel set from the voxelized source and detector
// fields. The combined sensitivity of a voxel is the largest |Gs*Gd|
// product over the measurement channels; outside-mesh voxels (NaN sentinel)
// are always excluded regardless of threshold. An empty result is returned,
// not an error: emptiness is surfaced at assembly time where it aborts the
// run.
func Select(gs, gd *models.VoxelField, meas models.MeasList, g models.VoxelGrid, opt Options) (*GoodVoxelSet, error) {
	nv := g.NumVoxels()
	if gs.NumVoxels() != nv || gd.NumVoxels() != nv {
		return nil, fmt.Errorf("%w: fields cover %d/%d voxels, grid has %d", models.ErrDimension, gs.NumVoxels(), gd.NumVoxels(), nv)
	}
	if err := meas.Validate(gs.Channels, gd.Channels); err != nil {
		return nil, err
	}

	// Combined sensitivity per voxel; NaN propagates for outside voxels so
	// every threshold comparison below excludes them.
	sens := make([]float64, nv)
	for v := 0; v < nv; v++ {
		best := math.Inf(-1)
		for _, p := range meas {
			s := math.Abs(gs.At(v, int(p.Src)) * gd.At(v, int(p.Det)))
			if math.IsNaN(s) {
				best = s
				break
			}
			if s > best {
				best = s
			}
		}
		sens[v] = best
	}

	var cutoff float64
	switch opt.Policy {
	case PolicyGLevel:
		if opt.Threshold < 0 {
			return nil, fmt.Errorf("%w: glevel threshold %g must be non-negative", models.ErrConfig, opt.Threshold)
		}
		maxS := 0.0
		for _, s := range sens {
			if !math.IsNaN(s) && s > maxS {
				maxS = s
			}
		}
		cutoff = opt.Threshold * maxS
	case PolicyGTop:
		if opt.Threshold <= 0 || opt.Threshold > 1 {
			return nil, fmt.Errorf("%w: gtop fraction %g must be in (0,1]", models.ErrConfig, opt.Threshold)
		}
		located := make([]float64, 0, nv)
		for _, s := range sens {
			if !math.IsNaN(s) {
				located = append(located, s)
			}
		}
		if len(located) == 0 {
			cutoff = 0
			break
		}
		sort.Float64s(located)
		cutoff = stat.Quantile(1-opt.Threshold, stat.Empirical, located, nil)
	default:
		return nil, fmt.Errorf("%w: unknown keep policy %q", models.ErrConfig, opt.Policy)
	}

	set := &GoodVoxelSet{
		Voxels:       roaring.New(),
		GridToActive: make([]int32, nv),
		Grid:         g,
	}
	for v := 0; v < nv; v++ {
		set.GridToActive[v] = -1
		if math.IsNaN(sens[v]) || sens[v] < cutoff {
			continue
		}
		set.GridToActive[v] = int32(len(set.ActiveToGrid))
		set.ActiveToGrid = append(set.ActiveToGrid, int32(v))
		set.Voxels.Add(uint32(v))
	}
	return set, nil
}

// ActiveField is a voxel field compacted down to the active-voxel ordering
// of a GoodVoxelSet. The value of channel c at active voxel i is
// Data[i*Channels+c].
type ActiveField struct {
	Data     []float64
	Channels int
}

// NumActive returns the number of active voxels covered by the field.
func (f *ActiveField) NumActive() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Data) / f.Channels
}

// At returns the value of channel c at active voxel i.
func (f *ActiveField) At(i, c int) float64 { return f.Data[i*f.Channels+c] }

// CompactField gathers a grid-indexed voxel field down to the active set.
func (s *GoodVoxelSet) CompactField(f *models.VoxelField) (*ActiveField, error) {
	if f.NumVoxels() != s.Grid.NumVoxels() {
		return nil, fmt.Errorf("%w: field covers %d voxels, grid has %d", models.ErrDimension, f.NumVoxels(), s.Grid.NumVoxels())
	}
	nc := f.Channels
	out := &ActiveField{Data: make([]float64, s.NumActive()*nc), Channels: nc}
	for i, v := range s.ActiveToGrid {
		copy(out.Data[i*nc:(i+1)*nc], f.Data[int(v)*nc:(int(v)+1)*nc])
	}
	return out, nil
}

// Scatter maps active-voxel values (for example one column of a solved
// image) back onto the full grid, writing fill into excluded voxels.
func (s *GoodVoxelSet) Scatter(values []float64, fill float64) ([]float64, error) {
	if len(values) != s.NumActive() {
		return nil, fmt.Errorf("%w: %d values for %d active voxels", models.ErrDimension, len(values), s.NumActive())
	}
	out := make([]float64, s.Grid.NumVoxels())
	for v := range out {
		out[v] = fill
	}
	for i, v := range s.ActiveToGrid {
		out[v] = values[i]
	}
	return out, nil
}
