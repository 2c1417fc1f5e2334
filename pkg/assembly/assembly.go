// Package assembly builds the forward-model sensitivity (A) matrix from the
// mask-compacted voxel fields. Row m, column v quantifies how strongly
// measurement channel m responds to an optical perturbation at active voxel
// v, following the adjoint (Rytov/Born-type) formulation: the product of
// the source and detector Green's functions at the voxel, scaled by the
// local optical-property value.
package assembly

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/mask"
)

// Formula selects the sensitivity-combination convention. The product form
// is the documented default; the normalized form additionally divides each
// channel row by its total sensitivity over the active voxels.
type Formula int

const (
	FormulaProduct Formula = iota
	FormulaNormalized
)

// ParseFormula maps a configuration string to a Formula.
func ParseFormula(s string) (Formula, error) {
	switch s {
	case "product", "":
		return FormulaProduct, nil
	case "normalized":
		return FormulaNormalized, nil
	default:
		return 0, fmt.Errorf("%w: unknown forward-model formula %q", models.ErrConfig, s)
	}
}

// String returns the configuration name of the formula.
func (f Formula) String() string {
	switch f {
	case FormulaProduct:
		return "product"
	case FormulaNormalized:
		return "normalized"
	default:
		return fmt.Sprintf("Formula(%d)", int(f))
	}
}

// Assemble builds the A-matrix for the given measurement list over the
// active voxels of set. gs, gd and dc must already be compacted to the
// active ordering. The result has exactly len(meas) rows and
// set.NumActive() columns; rows follow the measurement list order with no
// hidden sort.
//
// Malformed inputs are reported before anything is computed: an empty
// active set or empty measurement list, fields whose active-voxel counts
// disagree with the set, and channel indices outside the fields.
func Assemble(gs, gd, dc *mask.ActiveField, meas models.MeasList, set *mask.GoodVoxelSet, formula Formula) (*mat.Dense, error) {
	n := set.NumActive()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty good-voxel set, nothing to invert (threshold too high or grid outside mesh)", models.ErrGeometry)
	}
	if err := meas.Validate(gs.Channels, gd.Channels); err != nil {
		return nil, err
	}
	if gs.NumActive() != n || gd.NumActive() != n || dc.NumActive() != n {
		return nil, fmt.Errorf("%w: compacted fields cover %d/%d/%d voxels, set has %d",
			models.ErrDimension, gs.NumActive(), gd.NumActive(), dc.NumActive(), n)
	}
	if dc.Channels < 1 {
		return nil, fmt.Errorf("%w: optical-property field has no channels", models.ErrDimension)
	}
	if formula != FormulaProduct && formula != FormulaNormalized {
		return nil, fmt.Errorf("%w: unknown forward-model formula %d", models.ErrConfig, int(formula))
	}

	m := len(meas)
	a := mat.NewDense(m, n, nil)
	for row, p := range meas {
		dst := a.RawRowView(row)
		for v := 0; v < n; v++ {
			dst[v] = gs.At(v, int(p.Src)) * gd.At(v, int(p.Det)) * dc.At(v, 0)
		}
		if formula == FormulaNormalized {
			norm := 0.0
			for _, x := range dst {
				norm += math.Abs(x)
			}
			if norm > 0 {
				floats.Scale(1/norm, dst)
			}
		}
	}
	return a, nil
}
