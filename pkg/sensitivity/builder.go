// Package sensitivity orchestrates the Green's-function-to-A-matrix
// pipeline: voxel grid construction, mesh point location, mesh-to-voxel
// interpolation of the source/detector Green's functions and optical
// properties, good-voxel masking, and A-matrix assembly. Intermediate
// artifacts are persisted between stages so a restarted run can resume from
// its last checkpoint instead of recomputing the spatial search.
package sensitivity

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/assembly"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/config"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/grid"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/interpolation"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/locate"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/mask"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/store"
)

// Params bundles the pipeline inputs. The mesh and fields come from the
// upstream light-transport solver and are treated as immutable.
type Params struct {
	// Mesh is the tetrahedral tissue mesh.
	Mesh *models.Mesh

	// Gs holds the source Green's functions, one channel per source.
	Gs *models.NodeField

	// Gd holds the detector Green's functions, one channel per detector.
	Gd *models.NodeField

	// DC holds the per-node optical-property coefficients.
	DC *models.NodeField

	// Meas is the measurement channel list; its order defines the
	// A-matrix row order.
	Meas models.MeasList

	// Config carries the run tag, voxel pitch, retention policy and
	// checkpoint settings.
	Config *config.Config
}

// RunStats summarizes a completed run.
type RunStats struct {
	// NumVoxels is the total grid size.
	NumVoxels int

	// NumLocated counts voxels inside the mesh hull.
	NumLocated int

	// NumSkippedElements counts degenerate mesh elements excluded from
	// the spatial index.
	NumSkippedElements int

	// NumActive counts voxels retained for inversion.
	NumActive int

	// Rows and Cols are the A-matrix dimensions.
	Rows int
	Cols int

	// Resumed reports whether the voxelized fields were reloaded from a
	// checkpoint instead of recomputed.
	Resumed bool
}

// Builder runs the sensitivity pipeline. Construct with NewBuilder, call
// Process once, then read the results through the accessors.
type Builder struct {
	params *Params
	store  *store.Store

	grid  models.VoxelGrid
	loc   *models.LocationMap
	set   *mask.GoodVoxelSet
	amat  *mat.Dense
	stats RunStats
}

// NewBuilder creates a new pipeline instance with the provided parameters.
func NewBuilder(params *Params) *Builder {
	return &Builder{params: params}
}

// Process runs the complete pipeline. On any validation failure it aborts
// before the A-matrix artifact is written; it never emits an artifact that
// violates the dimension and channel-ordering guarantees.
func (b *Builder) Process() error {
	cfg := b.params.Config

	// Stage 0: validate configuration and inputs before any work.
	if cfg == nil {
		return fmt.Errorf("%w: missing configuration", models.ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := b.validateInputs(); err != nil {
		return err
	}

	st, err := store.New(cfg.Run.CheckpointDir)
	if err != nil {
		return err
	}
	b.store = st

	var cp *store.VoxCheckpoint
	if cfg.Run.Resume && st.HasVoxelFields(cfg.Run.Tag) {
		b.logf("Resuming run %q from voxelized-fields checkpoint...\n", cfg.Run.Tag)
		cp, err = st.LoadVoxelFields(cfg.Run.Tag)
		if err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
		b.stats.Resumed = true
	} else {
		cp, err = b.voxelize()
		if err != nil {
			return err
		}
		if cfg.Run.SaveCheckpoints {
			b.logf("Checkpointing voxelized fields...\n")
			if err := st.SaveVoxelFields(cfg.Run.Tag, cp); err != nil {
				return fmt.Errorf("failed to write checkpoint: %w", err)
			}
		}
	}
	b.grid = cp.Grid
	b.loc = cp.Loc
	b.stats.NumVoxels = cp.Grid.NumVoxels()
	b.stats.NumLocated = cp.Loc.NumLocated()

	// The three fields share one location map, so their outside-mesh sets
	// must agree; a mismatch means a stale or foreign checkpoint.
	if err := interpolation.CheckConsistent(cp.Gs, cp.Gd); err != nil {
		return err
	}
	if err := interpolation.CheckConsistent(cp.Gs, cp.DC); err != nil {
		return err
	}

	// Step 4: mask down to voxels worth inverting.
	b.logf("Step 4: Selecting good voxels (%s, threshold %g)...\n", cfg.Mask.KeepMeth, cfg.Mask.GThresh)
	policy, err := mask.ParsePolicy(cfg.Mask.KeepMeth)
	if err != nil {
		return err
	}
	set, err := mask.Select(cp.Gs, cp.Gd, b.params.Meas, cp.Grid, mask.Options{
		Threshold: cfg.Mask.GThresh,
		Policy:    policy,
	})
	if err != nil {
		return err
	}
	b.set = set
	b.stats.NumActive = set.NumActive()
	b.logf("Retained %d of %d located voxels\n", set.NumActive(), b.stats.NumLocated)

	// Step 5: assemble the A-matrix over the active voxels.
	b.logf("Step 5: Assembling A-matrix...\n")
	formula, err := assembly.ParseFormula(cfg.Assembly.Formula)
	if err != nil {
		return err
	}
	gsAct, err := set.CompactField(cp.Gs)
	if err != nil {
		return err
	}
	gdAct, err := set.CompactField(cp.Gd)
	if err != nil {
		return err
	}
	dcAct, err := set.CompactField(cp.DC)
	if err != nil {
		return err
	}
	amat, err := assembly.Assemble(gsAct, gdAct, dcAct, b.params.Meas, set, formula)
	if err != nil {
		return err
	}
	b.amat = amat
	b.stats.Rows, b.stats.Cols = amat.Dims()

	// Step 6: persist the terminal artifact.
	b.logf("Step 6: Writing A-matrix artifact for tag %q...\n", cfg.Run.Tag)
	art := &store.AMatrixArtifact{
		A:       amat,
		Meas:    b.params.Meas,
		Set:     set,
		Formula: formula.String(),
	}
	if err := st.SaveAMatrix(cfg.Run.Tag, art, cfg); err != nil {
		return fmt.Errorf("failed to write A-matrix artifact: %w", err)
	}
	return nil
}

// voxelize runs stages 1-3: grid construction, point location and the three
// interpolation passes over the shared location map.
func (b *Builder) voxelize() (*store.VoxCheckpoint, error) {
	cfg := b.params.Config

	b.logf("Step 1: Building voxel grid at %g mm pitch...\n", cfg.Grid.VoxMM)
	g, err := grid.Build(b.params.Mesh.Nodes, cfg.Grid.VoxMM)
	if err != nil {
		return nil, err
	}
	b.logf("Grid is %dx%dx%d (%d voxels)\n", g.Nx, g.Ny, g.Nz, g.NumVoxels())

	b.logf("Step 2: Locating voxel centers in the mesh...\n")
	ix, err := locate.NewIndex(b.params.Mesh)
	if err != nil {
		return nil, err
	}
	b.stats.NumSkippedElements = ix.NumSkipped()
	if ix.NumSkipped() > 0 {
		b.logf("Skipped %d degenerate elements\n", ix.NumSkipped())
	}
	loc, err := ix.LocateGrid(g, cfg.Run.NumCores)
	if err != nil {
		return nil, err
	}
	b.logf("Located %d of %d voxel centers inside the mesh\n", loc.NumLocated(), g.NumVoxels())

	b.logf("Step 3: Interpolating Gs, Gd and dc onto the grid...\n")
	gs, err := interpolation.Interpolate(b.params.Mesh, b.params.Gs, loc, cfg.Run.NumCores)
	if err != nil {
		return nil, err
	}
	gd, err := interpolation.Interpolate(b.params.Mesh, b.params.Gd, loc, cfg.Run.NumCores)
	if err != nil {
		return nil, err
	}
	dc, err := interpolation.Interpolate(b.params.Mesh, b.params.DC, loc, cfg.Run.NumCores)
	if err != nil {
		return nil, err
	}

	return &store.VoxCheckpoint{Grid: g, Loc: loc, Gs: gs, Gd: gd, DC: dc}, nil
}

// validateInputs checks the mesh, fields and measurement list against each
// other before any stage runs.
func (b *Builder) validateInputs() error {
	if b.params.Mesh == nil || b.params.Gs == nil || b.params.Gd == nil || b.params.DC == nil {
		return fmt.Errorf("%w: mesh, Gs, Gd and dc inputs are all required", models.ErrConfig)
	}
	if err := b.params.Mesh.Validate(); err != nil {
		return err
	}
	nodes := b.params.Mesh.NumNodes()
	if err := b.params.Gs.Validate(nodes); err != nil {
		return fmt.Errorf("Gs field: %w", err)
	}
	if err := b.params.Gd.Validate(nodes); err != nil {
		return fmt.Errorf("Gd field: %w", err)
	}
	if err := b.params.DC.Validate(nodes); err != nil {
		return fmt.Errorf("dc field: %w", err)
	}
	return b.params.Meas.Validate(b.params.Gs.Channels, b.params.Gd.Channels)
}

// AMatrix returns the assembled sensitivity matrix.
func (b *Builder) AMatrix() *mat.Dense { return b.amat }

// GoodVoxels returns the retained voxel set with its grid<->active
// mappings, needed to scatter a reconstructed image back onto the grid.
func (b *Builder) GoodVoxels() *mask.GoodVoxelSet { return b.set }

// Grid returns the voxel grid used for the run.
func (b *Builder) Grid() models.VoxelGrid { return b.grid }

// LocationMap returns the shared voxel location map.
func (b *Builder) LocationMap() *models.LocationMap { return b.loc }

// Stats returns the run summary.
func (b *Builder) Stats() RunStats { return b.stats }

func (b *Builder) logf(format string, args ...interface{}) {
	if b.params.Config != nil && b.params.Config.Run.Verbose {
		fmt.Printf(format, args...)
	}
}
