package sensitivity

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/config"
)

// unitTetParams builds the end-to-end fixture: the unit tetrahedron with a
// single source and a single detector channel, Gs = Gd = [1,2,3,4] at the
// nodes and uniform optical properties, voxelized at 0.5 mm.
func unitTetParams(t *testing.T, dir string) *Params {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Run.Tag = "unittet"
	cfg.Run.CheckpointDir = dir
	cfg.Run.NumCores = 2
	cfg.Run.Verbose = false
	cfg.Grid.VoxMM = 0.5

	return &Params{
		Mesh: &models.Mesh{
			Nodes: []float64{
				0, 0, 0,
				1, 0, 0,
				0, 1, 0,
				0, 0, 1,
			},
			Elements: []int32{0, 1, 2, 3},
		},
		Gs:     &models.NodeField{Data: []float64{1, 2, 3, 4}, Channels: 1},
		Gd:     &models.NodeField{Data: []float64{1, 2, 3, 4}, Channels: 1},
		DC:     &models.NodeField{Data: []float64{1, 1, 1, 1}, Channels: 1},
		Meas:   models.MeasList{{Src: 0, Det: 0}},
		Config: cfg,
	}
}

// TestEndToEndSingleTetrahedron runs the full pipeline over the synthetic
// single-tetrahedron scenario and checks the grid, location split, mask and
// A-matrix against hand-computed values
func TestEndToEndSingleTetrahedron(t *testing.T) {
	params := unitTetParams(t, t.TempDir())
	b := NewBuilder(params)
	if err := b.Process(); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	g := b.Grid()
	if g.Nx != 3 || g.Ny != 3 || g.Nz != 3 {
		t.Fatalf("Expected 3x3x3 grid, got %dx%dx%d", g.Nx, g.Ny, g.Nz)
	}

	stats := b.Stats()
	if stats.NumLocated != 10 {
		t.Errorf("Expected 10 located voxels, got %d", stats.NumLocated)
	}
	// glevel at 1e-3 keeps every located voxel of this mesh.
	if stats.NumActive != 10 {
		t.Errorf("Expected 10 good voxels, got %d", stats.NumActive)
	}

	a := b.AMatrix()
	rows, cols := a.Dims()
	if rows != 1 || cols != 10 {
		t.Fatalf("Expected 1x10 A-matrix, got %dx%d", rows, cols)
	}

	// With Gs = Gd and dc = 1, each entry is the squared interpolated
	// value; check the two corners of the active ordering.
	set := b.GoodVoxels()
	first := set.ActiveToGrid[0]
	if first != int32(g.LinearIndex(0, 0, 0)) {
		t.Fatalf("Expected the origin voxel first, got grid index %d", first)
	}
	if math.Abs(a.At(0, 0)-1) > 1e-12 {
		t.Errorf("Expected sensitivity 1 at the origin voxel, got %g", a.At(0, 0))
	}
	last := set.ActiveToGrid[set.NumActive()-1]
	if last != int32(g.LinearIndex(0, 0, 2)) {
		t.Fatalf("Expected the apex voxel last, got grid index %d", last)
	}
	if math.Abs(a.At(0, set.NumActive()-1)-16) > 1e-12 {
		t.Errorf("Expected sensitivity 16 at the apex voxel, got %g", a.At(0, set.NumActive()-1))
	}

	// Every entry is a squared blend of [1,4].
	for c := 0; c < cols; c++ {
		v := a.At(0, c)
		if v < 1-1e-9 || v > 16+1e-9 {
			t.Errorf("Entry %d: %g outside [1,16]", c, v)
		}
	}
}

// TestResumeFromCheckpoint verifies that a second run reloads the
// voxelized fields and produces the identical A-matrix
func TestResumeFromCheckpoint(t *testing.T) {
	dir := t.TempDir()

	first := NewBuilder(unitTetParams(t, dir))
	if err := first.Process(); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if first.Stats().Resumed {
		t.Fatal("First run should not resume")
	}

	params := unitTetParams(t, dir)
	params.Config.Run.Resume = true
	second := NewBuilder(params)
	if err := second.Process(); err != nil {
		t.Fatalf("Resumed run failed: %v", err)
	}
	if !second.Stats().Resumed {
		t.Fatal("Second run should have resumed from the checkpoint")
	}

	if !mat.EqualApprox(first.AMatrix(), second.AMatrix(), 1e-12) {
		t.Error("Resumed run produced a different A-matrix")
	}
}

// TestEmptyGoodVoxelSetAborts verifies that a threshold above every
// sensitivity aborts at assembly and writes no A-matrix artifact
func TestEmptyGoodVoxelSetAborts(t *testing.T) {
	dir := t.TempDir()
	params := unitTetParams(t, dir)
	params.Config.Mask.GThresh = 2 // above the relative maximum of 1

	b := NewBuilder(params)
	err := b.Process()
	if !errors.Is(err, models.ErrGeometry) {
		t.Fatalf("Expected ErrGeometry for empty good-voxel set, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "unittet_A.yaml")); !os.IsNotExist(statErr) {
		t.Error("A-matrix artifact must not be written on failure")
	}
}

// TestConfigValidation verifies that bad configuration aborts before any work
func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing tag", func(c *config.Config) { c.Run.Tag = "" }},
		{"bad pitch", func(c *config.Config) { c.Grid.VoxMM = 0 }},
		{"bad policy", func(c *config.Config) { c.Mask.KeepMeth = "keepall" }},
		{"bad formula", func(c *config.Config) { c.Assembly.Formula = "cubed" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := unitTetParams(t, t.TempDir())
			tc.mutate(params.Config)
			if err := NewBuilder(params).Process(); !errors.Is(err, models.ErrConfig) {
				t.Errorf("Expected ErrConfig, got %v", err)
			}
		})
	}
}

// TestInputValidation verifies dimension checks between mesh and fields
func TestInputValidation(t *testing.T) {
	params := unitTetParams(t, t.TempDir())
	params.Gd = &models.NodeField{Data: []float64{1, 2, 3}, Channels: 1}
	if err := NewBuilder(params).Process(); !errors.Is(err, models.ErrDimension) {
		t.Errorf("Expected ErrDimension for short Gd field, got %v", err)
	}

	params = unitTetParams(t, t.TempDir())
	params.Meas = models.MeasList{{Src: 3, Det: 0}}
	if err := NewBuilder(params).Process(); !errors.Is(err, models.ErrDimension) {
		t.Errorf("Expected ErrDimension for out-of-range source, got %v", err)
	}
}
