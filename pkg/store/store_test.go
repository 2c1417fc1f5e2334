package store

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/config"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/mask"
)

func testCheckpoint() *VoxCheckpoint {
	g := models.VoxelGrid{Origin: [3]float64{0, 0, 0}, Pitch: 1, Nx: 2, Ny: 2, Nz: 1}
	nan := math.NaN()
	return &VoxCheckpoint{
		Grid: g,
		Loc: &models.LocationMap{
			Elem:    []int32{0, 0, -1, 1},
			Weights: []float64{0.25, 0.25, 0.25, 0.25, 1, 0, 0, 0, 0, 0, 0, 0, 0.5, 0.5, 0, 0},
		},
		Gs: &models.VoxelField{Data: []float64{1, 2, nan, 4}, Channels: 1},
		Gd: &models.VoxelField{Data: []float64{5, 6, nan, 8}, Channels: 1},
		DC: &models.VoxelField{Data: []float64{1, 1, nan, 1}, Channels: 1},
	}
}

func assertFieldsEqual(t *testing.T, want, got *models.VoxelField) {
	t.Helper()
	require.Equal(t, want.Channels, got.Channels)
	require.Len(t, got.Data, len(want.Data))
	for i := range want.Data {
		if math.IsNaN(want.Data[i]) {
			assert.True(t, math.IsNaN(got.Data[i]), "index %d: expected NaN", i)
		} else {
			assert.Equal(t, want.Data[i], got.Data[i], "index %d", i)
		}
	}
}

func TestVoxelFieldsRoundTrip(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	cp := testCheckpoint()
	require.False(t, st.HasVoxelFields("run1"))
	require.NoError(t, st.SaveVoxelFields("run1", cp))
	require.True(t, st.HasVoxelFields("run1"))

	got, err := st.LoadVoxelFields("run1")
	require.NoError(t, err)

	assert.Equal(t, cp.Grid, got.Grid)
	assert.Equal(t, cp.Loc.Elem, got.Loc.Elem)
	assert.Equal(t, cp.Loc.Weights, got.Loc.Weights)
	assertFieldsEqual(t, cp.Gs, got.Gs)
	assertFieldsEqual(t, cp.Gd, got.Gd)
	assertFieldsEqual(t, cp.DC, got.DC)
}

func TestLoadMissingCheckpoint(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = st.LoadVoxelFields("absent")
	assert.Error(t, err)
}

func TestAMatrixRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir)
	require.NoError(t, err)

	g := models.VoxelGrid{Pitch: 1, Nx: 2, Ny: 2, Nz: 1}
	set := &mask.GoodVoxelSet{
		Voxels:       roaring.BitmapOf(0, 1, 3),
		ActiveToGrid: []int32{0, 1, 3},
		GridToActive: []int32{0, 1, -1, 2},
		Grid:         g,
	}
	art := &AMatrixArtifact{
		A:       mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}),
		Meas:    models.MeasList{{Src: 0, Det: 0}, {Src: 0, Det: 1}},
		Set:     set,
		Formula: "product",
	}
	cfg := config.DefaultConfig()
	cfg.Run.Tag = "run2"

	require.NoError(t, st.SaveAMatrix("run2", art, cfg))
	assert.FileExists(t, filepath.Join(dir, "run2_A.npy"))
	assert.FileExists(t, filepath.Join(dir, "run2_A.yaml"))

	got, err := st.LoadAMatrix("run2")
	require.NoError(t, err)

	assert.True(t, mat.Equal(art.A, got.A))
	assert.Equal(t, art.Meas, got.Meas)
	assert.Equal(t, art.Formula, got.Formula)
	assert.Equal(t, set.ActiveToGrid, got.Set.ActiveToGrid)
	assert.Equal(t, set.GridToActive, got.Set.GridToActive)
	assert.Equal(t, set.Grid, got.Set.Grid)
}
