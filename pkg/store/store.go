// Package store persists the pipeline's large intermediate and final
// artifacts to durable storage, keyed by the run tag. Whole-array
// persistence between stages bounds peak memory and doubles as the
// checkpoint/resume mechanism: a restarted run reloads the voxelized-fields
// blob instead of recomputing the spatial search and interpolation.
//
// Field arrays are written as NumPy .npy files so downstream reconstruction
// tooling can read them directly; the location map is a zstd-compressed
// binary blob; manifests are YAML.
package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/config"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/mask"
)

// Store reads and writes run artifacts under a single directory.
type Store struct {
	dir string
}

// New creates the artifact directory if needed and returns a store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(tag, suffix string) string {
	return filepath.Join(s.dir, tag+suffix)
}

// VoxCheckpoint is the voxelized-fields blob written after the
// interpolation stage: the grid, the shared location map and the three
// resampled fields.
type VoxCheckpoint struct {
	Grid models.VoxelGrid
	Loc  *models.LocationMap
	Gs   *models.VoxelField
	Gd   *models.VoxelField
	DC   *models.VoxelField
}

// voxManifest describes the checkpoint files so a loader can size its
// arrays before reading them.
type voxManifest struct {
	Grid       models.VoxelGrid `yaml:"grid"`
	NumVoxels  int              `yaml:"numVoxels"`
	GsChannels int              `yaml:"gsChannels"`
	GdChannels int              `yaml:"gdChannels"`
	DCChannels int              `yaml:"dcChannels"`
}

// HasVoxelFields reports whether a voxelized-fields checkpoint exists for
// the tag.
func (s *Store) HasVoxelFields(tag string) bool {
	_, err := os.Stat(s.path(tag, "_vox.yaml"))
	return err == nil
}

// SaveVoxelFields writes the voxelized-fields checkpoint for the tag.
func (s *Store) SaveVoxelFields(tag string, cp *VoxCheckpoint) error {
	man := voxManifest{
		Grid:       cp.Grid,
		NumVoxels:  cp.Grid.NumVoxels(),
		GsChannels: cp.Gs.Channels,
		GdChannels: cp.Gd.Channels,
		DCChannels: cp.DC.Channels,
	}
	if err := s.writeNpy(s.path(tag, "_Gs.npy"), cp.Gs.Data, man.NumVoxels, cp.Gs.Channels); err != nil {
		return err
	}
	if err := s.writeNpy(s.path(tag, "_Gd.npy"), cp.Gd.Data, man.NumVoxels, cp.Gd.Channels); err != nil {
		return err
	}
	if err := s.writeNpy(s.path(tag, "_dc.npy"), cp.DC.Data, man.NumVoxels, cp.DC.Channels); err != nil {
		return err
	}
	if err := s.writeLocationMap(s.path(tag, "_locmap.bin.zst"), cp.Loc); err != nil {
		return err
	}
	// The manifest is written last so a half-finished checkpoint is never
	// mistaken for a resumable one.
	return s.writeYAML(s.path(tag, "_vox.yaml"), &man)
}

// LoadVoxelFields reloads the voxelized-fields checkpoint for the tag.
func (s *Store) LoadVoxelFields(tag string) (*VoxCheckpoint, error) {
	var man voxManifest
	if err := s.readYAML(s.path(tag, "_vox.yaml"), &man); err != nil {
		return nil, err
	}
	cp := &VoxCheckpoint{Grid: man.Grid}

	var err error
	if cp.Gs, err = s.readVoxelField(s.path(tag, "_Gs.npy"), man.NumVoxels, man.GsChannels); err != nil {
		return nil, err
	}
	if cp.Gd, err = s.readVoxelField(s.path(tag, "_Gd.npy"), man.NumVoxels, man.GdChannels); err != nil {
		return nil, err
	}
	if cp.DC, err = s.readVoxelField(s.path(tag, "_dc.npy"), man.NumVoxels, man.DCChannels); err != nil {
		return nil, err
	}
	if cp.Loc, err = s.readLocationMap(s.path(tag, "_locmap.bin.zst"), man.NumVoxels); err != nil {
		return nil, err
	}
	return cp, nil
}

// AMatrixArtifact is the terminal blob: the sensitivity matrix, the channel
// pairs its rows follow, and the good-voxel set its columns follow.
type AMatrixArtifact struct {
	A       *mat.Dense
	Meas    models.MeasList
	Set     *mask.GoodVoxelSet
	Formula string
}

// aManifest records the A-matrix shape and the configuration that produced
// it.
type aManifest struct {
	Rows      int              `yaml:"rows"`
	Cols      int              `yaml:"cols"`
	Formula   string           `yaml:"formula"`
	Grid      models.VoxelGrid `yaml:"grid"`
	NumActive int              `yaml:"numActive"`
	Config    *config.Config   `yaml:"config"`
}

// SaveAMatrix writes the final A-matrix blob for the tag.
func (s *Store) SaveAMatrix(tag string, art *AMatrixArtifact, cfg *config.Config) error {
	rows, cols := art.A.Dims()

	flat := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		flat = append(flat, art.A.RawRowView(r)...)
	}
	if err := s.writeNpy(s.path(tag, "_A.npy"), flat, rows, cols); err != nil {
		return err
	}

	pairs := make([]int32, 0, len(art.Meas)*2)
	for _, p := range art.Meas {
		pairs = append(pairs, p.Src, p.Det)
	}
	if err := s.writeNpyInt32(s.path(tag, "_meas.npy"), pairs, len(art.Meas), 2); err != nil {
		return err
	}

	if err := s.writeBitmap(s.path(tag, "_goodvox.rbm"), art.Set.Voxels); err != nil {
		return err
	}

	man := aManifest{
		Rows:      rows,
		Cols:      cols,
		Formula:   art.Formula,
		Grid:      art.Set.Grid,
		NumActive: art.Set.NumActive(),
		Config:    cfg,
	}
	return s.writeYAML(s.path(tag, "_A.yaml"), &man)
}

// LoadAMatrix reloads the final A-matrix blob for the tag, rebuilding the
// good-voxel index mappings from the persisted bitmap.
func (s *Store) LoadAMatrix(tag string) (*AMatrixArtifact, error) {
	var man aManifest
	if err := s.readYAML(s.path(tag, "_A.yaml"), &man); err != nil {
		return nil, err
	}

	flat, rows, cols, err := s.readNpy(s.path(tag, "_A.npy"))
	if err != nil {
		return nil, err
	}
	if rows != man.Rows || cols != man.Cols {
		return nil, fmt.Errorf("%w: A-matrix file is %dx%d, manifest says %dx%d", models.ErrDimension, rows, cols, man.Rows, man.Cols)
	}

	pairs, prows, pcols, err := s.readNpyInt32(s.path(tag, "_meas.npy"))
	if err != nil {
		return nil, err
	}
	if pcols != 2 || prows != rows {
		return nil, fmt.Errorf("%w: measurement list is %dx%d for %d A-matrix rows", models.ErrDimension, prows, pcols, rows)
	}
	meas := make(models.MeasList, prows)
	for i := range meas {
		meas[i] = models.MeasPair{Src: pairs[2*i], Det: pairs[2*i+1]}
	}

	bm, err := s.readBitmap(s.path(tag, "_goodvox.rbm"))
	if err != nil {
		return nil, err
	}
	set := &mask.GoodVoxelSet{
		Voxels:       bm,
		GridToActive: make([]int32, man.Grid.NumVoxels()),
		Grid:         man.Grid,
	}
	for v := range set.GridToActive {
		set.GridToActive[v] = -1
	}
	it := bm.Iterator()
	for it.HasNext() {
		v := it.Next()
		set.GridToActive[v] = int32(len(set.ActiveToGrid))
		set.ActiveToGrid = append(set.ActiveToGrid, int32(v))
	}

	return &AMatrixArtifact{
		A:       mat.NewDense(rows, cols, flat),
		Meas:    meas,
		Set:     set,
		Formula: man.Formula,
	}, nil
}

func (s *Store) writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (s *Store) readYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return nil
}

func (s *Store) writeNpy(path string, data []float64, rows, cols int) error {
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	w.Shape = []int{rows, cols}
	w.Version = 2
	if err := w.WriteFloat64(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) readNpy(path string) (data []float64, rows, cols int, err error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if len(r.Shape) != 2 {
		return nil, 0, 0, fmt.Errorf("%w: %s has %d dimensions, want 2", models.ErrDimension, path, len(r.Shape))
	}
	if r.ColumnMajor {
		return nil, 0, 0, fmt.Errorf("%w: %s is Fortran-ordered, want C order", models.ErrDimension, path)
	}
	data, err = r.GetFloat64()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, r.Shape[0], r.Shape[1], nil
}

func (s *Store) readVoxelField(path string, numVoxels, channels int) (*models.VoxelField, error) {
	data, rows, cols, err := s.readNpy(path)
	if err != nil {
		return nil, err
	}
	if rows != numVoxels || cols != channels {
		return nil, fmt.Errorf("%w: %s is %dx%d, manifest says %dx%d", models.ErrDimension, path, rows, cols, numVoxels, channels)
	}
	return &models.VoxelField{Data: data, Channels: channels}, nil
}

func (s *Store) writeNpyInt32(path string, data []int32, rows, cols int) error {
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	w.Shape = []int{rows, cols}
	w.Version = 2
	if err := w.WriteInt32(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) readNpyInt32(path string) (data []int32, rows, cols int, err error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if len(r.Shape) != 2 {
		return nil, 0, 0, fmt.Errorf("%w: %s has %d dimensions, want 2", models.ErrDimension, path, len(r.Shape))
	}
	if r.ColumnMajor {
		return nil, 0, 0, fmt.Errorf("%w: %s is Fortran-ordered, want C order", models.ErrDimension, path)
	}
	data, err = r.GetInt32()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, r.Shape[0], r.Shape[1], nil
}

func (s *Store) writeLocationMap(path string, loc *models.LocationMap) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("failed to create compressor: %w", err)
	}
	if err := binary.Write(enc, binary.LittleEndian, int64(loc.NumVoxels())); err != nil {
		return fmt.Errorf("failed to write location map: %w", err)
	}
	if err := binary.Write(enc, binary.LittleEndian, loc.Elem); err != nil {
		return fmt.Errorf("failed to write location map: %w", err)
	}
	if err := binary.Write(enc, binary.LittleEndian, loc.Weights); err != nil {
		return fmt.Errorf("failed to write location map: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to flush location map: %w", err)
	}
	return nil
}

func (s *Store) readLocationMap(path string, numVoxels int) (*models.LocationMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}
	defer dec.Close()

	var nv int64
	if err := binary.Read(dec, binary.LittleEndian, &nv); err != nil {
		return nil, fmt.Errorf("failed to read location map: %w", err)
	}
	if int(nv) != numVoxels {
		return nil, fmt.Errorf("%w: location map covers %d voxels, manifest says %d", models.ErrDimension, nv, numVoxels)
	}
	loc := &models.LocationMap{
		Elem:    make([]int32, nv),
		Weights: make([]float64, nv*models.NodesPerElement),
	}
	if err := binary.Read(dec, binary.LittleEndian, loc.Elem); err != nil {
		return nil, fmt.Errorf("failed to read location map: %w", err)
	}
	if err := binary.Read(dec, binary.LittleEndian, loc.Weights); err != nil {
		return nil, fmt.Errorf("failed to read location map: %w", err)
	}
	return loc, nil
}

func (s *Store) writeBitmap(path string, bm *roaring.Bitmap) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := bm.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write good-voxel bitmap: %w", err)
	}
	return nil
}

func (s *Store) readBitmap(path string) (*roaring.Bitmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	bm := roaring.New()
	if _, err := bm.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("failed to read good-voxel bitmap: %w", err)
	}
	return bm, nil
}
