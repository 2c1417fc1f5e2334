package locate

import (
	"errors"
	"math"
	"testing"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/grid"
)

// unitTetMesh returns a mesh holding the single canonical tetrahedron with
// corners (0,0,0), (1,0,0), (0,1,0), (0,0,1).
func unitTetMesh() *models.Mesh {
	return &models.Mesh{
		Nodes: []float64{
			0, 0, 0,
			1, 0, 0,
			0, 1, 0,
			0, 0, 1,
		},
		Elements: []int32{0, 1, 2, 3},
	}
}

// TestLocateInside verifies element assignment and barycentric weights for
// an interior point
func TestLocateInside(t *testing.T) {
	ix, err := NewIndex(unitTetMesh())
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}

	elem, w, ok := ix.Locate([3]float64{0.25, 0.25, 0.25})
	if !ok {
		t.Fatal("Interior point reported unlocated")
	}
	if elem != 0 {
		t.Errorf("Expected element 0, got %d", elem)
	}
	for i, wi := range w {
		if math.Abs(wi-0.25) > 1e-12 {
			t.Errorf("Weight %d: expected 0.25, got %f", i, wi)
		}
	}
}

// TestLocateOutside verifies that points outside the hull are misses, not errors
func TestLocateOutside(t *testing.T) {
	ix, err := NewIndex(unitTetMesh())
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}

	for _, p := range [][3]float64{
		{0.9, 0.9, 0.9},
		{-0.5, 0, 0},
		{2, 2, 2},
	} {
		if _, _, ok := ix.Locate(p); ok {
			t.Errorf("Point %v should be outside the mesh", p)
		}
	}
}

// TestWeightsSumToOne verifies the barycentric partition over located points
func TestWeightsSumToOne(t *testing.T) {
	ix, err := NewIndex(unitTetMesh())
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}

	points := [][3]float64{
		{0.1, 0.1, 0.1},
		{0.5, 0.25, 0.2},
		{0, 0, 0},
		{0.5, 0.5, 0}, // on a face
	}
	for _, p := range points {
		_, w, ok := ix.Locate(p)
		if !ok {
			t.Errorf("Point %v should be located", p)
			continue
		}
		sum := w[0] + w[1] + w[2] + w[3]
		if math.Abs(sum-1) > 1e-6 {
			t.Errorf("Weights at %v sum to %f, want 1", p, sum)
		}
	}
}

// TestDegenerateElementSkipped verifies that flat elements are excluded
// from the index without failing the build
func TestDegenerateElementSkipped(t *testing.T) {
	mesh := unitTetMesh()
	// A fifth node in the z=0 plane makes element (0,1,2,4) volume-free.
	mesh.Nodes = append(mesh.Nodes, 0.5, 0.5, 0)
	mesh.Elements = append(mesh.Elements, 0, 1, 2, 4)

	ix, err := NewIndex(mesh)
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}
	if ix.NumSkipped() != 1 {
		t.Errorf("Expected 1 skipped element, got %d", ix.NumSkipped())
	}

	// The good element still answers queries.
	elem, _, ok := ix.Locate([3]float64{0.2, 0.2, 0.2})
	if !ok || elem != 0 {
		t.Errorf("Expected element 0 located, got %d ok=%v", elem, ok)
	}
}

// TestAllDegenerate verifies that a mesh with no usable elements is a
// geometry error
func TestAllDegenerate(t *testing.T) {
	mesh := &models.Mesh{
		Nodes: []float64{
			0, 0, 0,
			1, 0, 0,
			0, 1, 0,
			0.5, 0.5, 0,
		},
		Elements: []int32{0, 1, 2, 3},
	}
	if _, err := NewIndex(mesh); !errors.Is(err, models.ErrGeometry) {
		t.Errorf("Expected ErrGeometry, got %v", err)
	}
}

// TestLocateGrid verifies the parallel grid location against a single
// worker and the known inside/outside split of the unit tetrahedron
func TestLocateGrid(t *testing.T) {
	mesh := unitTetMesh()
	ix, err := NewIndex(mesh)
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}
	g, err := grid.Build(mesh.Nodes, 0.5)
	if err != nil {
		t.Fatalf("grid.Build failed: %v", err)
	}

	serial, err := ix.LocateGrid(g, 1)
	if err != nil {
		t.Fatalf("LocateGrid failed: %v", err)
	}
	parallel, err := ix.LocateGrid(g, 4)
	if err != nil {
		t.Fatalf("LocateGrid failed: %v", err)
	}

	// Centers with x+y+z <= 1 lie inside the tetrahedron: 10 of 27.
	if serial.NumLocated() != 10 {
		t.Errorf("Expected 10 located voxels, got %d", serial.NumLocated())
	}

	for v := 0; v < g.NumVoxels(); v++ {
		if serial.Elem[v] != parallel.Elem[v] {
			t.Fatalf("Voxel %d: serial elem %d, parallel elem %d", v, serial.Elem[v], parallel.Elem[v])
		}
		sw, pw := serial.WeightsAt(v), parallel.WeightsAt(v)
		for i := range sw {
			if sw[i] != pw[i] {
				t.Fatalf("Voxel %d weight %d differs between worker counts", v, i)
			}
		}
	}
}
