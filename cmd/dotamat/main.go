package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kshedden/gonpy"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/config"
	"github.com/sriharshakondapalli/NeuroDOT-Beta/pkg/sensitivity"
)

func main() {
	// Parse command line arguments
	nodesPath := flag.String("mesh-nodes", "", "Mesh node coordinates, .npy float64 [nodes x 3]")
	elemsPath := flag.String("mesh-elements", "", "Mesh connectivity, .npy int32 [elements x 4]")
	gsPath := flag.String("gs", "", "Source Green's functions, .npy float64 [nodes x sources]")
	gdPath := flag.String("gd", "", "Detector Green's functions, .npy float64 [nodes x detectors]")
	dcPath := flag.String("dc", "", "Optical-property coefficients, .npy float64 [nodes x k]")
	measPath := flag.String("measlist", "", "Measurement channel list, .npy int32 [channels x 2]; default is every source-detector pair")
	configPath := flag.String("config", "dotamat.yaml", "YAML configuration file")
	tag := flag.String("tag", "", "Run tag (overrides config)")
	voxmm := flag.Float64("voxmm", 0, "Voxel pitch in mm (overrides config)")
	gthresh := flag.Float64("gthresh", -1, "Good-voxel sensitivity threshold (overrides config)")
	keepmeth := flag.String("keepmeth", "", "Good-voxel retention policy: glevel or gtop (overrides config)")
	outDir := flag.String("out", "", "Artifact output directory (overrides config)")
	resume := flag.Bool("resume", false, "Resume from the voxelized-fields checkpoint when present")
	flag.Parse()

	// Validate inputs
	if *nodesPath == "" || *elemsPath == "" || *gsPath == "" || *gdPath == "" || *dcPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *tag != "" {
		cfg.Run.Tag = *tag
	}
	if *voxmm > 0 {
		cfg.Grid.VoxMM = *voxmm
	}
	if *gthresh >= 0 {
		cfg.Mask.GThresh = *gthresh
	}
	if *keepmeth != "" {
		cfg.Mask.KeepMeth = *keepmeth
	}
	if *outDir != "" {
		cfg.Run.CheckpointDir = *outDir
	}
	if *resume {
		cfg.Run.Resume = true
	}

	fmt.Println("================================")
	fmt.Println("GREEN'S FUNCTION TO SENSITIVITY (A) MATRIX PIPELINE")
	fmt.Println("Voxelization and assembly for DOT image reconstruction")
	fmt.Println("================================")

	mesh, err := loadMesh(*nodesPath, *elemsPath)
	if err != nil {
		log.Fatalf("Failed to load mesh: %v", err)
	}
	gs, err := loadField(*gsPath)
	if err != nil {
		log.Fatalf("Failed to load Gs: %v", err)
	}
	gd, err := loadField(*gdPath)
	if err != nil {
		log.Fatalf("Failed to load Gd: %v", err)
	}
	dc, err := loadField(*dcPath)
	if err != nil {
		log.Fatalf("Failed to load dc: %v", err)
	}

	var meas models.MeasList
	if *measPath != "" {
		meas, err = loadMeasList(*measPath)
		if err != nil {
			log.Fatalf("Failed to load measurement list: %v", err)
		}
	} else {
		// Default channel list pairs every source with every detector,
		// sources varying slowest.
		for s := 0; s < gs.Channels; s++ {
			for d := 0; d < gd.Channels; d++ {
				meas = append(meas, models.MeasPair{Src: int32(s), Det: int32(d)})
			}
		}
	}

	fmt.Printf("Mesh: %d nodes, %d elements\n", mesh.NumNodes(), mesh.NumElements())
	fmt.Printf("Fields: %d sources, %d detectors, %d measurement channels\n", gs.Channels, gd.Channels, len(meas))

	builder := sensitivity.NewBuilder(&sensitivity.Params{
		Mesh:   mesh,
		Gs:     gs,
		Gd:     gd,
		DC:     dc,
		Meas:   meas,
		Config: cfg,
	})

	fmt.Println("Starting A-matrix construction...")
	startTime := time.Now()
	if err := builder.Process(); err != nil {
		log.Fatalf("A-matrix construction failed: %v", err)
	}
	processingTime := time.Since(startTime)

	stats := builder.Stats()
	fmt.Printf("\nA-matrix construction completed in %.2f seconds!\n", processingTime.Seconds())
	if stats.Resumed {
		fmt.Println("(voxelized fields reloaded from checkpoint)")
	}
	fmt.Printf("\nRun summary:\n")
	fmt.Printf("============\n")
	g := builder.Grid()
	fmt.Printf("Voxel grid: %dx%dx%d at %g mm (%d voxels)\n", g.Nx, g.Ny, g.Nz, g.Pitch, stats.NumVoxels)
	fmt.Printf("Located inside mesh: %d (%.1f%%)\n", stats.NumLocated, 100*float64(stats.NumLocated)/float64(stats.NumVoxels))
	if stats.NumSkippedElements > 0 {
		fmt.Printf("Degenerate elements skipped: %d\n", stats.NumSkippedElements)
	}
	fmt.Printf("Good voxels retained: %d (%s, threshold %g)\n", stats.NumActive, cfg.Mask.KeepMeth, cfg.Mask.GThresh)
	fmt.Printf("A-matrix shape: %d channels x %d voxels\n", stats.Rows, stats.Cols)
	fmt.Printf("Artifacts written to: %s (tag %q)\n", cfg.Run.CheckpointDir, cfg.Run.Tag)
}

// loadMesh reads the node and connectivity arrays.
func loadMesh(nodesPath, elemsPath string) (*models.Mesh, error) {
	nodes, _, cols, err := readFloatMatrix(nodesPath)
	if err != nil {
		return nil, err
	}
	if cols != 3 {
		return nil, fmt.Errorf("node array has %d columns, want 3", cols)
	}
	elems, _, cols, err := readIntMatrix(elemsPath)
	if err != nil {
		return nil, err
	}
	if cols != models.NodesPerElement {
		return nil, fmt.Errorf("element array has %d columns, want %d", cols, models.NodesPerElement)
	}
	mesh := &models.Mesh{Nodes: nodes, Elements: elems}
	return mesh, mesh.Validate()
}

// loadField reads a node field with one channel per column.
func loadField(path string) (*models.NodeField, error) {
	data, _, cols, err := readFloatMatrix(path)
	if err != nil {
		return nil, err
	}
	return &models.NodeField{Data: data, Channels: cols}, nil
}

// loadMeasList reads the (source, detector) channel pairs.
func loadMeasList(path string) (models.MeasList, error) {
	pairs, rows, cols, err := readIntMatrix(path)
	if err != nil {
		return nil, err
	}
	if cols != 2 {
		return nil, fmt.Errorf("measurement list has %d columns, want 2", cols)
	}
	meas := make(models.MeasList, rows)
	for i := range meas {
		meas[i] = models.MeasPair{Src: pairs[2*i], Det: pairs[2*i+1]}
	}
	return meas, nil
}

func readFloatMatrix(path string) (data []float64, rows, cols int, err error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(r.Shape) != 2 {
		return nil, 0, 0, fmt.Errorf("%s has %d dimensions, want 2", path, len(r.Shape))
	}
	if r.ColumnMajor {
		return nil, 0, 0, fmt.Errorf("%s is Fortran-ordered, want C order", path)
	}
	data, err = r.GetFloat64()
	if err != nil {
		return nil, 0, 0, err
	}
	return data, r.Shape[0], r.Shape[1], nil
}

func readIntMatrix(path string) (data []int32, rows, cols int, err error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(r.Shape) != 2 {
		return nil, 0, 0, fmt.Errorf("%s has %d dimensions, want 2", path, len(r.Shape))
	}
	if r.ColumnMajor {
		return nil, 0, 0, fmt.Errorf("%s is Fortran-ordered, want C order", path)
	}
	data, err = r.GetInt32()
	if err != nil {
		return nil, 0, 0, err
	}
	return data, r.Shape[0], r.Shape[1], nil
}
