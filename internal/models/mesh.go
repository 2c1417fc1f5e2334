package models

import "fmt"

// NodesPerElement is the number of nodes in a tetrahedral element.
const NodesPerElement = 4

// Mesh is a tetrahedral tissue mesh produced by an upstream light-transport
// solver. Both arrays are flat: Nodes holds 3 coordinates (mm) per node and
// Elements holds 4 node indices per tetrahedron. The mesh is treated as
// immutable once constructed.
type Mesh struct {
	// Nodes is the node coordinate array, 3 values per node (x, y, z).
	Nodes []float64

	// Elements is the connectivity array, 4 zero-based node indices
	// per tetrahedron.
	Elements []int32
}

// NumNodes returns the number of mesh nodes.
func (m *Mesh) NumNodes() int { return len(m.Nodes) / 3 }

// NumElements returns the number of tetrahedral elements.
func (m *Mesh) NumElements() int { return len(m.Elements) / NodesPerElement }

// Node returns the coordinates of node n.
func (m *Mesh) Node(n int) [3]float64 {
	return [3]float64{m.Nodes[3*n], m.Nodes[3*n+1], m.Nodes[3*n+2]}
}

// ElementNodes returns the 4 node indices of element e.
func (m *Mesh) ElementNodes(e int) [4]int32 {
	i := e * NodesPerElement
	return [4]int32{m.Elements[i], m.Elements[i+1], m.Elements[i+2], m.Elements[i+3]}
}

// Validate checks that the mesh is usable for point location: at least one
// element, coordinate and connectivity arrays of whole-record length, and
// every element index within the node range.
func (m *Mesh) Validate() error {
	if len(m.Nodes) == 0 || len(m.Nodes)%3 != 0 {
		return fmt.Errorf("%w: node array length %d is not a multiple of 3", ErrGeometry, len(m.Nodes))
	}
	if len(m.Elements) == 0 || len(m.Elements)%NodesPerElement != 0 {
		return fmt.Errorf("%w: element array length %d is not a multiple of %d", ErrGeometry, len(m.Elements), NodesPerElement)
	}
	n := int32(m.NumNodes())
	for i, idx := range m.Elements {
		if idx < 0 || idx >= n {
			return fmt.Errorf("%w: element %d references node %d outside [0,%d)", ErrGeometry, i/NodesPerElement, idx, n)
		}
	}
	return nil
}

// NodeField maps each mesh node to a vector of channel values. It is the
// container for source Green's functions (one channel per source position),
// detector Green's functions (one channel per detector position) and
// optical-property coefficients. Data is flat, node-major: the value of
// channel c at node n is Data[n*Channels+c].
type NodeField struct {
	Data     []float64
	Channels int
}

// NumNodes returns the number of nodes covered by the field.
func (f *NodeField) NumNodes() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Data) / f.Channels
}

// At returns the value of channel c at node n.
func (f *NodeField) At(n, c int) float64 { return f.Data[n*f.Channels+c] }

// Validate checks that the field covers exactly nodes mesh nodes.
func (f *NodeField) Validate(nodes int) error {
	if f.Channels <= 0 {
		return fmt.Errorf("%w: field has %d channels", ErrDimension, f.Channels)
	}
	if f.NumNodes() != nodes || len(f.Data) != nodes*f.Channels {
		return fmt.Errorf("%w: field covers %d nodes, mesh has %d", ErrDimension, f.NumNodes(), nodes)
	}
	return nil
}

// MeasPair identifies one measurement channel as a (source, detector) pair.
// Src indexes the channels of the source field, Det the channels of the
// detector field.
type MeasPair struct {
	Src int32
	Det int32
}

// MeasList is the ordered measurement channel list. Its order defines the
// row order of the assembled A-matrix and is never reordered by the
// pipeline.
type MeasList []MeasPair

// Validate checks that every pair indexes valid source/detector channels.
func (ml MeasList) Validate(srcChannels, detChannels int) error {
	if len(ml) == 0 {
		return fmt.Errorf("%w: empty measurement list", ErrConfig)
	}
	for i, p := range ml {
		if p.Src < 0 || int(p.Src) >= srcChannels {
			return fmt.Errorf("%w: channel %d references source %d outside [0,%d)", ErrDimension, i, p.Src, srcChannels)
		}
		if p.Det < 0 || int(p.Det) >= detChannels {
			return fmt.Errorf("%w: channel %d references detector %d outside [0,%d)", ErrDimension, i, p.Det, detChannels)
		}
	}
	return nil
}
