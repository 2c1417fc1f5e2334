package models

import "errors"

// Pipeline error taxonomy. Every failure in the voxelization/assembly
// pipeline wraps one of these sentinels so callers can distinguish bad
// configuration from bad geometry without parsing messages. A voxel that
// falls outside the mesh hull is NOT an error; it is reported through the
// unlocated sentinel in LocationMap.
var (
	// ErrConfig marks missing or invalid run configuration: empty tag,
	// non-positive voxel pitch, unknown retention policy, and so on.
	ErrConfig = errors.New("invalid configuration")

	// ErrGeometry marks a mesh that cannot support point location:
	// no elements, out-of-range connectivity, or an empty good-voxel set
	// at assembly time.
	ErrGeometry = errors.New("invalid geometry")

	// ErrDimension marks field arrays whose node or channel counts
	// disagree with the mesh or with each other.
	ErrDimension = errors.New("dimension mismatch")
)
