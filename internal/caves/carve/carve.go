// Package carve maps a relative voxel set onto absolute world coordinates
// and clears the covered cells.
package carve

import (
	"cavecraft.ai/internal/caves/samples"
	"cavecraft.ai/internal/sim/world"
)

// World is the slice of the world-mutation owner the engine needs.
// Implementations are only safe to call from the world loop.
type World interface {
	MinHeight() int
	MaxHeight() int
	// ClearBlock sets the cell to air and reports whether the cell was
	// inside the mutable horizontal bounds.
	ClearBlock(pos world.Vec3i) bool
}

// Result breaks down what happened to each voxel of a placement.
type Result struct {
	// Placed is the number of cells cleared.
	Placed int
	// Clipped is the number of voxels skipped for falling outside the
	// world's vertical bounds. Expected, not an error.
	Clipped int
	// Refused is the number of in-height cells the world declined to
	// mutate (outside horizontal bounds). Surfaced for observability.
	Refused int
}

// Engine places cave samples around an anchor. Offset is the fixed centering
// vector applied to the anchor before voxel offsets are added; it is
// configuration, never derived from a sample's shape.
type Engine struct {
	Offset world.Vec3i
}

// Place clears one cell per voxel of the sample, anchored at base =
// anchor + Offset. Must run on the world loop; not safe to invoke
// concurrently with itself or another placement.
func (e Engine) Place(w World, anchor world.Vec3i, s samples.CaveSample) Result {
	base := anchor.Add(e.Offset)
	minY, maxY := w.MinHeight(), w.MaxHeight()

	var res Result
	for _, v := range s.Voxels {
		pos := base.Add(world.Vec3i{X: v.X, Y: v.Y, Z: v.Z})
		if pos.Y < minY || pos.Y > maxY {
			res.Clipped++
			continue
		}
		if w.ClearBlock(pos) {
			res.Placed++
		} else {
			res.Refused++
		}
	}
	return res
}
