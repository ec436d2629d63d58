package world

import (
	simenc "cavecraft.ai/internal/sim/encoding"
)

// TerrainPatchRLE renders the horizontal block layer at center.Y within the
// given radius as an RLE string: (2r+1)^2 cells, x fastest then z.
// Out-of-bounds cells read as air. Must run on the world loop.
func (w *World) TerrainPatchRLE(center Vec3i, r int) string {
	if r < 0 {
		r = 0
	}
	side := 2*r + 1
	ids := make([]uint16, 0, side*side)
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			ids = append(ids, w.GetBlock(Vec3i{X: center.X + dx, Y: center.Y, Z: center.Z + dz}))
		}
	}
	return simenc.EncodeRLE(ids)
}
