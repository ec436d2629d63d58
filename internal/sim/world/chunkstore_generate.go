package world

// generateChunk fills a fresh column with layered terrain: stone below the
// surface, a few blocks of dirt under a grass cap, air above. The surface
// undulates a little per column, and deep stone carries sparse ore so carved
// caves expose something worth looking at.
func (s *ChunkStore) generateChunk(ch *Chunk) {
	for z := 0; z < 16; z++ {
		for x := 0; x < 16; x++ {
			wx := ch.CX*16 + x
			wz := ch.CZ*16 + z

			surface := s.surfaceFor(wx, wz)

			for y := 0; y < s.height; y++ {
				wy := s.gen.MinY + y

				var b uint16
				switch {
				case wy > surface:
					b = Air
				case wy == surface:
					b = Grass
				case wy >= surface-3:
					b = Dirt
				default:
					b = Stone
					// Sparse ore seams in deep stone.
					roll := hash3(s.gen.Seed+71, wx, wy, wz) % 1000
					switch {
					case roll < 12:
						b = CoalOre
					case roll < 17 && wy < surface-24:
						b = IronOre
					}
				}

				ch.Blocks[ch.index(x, y, z)] = b
			}
		}
	}
}

// surfaceFor derives the column's surface height from the seed: the
// configured surface level plus a small deterministic undulation.
func (s *ChunkStore) surfaceFor(wx, wz int) int {
	// Average neighboring region hashes so the surface varies smoothly-ish
	// instead of per-block noise.
	rx := floorDiv(wx, 8)
	rz := floorDiv(wz, 8)
	v := int(hash2(s.gen.Seed, rx, rz)%7) - 3

	surface := s.gen.SurfaceY + v
	if surface > s.gen.MaxY {
		surface = s.gen.MaxY
	}
	if surface < s.gen.MinY {
		surface = s.gen.MinY
	}
	return surface
}
