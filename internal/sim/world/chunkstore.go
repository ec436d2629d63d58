package world

type WorldGen struct {
	Seed      int64
	MinY      int
	MaxY      int
	SurfaceY  int
	BoundaryR int
}

type ChunkKey struct {
	CX int
	CZ int
}

// Chunk is a 16x16 column of blocks spanning the full world height.
type Chunk struct {
	CX, CZ int
	Blocks []uint16 // len = 16*16*height, x fastest, then z, then y

	height int
	dirty  bool
}

func (c *Chunk) index(x, y, z int) int {
	return x + z*16 + y*16*16
}

func (c *Chunk) Get(x, y, z int) uint16 {
	return c.Blocks[c.index(x, y, z)]
}

func (c *Chunk) Set(x, y, z int, b uint16) {
	i := c.index(x, y, z)
	if c.Blocks[i] == b {
		return
	}
	c.Blocks[i] = b
	c.dirty = true
}

// ChunkStore generates and holds chunk columns on demand. Not safe for
// concurrent use; only the world loop touches it.
type ChunkStore struct {
	gen    WorldGen
	height int
	chunks map[ChunkKey]*Chunk
}

func NewChunkStore(gen WorldGen) *ChunkStore {
	return &ChunkStore{
		gen:    gen,
		height: gen.MaxY - gen.MinY + 1,
		chunks: map[ChunkKey]*Chunk{},
	}
}

func (s *ChunkStore) inBounds(pos Vec3i) bool {
	if pos.Y < s.gen.MinY || pos.Y > s.gen.MaxY {
		return false
	}
	return s.inHorizontalBounds(pos.X, pos.Z)
}

func (s *ChunkStore) inHorizontalBounds(x, z int) bool {
	if s.gen.BoundaryR > 0 {
		if x < -s.gen.BoundaryR || x > s.gen.BoundaryR || z < -s.gen.BoundaryR || z > s.gen.BoundaryR {
			return false
		}
	}
	return true
}

func (s *ChunkStore) LoadedChunks() int { return len(s.chunks) }

func (s *ChunkStore) GetBlock(pos Vec3i) uint16 {
	if !s.inBounds(pos) {
		return Air
	}
	cx := floorDiv(pos.X, 16)
	cz := floorDiv(pos.Z, 16)
	ch := s.getOrGenChunk(cx, cz)
	return ch.Get(mod(pos.X, 16), pos.Y-s.gen.MinY, mod(pos.Z, 16))
}

// SetBlock writes b at pos and reports whether the cell was inside the
// mutable horizontal bounds. Vertical out-of-range writes are refused too,
// but callers are expected to clip those themselves.
func (s *ChunkStore) SetBlock(pos Vec3i, b uint16) bool {
	if !s.inBounds(pos) {
		return false
	}
	cx := floorDiv(pos.X, 16)
	cz := floorDiv(pos.Z, 16)
	ch := s.getOrGenChunk(cx, cz)
	ch.Set(mod(pos.X, 16), pos.Y-s.gen.MinY, mod(pos.Z, 16), b)
	return true
}

// SurfaceAt returns the highest non-air Y in the column, or MinY when the
// column is empty.
func (s *ChunkStore) SurfaceAt(x, z int) int {
	if !s.inHorizontalBounds(x, z) {
		return s.gen.MinY
	}
	cx := floorDiv(x, 16)
	cz := floorDiv(z, 16)
	ch := s.getOrGenChunk(cx, cz)
	lx, lz := mod(x, 16), mod(z, 16)
	for y := s.height - 1; y >= 0; y-- {
		if ch.Get(lx, y, lz) != Air {
			return s.gen.MinY + y
		}
	}
	return s.gen.MinY
}

func (s *ChunkStore) getOrGenChunk(cx, cz int) *Chunk {
	k := ChunkKey{CX: cx, CZ: cz}
	if ch, ok := s.chunks[k]; ok {
		return ch
	}
	ch := &Chunk{
		CX:     cx,
		CZ:     cz,
		Blocks: make([]uint16, 16*16*s.height),
		height: s.height,
	}
	s.generateChunk(ch)
	ch.dirty = true
	s.chunks[k] = ch
	return ch
}
