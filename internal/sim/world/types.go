package world

// Vec3i is an integer block position in absolute world coordinates.
type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3i) Add(o Vec3i) Vec3i {
	return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Block palette. The cave pipeline only ever writes Air; the rest exists so
// generated terrain has something to carve out of.
const (
	Air uint16 = iota
	Stone
	Dirt
	Grass
	CoalOre
	IronOre
)

var blockNames = map[uint16]string{
	Air:     "AIR",
	Stone:   "STONE",
	Dirt:    "DIRT",
	Grass:   "GRASS",
	CoalOre: "COAL_ORE",
	IronOre: "IRON_ORE",
}

func BlockName(b uint16) string {
	if n, ok := blockNames[b]; ok {
		return n
	}
	return "UNKNOWN"
}
