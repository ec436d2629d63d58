package world

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// hash2/hash3 are cheap deterministic position hashes for worldgen
// (splitmix-style mixing, not cryptographic).
func hash2(seed int64, x, z int) uint64 {
	h := uint64(seed) ^ 0x9e3779b97f4a7c15
	h = mix(h ^ uint64(int64(x)))
	h = mix(h ^ uint64(int64(z)))
	return h
}

func hash3(seed int64, x, y, z int) uint64 {
	h := hash2(seed, x, z)
	h = mix(h ^ uint64(int64(y)))
	return h
}

func mix(h uint64) uint64 {
	h ^= h >> 30
	h *= 0xbf58476d1ce4e5b9
	h ^= h >> 27
	h *= 0x94d049bb133111eb
	h ^= h >> 31
	return h
}
