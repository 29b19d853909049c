package gen

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, a, b int) uint64 {
	ua := uint64(uint32(int32(a)))
	ub := uint64(uint32(int32(b)))
	return mix64(uint64(seed) ^ (ua * 0x9e3779b97f4a7c15) ^ (ub * 0xbf58476d1ce4e5b9))
}
