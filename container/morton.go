package container

// EncodeMorton interleaves three 10-bit grid coordinates into a 30-bit
// z-order code. Higher bits of the inputs are dropped.
func EncodeMorton(x, y, z uint32) uint32 {
	return spread(x) | spread(y)<<1 | spread(z)<<2
}

// DecodeMorton reverses EncodeMorton.
func DecodeMorton(code uint32) (x, y, z uint32) {
	return compact(code), compact(code >> 1), compact(code >> 2)
}

func spread(v uint32) uint32 {
	v &= 0x000003ff
	v = (v | v<<16) & 0x030000ff
	v = (v | v<<8) & 0x0300f00f
	v = (v | v<<4) & 0x030c30c3
	v = (v | v<<2) & 0x09249249
	return v
}

func compact(v uint32) uint32 {
	v &= 0x09249249
	v = (v | v>>2) & 0x030c30c3
	v = (v | v>>4) & 0x0300f00f
	v = (v | v>>8) & 0x030000ff
	v = (v | v>>16) & 0x000003ff
	return v
}
