package container

// Positions returns the flattened (x, y, z) triples of the field flagged
// Pos.
func (c *Container) Positions() ([]float32, error) {
	if !c.meta.HasPosKey() {
		return nil, &CapabilityError{Reason: "no field flagged as position"}
	}
	f := c.entries[c.meta.PosKey].field
	a, ok := f.(interface {
		PerItem() int
		asFloat32() []float32
	})
	if !ok || a.PerItem() != 3 {
		return nil, &CapabilityError{Reason: "position field " + c.meta.PosKey + " is not an array of 3 elements per item"}
	}
	return a.asFloat32(), nil
}

// MortonCodes returns the values of the field flagged Morton.
func (c *Container) MortonCodes() ([]uint32, error) {
	if !c.meta.HasMortonKey() {
		return nil, &CapabilityError{Reason: "no field flagged as morton index"}
	}
	f := c.entries[c.meta.MortonKey].field
	a, ok := f.(interface {
		PerItem() int
		asUint32() []uint32
	})
	if !ok || a.PerItem() != 1 {
		return nil, &CapabilityError{Reason: "morton field " + c.meta.MortonKey + " is not an array of 1 element per item"}
	}
	return a.asUint32(), nil
}

// IndexesFromBlocks assigns every item to the first block containing it and
// returns one index list per block. Positions are tested against the local
// boxes, Morton codes against the local extents. An item no block contains
// is reported as an UnassignedItemError.
func (c *Container) IndexesFromBlocks(blocks []Block) ([][]int, error) {
	lists := make([]IndexList, len(blocks))

	switch {
	case c.meta.HasPosKey():
		pos, err := c.Positions()
		if err != nil {
			return nil, err
		}
		for i := 0; i < len(pos)/3; i++ {
			x, y, z := pos[3*i], pos[3*i+1], pos[3*i+2]
			b := firstBlock(blocks, func(blk Block) bool { return blk.InLocalBox(x, y, z) })
			if b < 0 {
				return nil, &UnassignedItemError{Index: i, Position: [3]float32{x, y, z}}
			}
			lists[b].Add(i)
		}
	case c.meta.HasMortonKey():
		codes, err := c.MortonCodes()
		if err != nil {
			return nil, err
		}
		for i, code := range codes {
			x, y, z := DecodeMorton(code)
			b := firstBlock(blocks, func(blk Block) bool { return blk.InLocalExtents(x, y, z) })
			if b < 0 {
				return nil, &UnassignedItemError{Index: i, Position: [3]float32{float32(x), float32(y), float32(z)}}
			}
			lists[b].Add(i)
		}
	default:
		return nil, &CapabilityError{Reason: "splitting by blocks needs a position or morton key"}
	}

	out := make([][]int, len(lists))
	for i := range lists {
		out[i] = lists[i].Ranges()
	}
	return out, nil
}

func firstBlock(blocks []Block, in func(Block) bool) int {
	for i, b := range blocks {
		if in(b) {
			return i
		}
	}
	return -1
}
