package voxel

// Block is a single voxel. ID 0 is air, any other ID maps to texture ID-1.
type Block struct {
	ID byte
}

func NewBlock(id byte) Block {
	return Block{ID: id}
}

func NewAirBlock() Block {
	return Block{ID: EMPTY}
}

func (b Block) IsAir() bool {
	return b.ID == EMPTY
}

func (b Block) GetTextureIndexForSide(side FaceType) byte {
	if b.IsAir() {
		return 0
	}
	return b.ID - 1
}
