package voxel

// Generator provides the populate and shape passes a chunk runs on the build worker.
// Implementations must only touch the chunk they are handed.
type Generator interface {
	PopulateChunk(c *Chunk) error
	ShapeChunk(c *Chunk) error
}

// Block IDs used by HeightmapGenerator.
const (
	StoneBlock byte = 1
	DirtBlock  byte = 2
	GrassBlock byte = 3
	SandBlock  byte = 4
)

// HeightmapGenerator fills columns with stone up to a hashed value-noise height
// and then classifies the surface into grass, dirt and sand.
type HeightmapGenerator struct {
	Seed       uint32
	BaseHeight int32
	Amplitude  int32
	// CellSize is the lattice spacing of the value noise, in blocks.
	CellSize  int32
	SeaLevel  int32
	DirtDepth int32
}

func NewHeightmapGenerator(seed uint32) *HeightmapGenerator {
	return &HeightmapGenerator{
		Seed:       seed,
		BaseHeight: 8,
		Amplitude:  12,
		CellSize:   16,
		SeaLevel:   10,
		DirtDepth:  3,
	}
}

func (g *HeightmapGenerator) PopulateChunk(c *Chunk) error {
	origin := c.Position().Mul(CHUNK_SIZE)
	for z := int32(0); z < CHUNK_SIZE; z++ {
		for x := int32(0); x < CHUNK_SIZE; x++ {
			height := g.HeightAt(origin.X+x, origin.Z+z)
			top := height - origin.Y
			if top > CHUNK_SIZE {
				top = CHUNK_SIZE
			}
			for y := int32(0); y < top; y++ {
				c.SetBlock(x, y, z, NewBlock(StoneBlock))
			}
		}
	}
	return nil
}

func (g *HeightmapGenerator) ShapeChunk(c *Chunk) error {
	origin := c.Position().Mul(CHUNK_SIZE)
	for z := int32(0); z < CHUNK_SIZE; z++ {
		for x := int32(0); x < CHUNK_SIZE; x++ {
			height := g.HeightAt(origin.X+x, origin.Z+z)
			surface := NewBlock(GrassBlock)
			if height <= g.SeaLevel {
				surface = NewBlock(SandBlock)
			}
			for wy := height - 1; wy >= height-1-g.DirtDepth && wy >= 0; wy-- {
				y := wy - origin.Y
				if !c.Contains(x, y, z) {
					continue
				}
				if wy == height-1 {
					c.SetBlock(x, y, z, surface)
				} else {
					c.SetBlock(x, y, z, NewBlock(DirtBlock))
				}
			}
		}
	}
	return nil
}

// HeightAt returns the column height in world blocks at world position x,z.
func (g *HeightmapGenerator) HeightAt(x, z int32) int32 {
	cell := g.CellSize
	if cell <= 0 {
		cell = 1
	}
	cx, cz := FloorDiv(x, cell), FloorDiv(z, cell)
	fx := float32(Mod(x, cell)) / float32(cell)
	fz := float32(Mod(z, cell)) / float32(cell)

	v00 := g.lattice(cx, cz)
	v10 := g.lattice(cx+1, cz)
	v01 := g.lattice(cx, cz+1)
	v11 := g.lattice(cx+1, cz+1)
	top := v00 + (v10-v00)*smooth(fx)
	bottom := v01 + (v11-v01)*smooth(fx)
	value := top + (bottom-top)*smooth(fz)

	return g.BaseHeight + int32(value*float32(g.Amplitude))
}

func (g *HeightmapGenerator) lattice(x, z int32) float32 {
	return float32(Hash2(g.Seed, x, z)&0xFFFF) / float32(0xFFFF)
}

func smooth(t float32) float32 {
	return t * t * (3 - 2*t)
}

// Hash32 mixes a 32-bit input into a well-distributed 32-bit output.
func Hash32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

// Hash2 returns a stable hash for 2D integer coordinates and a seed.
func Hash2(seed uint32, x, z int32) uint32 {
	h := seed
	h ^= uint32(x) * 0x9e3779b1
	h ^= uint32(z) * 0x85ebca6b
	return Hash32(h)
}
