package voxel

import (
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

// Chunk is a CHUNK_SIZE³ block of terrain together with its CPU mesh.
//
// Block data and the mesh are not synchronised. While an instruction for the
// chunk is queued or executing, only the build worker may touch them; the
// owning thread reads them once the chunk came out of the ready queue.
// State is atomic and may be polled from any goroutine.
type Chunk struct {
	data       []Block
	chunkPosX  int32
	chunkPosY  int32
	chunkPosZ  int32
	generator  Generator
	meshBuffer *MeshBuffer
	state      atomic.Int32
	isDirty    bool
}

func NewChunk(generator Generator, x, y, z int32) *Chunk {
	c := &Chunk{
		data:       make([]Block, CHUNK_SIZE_CUBED),
		chunkPosX:  x,
		chunkPosY:  y,
		chunkPosZ:  z,
		generator:  generator,
		meshBuffer: NewMeshBuffer(),
	}
	return c
}

func blockIndex(i, j, k int32) int32 {
	return i + j*CHUNK_SIZE + k*CHUNK_SIZE_SQUARED
}

func (c *Chunk) Contains(x, y, z int32) bool {
	return x >= 0 && x < CHUNK_SIZE && y >= 0 && y < CHUNK_SIZE && z >= 0 && z < CHUNK_SIZE
}

// GetLocalBlock returns the block at chunk relative coordinates, false if outside.
func (c *Chunk) GetLocalBlock(i, j, k int32) (Block, bool) {
	if !c.Contains(i, j, k) {
		return Block{}, false
	}
	return c.data[blockIndex(i, j, k)], true
}

func (c *Chunk) SetBlock(x, y, z int32, block Block) {
	if !c.Contains(x, y, z) {
		return
	}
	c.data[blockIndex(x, y, z)] = block
	c.isDirty = true
}

func (c *Chunk) IsBlockAt(i, j, k int32) bool {
	b, ok := c.GetLocalBlock(i, j, k)
	return ok && !b.IsAir()
}

// SolidCount returns the number of non-air blocks.
func (c *Chunk) SolidCount() int {
	n := 0
	for _, b := range c.data {
		if !b.IsAir() {
			n++
		}
	}
	return n
}

// RawBlocks returns a copy of the block IDs in storage order.
func (c *Chunk) RawBlocks() []byte {
	out := make([]byte, len(c.data))
	for i, b := range c.data {
		out[i] = b.ID
	}
	return out
}

func (c *Chunk) SetRawBlocks(ids []byte) error {
	if int32(len(ids)) != CHUNK_SIZE_CUBED {
		return errors.Errorf("chunk %s: got %d block ids, want %d", c.Position(), len(ids), CHUNK_SIZE_CUBED)
	}
	for i, id := range ids {
		c.data[i] = Block{ID: id}
	}
	c.isDirty = true
	return nil
}

func (c *Chunk) State() State {
	return State(c.state.Load())
}

func (c *Chunk) SetState(s State) {
	c.state.Store(int32(s))
}

// Populate fills the chunk with its raw voxel data.
func (c *Chunk) Populate() error {
	if c.generator == nil {
		return errors.Errorf("chunk %s: no generator", c.Position())
	}
	for i := range c.data {
		c.data[i] = NewAirBlock()
	}
	c.isDirty = true
	return c.generator.PopulateChunk(c)
}

// Shape runs the generator's shaping pass over populated data.
func (c *Chunk) Shape() error {
	if c.generator == nil {
		return errors.Errorf("chunk %s: no generator", c.Position())
	}
	c.isDirty = true
	return c.generator.ShapeChunk(c)
}

// BuildMesh rebuilds the chunk mesh from the current block data.
func (c *Chunk) BuildMesh() error {
	c.isDirty = true
	c.GreedyMeshing()
	return c.meshBuffer.Err()
}

func (c *Chunk) Mesh() ChunkMesh {
	return c.meshBuffer
}

type VoxelFace struct {
	transparent  bool
	side         FaceType
	textureIndex byte
	hidden       bool
}

func (v *VoxelFace) EqualForMerge(face *VoxelFace) bool {
	if face.transparent {
		return face.transparent == v.transparent
	}
	return face.transparent == v.transparent && face.textureIndex == v.textureIndex
}

// GreedyMeshing merges coplanar faces of equal texture into quads.
// Faces on the chunk border are always emitted; neighbouring chunks are not consulted.
func (c *Chunk) GreedyMeshing() ChunkMesh {
	// adapted from: https://github.com/roboleary/GreedyMesh/blob/master/src/mygame/Main.java
	if !c.isDirty {
		return c.meshBuffer
	}
	c.meshBuffer.Reset()

	var (
		i, j, k, l, w, h, u, v, n int32
		side                      FaceType

		x  = [3]int32{}
		q  = [3]int32{}
		du = [3]int32{}
		dv = [3]int32{}

		mask       = make([]*VoxelFace, CHUNK_SIZE*CHUNK_SIZE)
		voxelFace  *VoxelFace
		voxelFace1 *VoxelFace
	)

	for backFace, b := true, false; b != backFace; backFace, b = backFace && b, !b {
		for d := int32(0); d < 3; d++ {
			u = (d + 1) % 3
			v = (d + 2) % 3

			x[0], x[1], x[2] = 0, 0, 0
			q[0], q[1], q[2] = 0, 0, 0
			q[d] = 1

			side = sideFor(d, backFace)

			for x[d] = -1; x[d] < CHUNK_SIZE; {
				n = 0
				for x[v] = 0; x[v] < CHUNK_SIZE; x[v]++ {
					for x[u] = 0; x[u] < CHUNK_SIZE; x[u]++ {
						if x[d] >= 0 {
							voxelFace = c.getVoxelFace(x[0], x[1], x[2], side)
						} else {
							voxelFace = nil
						}
						if x[d] < CHUNK_SIZE-1 {
							voxelFace1 = c.getVoxelFace(x[0]+q[0], x[1]+q[1], x[2]+q[2], side)
						} else {
							voxelFace1 = nil
						}

						if voxelFace != nil && voxelFace1 != nil && voxelFace.EqualForMerge(voxelFace1) {
							mask[n] = nil
						} else if backFace {
							mask[n] = voxelFace1
						} else {
							mask[n] = voxelFace
						}
						n++
					}
				}

				x[d]++

				n = 0
				for j = 0; j < CHUNK_SIZE; j++ {
					for i = 0; i < CHUNK_SIZE; {
						if mask[n] == nil {
							i++
							n++
							continue
						}

						w = 1
						for i+w < CHUNK_SIZE && mask[n+w] != nil && mask[n+w].EqualForMerge(mask[n]) {
							w++
						}

						done := false
						for h = 1; h+j < CHUNK_SIZE; h++ {
							for k = 0; k < w; k++ {
								if mask[n+k+h*CHUNK_SIZE] == nil || !mask[n+k+h*CHUNK_SIZE].EqualForMerge(mask[n]) {
									done = true
									break
								}
							}
							if done {
								break
							}
						}

						if !mask[n].transparent && !mask[n].hidden {
							x[u], x[v] = i, j
							du[0], du[1], du[2] = 0, 0, 0
							du[u] = w
							dv[0], dv[1], dv[2] = 0, 0, 0
							dv[v] = h
							bottomLeft := Int3{x[0], x[1], x[2]}
							topLeft := Int3{x[0] + du[0], x[1] + du[1], x[2] + du[2]}
							bottomRight := Int3{x[0] + dv[0], x[1] + dv[1], x[2] + dv[2]}
							topRight := Int3{x[0] + du[0] + dv[0], x[1] + du[1] + dv[1], x[2] + du[2] + dv[2]}
							c.meshBuffer.AppendQuad(topRight, bottomRight, bottomLeft, topLeft, mask[n].side, mask[n].textureIndex)
						}

						for l = 0; l < h; l++ {
							for k = 0; k < w; k++ {
								mask[n+k+l*CHUNK_SIZE] = nil
							}
						}

						i += w
						n += w
					}
				}
			}
		}
	}

	c.isDirty = false
	return c.meshBuffer
}

func sideFor(d int32, backFace bool) FaceType {
	switch d {
	case 0:
		if backFace {
			return XN
		}
		return XP
	case 1:
		if backFace {
			return YN
		}
		return YP
	default:
		if backFace {
			return ZN
		}
		return ZP
	}
}

func (c *Chunk) getVoxelFace(x, y, z int32, side FaceType) *VoxelFace {
	block, ok := c.GetLocalBlock(x, y, z)
	if !ok || block.IsAir() {
		return &VoxelFace{transparent: true}
	}
	normal := side.Normal()
	face := &VoxelFace{side: side, textureIndex: block.GetTextureIndexForSide(side)}
	if c.IsBlockAt(x+normal.X, y+normal.Y, z+normal.Z) {
		face.hidden = true
		face.transparent = true
	}
	return face
}

func (c *Chunk) GetMatrix() mgl32.Mat4 {
	return mgl32.Translate3D(float32(c.chunkPosX*CHUNK_SIZE), float32(c.chunkPosY*CHUNK_SIZE), float32(c.chunkPosZ*CHUNK_SIZE))
}

func (c *Chunk) Position() Int3 {
	return Int3{c.chunkPosX, c.chunkPosY, c.chunkPosZ}
}

func (c *Chunk) AABBMin() mgl32.Vec3 {
	return mgl32.Vec3{float32(c.chunkPosX * CHUNK_SIZE), float32(c.chunkPosY * CHUNK_SIZE), float32(c.chunkPosZ * CHUNK_SIZE)}
}

func (c *Chunk) AABBMax() mgl32.Vec3 {
	return c.AABBMin().Add(mgl32.Vec3{float32(CHUNK_SIZE), float32(CHUNK_SIZE), float32(CHUNK_SIZE)})
}
