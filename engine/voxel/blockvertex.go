package voxel

type FaceType int32

const (
	XP FaceType = iota
	XN
	YP
	YN
	ZP
	ZN
)

func (f FaceType) Normal() Int3 {
	switch f {
	case XP:
		return Int3{X: 1}
	case XN:
		return Int3{X: -1}
	case YP:
		return Int3{Y: 1}
	case YN:
		return Int3{Y: -1}
	case ZP:
		return Int3{Z: 1}
	default:
		return Int3{Z: -1}
	}
}

// ChunkMesh is the CPU side of a chunk's render mesh. Uploading it to the GPU
// is the renderer's job and happens on the thread that drains the ready queue.
type ChunkMesh interface {
	AppendQuad(tr, br, bl, tl Int3, normal FaceType, textureIndex byte)
	Reset()
	TriangleCount() int
	Vertices() []uint32
}
