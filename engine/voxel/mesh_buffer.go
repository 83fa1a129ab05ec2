package voxel

import (
	"github.com/pkg/errors"
)

type MeshBuffer struct {
	flatVertexData []uint32
	vertexCount    int
	outOfBounds    int
}

func NewMeshBuffer() *MeshBuffer {
	return &MeshBuffer{}
}

func (m *MeshBuffer) TriangleCount() int {
	return m.vertexCount / 3
}

func (m *MeshBuffer) AppendQuad(tr, br, bl, tl Int3, normal FaceType, textureIndex byte) {
	compressedVertexTR := m.Compress(tr, normal, textureIndex)
	compressedVertexBR := m.Compress(br, normal, textureIndex)
	compressedVertexBL := m.Compress(bl, normal, textureIndex)
	compressedVertexTL := m.Compress(tl, normal, textureIndex)

	// odd normals face the negative axis and need the opposite winding
	reverseOrder := normal%2 == 1
	if reverseOrder {
		m.flatVertexData = append(m.flatVertexData,
			compressedVertexTL, compressedVertexBL, compressedVertexTR,
			compressedVertexBL, compressedVertexBR, compressedVertexTR,
		)
	} else {
		m.flatVertexData = append(m.flatVertexData,
			compressedVertexTR, compressedVertexBL, compressedVertexTL,
			compressedVertexTR, compressedVertexBR, compressedVertexBL,
		)
	}

	m.vertexCount += 6
}

func (m *MeshBuffer) Reset() {
	m.flatVertexData = m.flatVertexData[:0]
	m.vertexCount = 0
	m.outOfBounds = 0
}

// Vertices returns a copy of the packed vertex stream, six vertices per quad.
func (m *MeshBuffer) Vertices() []uint32 {
	out := make([]uint32, len(m.flatVertexData))
	copy(out, m.flatVertexData)
	return out
}

// Err reports vertices that did not fit the packed format during the last build.
func (m *MeshBuffer) Err() error {
	if m.outOfBounds > 0 {
		return errors.Errorf("mesh buffer: %d vertex positions out of bounds", m.outOfBounds)
	}
	return nil
}

// Compress packs the chunk relative position, normal direction and texture index into 29 bits.
//
//	bits  0-17: x, y, z (6 bits each, 0..63)
//	bits 18-20: normal
//	bits 21-28: texture index
func (m *MeshBuffer) Compress(position Int3, normalDirection FaceType, textureIndex byte) uint32 {
	const maxAxis = int32(63)
	if position.X < 0 || position.X > maxAxis || position.Y < 0 || position.Y > maxAxis || position.Z < 0 || position.Z > maxAxis {
		m.outOfBounds++
	}

	xAxis := uint32(position.X) & 63
	yAxis := (uint32(position.Y) & 63) << 6
	zAxis := (uint32(position.Z) & 63) << 12
	compressedPosition := xAxis | yAxis | zAxis

	attributes := uint32(normalDirection) << 18
	attributes |= uint32(textureIndex) << 21

	return compressedPosition | attributes
}

func Decompress(vertex uint32) (position Int3, normal FaceType, textureIndex byte) {
	position = Int3{
		X: int32(vertex & 63),
		Y: int32((vertex >> 6) & 63),
		Z: int32((vertex >> 12) & 63),
	}
	normal = FaceType((vertex >> 18) & 7)
	textureIndex = byte((vertex >> 21) & 0xFF)
	return
}
