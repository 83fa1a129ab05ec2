package world

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/memmaker/voxelterrain/engine/util"
	"github.com/memmaker/voxelterrain/engine/voxel"
)

// ExportGLTF writes the mesh of every MeshReady chunk to path, one node per
// chunk translated to its world position. Chunks without triangles are
// skipped. A .glb extension selects the binary container, anything else
// writes JSON with embedded buffers. It returns the number of exported chunks.
func (t *Terrain) ExportGLTF(path string) (int, error) {
	doc := gltf.NewDocument()
	if len(doc.Scenes) == 0 {
		doc.Scenes = append(doc.Scenes, &gltf.Scene{Name: "Terrain"})
		doc.Scene = gltf.Index(0)
	}
	scene := doc.Scenes[0]

	exported := 0
	for _, chunk := range t.chunks {
		if chunk.State() != voxel.MeshReady || chunk.Mesh().TriangleCount() == 0 {
			continue
		}
		meshIndex := appendChunkMesh(doc, chunk)
		translation := chunk.GetMatrix().Col(3).Vec3()
		doc.Nodes = append(doc.Nodes, &gltf.Node{
			Name:        fmt.Sprintf("chunk_%d_%d_%d", chunk.Position().X, chunk.Position().Y, chunk.Position().Z),
			Mesh:        gltf.Index(meshIndex),
			Translation: [3]float32{translation.X(), translation.Y(), translation.Z()},
		})
		scene.Nodes = append(scene.Nodes, uint32(len(doc.Nodes)-1))
		exported++
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, errors.Wrapf(err, "export terrain to %s", path)
	}
	if err := saveDocument(doc, path); err != nil {
		return 0, errors.Wrapf(err, "export terrain to %s", path)
	}
	util.LogIOInfo("terrain exported", "path", path, "chunks", exported)
	return exported, nil
}

func saveDocument(doc *gltf.Document, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".glb") {
		return gltf.SaveBinary(doc, path)
	}
	for _, buffer := range doc.Buffers {
		if buffer.URI == "" {
			buffer.EmbeddedResource()
		}
	}
	return gltf.Save(doc, path)
}

// appendChunkMesh unpacks the chunk's vertex stream into positions and
// normals and adds it to doc as a triangle mesh.
func appendChunkMesh(doc *gltf.Document, chunk *voxel.Chunk) uint32 {
	vertices := chunk.Mesh().Vertices()
	positions := make([][3]float32, len(vertices))
	normals := make([][3]float32, len(vertices))
	indices := make([]uint32, len(vertices))
	for i, packed := range vertices {
		pos, face, _ := voxel.Decompress(packed)
		n := face.Normal()
		positions[i] = [3]float32{float32(pos.X), float32(pos.Y), float32(pos.Z)}
		normals[i] = [3]float32{float32(n.X), float32(n.Y), float32(n.Z)}
		indices[i] = uint32(i)
	}

	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name: "chunk " + chunk.Position().String(),
		Primitives: []*gltf.Primitive{{
			Indices: gltf.Index(modeler.WriteIndices(doc, indices)),
			Attributes: map[string]uint32{
				"POSITION": modeler.WritePosition(doc, positions),
				"NORMAL":   modeler.WriteNormal(doc, normals),
			},
			Mode: gltf.PrimitiveTriangles,
		}},
	})
	return uint32(len(doc.Meshes) - 1)
}
