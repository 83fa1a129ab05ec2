package builder

import (
	"fmt"

	"github.com/memmaker/voxelterrain/engine/voxel"
)

// Action is a pipeline stage requested for a chunk.
type Action int

const (
	Populate Action = iota
	Shape
	BuildMesh
)

func (a Action) String() string {
	switch a {
	case Populate:
		return "Populate"
	case Shape:
		return "Shape"
	case BuildMesh:
		return "BuildMesh"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// NextAction returns the action a chunk in state s needs, false once it is MeshReady.
func NextAction(s voxel.State) (Action, bool) {
	switch s {
	case voxel.Unpopulated:
		return Populate, true
	case voxel.Unshaped:
		return Shape, true
	case voxel.Unbuilt:
		return BuildMesh, true
	}
	return 0, false
}

// Chunk is the capability surface the worker drives. Each stage mutates the
// chunk's internal data and returns an error on failure; the worker writes the
// resulting state itself.
type Chunk interface {
	Position() voxel.Int3
	SetState(voxel.State)
	Populate() error
	Shape() error
	BuildMesh() error
}

// Terrain receives chunks whose mesh finished building.
type Terrain interface {
	PushReady(c Chunk)
}

// Instruction pairs a chunk with the action to run on it. Seq is the global
// enqueue order assigned by the work queue.
type Instruction struct {
	Chunk  Chunk
	Action Action
	Seq    uint64
}

func (in Instruction) String() string {
	if in.Chunk == nil {
		return fmt.Sprintf("#%d %s <nil>", in.Seq, in.Action)
	}
	return fmt.Sprintf("#%d %s %s", in.Seq, in.Action, in.Chunk.Position())
}
