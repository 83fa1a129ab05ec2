package voxel

// State is the next action a chunk requires in the build pipeline.
type State int32

const (
	Unpopulated State = iota
	Unshaped
	Unbuilt
	MeshReady
)

func (s State) String() string {
	switch s {
	case Unpopulated:
		return "Unpopulated"
	case Unshaped:
		return "Unshaped"
	case Unbuilt:
		return "Unbuilt"
	case MeshReady:
		return "MeshReady"
	}
	return "Unknown"
}
