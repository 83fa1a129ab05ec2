package world

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/Tnze/go-mc/nbt"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/memmaker/voxelterrain/engine/util"
	"github.com/memmaker/voxelterrain/engine/voxel"
)

const snapshotVersion = 2

/*
	TAG_Compound({
	    "version": TAG_Int(),
	    "chunk_size": TAG_Int(),
	    "width": TAG_Int(),
	    "height": TAG_Int(),
	    "depth": TAG_Int(),
	    "chunks": TAG_List([
	        TAG_Compound({
	            "x": TAG_Int(),
	            "y": TAG_Int(),
	            "z": TAG_Int(),
	            "state": TAG_Int(),
	            "blocks": TAG_Byte_Array()
	        })
	        ...
	    ])
	})
*/
type terrainSnapshot struct {
	Version   int32           `nbt:"version"`
	ChunkSize int32           `nbt:"chunk_size"`
	Width     int32           `nbt:"width"`
	Height    int32           `nbt:"height"`
	Depth     int32           `nbt:"depth"`
	Chunks    []chunkSnapshot `nbt:"chunks"`
}

type chunkSnapshot struct {
	X      int32  `nbt:"x"`
	Y      int32  `nbt:"y"`
	Z      int32  `nbt:"z"`
	State  int32  `nbt:"state"`
	Blocks []byte `nbt:"blocks"`
}

// SaveToDisk writes the voxel data of every populated chunk to path as a
// zstd compressed NBT compound, together with the stage the chunk resumes at.
// Meshes are not stored, MeshReady chunks resume at Unbuilt. It fails while
// the build worker is busy.
func (t *Terrain) SaveToDisk(path string) error {
	if t.worker.IsBusy() {
		return errors.New("terrain: cannot save while chunks are building")
	}
	snap := terrainSnapshot{
		Version:   snapshotVersion,
		ChunkSize: voxel.CHUNK_SIZE,
		Width:     t.width,
		Height:    t.height,
		Depth:     t.depth,
	}
	for _, chunk := range t.chunks {
		if chunk.State() == voxel.Unpopulated {
			continue
		}
		state := chunk.State()
		if state == voxel.MeshReady {
			state = voxel.Unbuilt
		}
		pos := chunk.Position()
		snap.Chunks = append(snap.Chunks, chunkSnapshot{X: pos.X, Y: pos.Y, Z: pos.Z, State: int32(state), Blocks: chunk.RawBlocks()})
	}

	if err := writeSnapshot(path, snap); err != nil {
		return errors.Wrapf(err, "save terrain to %s", path)
	}
	util.LogIOInfo("terrain saved", "path", path, "chunks", len(snap.Chunks))
	return nil
}

func writeSnapshot(path string, snap terrainSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if err := nbt.NewEncoder(bw).Encode(snap, "terrain"); err != nil {
		enc.Close()
		return errors.Wrap(err, "nbt encode")
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

func readSnapshot(path string) (terrainSnapshot, error) {
	var snap terrainSnapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	if _, err := nbt.NewDecoder(bufio.NewReaderSize(dec, 256*1024)).Decode(&snap); err != nil {
		return snap, errors.Wrap(err, "nbt decode")
	}
	return snap, nil
}

// LoadTerrain creates a terrain from a snapshot written by SaveToDisk. The
// grid size is taken from the snapshot. Stored chunks resume at their saved
// stage, Unshaped or Unbuilt; missing chunks start Unpopulated. Chunks that
// still need a generator stage require conf.Generator.
func LoadTerrain(path string, conf Config) (*Terrain, error) {
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load terrain from %s", path)
	}
	if snap.Version != snapshotVersion {
		return nil, errors.Errorf("load terrain from %s: unsupported snapshot version %d", path, snap.Version)
	}
	if snap.ChunkSize != voxel.CHUNK_SIZE {
		return nil, errors.Errorf("load terrain from %s: chunk size %d, want %d", path, snap.ChunkSize, voxel.CHUNK_SIZE)
	}

	conf.Width, conf.Height, conf.Depth = snap.Width, snap.Height, snap.Depth
	t, err := newTerrain(conf)
	if err != nil {
		return nil, errors.Wrapf(err, "load terrain from %s", path)
	}
	for _, cs := range snap.Chunks {
		if t.GetChunk(cs.X, cs.Y, cs.Z) != nil || cs.X < 0 || cs.Y < 0 || cs.Z < 0 || cs.X >= t.width || cs.Y >= t.height || cs.Z >= t.depth {
			return nil, errors.Errorf("load terrain from %s: invalid or duplicate chunk %d,%d,%d", path, cs.X, cs.Y, cs.Z)
		}
		state := voxel.State(cs.State)
		if state != voxel.Unshaped && state != voxel.Unbuilt {
			return nil, errors.Errorf("load terrain from %s: chunk %d,%d,%d has invalid state %d", path, cs.X, cs.Y, cs.Z, cs.State)
		}
		if state == voxel.Unshaped && conf.Generator == nil {
			return nil, errors.Errorf("load terrain from %s: chunk %d,%d,%d is %s and no generator", path, cs.X, cs.Y, cs.Z, state)
		}
		chunk := voxel.NewChunk(conf.Generator, cs.X, cs.Y, cs.Z)
		if err := chunk.SetRawBlocks(cs.Blocks); err != nil {
			return nil, errors.Wrapf(err, "load terrain from %s", path)
		}
		chunk.SetState(state)
		t.setChunk(cs.X, cs.Y, cs.Z, chunk)
	}

	missing := 0
	for z := int32(0); z < t.depth; z++ {
		for y := int32(0); y < t.height; y++ {
			for x := int32(0); x < t.width; x++ {
				if t.GetChunk(x, y, z) != nil {
					continue
				}
				if conf.Generator == nil {
					return nil, errors.Errorf("load terrain from %s: chunk %d,%d,%d missing and no generator", path, x, y, z)
				}
				t.setChunk(x, y, z, voxel.NewChunk(conf.Generator, x, y, z))
				missing++
			}
		}
	}

	util.LogIOInfo("terrain loaded", "path", path, "chunks", len(snap.Chunks), "regenerated", missing)
	t.start()
	return t, nil
}
