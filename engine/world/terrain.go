package world

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/memmaker/voxelterrain/engine/builder"
	"github.com/memmaker/voxelterrain/engine/util"
	"github.com/memmaker/voxelterrain/engine/voxel"
)

// Config holds the options for a Terrain.
type Config struct {
	// Width, Height and Depth are the grid dimensions in chunks.
	Width, Height, Depth int32
	// Generator runs the populate and shape passes of every chunk.
	Generator voxel.Generator
	// Log is the logger used by the terrain. If nil, the voxel category logger is used.
	Log *slog.Logger
	// Worker configures the build worker owned by the terrain.
	Worker builder.Config
	// MaxRetries is how often Schedule re-enqueues a stage that did not
	// advance the chunk before giving up on it. 0 gives up after one failure.
	MaxRetries int
}

// Terrain owns a fixed grid of chunks, the build worker producing their
// meshes and the ready queue the worker publishes finished chunks to.
//
// PushReady is called from the worker goroutine. Every other method belongs to
// the owning thread, which calls Update once per frame.
type Terrain struct {
	conf   Config
	log    *slog.Logger
	worker *builder.Worker

	chunks []*voxel.Chunk
	width  int32
	height int32
	depth  int32

	readyMu sync.Mutex
	ready   []*voxel.Chunk

	progress map[*voxel.Chunk]*chunkProgress
	failed   int
}

// chunkProgress tracks scheduling attempts for the state a chunk is in.
type chunkProgress struct {
	state    voxel.State
	attempts int
	failures int
	gaveUp   bool
}

// NewTerrain creates the chunk grid, starts the build worker and binds the
// terrain as its output. Chunks start Unpopulated; nothing is scheduled until
// the first Schedule or Update.
func NewTerrain(conf Config) (*Terrain, error) {
	if conf.Generator == nil {
		return nil, errors.New("terrain: no generator")
	}
	t, err := newTerrain(conf)
	if err != nil {
		return nil, err
	}
	for z := int32(0); z < t.depth; z++ {
		for y := int32(0); y < t.height; y++ {
			for x := int32(0); x < t.width; x++ {
				t.setChunk(x, y, z, voxel.NewChunk(conf.Generator, x, y, z))
			}
		}
	}
	t.start()
	return t, nil
}

func newTerrain(conf Config) (*Terrain, error) {
	if conf.Width <= 0 || conf.Height <= 0 || conf.Depth <= 0 {
		return nil, errors.Errorf("terrain: invalid size %dx%dx%d", conf.Width, conf.Height, conf.Depth)
	}
	if conf.MaxRetries < 0 {
		conf.MaxRetries = 0
	}
	if conf.Log == nil {
		conf.Log = util.Logger(util.LogVoxel)
	}
	return &Terrain{
		conf:     conf,
		log:      conf.Log,
		chunks:   make([]*voxel.Chunk, conf.Width*conf.Height*conf.Depth),
		width:    conf.Width,
		height:   conf.Height,
		depth:    conf.Depth,
		progress: make(map[*voxel.Chunk]*chunkProgress),
	}, nil
}

func (t *Terrain) start() {
	t.worker = builder.New(t.conf.Worker)
	t.worker.SetTerrain(t)
	t.log.Info("terrain created", "width", t.width, "height", t.height, "depth", t.depth, "chunks", len(t.chunks))
}

func (t *Terrain) setChunk(x, y, z int32, c *voxel.Chunk) {
	t.chunks[x+y*t.width+z*t.width*t.height] = c
}

// GetChunk returns the chunk at grid position x,y,z or nil outside the grid.
func (t *Terrain) GetChunk(x, y, z int32) *voxel.Chunk {
	if x < 0 || y < 0 || z < 0 || x >= t.width || y >= t.height || z >= t.depth {
		return nil
	}
	return t.chunks[x+y*t.width+z*t.width*t.height]
}

// GetChunkFromBlock returns the chunk containing the world block x,y,z.
func (t *Terrain) GetChunkFromBlock(x, y, z int32) *voxel.Chunk {
	return t.GetChunk(voxel.FloorDiv(x, voxel.CHUNK_SIZE), voxel.FloorDiv(y, voxel.CHUNK_SIZE), voxel.FloorDiv(z, voxel.CHUNK_SIZE))
}

// GetGlobalBlock returns the block at world coordinates. Block data is only
// stable once the chunk is MeshReady.
func (t *Terrain) GetGlobalBlock(x, y, z int32) (voxel.Block, bool) {
	chunk := t.GetChunkFromBlock(x, y, z)
	if chunk == nil {
		return voxel.Block{}, false
	}
	return chunk.GetLocalBlock(voxel.Mod(x, voxel.CHUNK_SIZE), voxel.Mod(y, voxel.CHUNK_SIZE), voxel.Mod(z, voxel.CHUNK_SIZE))
}

func (t *Terrain) Chunks() []*voxel.Chunk {
	return t.chunks
}

func (t *Terrain) Size() voxel.Int3 {
	return voxel.Int3{X: t.width, Y: t.height, Z: t.depth}
}

func (t *Terrain) Worker() *builder.Worker {
	return t.worker
}

// PushReady appends a chunk whose mesh finished building to the ready queue.
func (t *Terrain) PushReady(c builder.Chunk) {
	chunk, ok := c.(*voxel.Chunk)
	if !ok {
		t.log.Error("ready chunk of unexpected type", "chunk", c.Position())
		return
	}
	t.readyMu.Lock()
	t.ready = append(t.ready, chunk)
	t.readyMu.Unlock()
}

// DrainReady removes and returns every chunk published since the last call.
func (t *Terrain) DrainReady() []*voxel.Chunk {
	t.readyMu.Lock()
	defer t.readyMu.Unlock()
	out := t.ready
	t.ready = nil
	return out
}

// Schedule enqueues the next stage for every chunk that needs one and has
// nothing pending. A stage that was enqueued MaxRetries+1 times without the
// chunk advancing is given up on until Rebuild. It returns the number of
// instructions enqueued.
func (t *Terrain) Schedule() int {
	enqueued := 0
	for _, chunk := range t.chunks {
		// The worker sets the new state before it releases the pending
		// entry, so the state is only current once nothing is pending.
		if t.worker.Pending(chunk) {
			continue
		}
		action, needed := builder.NextAction(chunk.State())
		if !needed {
			continue
		}
		p := t.progressFor(chunk)
		if p.gaveUp {
			continue
		}
		if p.attempts > t.conf.MaxRetries {
			p.gaveUp = true
			t.failed++
			t.log.Warn("giving up on chunk", "chunk", chunk.Position(), "state", p.state, "attempts", p.attempts)
			continue
		}

		err := t.worker.Enqueue(chunk, action)
		switch {
		case err == nil:
			p.attempts++
			enqueued++
		case errors.Is(err, builder.ErrChunkPending):
		case errors.Is(err, builder.ErrQueueFull), errors.Is(err, builder.ErrDisposed):
			return enqueued
		default:
			t.log.Error("enqueue failed", "chunk", chunk.Position(), "action", action, "error", err)
		}
	}
	return enqueued
}

// progressFor returns the attempt record for the chunk's current state,
// resetting it when the chunk advanced since the last call.
func (t *Terrain) progressFor(chunk *voxel.Chunk) *chunkProgress {
	state := chunk.State()
	p, ok := t.progress[chunk]
	if !ok {
		p = &chunkProgress{state: state}
		t.progress[chunk] = p
	}
	if p.state != state {
		p.state = state
		p.attempts = 0
	}
	return p
}

// Update is the per-frame step of the owning thread: it logs the worker
// errors recorded since the last frame, schedules more work and returns the
// chunks that became MeshReady.
func (t *Terrain) Update() []*voxel.Chunk {
	for _, e := range t.worker.DrainErrors() {
		t.log.Warn("chunk build failed", "id", e.ID, "kind", e.Kind.String(), "action", e.Instruction.Action, "error", e.Err)
		if chunk, ok := e.Instruction.Chunk.(*voxel.Chunk); ok {
			t.progressFor(chunk).failures++
		}
	}
	t.Schedule()
	return t.DrainReady()
}

// Done reports whether every chunk is MeshReady or was given up on.
func (t *Terrain) Done() bool {
	for _, chunk := range t.chunks {
		if chunk.State() == voxel.MeshReady {
			continue
		}
		if p, ok := t.progress[chunk]; !ok || !p.gaveUp {
			return false
		}
	}
	return true
}

// Progress returns the number of MeshReady chunks, the number of chunks given
// up on and the total.
func (t *Terrain) Progress() (ready, failed, total int) {
	for _, chunk := range t.chunks {
		if chunk.State() == voxel.MeshReady {
			ready++
		}
	}
	return ready, t.failed, len(t.chunks)
}

// Failures returns the number of worker errors recorded for the chunk at grid position pos.
func (t *Terrain) Failures(pos voxel.Int3) int {
	chunk := t.GetChunk(pos.X, pos.Y, pos.Z)
	if chunk == nil {
		return 0
	}
	if p, ok := t.progress[chunk]; ok {
		return p.failures
	}
	return 0
}

// Rebuild clears the give-up record of the chunk at grid position pos so that
// Schedule picks it up again from its current state.
func (t *Terrain) Rebuild(pos voxel.Int3) error {
	chunk := t.GetChunk(pos.X, pos.Y, pos.Z)
	if chunk == nil {
		return errors.Errorf("terrain: no chunk at %s", pos)
	}
	if p, ok := t.progress[chunk]; ok {
		if p.gaveUp {
			t.failed--
		}
		delete(t.progress, chunk)
	}
	t.log.Debug("chunk rescheduled", "chunk", pos, "state", chunk.State())
	return nil
}

// Close disposes the build worker. Chunks keep their current state.
func (t *Terrain) Close() {
	t.worker.Dispose()
	t.log.Info("terrain closed")
}
