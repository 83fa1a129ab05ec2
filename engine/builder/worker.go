package builder

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/memmaker/voxelterrain/engine/util"
	"github.com/memmaker/voxelterrain/engine/voxel"
)

// Config holds the options for a Worker.
type Config struct {
	// Log is the logger used by the worker. If nil, the worker category logger is used.
	Log *slog.Logger
	// QueueCapacity limits the number of queued instructions. Enqueue fails with
	// ErrQueueFull once reached. 0 leaves the queue unbounded, in which case a
	// producer outpacing the worker grows memory without limit.
	QueueCapacity int
	// ErrorRetention limits how many worker errors are kept for GetErrors. The
	// oldest entries are dropped first; ErrorCount still counts them. 0 keeps
	// every error for the lifetime of the worker.
	ErrorRetention int
}

// Worker runs chunk pipeline stages on a single background goroutine.
//
// Producers call Enqueue from any goroutine. The worker executes instructions
// in enqueue order, writes the chunk's new state after a stage succeeded and
// pushes chunks whose mesh was built to the bound Terrain. A stage that
// returns an error or panics is recorded as a WorkerError and the worker moves
// on to the next instruction.
type Worker struct {
	conf  Config
	log   *slog.Logger
	queue *WorkQueue
	errs  *ErrorSink
	timer *util.Timer

	terrainMu sync.RWMutex
	terrain   Terrain

	succeeded [3]atomic.Uint64
	statsMu   sync.Mutex
	failed    map[Action]int

	queueSaturation        atomic.Uint64
	lastQueueSaturationLog atomic.Int64

	closing     chan struct{}
	done        chan struct{}
	disposeOnce sync.Once
}

// Stats summarises the work a Worker performed so far.
type Stats struct {
	Succeeded       map[Action]int
	// Failed counts recorded errors per action, including actions outside the pipeline.
	Failed          map[Action]int
	// ErrorsDropped counts errors discarded by ErrorRetention.
	ErrorsDropped   int
	QueueSaturation int
	Stages          []util.TimerState
}

// New creates a Worker and starts its goroutine. The worker idles until the
// first instruction is enqueued.
func New(conf Config) *Worker {
	if conf.Log == nil {
		conf.Log = util.Logger(util.LogWorker)
	}
	w := &Worker{
		conf:    conf,
		log:     conf.Log,
		queue:   NewWorkQueue(conf.QueueCapacity),
		errs:    NewErrorSink(conf.ErrorRetention),
		timer:   util.NewTimer(),
		failed:  make(map[Action]int),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// SetTerrain binds the collaborator that receives MeshReady chunks. Calling it
// again rebinds; BuildMesh instructions started before the call publish to the
// previous terrain.
func (w *Worker) SetTerrain(t Terrain) {
	w.terrainMu.Lock()
	w.terrain = t
	w.terrainMu.Unlock()
}

func (w *Worker) boundTerrain() Terrain {
	w.terrainMu.RLock()
	defer w.terrainMu.RUnlock()
	return w.terrain
}

// Enqueue schedules action for c. It never blocks. It fails with ErrDisposed
// after Dispose, with ErrChunkPending if c already has an instruction queued or
// executing and with ErrQueueFull if a bounded queue is at capacity. The queue
// is unchanged by a failed call. Chunk implementations must be comparable.
func (w *Worker) Enqueue(c Chunk, action Action) error {
	if c == nil {
		return ErrNilChunk
	}
	in, err := w.queue.Push(c, action)
	if err != nil {
		if errors.Is(err, ErrQueueFull) {
			w.handleQueueSaturation()
		}
		return err
	}
	w.log.Debug("instruction queued", "instruction", in.String())
	return nil
}

// GetErrors returns a copy of the retained worker errors.
func (w *Worker) GetErrors() []WorkerError {
	return w.errs.Snapshot()
}

// DrainErrors returns the retained worker errors and removes them. ErrorCount is not affected.
func (w *Worker) DrainErrors() []WorkerError {
	return w.errs.Drain()
}

// ErrorCount is the number of errors recorded over the worker's lifetime.
func (w *Worker) ErrorCount() int {
	return w.errs.Count()
}

// IsBusy reports whether instructions are queued or executing.
func (w *Worker) IsBusy() bool {
	return w.queue.Busy()
}

// WorkCount is the number of queued instructions, excluding the one executing.
func (w *Worker) WorkCount() int {
	return w.queue.Len()
}

// Pending reports whether c has an instruction queued or executing.
func (w *Worker) Pending(c Chunk) bool {
	return w.queue.Pending(c)
}

func (w *Worker) Disposed() bool {
	return w.queue.Closed()
}

func (w *Worker) Stats() Stats {
	s := Stats{
		Succeeded:       make(map[Action]int, len(w.succeeded)),
		Failed:          make(map[Action]int),
		ErrorsDropped:   w.errs.Dropped(),
		QueueSaturation: int(w.queueSaturation.Load()),
		Stages:          w.timer.States(),
	}
	for i := range w.succeeded {
		s.Succeeded[Action(i)] = int(w.succeeded[i].Load())
	}
	w.statsMu.Lock()
	for a, n := range w.failed {
		s.Failed[a] = n
	}
	w.statsMu.Unlock()
	return s
}

// Dispose stops the worker. Queued instructions are discarded, an instruction
// that is executing is allowed to finish, and Dispose returns once the worker
// goroutine exited. Dispose must not be called from a chunk stage.
func (w *Worker) Dispose() {
	w.disposeOnce.Do(func() {
		dropped := w.queue.close()
		close(w.closing)
		<-w.done
		w.queue.settle()
		if len(dropped) > 0 {
			w.log.Warn("build worker disposed with queued instructions", "dropped", len(dropped))
		}
		w.log.Debug("build worker stopped", "errors", w.errs.Count())
	})
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.closing:
			return
		case <-w.queue.wake:
		}

		var finished *Instruction
		for {
			in, ok := w.queue.next(finished)
			if !ok {
				break
			}
			w.execute(in)
			finished = &in

			select {
			case <-w.closing:
				return
			default:
			}
		}
	}
}

func (w *Worker) execute(in Instruction) {
	var (
		stage func() error
		next  voxel.State
		dest  Terrain
	)
	switch in.Action {
	case Populate:
		stage, next = in.Chunk.Populate, voxel.Unshaped
	case Shape:
		stage, next = in.Chunk.Shape, voxel.Unbuilt
	case BuildMesh:
		if dest = w.boundTerrain(); dest == nil {
			w.record(in, KindNoTerrain, errors.Wrapf(ErrNoTerrain, "%s", in))
			return
		}
		stage, next = in.Chunk.BuildMesh, voxel.MeshReady
	default:
		w.record(in, KindUnsupportedAction, errors.Wrapf(ErrUnsupportedAction, "%s", in))
		return
	}

	stop := w.timer.Start(in.Action.String())
	err := runStage(stage)
	elapsed := stop()
	if err != nil {
		w.record(in, KindExecutionFault, errors.Wrapf(err, "%s chunk %s", in.Action, in.Chunk.Position()))
		return
	}

	in.Chunk.SetState(next)
	if dest != nil {
		dest.PushReady(in.Chunk)
	}
	w.succeeded[in.Action].Add(1)
	w.log.Debug("instruction done", "instruction", in.String(), "ms", elapsed)
}

// runStage calls stage and converts a panic into an error.
func runStage(stage func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return stage()
}

func (w *Worker) record(in Instruction, kind ErrorKind, err error) {
	e := WorkerError{
		ID:          uuid.New(),
		Kind:        kind,
		Err:         err,
		Instruction: in,
		Time:        time.Now(),
	}
	w.errs.Append(e)
	w.statsMu.Lock()
	w.failed[in.Action]++
	w.statsMu.Unlock()
	w.log.Error("instruction failed", "id", e.ID, "kind", kind.String(), "instruction", in.String(), "error", err)
}

// handleQueueSaturation counts rejected enqueues and logs a warning at most once a minute.
func (w *Worker) handleQueueSaturation() {
	count := w.queueSaturation.Add(1)
	now := time.Now().UnixNano()
	last := w.lastQueueSaturationLog.Load()
	if last != 0 && time.Duration(now-last) < time.Minute {
		return
	}
	if !w.lastQueueSaturationLog.CompareAndSwap(last, now) {
		return
	}
	w.log.Warn("build queue saturated, consider raising the queue capacity", "capacity", w.conf.QueueCapacity, "rejected", count)
}
