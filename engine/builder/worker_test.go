package builder

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/memmaker/voxelterrain/engine/voxel"
)

type fakeChunk struct {
	pos   voxel.Int3
	state atomic.Int32

	mu     sync.Mutex
	calls  []Action
	fail   map[Action]error
	panics map[Action]bool
	// gate, when set, blocks every stage until it is closed.
	gate chan struct{}
	// started is signalled when a stage begins.
	started chan Action
	order   *callLog
}

func newFakeChunk(x, y, z int32) *fakeChunk {
	return &fakeChunk{
		pos:    voxel.Int3{X: x, Y: y, Z: z},
		fail:   make(map[Action]error),
		panics: make(map[Action]bool),
	}
}

func (c *fakeChunk) Position() voxel.Int3     { return c.pos }
func (c *fakeChunk) SetState(s voxel.State)   { c.state.Store(int32(s)) }
func (c *fakeChunk) State() voxel.State       { return voxel.State(c.state.Load()) }
func (c *fakeChunk) Populate() error          { return c.run(Populate) }
func (c *fakeChunk) Shape() error             { return c.run(Shape) }
func (c *fakeChunk) BuildMesh() error         { return c.run(BuildMesh) }
func (c *fakeChunk) failOn(a Action, e error) { c.fail[a] = e }

func (c *fakeChunk) run(a Action) error {
	if c.started != nil {
		c.started <- a
	}
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	c.calls = append(c.calls, a)
	err, shouldPanic := c.fail[a], c.panics[a]
	c.mu.Unlock()
	if c.order != nil {
		c.order.add(c.pos.String() + " " + a.String())
	}
	if shouldPanic {
		panic("stage blew up")
	}
	return err
}

func (c *fakeChunk) Calls() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Action(nil), c.calls...)
}

type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.entries = append(l.entries, s)
	l.mu.Unlock()
}

func (l *callLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeTerrain struct {
	mu    sync.Mutex
	ready []Chunk
}

func (t *fakeTerrain) PushReady(c Chunk) {
	t.mu.Lock()
	t.ready = append(t.ready, c)
	t.mu.Unlock()
}

func (t *fakeTerrain) Ready() []Chunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Chunk(nil), t.ready...)
}

func quietConfig() Config {
	return Config{Log: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))}
}

func newTestWorker(t *testing.T, conf Config) *Worker {
	t.Helper()
	w := New(conf)
	t.Cleanup(w.Dispose)
	return w
}

func waitIdle(t *testing.T, w *Worker) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for w.IsBusy() {
		if time.Now().After(deadline) {
			t.Fatalf("worker still busy after 5s, %d instructions queued", w.WorkCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func mustEnqueue(t *testing.T, w *Worker, c Chunk, a Action) {
	t.Helper()
	if err := w.Enqueue(c, a); err != nil {
		t.Fatalf("enqueue %s: %v", a, err)
	}
}

func TestPipelineAdvancesChunkState(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	terrain := &fakeTerrain{}
	w.SetTerrain(terrain)
	c := newFakeChunk(1, 0, 2)

	steps := []struct {
		action Action
		want   voxel.State
	}{
		{Populate, voxel.Unshaped},
		{Shape, voxel.Unbuilt},
		{BuildMesh, voxel.MeshReady},
	}
	for _, step := range steps {
		mustEnqueue(t, w, c, step.action)
		waitIdle(t, w)
		if got := c.State(); got != step.want {
			t.Fatalf("after %s: state %s, want %s", step.action, got, step.want)
		}
		if step.action != BuildMesh && len(terrain.Ready()) != 0 {
			t.Fatalf("chunk published before BuildMesh")
		}
	}

	ready := terrain.Ready()
	if len(ready) != 1 || ready[0] != Chunk(c) {
		t.Fatalf("expected chunk published exactly once, got %v", ready)
	}
	if w.ErrorCount() != 0 {
		t.Fatalf("unexpected errors: %v", w.GetErrors())
	}
	stats := w.Stats()
	for _, a := range []Action{Populate, Shape, BuildMesh} {
		if stats.Succeeded[a] != 1 {
			t.Errorf("%s succeeded %d times, want 1", a, stats.Succeeded[a])
		}
	}
	if len(stats.Stages) != 3 {
		t.Errorf("expected 3 timed stages, got %d", len(stats.Stages))
	}
}

func TestUnsupportedActionLeavesStateUntouched(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	w.SetTerrain(&fakeTerrain{})
	c := newFakeChunk(0, 0, 0)
	c.SetState(voxel.Unshaped)

	before := w.ErrorCount()
	mustEnqueue(t, w, c, Action(99))
	waitIdle(t, w)

	if got := w.ErrorCount(); got != before+1 {
		t.Fatalf("ErrorCount %d, want %d", got, before+1)
	}
	if c.State() != voxel.Unshaped {
		t.Fatalf("state changed to %s", c.State())
	}
	if len(c.Calls()) != 0 {
		t.Fatalf("capabilities invoked: %v", c.Calls())
	}
	errs := w.GetErrors()
	if len(errs) != 1 || errs[0].Kind != KindUnsupportedAction || !errors.Is(errs[0], ErrUnsupportedAction) {
		t.Fatalf("unexpected error record: %+v", errs)
	}
	if errs[0].Instruction.Action != Action(99) || errs[0].Instruction.Chunk != Chunk(c) {
		t.Fatalf("error does not reference its instruction: %+v", errs[0].Instruction)
	}
	if w.Stats().Failed[Action(99)] != 1 {
		t.Fatalf("failure not counted per action: %v", w.Stats().Failed)
	}
}

func TestEnqueueAfterDispose(t *testing.T) {
	w := New(quietConfig())
	w.Dispose()

	before := w.WorkCount()
	err := w.Enqueue(newFakeChunk(0, 0, 0), Populate)
	if !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	if w.WorkCount() != before {
		t.Fatalf("WorkCount changed from %d to %d", before, w.WorkCount())
	}
	if !w.Disposed() {
		t.Fatalf("worker does not report disposal")
	}
	// second call is a no-op
	w.Dispose()
}

func TestFaultsAreIsolated(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	terrain := &fakeTerrain{}
	w.SetTerrain(terrain)

	const total, faulty = 10, 4
	chunks := make([]*fakeChunk, total)
	for i := range chunks {
		chunks[i] = newFakeChunk(int32(i), 0, 0)
		if i%3 == 0 && i/3 < faulty {
			chunks[i].failOn(Populate, errors.New("generator failed"))
		}
		mustEnqueue(t, w, chunks[i], Populate)
	}
	waitIdle(t, w)

	if got := w.ErrorCount(); got != faulty {
		t.Fatalf("ErrorCount %d, want %d", got, faulty)
	}
	for i, c := range chunks {
		want := voxel.Unshaped
		if c.fail[Populate] != nil {
			want = voxel.Unpopulated
		}
		if c.State() != want {
			t.Errorf("chunk %d: state %s, want %s", i, c.State(), want)
		}
		if n := len(c.Calls()); n != 1 {
			t.Errorf("chunk %d: populate ran %d times", i, n)
		}
	}
	for _, e := range w.GetErrors() {
		if e.Kind != KindExecutionFault {
			t.Errorf("unexpected kind %s", e.Kind)
		}
		if !strings.Contains(e.Error(), "generator failed") || !strings.Contains(e.Error(), "Populate chunk") {
			t.Errorf("fault not wrapped with context: %q", e.Error())
		}
	}
}

func TestPanicIsRecorded(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	w.SetTerrain(&fakeTerrain{})
	bad := newFakeChunk(0, 0, 0)
	bad.panics[Shape] = true
	bad.SetState(voxel.Unshaped)
	good := newFakeChunk(1, 0, 0)

	mustEnqueue(t, w, bad, Shape)
	mustEnqueue(t, w, good, Populate)
	waitIdle(t, w)

	if bad.State() != voxel.Unshaped {
		t.Fatalf("panicking stage changed state to %s", bad.State())
	}
	if good.State() != voxel.Unshaped {
		t.Fatalf("worker did not continue after panic, good chunk is %s", good.State())
	}
	errs := w.GetErrors()
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "stage blew up") {
		t.Fatalf("panic not recorded: %+v", errs)
	}
}

func TestErrorCountIsMonotonic(t *testing.T) {
	w := newTestWorker(t, Config{Log: quietConfig().Log, ErrorRetention: 2})
	w.SetTerrain(&fakeTerrain{})

	last := 0
	for i := 0; i < 5; i++ {
		c := newFakeChunk(int32(i), 0, 0)
		c.failOn(BuildMesh, errors.New("mesh overflow"))
		mustEnqueue(t, w, c, BuildMesh)
		waitIdle(t, w)

		n := w.ErrorCount()
		if n < last {
			t.Fatalf("ErrorCount decreased from %d to %d", last, n)
		}
		last = n
		if i == 2 {
			w.DrainErrors()
		}
	}
	if last != 5 {
		t.Fatalf("ErrorCount %d, want 5", last)
	}
	if retained := w.GetErrors(); len(retained) != 2 {
		t.Fatalf("retained %d errors, want 2", len(retained))
	}
}

func TestErrorRetentionDropsOldest(t *testing.T) {
	w := newTestWorker(t, Config{Log: quietConfig().Log, ErrorRetention: 3})
	for i := 0; i < 5; i++ {
		mustEnqueue(t, w, newFakeChunk(int32(i), 0, 0), Action(10+i))
	}
	waitIdle(t, w)

	errs := w.GetErrors()
	if len(errs) != 3 {
		t.Fatalf("retained %d errors, want 3", len(errs))
	}
	for i, e := range errs {
		if want := Action(12 + i); e.Instruction.Action != want {
			t.Errorf("entry %d is %s, want %s", i, e.Instruction.Action, want)
		}
	}
	if w.ErrorCount() != 5 {
		t.Fatalf("ErrorCount %d, want 5", w.ErrorCount())
	}
	if n := w.Stats().ErrorsDropped; n != 2 {
		t.Fatalf("ErrorsDropped %d, want 2", n)
	}

	drained := w.DrainErrors()
	if len(drained) != 3 || len(w.GetErrors()) != 0 || w.ErrorCount() != 5 {
		t.Fatalf("drain: got %d drained, %d retained, count %d", len(drained), len(w.GetErrors()), w.ErrorCount())
	}
}

func TestGetErrorsReturnsCopy(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	mustEnqueue(t, w, newFakeChunk(0, 0, 0), Action(7))
	waitIdle(t, w)

	errs := w.GetErrors()
	errs[0].Kind = KindNoTerrain
	if w.GetErrors()[0].Kind != KindUnsupportedAction {
		t.Fatalf("caller mutated the error sink")
	}
}

func TestIsBusyWhileExecuting(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	c := newFakeChunk(0, 0, 0)
	c.gate = make(chan struct{})
	c.started = make(chan Action, 1)

	if w.IsBusy() {
		t.Fatalf("new worker reports busy")
	}
	mustEnqueue(t, w, c, Populate)
	if !w.IsBusy() {
		t.Fatalf("worker not busy with queued work")
	}
	<-c.started
	if !w.IsBusy() {
		t.Fatalf("worker not busy while executing")
	}
	if w.WorkCount() != 0 {
		t.Fatalf("executing instruction still counted as queued")
	}
	if !w.Pending(c) {
		t.Fatalf("executing chunk not pending")
	}
	close(c.gate)
	waitIdle(t, w)
	if w.Pending(c) {
		t.Fatalf("finished chunk still pending")
	}
}

func TestInstructionsRunInEnqueueOrder(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	order := &callLog{}
	first := newFakeChunk(0, 0, 0)
	first.gate = make(chan struct{})
	first.started = make(chan Action, 1)
	first.order = order

	mustEnqueue(t, w, first, Populate)
	<-first.started

	var want []string
	for i := 1; i <= 20; i++ {
		c := newFakeChunk(int32(i), 0, 0)
		c.order = order
		mustEnqueue(t, w, c, Populate)
		want = append(want, c.pos.String()+" Populate")
	}
	if got := w.WorkCount(); got != 20 {
		t.Fatalf("WorkCount %d, want 20", got)
	}
	close(first.gate)
	waitIdle(t, w)

	got := order.Entries()
	if len(got) != 21 || got[0] != first.pos.String()+" Populate" {
		t.Fatalf("unexpected order %v", got)
	}
	for i, entry := range want {
		if got[i+1] != entry {
			t.Fatalf("position %d: got %q, want %q", i+1, got[i+1], entry)
		}
	}
}

func TestPendingChunkIsRejected(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	c := newFakeChunk(0, 0, 0)
	c.gate = make(chan struct{})
	c.started = make(chan Action, 1)

	mustEnqueue(t, w, c, Populate)
	<-c.started
	if err := w.Enqueue(c, Shape); !errors.Is(err, ErrChunkPending) {
		t.Fatalf("expected ErrChunkPending for executing chunk, got %v", err)
	}

	other := newFakeChunk(1, 0, 0)
	mustEnqueue(t, w, other, Populate)
	if err := w.Enqueue(other, Shape); !errors.Is(err, ErrChunkPending) {
		t.Fatalf("expected ErrChunkPending for queued chunk, got %v", err)
	}
	if w.WorkCount() != 1 {
		t.Fatalf("rejected enqueue modified the queue")
	}

	close(c.gate)
	waitIdle(t, w)
	mustEnqueue(t, w, c, Shape)
	waitIdle(t, w)
	if c.State() != voxel.Unbuilt {
		t.Fatalf("state %s, want Unbuilt", c.State())
	}
}

func TestQueueCapacity(t *testing.T) {
	var logs bytes.Buffer
	w := newTestWorker(t, Config{Log: slog.New(slog.NewTextHandler(&logs, nil)), QueueCapacity: 2})
	blocker := newFakeChunk(0, 0, 0)
	blocker.gate = make(chan struct{})
	blocker.started = make(chan Action, 1)

	mustEnqueue(t, w, blocker, Populate)
	<-blocker.started
	mustEnqueue(t, w, newFakeChunk(1, 0, 0), Populate)
	mustEnqueue(t, w, newFakeChunk(2, 0, 0), Populate)

	rejected := newFakeChunk(3, 0, 0)
	if err := w.Enqueue(rejected, Populate); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if w.Pending(rejected) || w.WorkCount() != 2 {
		t.Fatalf("rejected enqueue modified the queue")
	}
	close(blocker.gate)
	waitIdle(t, w)

	if rejected.State() != voxel.Unpopulated {
		t.Fatalf("rejected chunk was executed")
	}
	if w.Stats().QueueSaturation != 1 {
		t.Fatalf("saturation not counted")
	}
	if !strings.Contains(logs.String(), "build queue saturated") {
		t.Fatalf("saturation warning missing: %q", logs.String())
	}
	mustEnqueue(t, w, rejected, Populate)
	waitIdle(t, w)
}

func TestBuildMeshWithoutTerrain(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	c := newFakeChunk(0, 0, 0)
	c.SetState(voxel.Unbuilt)

	mustEnqueue(t, w, c, BuildMesh)
	waitIdle(t, w)

	if c.State() != voxel.Unbuilt {
		t.Fatalf("state changed to %s", c.State())
	}
	if len(c.Calls()) != 0 {
		t.Fatalf("BuildMesh invoked without terrain")
	}
	errs := w.GetErrors()
	if len(errs) != 1 || errs[0].Kind != KindNoTerrain || !errors.Is(errs[0], ErrNoTerrain) {
		t.Fatalf("unexpected errors %+v", errs)
	}

	terrain := &fakeTerrain{}
	w.SetTerrain(terrain)
	mustEnqueue(t, w, c, BuildMesh)
	waitIdle(t, w)
	if c.State() != voxel.MeshReady || len(terrain.Ready()) != 1 {
		t.Fatalf("rebinding the terrain did not publish the chunk")
	}
}

func TestRebindTerrain(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	first, second := &fakeTerrain{}, &fakeTerrain{}
	w.SetTerrain(first)
	mustEnqueue(t, w, newFakeChunk(0, 0, 0), BuildMesh)
	waitIdle(t, w)
	w.SetTerrain(second)
	mustEnqueue(t, w, newFakeChunk(1, 0, 0), BuildMesh)
	waitIdle(t, w)

	if len(first.Ready()) != 1 || len(second.Ready()) != 1 {
		t.Fatalf("ready counts %d and %d, want 1 and 1", len(first.Ready()), len(second.Ready()))
	}
}

func TestDisposeIdleWorkerReturnsPromptly(t *testing.T) {
	w := New(quietConfig())
	done := make(chan struct{})
	go func() {
		w.Dispose()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispose of an idle worker did not return")
	}
}

func TestDisposeDiscardsQueuedWork(t *testing.T) {
	var logs bytes.Buffer
	w := New(Config{Log: slog.New(slog.NewTextHandler(&logs, nil))})
	running := newFakeChunk(0, 0, 0)
	running.gate = make(chan struct{})
	running.started = make(chan Action, 1)
	mustEnqueue(t, w, running, Populate)
	<-running.started

	queued := make([]*fakeChunk, 3)
	for i := range queued {
		queued[i] = newFakeChunk(int32(i+1), 0, 0)
		mustEnqueue(t, w, queued[i], Populate)
	}

	disposed := make(chan struct{})
	go func() {
		w.Dispose()
		close(disposed)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !w.Disposed() {
		if time.Now().After(deadline) {
			t.Fatal("worker not marked disposed")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-disposed:
		t.Fatal("Dispose returned while an instruction was executing")
	default:
	}
	close(running.gate)
	<-disposed

	if running.State() != voxel.Unshaped {
		t.Fatalf("executing instruction did not complete, state %s", running.State())
	}
	for i, c := range queued {
		if c.State() != voxel.Unpopulated || len(c.Calls()) != 0 {
			t.Errorf("queued chunk %d was executed after dispose", i)
		}
	}
	if w.IsBusy() || w.WorkCount() != 0 {
		t.Fatalf("disposed worker still busy")
	}
	if !strings.Contains(logs.String(), "dropped=3") {
		t.Fatalf("dropped count not logged: %q", logs.String())
	}
}

func TestEnqueueNilChunk(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	if err := w.Enqueue(nil, Populate); !errors.Is(err, ErrNilChunk) {
		t.Fatalf("expected ErrNilChunk, got %v", err)
	}
	if w.IsBusy() {
		t.Fatalf("nil enqueue made the worker busy")
	}
}

func TestConcurrentProducers(t *testing.T) {
	w := newTestWorker(t, quietConfig())
	terrain := &fakeTerrain{}
	w.SetTerrain(terrain)

	const producers, perProducer = 8, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := w.Enqueue(newFakeChunk(int32(p), int32(i), 0), BuildMesh); err != nil {
					t.Errorf("enqueue: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()
	waitIdle(t, w)

	if got := len(terrain.Ready()); got != producers*perProducer {
		t.Fatalf("published %d chunks, want %d", got, producers*perProducer)
	}
}
