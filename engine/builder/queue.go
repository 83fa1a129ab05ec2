package builder

import (
	"sync"
)

// WorkQueue is the FIFO between producers and the worker goroutine.
//
// Besides the instructions it tracks which chunks have an instruction queued
// or executing, and whether the consumer is busy: busy is set by push and only
// cleared by next once the queue is seen empty with nothing executing.
type WorkQueue struct {
	mu       sync.Mutex
	items    []Instruction
	head     int
	pending  map[Chunk]struct{}
	capacity int
	seq      uint64
	busy     bool
	closed   bool

	// wake holds at most one signal. A signal left over from work that was
	// already drained only causes one empty pass.
	wake chan struct{}
}

// NewWorkQueue returns a queue holding at most capacity instructions, 0 means unbounded.
func NewWorkQueue(capacity int) *WorkQueue {
	return &WorkQueue{
		pending:  make(map[Chunk]struct{}),
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Push appends an instruction for c and signals the consumer.
func (q *WorkQueue) Push(c Chunk, action Action) (Instruction, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Instruction{}, ErrDisposed
	}
	if _, ok := q.pending[c]; ok {
		q.mu.Unlock()
		return Instruction{}, ErrChunkPending
	}
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		q.mu.Unlock()
		return Instruction{}, ErrQueueFull
	}
	q.seq++
	in := Instruction{Chunk: c, Action: action, Seq: q.seq}
	q.items = append(q.items, in)
	q.pending[c] = struct{}{}
	q.busy = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return in, nil
}

// next releases the chunk of the instruction that just finished (if any) and
// pops the head. When the queue is empty it clears busy and returns false.
func (q *WorkQueue) next(done *Instruction) (Instruction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if done != nil {
		delete(q.pending, done.Chunk)
	}
	if q.lenLocked() == 0 {
		q.busy = false
		q.items = q.items[:0]
		q.head = 0
		return Instruction{}, false
	}
	in := q.items[q.head]
	q.items[q.head] = Instruction{}
	q.head++
	// compact once the consumed prefix dominates the backing array
	if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return in, true
}

// close rejects further pushes and discards queued instructions, returning them.
func (q *WorkQueue) close() []Instruction {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	dropped := append([]Instruction(nil), q.items[q.head:]...)
	for _, in := range dropped {
		delete(q.pending, in.Chunk)
	}
	q.items = nil
	q.head = 0
	return dropped
}

// settle clears the busy flag and pending set after the consumer stopped.
func (q *WorkQueue) settle() {
	q.mu.Lock()
	q.busy = false
	q.pending = make(map[Chunk]struct{})
	q.mu.Unlock()
}

func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *WorkQueue) lenLocked() int {
	return len(q.items) - q.head
}

func (q *WorkQueue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy
}

// Pending reports whether c has a queued or executing instruction.
func (q *WorkQueue) Pending(c Chunk) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[c]
	return ok
}

func (q *WorkQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
