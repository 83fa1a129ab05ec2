package builder

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrDisposed is returned by Enqueue once the worker has been disposed.
	ErrDisposed = errors.New("builder: worker disposed")
	// ErrChunkPending is returned by Enqueue when the chunk already has a queued or executing instruction.
	ErrChunkPending = errors.New("builder: chunk already has a pending instruction")
	// ErrQueueFull is returned by Enqueue when a bounded queue is at capacity.
	ErrQueueFull = errors.New("builder: work queue full")
	// ErrNilChunk is returned by Enqueue for a nil chunk.
	ErrNilChunk = errors.New("builder: nil chunk")

	ErrUnsupportedAction = errors.New("builder: unsupported action")
	ErrNoTerrain         = errors.New("builder: no terrain bound")
)

type ErrorKind int

const (
	KindExecutionFault ErrorKind = iota
	KindUnsupportedAction
	KindNoTerrain
)

func (k ErrorKind) String() string {
	switch k {
	case KindExecutionFault:
		return "ExecutionFault"
	case KindUnsupportedAction:
		return "UnsupportedAction"
	case KindNoTerrain:
		return "NoTerrain"
	}
	return "Unknown"
}

// WorkerError records one instruction that did not complete.
type WorkerError struct {
	ID          uuid.UUID
	Kind        ErrorKind
	Err         error
	Instruction Instruction
	Time        time.Time
}

func (e WorkerError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e WorkerError) Unwrap() error {
	return e.Err
}

// ErrorSink collects worker errors. Count never decreases; retained entries
// are only removed by DrainErrors or, when a retention limit is set, by
// dropping the oldest entries.
type ErrorSink struct {
	mu        sync.Mutex
	errs      []WorkerError
	retention int
	total     atomic.Uint64
	dropped   atomic.Uint64
}

// NewErrorSink returns a sink keeping at most retention entries, 0 keeps all.
func NewErrorSink(retention int) *ErrorSink {
	return &ErrorSink{retention: retention}
}

func (s *ErrorSink) Append(e WorkerError) {
	s.mu.Lock()
	s.errs = append(s.errs, e)
	if s.retention > 0 && len(s.errs) > s.retention {
		over := len(s.errs) - s.retention
		s.errs = append(s.errs[:0:0], s.errs[over:]...)
		s.dropped.Add(uint64(over))
	}
	s.total.Add(1)
	s.mu.Unlock()
}

// Snapshot returns a copy of the retained errors.
func (s *ErrorSink) Snapshot() []WorkerError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerError, len(s.errs))
	copy(out, s.errs)
	return out
}

// Drain returns the retained errors and clears them.
func (s *ErrorSink) Drain() []WorkerError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.errs
	s.errs = nil
	return out
}

// Count is the number of errors ever appended.
func (s *ErrorSink) Count() int {
	return int(s.total.Load())
}

// Dropped is the number of entries discarded by the retention limit.
func (s *ErrorSink) Dropped() int {
	return int(s.dropped.Load())
}
