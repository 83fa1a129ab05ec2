package util

import (
	"math"
	"sync"
	"time"
)

type TimerState struct {
	Name         string
	LastDuration float64

	TotalDuration  float64
	ExecutionCount int64

	MinDuration float64
	MaxDuration float64
}

func (t TimerState) AverageDuration() float64 {
	if t.ExecutionCount == 0 {
		return 0
	}
	return t.TotalDuration / float64(t.ExecutionCount)
}

// Timer records named durations in milliseconds. It is safe for concurrent use.
type Timer struct {
	mu         sync.Mutex
	states     map[string]*TimerState
	timerNames []string
}

func NewTimer() *Timer {
	return &Timer{
		states: make(map[string]*TimerState),
	}
}

func (t *Timer) GetState(name string) (TimerState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[name]
	if !ok {
		return TimerState{}, false
	}
	return *state, true
}

// States returns a copy of every state in first-use order.
func (t *Timer) States() []TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TimerState, 0, len(t.timerNames))
	for _, name := range t.timerNames {
		out = append(out, *t.states[name])
	}
	return out
}

func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, state := range t.states {
		state.LastDuration = 0
		state.TotalDuration = 0
		state.ExecutionCount = 0
		state.MinDuration = math.MaxInt64
		state.MaxDuration = math.MinInt64
	}
}

// Start begins a measurement and returns the function that ends it.
func (t *Timer) Start(name string) func() float64 {
	start := time.Now()
	return func() float64 {
		durationInMS := float64(time.Since(start).Microseconds()) / 1000.0
		t.record(name, durationInMS)
		return durationInMS
	}
}

func (t *Timer) record(name string, durationInMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[name]
	if !ok {
		t.timerNames = append(t.timerNames, name)
		state = &TimerState{
			Name:        name,
			MinDuration: math.MaxInt64,
			MaxDuration: math.MinInt64,
		}
		t.states[name] = state
	}
	state.LastDuration = durationInMS
	state.TotalDuration += durationInMS
	state.ExecutionCount++
	if durationInMS < state.MinDuration {
		state.MinDuration = durationInMS
	}
	if durationInMS > state.MaxDuration {
		state.MaxDuration = durationInMS
	}
}
