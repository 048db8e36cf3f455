package workqueue

import "sync"

// ConcurrencyStrategy controls how many tasks may run at once. The strategy
// tracks running tasks and decides whether a new one can start.
type ConcurrencyStrategy interface {
	// CanStart returns true if a task can start given current state.
	CanStart() bool
	// OnStart is called when a task starts.
	OnStart()
	// OnComplete is called when a task completes.
	OnComplete()
}

// SerializedStrategy runs one task at a time.
type SerializedStrategy struct {
	mu      sync.Mutex
	running bool
}

// NewSerializedStrategy creates a strategy that serializes all tasks.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

func (s *SerializedStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *SerializedStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// ThrottledStrategy allows up to maxConcurrent tasks at once. This is the
// fetch pool's strategy: slow external sources occupy a slot each, never
// the scheduler's tick.
type ThrottledStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	running       int
}

// NewThrottledStrategy creates a strategy allowing up to maxConcurrent
// concurrent tasks. A non-positive limit is treated as 1.
func NewThrottledStrategy(maxConcurrent int) *ThrottledStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledStrategy{maxConcurrent: maxConcurrent}
}

func (s *ThrottledStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running < s.maxConcurrent
}

func (s *ThrottledStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
}

func (s *ThrottledStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
}
