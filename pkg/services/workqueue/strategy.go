package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy tracks running tasks and decides whether a new task of either
// lane (model calls vs store maintenance) may start.
type ConcurrencyStrategy interface {
	// CanStartLLM returns true if a model-calling task can start
	CanStartLLM() bool
	// CanStartData returns true if a maintenance task can start
	CanStartData() bool
	// OnStartLLM is called when a model-calling task starts
	OnStartLLM()
	// OnStartData is called when a maintenance task starts
	OnStartData()
	// OnCompleteLLM is called when a model-calling task completes
	OnCompleteLLM()
	// OnCompleteData is called when a maintenance task completes
	OnCompleteData()
}

// SerializedStrategy runs one task per lane at a time. A model task and a
// maintenance task may still run in parallel with each other.
type SerializedStrategy struct {
	mu          sync.Mutex
	llmRunning  bool
	dataRunning bool
}

// NewSerializedStrategy creates a strategy that serializes each lane.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartLLM() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.llmRunning
}

func (s *SerializedStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *SerializedStrategy) OnStartLLM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmRunning = true
}

func (s *SerializedStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *SerializedStrategy) OnCompleteLLM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmRunning = false
}

func (s *SerializedStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}

// ThrottledLLMStrategy allows up to maxConcurrent model-calling tasks in
// parallel. Maintenance tasks stay serialized so a rescore pass and a
// campaign rebuild never interleave their store rewrites.
type ThrottledLLMStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	llmRunning    int
	dataRunning   bool
}

// NewThrottledLLMStrategy creates a strategy that allows up to maxConcurrent
// model-calling tasks while serializing maintenance tasks.
func NewThrottledLLMStrategy(maxConcurrent int) *ThrottledLLMStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledLLMStrategy{
		maxConcurrent: maxConcurrent,
	}
}

func (s *ThrottledLLMStrategy) CanStartLLM() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llmRunning < s.maxConcurrent
}

func (s *ThrottledLLMStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *ThrottledLLMStrategy) OnStartLLM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmRunning++
}

func (s *ThrottledLLMStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *ThrottledLLMStrategy) OnCompleteLLM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.llmRunning > 0 {
		s.llmRunning--
	}
}

func (s *ThrottledLLMStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}
