package trace

import (
	"context"
	"sync"
)

const defaultMemoryCapacity = 1024

// MemorySink 在内存中保留最近的事件，超出容量后覆盖最旧的记录。
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

// NewMemorySink 创建环形缓冲区，capacity<=0 时使用默认容量。
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemorySink{events: make([]Event, capacity)}
}

// Emit 实现 Sink。
func (s *MemorySink) Emit(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[s.next] = event
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Events 按写入顺序返回缓冲区中的事件。
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		out := make([]Event, s.next)
		copy(out, s.events[:s.next])
		return out
	}
	out := make([]Event, 0, len(s.events))
	out = append(out, s.events[s.next:]...)
	return append(out, s.events[:s.next]...)
}

// Close 实现 Sink。
func (s *MemorySink) Close() error { return nil }
