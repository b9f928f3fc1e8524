package trace

import (
	"context"
	"time"
)

// Phase 表示事件所处的调用阶段。
type Phase string

const (
	PhaseCall   Phase = "call"
	PhaseTap    Phase = "tap"
	PhaseError  Phase = "error"
	PhaseResult Phase = "result"
	PhaseDone   Phase = "done"
)

// Event 是一次钩子调用中的单个生命周期事件。
type Event struct {
	CallID     string        `json:"call_id"`
	Hook       string        `json:"hook"`
	Phase      Phase         `json:"phase"`
	Tap        string        `json:"tap,omitempty"`
	Error      string        `json:"error,omitempty"`
	Result     string        `json:"result,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Sink 接收事件。实现需要支持并发调用。
type Sink interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}
