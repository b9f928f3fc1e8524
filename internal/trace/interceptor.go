package trace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
	"github.com/zhangpanweb/tapable/pkg/hook"
	"github.com/zhangpanweb/tapable/pkg/logger"
)

const (
	ctxCallID = "trace.call_id"
	ctxStart  = "trace.start"

	defaultEmitTimeout = 2 * time.Second
	maxResultLength    = 256
)

// Option 调整拦截器行为。
type Option func(*recorder)

// WithEmitTimeout 设置单次写入事件汇的超时时间。
func WithEmitTimeout(d time.Duration) Option {
	return func(r *recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger 指定写入失败时使用的日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(r *recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(r *recorder) {
		if now != nil {
			r.now = now
		}
	}
}

type recorder struct {
	hookName string
	sink     Sink
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Interceptor 构造一个按调用记录事件的拦截器。写入失败只记录日志，不影响钩子本身。
func Interceptor(hookName string, sink Sink, opts ...Option) hook.Interceptor {
	r := &recorder{
		hookName: hookName,
		sink:     sink,
		timeout:  defaultEmitTimeout,
		logger:   logger.Named("trace"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return hook.Interceptor{
		Name:    "trace",
		Context: true,
		Call: func(ctx hook.CallContext, _ ...any) {
			// 未分配调用上下文的编译器下事件不带 CallID。
			if ctx != nil {
				ctx[ctxCallID] = uuid.NewString()
				ctx[ctxStart] = r.now()
			}
			r.emit(ctx, Event{Phase: PhaseCall})
		},
		Tap: func(ctx hook.CallContext, tap hook.Tap) {
			r.emit(ctx, Event{Phase: PhaseTap, Tap: tap.Name})
		},
		Error: func(ctx hook.CallContext, err error) {
			r.emit(ctx, Event{Phase: PhaseError, Error: err.Error()})
		},
		Result: func(ctx hook.CallContext, result any) {
			r.emit(ctx, Event{Phase: PhaseResult, Result: summarize(result)})
		},
		Done: func(ctx hook.CallContext) {
			r.emit(ctx, Event{Phase: PhaseDone})
		},
	}
}

func (r *recorder) emit(ctx hook.CallContext, event Event) {
	now := r.now()
	event.Hook = r.hookName
	event.OccurredAt = now
	event.CallID, _ = ctx[ctxCallID].(string)
	if start, ok := ctx[ctxStart].(time.Time); ok {
		event.Duration = now.Sub(start)
	}

	emitCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.sink.Emit(emitCtx, event); err != nil {
		attrs := []any{
			slog.String("hook", r.hookName),
			slog.String("phase", string(event.Phase)),
			slog.Bool("retryable", xerrors.RetryableError(err)),
			slog.Any("error", err),
		}
		if e, ok := xerrors.From(err); ok {
			for k, v := range e.Metadata() {
				attrs = append(attrs, slog.String(k, v))
			}
		}
		r.logger.Warn("写入调用事件失败", attrs...)
	}
}

func summarize(v any) string {
	s := fmt.Sprint(v)
	if len(s) > maxResultLength {
		return s[:maxResultLength] + "..."
	}
	return s
}
