package hook

import (
	"log/slog"
	"slices"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
)

// SyncCall is a compiled synchronous dispatcher.
type SyncCall func(args ...any) (any, error)

// AsyncCall is a compiled callback-style dispatcher. It must call done
// exactly once.
type AsyncCall func(done Callback, args ...any)

// PromiseCall is a compiled promise-based dispatcher.
type PromiseCall func(args ...any) *Promise

// Dispatcher carries the compiled entry point for one discipline. Only the
// field matching CompileInput.Kind needs to be set.
type Dispatcher struct {
	Sync    SyncCall
	Async   AsyncCall
	Promise PromiseCall
}

func (d Dispatcher) has(kind Kind) bool {
	switch kind {
	case KindSync:
		return d.Sync != nil
	case KindAsync:
		return d.Async != nil
	case KindPromise:
		return d.Promise != nil
	default:
		return false
	}
}

// CompileInput is the snapshot a Compiler builds a dispatcher from. The
// slices are copies owned by the compiler.
type CompileInput struct {
	Name         string
	Taps         []Tap
	Interceptors []Interceptor
	Args         []string
	Kind         Kind
}

// Compiler turns a snapshot of a hook into an executable dispatcher. The
// compiler decides the orchestration semantics.
type Compiler interface {
	Compile(in CompileInput) (Dispatcher, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(in CompileInput) (Dispatcher, error)

// Compile implements Compiler.
func (f CompilerFunc) Compile(in CompileInput) (Dispatcher, error) {
	return f(in)
}

type slotState uint8

const (
	uncompiled slotState = iota
	compiled
)

// slot caches the dispatcher of one discipline.
type slot struct {
	state    slotState
	dispatch Dispatcher
}

// resetCompilation drops every cached dispatcher. Callers hold mu.
func (h *Hook) resetCompilation() {
	for i := range h.slots {
		h.slots[i] = slot{}
	}
}

// dispatcher returns the cached dispatcher for kind, compiling it first when
// the slot is uncompiled.
func (h *Hook) dispatcher(kind Kind) (Dispatcher, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &h.slots[kind.index()]
	if s.state == compiled {
		return s.dispatch, nil
	}
	if h.compiler == nil {
		return Dispatcher{}, xerrors.Newf(xerrors.CodeNotImplemented, "abstract: hook %q has no compiler", h.name)
	}
	d, err := h.compiler.Compile(CompileInput{
		Name:         h.name,
		Taps:         cloneTaps(h.taps),
		Interceptors: slices.Clone(h.interceptors),
		Args:         slices.Clone(h.args),
		Kind:         kind,
	})
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return Dispatcher{}, err
		}
		return Dispatcher{}, xerrors.Wrap(xerrors.CodeCompileFailure, err, "compile "+string(kind)+" dispatcher")
	}
	if !d.has(kind) {
		return Dispatcher{}, xerrors.Newf(xerrors.CodeCompileFailure, "compiler returned no %s dispatcher for hook %q", kind, h.name)
	}
	s.state = compiled
	s.dispatch = d
	h.logger.Debug("hook compiled",
		slog.String("hook", h.name),
		slog.String("kind", string(kind)),
		slog.Int("taps", len(h.taps)),
		slog.Int("interceptors", len(h.interceptors)),
	)
	return d, nil
}

// fitArgs pads or truncates args to the hook's arity.
func (h *Hook) fitArgs(args []any) []any {
	n := len(h.args)
	out := make([]any, n)
	copy(out, args)
	return out
}

// Call invokes the hook synchronously.
func (h *Hook) Call(args ...any) (any, error) {
	d, err := h.dispatcher(KindSync)
	if err != nil {
		return nil, err
	}
	return d.Sync(h.fitArgs(args)...)
}

// CallAsync invokes the hook with a completion callback. Errors preventing
// the invocation are returned directly and done is not called.
func (h *Hook) CallAsync(done Callback, args ...any) error {
	if done == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "callAsync requires a completion callback")
	}
	d, err := h.dispatcher(KindAsync)
	if err != nil {
		return err
	}
	d.Async(done, h.fitArgs(args)...)
	return nil
}

// Promise invokes the hook and returns a promise of its outcome.
func (h *Hook) Promise(args ...any) (*Promise, error) {
	d, err := h.dispatcher(KindPromise)
	if err != nil {
		return nil, err
	}
	p := d.Promise(h.fitArgs(args)...)
	if p == nil {
		return nil, xerrors.Newf(xerrors.CodeCompileFailure, "promise dispatcher of hook %q returned nil", h.name)
	}
	return p, nil
}
