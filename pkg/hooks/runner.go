package hooks

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
	"github.com/zhangpanweb/tapable/pkg/hook"
)

// invocation is the state of a single dispatch: the compiled snapshot plus
// the per-call arguments and interceptor context.
type invocation struct {
	hookName     string
	taps         []hook.Tap
	interceptors []hook.Interceptor
	ctx          hook.CallContext
	args         []any
}

func newInvocation(in hook.CompileInput, args []any) *invocation {
	inv := &invocation{
		hookName:     in.Name,
		taps:         in.Taps,
		interceptors: in.Interceptors,
		args:         slices.Clone(args),
	}
	for _, i := range in.Interceptors {
		if i.Context {
			inv.ctx = hook.CallContext{}
			break
		}
	}
	return inv
}

func (inv *invocation) onCall() {
	for _, i := range inv.interceptors {
		if i.Call != nil {
			i.Call(inv.ctx, inv.args...)
		}
	}
}

func (inv *invocation) onTap(tap hook.Tap) {
	for _, i := range inv.interceptors {
		if i.Tap != nil {
			i.Tap(inv.ctx, tap.Clone())
		}
	}
}

func (inv *invocation) onLoop() {
	for _, i := range inv.interceptors {
		if i.Loop != nil {
			i.Loop(inv.ctx, inv.args...)
		}
	}
}

func (inv *invocation) onError(err error) {
	for _, i := range inv.interceptors {
		if i.Error != nil {
			i.Error(inv.ctx, err)
		}
	}
}

func (inv *invocation) onResult(result any) {
	for _, i := range inv.interceptors {
		if i.Result != nil {
			i.Result(inv.ctx, result)
		}
	}
}

func (inv *invocation) onDone() {
	for _, i := range inv.interceptors {
		if i.Done != nil {
			i.Done(inv.ctx)
		}
	}
}

// fail reports err to the error interceptors and to done.
func (inv *invocation) fail(err error, done hook.Callback) {
	inv.onError(err)
	done(err, nil)
}

// strategy drives the taps of one invocation and calls done exactly once.
type strategy func(inv *invocation, done hook.Callback)

// once guards a callback against being called more than once.
func once(cb hook.Callback) hook.Callback {
	var o sync.Once
	return func(err error, result any) {
		o.Do(func() { cb(err, result) })
	}
}

// invoke runs a single tap whatever its kind and reports the outcome to cb.
// Sync taps report before invoke returns. A panic raised by the tap before it
// reported is turned into a tap panic error; panics raised after that belong
// to the continuation and are propagated.
func invoke(tap hook.Tap, args []any, cb hook.Callback) {
	var (
		o        sync.Once
		reported atomic.Bool
	)
	report := func(err error, result any) {
		o.Do(func() {
			reported.Store(true)
			cb(err, result)
		})
	}
	defer func() {
		if r := recover(); r != nil {
			if reported.Load() {
				panic(r)
			}
			report(xerrors.New(xerrors.CodeTapPanic, fmt.Sprintf("tap %q panicked: %v", tap.Name, r), xerrors.WithMetadata("tap", tap.Name)), nil)
		}
	}()

	switch fn := tap.Fn.(type) {
	case hook.SyncFunc:
		result, err := fn(args...)
		report(err, result)
	case hook.AsyncFunc:
		fn(report, args...)
	case hook.PromiseFunc:
		p := fn(args...)
		if p == nil {
			report(xerrors.Newf(xerrors.CodeInvalidArgument, "tap %q returned no promise", tap.Name), nil)
			return
		}
		p.Then(report)
	default:
		report(xerrors.Newf(xerrors.CodeInvalidArgument, "tap %q has unsupported callback %T", tap.Name, tap.Fn), nil)
	}
}

// dispatcher builds the entry point for kind around run.
func dispatcher(in hook.CompileInput, run strategy) hook.Dispatcher {
	switch in.Kind {
	case hook.KindSync:
		return hook.Dispatcher{Sync: func(args ...any) (any, error) {
			var (
				result   any
				err      error
				finished bool
			)
			run(newInvocation(in, args), once(func(e error, r any) {
				result, err, finished = r, e, true
			}))
			if !finished {
				return nil, xerrors.Newf(xerrors.CodeUnsupported, "hook %q did not complete synchronously", in.Name)
			}
			return result, err
		}}
	case hook.KindAsync:
		return hook.Dispatcher{Async: func(done hook.Callback, args ...any) {
			run(newInvocation(in, args), once(done))
		}}
	case hook.KindPromise:
		return hook.Dispatcher{Promise: func(args ...any) *hook.Promise {
			p, settle := hook.Deferred()
			run(newInvocation(in, args), settle)
			return p
		}}
	default:
		return hook.Dispatcher{}
	}
}

// stop is returned by a walk step once the invocation has completed.
const stop = -1

const (
	pending int32 = iota
	inline
	deferred
)

// walk drives taps sequentially starting at index i. enter is called before
// each tap and reports false once the walk has finished. step receives the
// outcome of tap i and returns the next index or stop. Taps reporting before
// invoke returns are followed by the loop itself; only taps reporting later
// resume the walk from their callback, so the stack does not grow with the
// number of taps run.
func (inv *invocation) walk(i int, enter func(i int) bool, step func(i int, err error, result any) int) {
	for enter(i) {
		var (
			state atomic.Int32
			next  int
		)
		current := i
		tap := inv.taps[current]
		inv.onTap(tap)
		invoke(tap, inv.args, func(err error, result any) {
			n := step(current, err, result)
			if n == stop {
				return
			}
			next = n
			if state.CompareAndSwap(pending, inline) {
				return
			}
			inv.walk(n, enter, step)
		})
		if state.CompareAndSwap(pending, deferred) {
			return
		}
		i = next
	}
}
