package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zhangpanweb/tapable/pkg/hook"
)

func await(t *testing.T, p *hook.Promise) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := p.Await(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("promise did not settle")
	}
	return res, err
}

func callAsync(t *testing.T, h *hook.Hook, args ...any) (any, error) {
	t.Helper()
	type outcome struct {
		err    error
		result any
	}
	ch := make(chan outcome, 1)
	if err := h.CallAsync(func(err error, result any) {
		ch <- outcome{err: err, result: result}
	}, args...); err != nil {
		t.Fatalf("callAsync: %v", err)
	}
	select {
	case o := <-ch:
		return o.result, o.err
	case <-time.After(2 * time.Second):
		t.Fatalf("callAsync did not complete")
		return nil, nil
	}
}

func TestSyncHookRunsInOrder(t *testing.T) {
	h := NewSyncHook([]string{"name"})
	var seen []string
	for _, n := range []string{"a", "b", "c"} {
		if err := h.Tap(n, func(args ...any) (any, error) {
			seen = append(seen, fmt.Sprintf("%s:%v", n, args[0]))
			return "ignored", nil
		}); err != nil {
			t.Fatalf("tap: %v", err)
		}
	}
	res, err := h.Call("x")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res != nil {
		t.Fatalf("sync hook must not return results, got %v", res)
	}
	if fmt.Sprint(seen) != "[a:x b:x c:x]" {
		t.Fatalf("unexpected calls: %v", seen)
	}
}

func TestSyncHookRejectsAsyncTaps(t *testing.T) {
	h := NewSyncHook(nil)
	if err := h.TapAsync("a", func(done hook.Callback, args ...any) { done(nil, nil) }); !errors.Is(err, hook.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if err := h.TapPromise("a", func(args ...any) *hook.Promise { return hook.Resolve(nil) }); !errors.Is(err, hook.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestSyncHookStopsOnError(t *testing.T) {
	h := NewSyncHook(nil)
	boom := errors.New("boom")
	calledLast := false
	_ = h.Tap("a", func(args ...any) (any, error) { return nil, boom })
	_ = h.Tap("b", func(args ...any) (any, error) { calledLast = true; return nil, nil })

	var intercepted error
	h.Intercept(hook.Interceptor{Name: "err", Error: func(_ hook.CallContext, err error) { intercepted = err }})

	if _, err := h.Call(); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calledLast {
		t.Fatalf("second tap must not run")
	}
	if !errors.Is(intercepted, boom) {
		t.Fatalf("error interceptor saw %v", intercepted)
	}
}

func TestSyncTapPanicIsRecovered(t *testing.T) {
	h := NewSyncHook(nil)
	_ = h.Tap("bad", func(args ...any) (any, error) { panic("kaboom") })
	if _, err := h.Call(); !errors.Is(err, hook.ErrTapPanic) {
		t.Fatalf("expected tap panic, got %v", err)
	}
}

func TestSyncBailHook(t *testing.T) {
	h := NewSyncBailHook([]string{"n"})
	var calls []string
	_ = h.Tap("none", func(args ...any) (any, error) { calls = append(calls, "none"); return nil, nil })
	_ = h.Tap("hit", func(args ...any) (any, error) { calls = append(calls, "hit"); return args[0].(int) * 2, nil })
	_ = h.Tap("skipped", func(args ...any) (any, error) { calls = append(calls, "skipped"); return 0, nil })

	var result any
	h.Intercept(hook.Interceptor{Name: "result", Result: func(_ hook.CallContext, r any) { result = r }})

	res, err := h.Call(21)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res != 42 || result != 42 {
		t.Fatalf("expected 42, got %v (interceptor %v)", res, result)
	}
	if fmt.Sprint(calls) != "[none hit]" {
		t.Fatalf("unexpected calls: %v", calls)
	}
}

func TestSyncWaterfallHook(t *testing.T) {
	h := NewSyncWaterfallHook([]string{"value", "step"})
	_ = h.Tap("double", func(args ...any) (any, error) { return args[0].(int) * 2, nil })
	_ = h.Tap("keep", func(args ...any) (any, error) { return nil, nil })
	_ = h.Tap("inc", func(args ...any) (any, error) { return args[0].(int) + args[1].(int), nil })

	res, err := h.Call(5, 3)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res != 13 {
		t.Fatalf("expected 13, got %v", res)
	}
}

func TestWaterfallNeedsArgument(t *testing.T) {
	h := NewSyncWaterfallHook(nil)
	if _, err := h.Call(); !errors.Is(err, hook.ErrCompile) {
		t.Fatalf("expected compile error, got %v", err)
	}
}

func TestSyncLoopHook(t *testing.T) {
	h := NewSyncLoopHook(nil)
	var calls []string
	remaining := 2
	_ = h.Tap("first", func(args ...any) (any, error) {
		calls = append(calls, "first")
		return nil, nil
	})
	_ = h.Tap("repeat", func(args ...any) (any, error) {
		calls = append(calls, "repeat")
		if remaining > 0 {
			remaining--
			return true, nil
		}
		return nil, nil
	})
	loops := 0
	h.Intercept(hook.Interceptor{Name: "loop", Loop: func(hook.CallContext, ...any) { loops++ }})

	if _, err := h.Call(); err != nil {
		t.Fatalf("call: %v", err)
	}
	if fmt.Sprint(calls) != "[first repeat first repeat first repeat]" {
		t.Fatalf("unexpected calls: %v", calls)
	}
	if loops != 3 {
		t.Fatalf("expected 3 passes, got %d", loops)
	}
}

func TestSyncLoopHookLongRun(t *testing.T) {
	const restarts = 1_000_000
	h := NewSyncLoopHook(nil)
	n := 0
	_ = h.Tap("retry", func(args ...any) (any, error) {
		n++
		if n < restarts {
			return true, nil
		}
		return nil, nil
	})

	if _, err := h.Call(); err != nil {
		t.Fatalf("call: %v", err)
	}
	if n != restarts {
		t.Fatalf("expected %d runs, got %d", restarts, n)
	}
}

func TestAsyncSeriesLoopInlineCallbacks(t *testing.T) {
	const restarts = 300_000
	h := NewAsyncSeriesLoopHook(nil)
	n := 0
	_ = h.TapAsync("retry", func(done hook.Callback, args ...any) {
		n++
		if n < restarts {
			done(nil, true)
			return
		}
		done(nil, nil)
	})
	_ = h.TapPromise("settled", func(args ...any) *hook.Promise {
		return hook.Resolve(nil)
	})

	if _, err := callAsync(t, h); err != nil {
		t.Fatalf("callAsync: %v", err)
	}
	if n != restarts {
		t.Fatalf("expected %d runs, got %d", restarts, n)
	}
}

func TestSyncWaterfallManyTaps(t *testing.T) {
	const taps = 100_000
	h := NewSyncWaterfallHook([]string{"n"})
	for i := 0; i < taps; i++ {
		_ = h.Tap(fmt.Sprintf("inc-%d", i), func(args ...any) (any, error) {
			return args[0].(int) + 1, nil
		})
	}
	res, err := h.Call(0)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res != taps {
		t.Fatalf("expected %d, got %v", taps, res)
	}
}

func TestTapAddedDuringCallAppliesToNextCall(t *testing.T) {
	h := NewAsyncSeriesHook(nil)
	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}
	added := false
	_ = h.TapAsync("first", func(done hook.Callback, args ...any) {
		record("first")
		if !added {
			added = true
			if err := h.Tap("late", func(args ...any) (any, error) {
				record("late")
				return nil, nil
			}); err != nil {
				done(err, nil)
				return
			}
		}
		go done(nil, nil)
	})
	_ = h.Tap("second", func(args ...any) (any, error) {
		record("second")
		return nil, nil
	})

	if _, err := callAsync(t, h); err != nil {
		t.Fatalf("first call: %v", err)
	}
	mu.Lock()
	got := fmt.Sprint(order)
	order = nil
	mu.Unlock()
	if got != "[first second]" {
		t.Fatalf("tap registered mid-call must not join that call: %v", got)
	}

	if _, err := callAsync(t, h); err != nil {
		t.Fatalf("second call: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(order) != "[first second late]" {
		t.Fatalf("next call must include the new tap: %v", order)
	}
	if len(h.Taps()) != 3 {
		t.Fatalf("expected 3 taps, got %d", len(h.Taps()))
	}
}

func TestAsyncSeriesMixesKinds(t *testing.T) {
	h := NewAsyncSeriesHook([]string{"log"})
	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}
	_ = h.Tap("sync", func(args ...any) (any, error) { record("sync"); return nil, nil })
	_ = h.TapAsync("async", func(done hook.Callback, args ...any) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			record("async")
			done(nil, nil)
		}()
	})
	_ = h.TapPromise("promise", func(args ...any) *hook.Promise {
		return hook.Go(func() (any, error) { record("promise"); return nil, nil })
	})

	if _, err := callAsync(t, h); err != nil {
		t.Fatalf("callAsync: %v", err)
	}
	p, err := h.Promise()
	if err != nil {
		t.Fatalf("promise: %v", err)
	}
	if _, err := await(t, p); err != nil {
		t.Fatalf("await: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(order) != "[sync async promise sync async promise]" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestAsyncHookRejectsCall(t *testing.T) {
	h := NewAsyncSeriesHook(nil)
	if _, err := h.Call(); !errors.Is(err, hook.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestAsyncSeriesWaterfallHook(t *testing.T) {
	h := NewAsyncSeriesWaterfallHook([]string{"text"})
	_ = h.TapPromise("upper", func(args ...any) *hook.Promise {
		return hook.Resolve(args[0].(string) + "!")
	})
	_ = h.TapAsync("wrap", func(done hook.Callback, args ...any) {
		done(nil, "<"+args[0].(string)+">")
	})
	res, err := callAsync(t, h, "hi")
	if err != nil {
		t.Fatalf("callAsync: %v", err)
	}
	if res != "<hi!>" {
		t.Fatalf("unexpected result: %v", res)
	}
}

func TestAsyncSeriesBailPromiseRejection(t *testing.T) {
	h := NewAsyncSeriesBailHook(nil)
	boom := errors.New("rejected")
	_ = h.TapPromise("reject", func(args ...any) *hook.Promise { return hook.Reject(boom) })
	p, err := h.Promise()
	if err != nil {
		t.Fatalf("promise: %v", err)
	}
	if _, err := await(t, p); !errors.Is(err, boom) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestAsyncParallelHookWaitsForAll(t *testing.T) {
	h := NewAsyncParallelHook(nil)
	boom := errors.New("first failure")
	var mu sync.Mutex
	finished := 0
	_ = h.TapAsync("slow", func(done hook.Callback, args ...any) {
		go func() {
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			finished++
			mu.Unlock()
			done(nil, nil)
		}()
	})
	_ = h.Tap("fail", func(args ...any) (any, error) {
		mu.Lock()
		finished++
		mu.Unlock()
		return nil, boom
	})

	_, err := callAsync(t, h)
	if !errors.Is(err, boom) {
		t.Fatalf("expected failure, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if finished != 2 {
		t.Fatalf("expected both taps to finish before completion, got %d", finished)
	}
}

func TestAsyncParallelBailPrefersLowestIndex(t *testing.T) {
	h := NewAsyncParallelBailHook(nil)
	_ = h.TapAsync("slow", func(done hook.Callback, args ...any) {
		go func() {
			time.Sleep(30 * time.Millisecond)
			done(nil, "slow")
		}()
	})
	_ = h.Tap("fast", func(args ...any) (any, error) { return "fast", nil })

	res, err := callAsync(t, h)
	if err != nil {
		t.Fatalf("callAsync: %v", err)
	}
	if res != "slow" {
		t.Fatalf("expected lowest-index result, got %v", res)
	}
}

func TestAsyncParallelBailFallsThrough(t *testing.T) {
	h := NewAsyncParallelBailHook(nil)
	_ = h.Tap("nothing", func(args ...any) (any, error) { return nil, nil })
	_ = h.TapPromise("later", func(args ...any) *hook.Promise {
		return hook.Go(func() (any, error) { return "later", nil })
	})
	p, err := h.Promise()
	if err != nil {
		t.Fatalf("promise: %v", err)
	}
	res, err := await(t, p)
	if err != nil || res != "later" {
		t.Fatalf("unexpected outcome: %v %v", res, err)
	}
}

func TestEmptyAsyncHooksComplete(t *testing.T) {
	for _, f := range []Family{FamilyAsyncSeries, FamilyAsyncParallel, FamilyAsyncParallelBail, FamilyAsyncSeriesLoop} {
		h, err := New(f, nil)
		if err != nil {
			t.Fatalf("new %s: %v", f, err)
		}
		if _, err := callAsync(t, h); err != nil {
			t.Fatalf("%s: %v", f, err)
		}
	}
}

func TestInterceptorLifecycleWithContext(t *testing.T) {
	h := NewSyncHook([]string{"a"})
	_ = h.Tap("t1", func(args ...any) (any, error) { return nil, nil })
	_ = h.Tap("t2", func(args ...any) (any, error) { return nil, nil })

	var events []string
	var shared hook.CallContext
	h.Intercept(hook.Interceptor{
		Name:    "trace",
		Context: true,
		Call: func(ctx hook.CallContext, args ...any) {
			ctx["started"] = true
			shared = ctx
			events = append(events, fmt.Sprintf("call:%v", args[0]))
		},
		Tap: func(ctx hook.CallContext, tap hook.Tap) {
			if ctx["started"] != true {
				t.Errorf("tap interceptor did not share the call context")
			}
			events = append(events, "tap:"+tap.Name)
		},
		Done: func(ctx hook.CallContext) { events = append(events, "done") },
	})

	if _, err := h.Call(1); err != nil {
		t.Fatalf("call: %v", err)
	}
	if fmt.Sprint(events) != "[call:1 tap:t1 tap:t2 done]" {
		t.Fatalf("unexpected events: %v", events)
	}
	if shared == nil {
		t.Fatalf("expected a call context")
	}
}

func TestNoContextWithoutRequest(t *testing.T) {
	h := NewSyncHook(nil)
	_ = h.Tap("t", func(args ...any) (any, error) { return nil, nil })
	h.Intercept(hook.Interceptor{Name: "plain", Call: func(ctx hook.CallContext, _ ...any) {
		if ctx != nil {
			t.Errorf("context allocated without request")
		}
	}})
	if _, err := h.Call(); err != nil {
		t.Fatalf("call: %v", err)
	}
}

func TestNewUnknownFamily(t *testing.T) {
	if _, err := New("NoSuchHook", nil); !errors.Is(err, hook.ErrInvalidArguments) {
		t.Fatalf("expected invalid arguments, got %v", err)
	}
	if len(Families()) != 10 {
		t.Fatalf("expected 10 families, got %v", Families())
	}
}
