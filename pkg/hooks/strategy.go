package hooks

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zhangpanweb/tapable/pkg/hook"
)

// seriesMode selects how series strategies treat tap results.
type seriesMode uint8

const (
	seriesPlain seriesMode = iota
	seriesBail
	seriesWaterfall
)

// series runs taps one after another. The first error stops the chain.
func series(mode seriesMode) strategy {
	return func(inv *invocation, done hook.Callback) {
		inv.onCall()
		enter := func(i int) bool {
			if i < len(inv.taps) {
				return true
			}
			if mode == seriesWaterfall {
				inv.onResult(inv.args[0])
				done(nil, inv.args[0])
				return false
			}
			inv.onDone()
			done(nil, nil)
			return false
		}
		inv.walk(0, enter, func(i int, err error, result any) int {
			if err != nil {
				inv.fail(err, done)
				return stop
			}
			if result != nil {
				switch mode {
				case seriesBail:
					inv.onResult(result)
					done(nil, result)
					return stop
				case seriesWaterfall:
					inv.args[0] = result
				}
			}
			return i + 1
		})
	}
}

// loop runs taps in order and restarts from the first tap whenever one
// returns a non-nil result. It completes once a full pass returns nothing.
func loop(inv *invocation, done hook.Callback) {
	inv.onCall()
	enter := func(i int) bool {
		if i == 0 {
			inv.onLoop()
		}
		if i < len(inv.taps) {
			return true
		}
		inv.onDone()
		done(nil, nil)
		return false
	}
	inv.walk(0, enter, func(i int, err error, result any) int {
		if err != nil {
			inv.fail(err, done)
			return stop
		}
		if result != nil {
			return 0
		}
		return i + 1
	})
}

// parallel starts every tap at once and completes when all of them have.
// The first error is reported after the remaining taps finish.
func parallel(inv *invocation, done hook.Callback) {
	inv.onCall()
	if len(inv.taps) == 0 {
		inv.onDone()
		done(nil, nil)
		return
	}
	for _, tap := range inv.taps {
		inv.onTap(tap)
	}

	var g errgroup.Group
	for _, tap := range inv.taps {
		g.Go(func() error {
			outcome := make(chan error, 1)
			invoke(tap, inv.args, func(err error, _ any) {
				outcome <- err
			})
			return <-outcome
		})
	}
	go func() {
		if err := g.Wait(); err != nil {
			inv.fail(err, done)
			return
		}
		inv.onDone()
		done(nil, nil)
	}()
}

// parallelBail starts every tap at once. The outcome of the lowest-index
// tap that fails or returns a result wins, but only once every tap before
// it has completed.
func parallelBail(inv *invocation, done hook.Callback) {
	inv.onCall()
	n := len(inv.taps)
	if n == 0 {
		inv.onDone()
		done(nil, nil)
		return
	}
	for _, tap := range inv.taps {
		inv.onTap(tap)
	}

	type outcome struct {
		set    bool
		err    error
		result any
	}
	var (
		mu       sync.Mutex
		outcomes = make([]outcome, n)
		finished bool
	)
	settle := func(index int, err error, result any) {
		mu.Lock()
		if finished {
			mu.Unlock()
			return
		}
		outcomes[index] = outcome{set: true, err: err, result: result}
		for _, o := range outcomes {
			if !o.set {
				mu.Unlock()
				return
			}
			if o.err != nil || o.result != nil {
				finished = true
				mu.Unlock()
				if o.err != nil {
					inv.fail(o.err, done)
				} else {
					inv.onResult(o.result)
					done(nil, o.result)
				}
				return
			}
		}
		finished = true
		mu.Unlock()
		inv.onDone()
		done(nil, nil)
	}

	for index, tap := range inv.taps {
		go invoke(tap, inv.args, func(err error, result any) {
			settle(index, err, result)
		})
	}
}
