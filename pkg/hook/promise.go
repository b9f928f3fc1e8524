package hook

import (
	"context"
	"fmt"
	"sync"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
)

// Promise is a single-assignment future used by the promise discipline.
type Promise struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Deferred returns a pending promise together with the Callback that
// settles it. Only the first call of the callback has an effect.
func Deferred() (*Promise, Callback) {
	p := newPromise()
	return p, p.settle
}

// Resolve returns a promise already fulfilled with value.
func Resolve(value any) *Promise {
	p := newPromise()
	p.settle(nil, value)
	return p
}

// Reject returns a promise already rejected with err.
func Reject(err error) *Promise {
	p := newPromise()
	p.settle(err, nil)
	return p
}

// Go runs fn on a new goroutine and settles the returned promise with its
// outcome. A panic in fn rejects the promise.
func Go(fn func() (any, error)) *Promise {
	p := newPromise()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.settle(xerrors.New(xerrors.CodeTapPanic, fmt.Sprintf("promise panicked: %v", r)), nil)
			}
		}()
		value, err := fn()
		p.settle(err, value)
	}()
	return p
}

func (p *Promise) settle(err error, value any) {
	p.once.Do(func() {
		p.value = value
		p.err = err
		close(p.done)
	})
}

// Done is closed once the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the promise settles or ctx ends. Giving up on ctx does
// not cancel the work behind the promise.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then calls cb with the outcome once the promise settles. A settled promise
// runs cb immediately on the calling goroutine.
func (p *Promise) Then(cb Callback) {
	select {
	case <-p.done:
		cb(p.err, p.value)
	default:
		go func() {
			<-p.done
			cb(p.err, p.value)
		}()
	}
}
