package hooks

import (
	"errors"

	"github.com/zhangpanweb/tapable/pkg/hook"
)

// MultiHook fans registrations out to several hooks at once.
type MultiHook struct {
	hooks []hook.Tappable
}

// NewMultiHook groups hooks. *hook.Hook and *hook.Curried both qualify.
func NewMultiHook(hooks ...hook.Tappable) *MultiHook {
	return &MultiHook{hooks: append([]hook.Tappable(nil), hooks...)}
}

// Tap registers fn on every hook. Errors are joined.
func (m *MultiHook) Tap(options any, fn hook.SyncFunc) error {
	var errs []error
	for _, h := range m.hooks {
		errs = append(errs, h.Tap(options, fn))
	}
	return errors.Join(errs...)
}

// TapAsync registers fn on every hook. Errors are joined.
func (m *MultiHook) TapAsync(options any, fn hook.AsyncFunc) error {
	var errs []error
	for _, h := range m.hooks {
		errs = append(errs, h.TapAsync(options, fn))
	}
	return errors.Join(errs...)
}

// TapPromise registers fn on every hook. Errors are joined.
func (m *MultiHook) TapPromise(options any, fn hook.PromiseFunc) error {
	var errs []error
	for _, h := range m.hooks {
		errs = append(errs, h.TapPromise(options, fn))
	}
	return errors.Join(errs...)
}

// Intercept adds in to every hook.
func (m *MultiHook) Intercept(in hook.Interceptor) {
	for _, h := range m.hooks {
		h.Intercept(in)
	}
}

// IsUsed reports whether any of the hooks is used.
func (m *MultiHook) IsUsed() bool {
	for _, h := range m.hooks {
		if h.IsUsed() {
			return true
		}
	}
	return false
}

// WithOptions returns a MultiHook over curried views of every hook.
func (m *MultiHook) WithOptions(preset hook.TapOptions) *MultiHook {
	curried := make([]hook.Tappable, len(m.hooks))
	for i, h := range m.hooks {
		curried[i] = h.WithOptions(preset)
	}
	return &MultiHook{hooks: curried}
}
