package hook

import (
	"log/slog"
	"slices"
	"sync"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
)

// Tapper is the registration surface handed to plugins.
type Tapper interface {
	Tap(options any, fn SyncFunc) error
	TapAsync(options any, fn AsyncFunc) error
	TapPromise(options any, fn PromiseFunc) error
}

// Tappable is the full plugin-facing surface of a hook.
type Tappable interface {
	Tapper
	Intercept(in Interceptor)
	IsUsed() bool
	WithOptions(preset TapOptions) *Curried
}

// Hook is an extension point. Plugins register taps on it, the host invokes
// it through Call, CallAsync or Promise.
type Hook struct {
	mu sync.Mutex

	name         string
	args         []string
	taps         []Tap
	interceptors []Interceptor
	compiler     Compiler
	kinds        map[Kind]struct{}
	slots        [3]slot

	logger *slog.Logger
}

// Option configures a Hook at construction time.
type Option func(*Hook)

// WithName labels the hook in logs and errors.
func WithName(name string) Option {
	return func(h *Hook) {
		h.name = name
	}
}

// WithLogger sets the logger used for compilation and interceptor events.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hook) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithKinds restricts the tap kinds the hook accepts. Registering any other
// kind fails with ErrUnsupported.
func WithKinds(kinds ...Kind) Option {
	return func(h *Hook) {
		h.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			h.kinds[k] = struct{}{}
		}
	}
}

// New creates a hook whose dispatchers take len(args) positional arguments
// and are produced by compiler. A nil compiler leaves the hook abstract:
// every dispatch fails with ErrNotImplemented.
func New(args []string, compiler Compiler, opts ...Option) *Hook {
	h := &Hook{
		args:     slices.Clone(args),
		compiler: compiler,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Name returns the label set with WithName.
func (h *Hook) Name() string {
	return h.name
}

// Args returns a copy of the formal argument names.
func (h *Hook) Args() []string {
	return slices.Clone(h.args)
}

// Taps returns a snapshot of the registered taps in dispatch order.
func (h *Hook) Taps() []Tap {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneTaps(h.taps)
}

// Interceptors returns a snapshot of the registered interceptors.
func (h *Hook) Interceptors() []Interceptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.interceptors)
}

// IsUsed reports whether any tap or interceptor is registered. Hosts use it
// to skip hooks nobody observes.
func (h *Hook) IsUsed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.taps) > 0 || len(h.interceptors) > 0
}

// Tap registers a synchronous tap. options is a name, a TapOptions record
// (value or pointer) or a map with name/stage/before keys.
func (h *Hook) Tap(options any, fn SyncFunc) error {
	var cb any
	if fn != nil {
		cb = fn
	}
	return h.register("tap", KindSync, options, cb)
}

// TapAsync registers a callback-style tap.
func (h *Hook) TapAsync(options any, fn AsyncFunc) error {
	var cb any
	if fn != nil {
		cb = fn
	}
	return h.register("tapAsync", KindAsync, options, cb)
}

// TapPromise registers a promise-returning tap.
func (h *Hook) TapPromise(options any, fn PromiseFunc) error {
	var cb any
	if fn != nil {
		cb = fn
	}
	return h.register("tapPromise", KindPromise, options, cb)
}

func (h *Hook) register(op string, kind Kind, options any, fn any) error {
	opts, err := parseOptions(op, options)
	if err != nil {
		return err
	}
	tap, err := newTap(op, kind, opts, fn)
	if err != nil {
		return err
	}
	if h.kinds != nil {
		if _, ok := h.kinds[kind]; !ok {
			return xerrors.Newf(xerrors.CodeUnsupported, "%s is not supported on hook %q", op, h.name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.insert(runRegisterInterceptors(h.interceptors, tap))
	return nil
}

// Intercept appends in and immediately applies its Register transform to
// every tap registered so far.
func (h *Hook) Intercept(in Interceptor) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.resetCompilation()
	h.interceptors = append(h.interceptors, in)
	if in.Register != nil {
		for i := range h.taps {
			h.taps[i] = applyRegister(in, h.taps[i])
		}
	}
	h.logger.Debug("hook interceptor added",
		slog.String("hook", h.name),
		slog.String("interceptor", in.Name),
		slog.Int("taps", len(h.taps)),
	)
}

// WithOptions returns a handle whose Tap family merges preset into every
// registration on h.
func (h *Hook) WithOptions(preset TapOptions) *Curried {
	return &Curried{Hook: h, preset: preset.clone()}
}

// insert places item so that taps stay ordered by their before constraints
// and stages, keeping registration order among unconstrained taps. Before
// names are resolved only against taps that already exist. Callers hold mu.
func (h *Hook) insert(item Tap) {
	h.resetCompilation()

	var before map[string]struct{}
	if item.Before != nil {
		before = make(map[string]struct{}, len(item.Before))
		for _, name := range item.Before {
			before[name] = struct{}{}
		}
	}

	i := len(h.taps)
	h.taps = append(h.taps, Tap{})
	for i > 0 {
		i--
		x := h.taps[i]
		h.taps[i+1] = x
		if before != nil {
			if _, ok := before[x.Name]; ok {
				delete(before, x.Name)
				continue
			}
			if len(before) > 0 {
				continue
			}
		}
		if x.Stage > item.Stage {
			continue
		}
		i++
		break
	}
	h.taps[i] = item
}

func cloneTaps(taps []Tap) []Tap {
	out := make([]Tap, len(taps))
	for i, t := range taps {
		out[i] = t.Clone()
	}
	return out
}
