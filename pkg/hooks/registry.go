package hooks

import (
	"slices"
	"sync"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
	"github.com/zhangpanweb/tapable/pkg/hook"
)

// TapInfo is the serialisable view of a registered tap.
type TapInfo struct {
	Name   string    `json:"name"`
	Kind   hook.Kind `json:"kind"`
	Stage  int       `json:"stage"`
	Before []string  `json:"before,omitempty"`
	Plugin string    `json:"plugin,omitempty"`
}

// Descriptor describes a registered hook for introspection.
type Descriptor struct {
	Name         string    `json:"name"`
	Family       Family    `json:"family,omitempty"`
	Args         []string  `json:"args"`
	Taps         []TapInfo `json:"taps"`
	Interceptors []string  `json:"interceptors,omitempty"`
	Used         bool      `json:"used"`
}

type entry struct {
	family Family
	hook   *hook.Hook
}

// Registry is a host's named collection of hooks.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds h under name. Hooks created outside this package carry no
// family.
func (r *Registry) Register(name string, h *hook.Hook) error {
	return r.add(name, "", h)
}

// Create builds a hook of family and registers it under name.
func (r *Registry) Create(name string, family Family, args []string, opts ...hook.Option) (*hook.Hook, error) {
	opts = append(slices.Clone(opts), hook.WithName(name))
	h, err := New(family, args, opts...)
	if err != nil {
		return nil, err
	}
	if err := r.add(name, family, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *Registry) add(name string, family Family, h *hook.Hook) error {
	if name == "" {
		return xerrors.New(xerrors.CodeMissingName, "hook name is required")
	}
	if h == nil {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "hook %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return xerrors.Newf(xerrors.CodeConflict, "hook %q already registered", name)
	}
	r.entries[name] = entry{family: family, hook: h}
	return nil
}

// Get returns the hook registered under name.
func (r *Registry) Get(name string) (*hook.Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.hook, ok
}

// MustGet returns the hook registered under name or panics.
func (r *Registry) MustGet(name string) *hook.Hook {
	h, ok := r.Get(name)
	if !ok {
		panic(xerrors.Newf(xerrors.CodeNotFound, "hook %q not registered", name))
	}
	return h
}

// Family returns the family name was created with.
func (r *Registry) Family(name string) (Family, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.family, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Describe returns the descriptor of name.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, false
	}
	return describe(name, e), true
}

// DescribeAll returns descriptors of every hook sorted by name.
func (r *Registry) DescribeAll() []Descriptor {
	names := r.Names()
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		if d, ok := r.Describe(name); ok {
			out = append(out, d)
		}
	}
	return out
}

func describe(name string, e entry) Descriptor {
	taps := e.hook.Taps()
	d := Descriptor{
		Name:   name,
		Family: e.family,
		Args:   e.hook.Args(),
		Taps:   make([]TapInfo, len(taps)),
		Used:   e.hook.IsUsed(),
	}
	if d.Args == nil {
		d.Args = []string{}
	}
	for i, t := range taps {
		info := TapInfo{Name: t.Name, Kind: t.Kind, Stage: t.Stage, Before: t.Before}
		info.Plugin, _ = t.Meta["plugin"].(string)
		d.Taps[i] = info
	}
	for _, in := range e.hook.Interceptors() {
		if in.Name != "" {
			d.Interceptors = append(d.Interceptors, in.Name)
		}
	}
	return d
}
