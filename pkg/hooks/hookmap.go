package hooks

import (
	"slices"
	"sync"

	"github.com/zhangpanweb/tapable/pkg/hook"
)

// HookFactory creates the hook stored under key.
type HookFactory func(key string) *hook.Hook

// MapInterceptor observes hook creation in a HookMap. Factory may return a
// replacement for the freshly created hook.
type MapInterceptor struct {
	Name    string
	Factory func(key string, h *hook.Hook) *hook.Hook
}

// HookMap lazily creates one hook per key.
type HookMap struct {
	mu           sync.Mutex
	name         string
	factory      HookFactory
	hooks        map[string]*hook.Hook
	keys         []string
	interceptors []MapInterceptor
}

// MapOption configures a HookMap.
type MapOption func(*HookMap)

// WithMapName labels the map.
func WithMapName(name string) MapOption {
	return func(m *HookMap) {
		m.name = name
	}
}

// NewHookMap creates a map whose hooks are produced by factory.
func NewHookMap(factory HookFactory, opts ...MapOption) *HookMap {
	m := &HookMap{
		factory: factory,
		hooks:   make(map[string]*hook.Hook),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Name returns the label set with WithMapName.
func (m *HookMap) Name() string {
	return m.name
}

// Get returns the hook for key without creating it.
func (m *HookMap) Get(key string) (*hook.Hook, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hooks[key]
	return h, ok
}

// For returns the hook for key, creating it on first use.
func (m *HookMap) For(key string) *hook.Hook {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.hooks[key]; ok {
		return h
	}
	h := m.factory(key)
	for _, i := range m.interceptors {
		if i.Factory == nil {
			continue
		}
		if replaced := i.Factory(key, h); replaced != nil {
			h = replaced
		}
	}
	m.hooks[key] = h
	m.keys = append(m.keys, key)
	return h
}

// Keys returns the keys created so far in creation order.
func (m *HookMap) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.keys)
}

// Intercept adds a factory interceptor. Hooks that already exist are not
// affected.
func (m *HookMap) Intercept(in MapInterceptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interceptors = append(m.interceptors, in)
}
