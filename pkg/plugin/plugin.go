package plugin

import (
	"context"
	"slices"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
	"github.com/zhangpanweb/tapable/pkg/hook"
)

// Plugin is the contract every plugin implementation must satisfy.
type Plugin interface {
	// Info returns the static metadata for the plugin.
	Info() Info
	// Configure allows the plugin to inspect its configuration block before it is applied.
	// Implementations may mutate the configuration map to inject defaults.
	Configure(cfg map[string]any) error
	// Apply taps the host hooks exposed through ctx.
	Apply(ctx *ApplyContext) error
}

// Stopper is implemented by plugins holding resources that must be released.
type Stopper interface {
	Stop(ctx *ApplyContext) error
}

// HookProvider resolves host hooks by name.
type HookProvider interface {
	Get(name string) (*hook.Hook, bool)
}

// ApplyContext is passed to plugins when they are applied or stopped.
type ApplyContext struct {
	// C is the underlying context for cancellation and deadlines.
	C context.Context
	// PluginID identifies the plugin being applied.
	PluginID string
	// Config is the plugin specific configuration block merged with manager overrides.
	Config map[string]any
	// Resources exposes shared services supplied by the host application.
	Resources map[string]any

	hooks  HookProvider
	preset hook.TapOptions
	policy IsolationPolicy
	info   Info
}

// Hook returns the named host hook curried with the plugin's preset
// options, so every tap carries the plugin id and configured ordering.
func (c *ApplyContext) Hook(name string) (*hook.Curried, error) {
	if len(c.info.Hooks) > 0 && !slices.Contains(c.info.Hooks, name) {
		return nil, xerrors.Newf(xerrors.CodePermissionDenied, "plugin %s did not declare hook %s", c.PluginID, name)
	}
	if err := checkHook(name, c.policy); err != nil {
		return nil, err
	}
	if c.hooks == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "no hooks available to plugins")
	}
	h, ok := c.hooks.Get(name)
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "hook %s not found", name)
	}
	return h.WithOptions(c.preset), nil
}

// Clone returns a shallow copy of the apply context so plugins can safely mutate maps.
func (c *ApplyContext) Clone() *ApplyContext {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Config != nil {
		dup.Config = cloneConfig(c.Config)
	}
	if c.Resources != nil {
		dup.Resources = cloneConfig(c.Resources)
	}
	return &dup
}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithHooks sets the hooks plugins are applied to.
func WithHooks(hooks HookProvider) Option {
	return func(m *Manager) {
		if hooks != nil {
			m.hooks = hooks
		}
	}
}

// WithLoader overrides the default binary loader implementation.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolationStrategy sets a custom isolation policy enforcement strategy.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithResource registers a shared resource that will be exposed to all plugins.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key == "" || value == nil {
			return
		}
		if m.resources == nil {
			m.resources = make(map[string]any)
		}
		m.resources[key] = value
	}
}
