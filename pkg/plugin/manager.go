package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
	"github.com/zhangpanweb/tapable/pkg/hook"
	"github.com/zhangpanweb/tapable/pkg/logger"
)

// Manager keeps track of registered plugins and applies them to host hooks.
type Manager struct {
	mu        sync.RWMutex
	registry  map[string]*instance
	order     []string
	hooks     HookProvider
	loader    Loader
	isolation IsolationStrategy
	resources map[string]any
	defaults  IsolationPolicy
}

type instance struct {
	mu     sync.Mutex
	Plugin Plugin
	Info   Info
	State  State
	Config map[string]any
	Policy IsolationPolicy
	Preset hook.TapOptions
	Source string
}

// Registration carries the per-plugin settings used by Register and Load.
type Registration struct {
	Config map[string]any
	Policy *IsolationPolicy
	Stage  *int
	Before []string
}

// NewManager constructs a manager using the supplied configuration and options.
// Enabled plugins listed in cfg are loaded in id order.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry:  make(map[string]*instance),
		loader:    GoPluginLoader{},
		isolation: NewIsolationStrategy(nil),
		resources: make(map[string]any),
		defaults:  cfg.Defaults,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.isolation = NewIsolationStrategy(m.isolation)
	if err := m.loadConfigured(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Register registers a plugin instance directly with the manager.
func (m *Manager) Register(id string, p Plugin, reg Registration) error {
	return m.register(id, p, reg, "manual")
}

func (m *Manager) register(id string, p Plugin, reg Registration, source string) error {
	if id == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin id cannot be empty")
	}
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin implementation cannot be nil")
	}
	info := p.Info()
	if info.ID != "" && info.ID != id {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "plugin id mismatch: %s != %s", info.ID, id)
	}
	policy := MergePolicies(m.defaults, reg.Policy)
	if err := EnsurePolicy(info, policy); err != nil {
		return err
	}
	if err := m.isolation.Validate(info, policy); err != nil {
		return err
	}
	cfg := cloneConfig(reg.Config)
	if err := p.Configure(cfg); err != nil {
		return fmt.Errorf("configure plugin %s: %w", id, err)
	}
	preset := hook.TapOptions{
		Stage:  reg.Stage,
		Before: slices.Clone(reg.Before),
		Meta:   map[string]any{"plugin": id},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[id]; exists {
		return xerrors.Newf(xerrors.CodeConflict, "plugin %s already registered", id)
	}
	m.registry[id] = &instance{
		Plugin: p,
		Info:   mergeInfo(info, id),
		State:  StateRegistered,
		Config: cfg,
		Policy: policy,
		Preset: preset,
		Source: source,
	}
	m.order = append(m.order, id)
	logger.Audit().Info("plugin registered",
		slog.String("plugin", id),
		slog.String("source", source),
		slog.String("policy", describePolicy(policy)),
	)
	return nil
}

// Load loads a plugin implementation from disk and registers it with the manager.
func (m *Manager) Load(id string, path string, reg Registration) error {
	if path == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin path cannot be empty")
	}
	p, err := m.loader.Load(path)
	if err != nil {
		return fmt.Errorf("load plugin from %s: %w", path, err)
	}
	return m.register(id, p, reg, path)
}

// Apply lets a registered plugin tap the host hooks. Applying twice is a no-op.
// When the plugin fails partway, taps it registered before the failure stay
// on the host hooks, since hooks have no unregister operation; the plugin
// remains in the registered state.
func (m *Manager) Apply(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	switch inst.State {
	case StateApplied:
		return nil
	case StateStopped:
		return xerrors.Newf(xerrors.CodeConflict, "plugin %s was stopped", id)
	}
	if m.hooks == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "plugin manager has no hooks")
	}
	if err := m.isolation.Prepare(inst.Info); err != nil {
		return fmt.Errorf("prepare isolation for %s: %w", id, err)
	}
	if err := inst.Plugin.Apply(m.applyContext(ctx, id, inst)); err != nil {
		_ = m.isolation.Cleanup(inst.Info)
		return fmt.Errorf("apply plugin %s: %w", id, err)
	}
	inst.State = StateApplied
	logger.Audit().Info("plugin applied", slog.String("plugin", id))
	return nil
}

// Stop releases a plugin that has been applied. Taps it registered stay in
// place; hooks have no unregister operation.
func (m *Manager) Stop(ctx context.Context, id string) error {
	inst, err := m.get(id)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.State != StateApplied {
		return nil
	}
	if stopper, ok := inst.Plugin.(Stopper); ok {
		if err := stopper.Stop(m.applyContext(ctx, id, inst)); err != nil {
			return fmt.Errorf("stop plugin %s: %w", id, err)
		}
	}
	if err := m.isolation.Cleanup(inst.Info); err != nil {
		return fmt.Errorf("cleanup isolation for %s: %w", id, err)
	}
	inst.State = StateStopped
	logger.Audit().Info("plugin stopped", slog.String("plugin", id))
	return nil
}

// ApplyAll applies every registered plugin in registration order.
func (m *Manager) ApplyAll(ctx context.Context) error {
	for _, id := range m.IDs() {
		if err := m.Apply(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every applied plugin in reverse registration order and
// reports all failures.
func (m *Manager) StopAll(ctx context.Context) error {
	ids := m.IDs()
	slices.Reverse(ids)
	var errs []error
	for _, id := range ids {
		errs = append(errs, m.Stop(ctx, id))
	}
	return errors.Join(errs...)
}

// State returns the lifecycle state of a plugin.
func (m *Manager) State(id string) (State, error) {
	inst, err := m.get(id)
	if err != nil {
		return "", err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.State, nil
}

// IDs returns the registered plugin ids in registration order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

// Info returns the metadata of a registered plugin.
func (m *Manager) Info(id string) (Info, error) {
	inst, err := m.get(id)
	if err != nil {
		return Info{}, err
	}
	return inst.Info, nil
}

func (m *Manager) applyContext(ctx context.Context, id string, inst *instance) *ApplyContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ApplyContext{
		C:         ctx,
		PluginID:  id,
		Config:    cloneConfig(inst.Config),
		Resources: cloneConfig(m.resources),
		hooks:     m.hooks,
		preset:    inst.Preset,
		policy:    inst.Policy,
		info:      inst.Info,
	}
}

func (m *Manager) get(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.registry[id]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "plugin %s not registered", id)
	}
	return inst, nil
}

func (m *Manager) loadConfigured(cfg ManagerConfig) error {
	ids := make([]string, 0, len(cfg.Plugins))
	for id := range cfg.Plugins {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		pluginCfg := cfg.Plugins[id]
		if !pluginCfg.Enabled {
			continue
		}
		path := pluginCfg.Path
		if !filepath.IsAbs(path) && cfg.PluginDir != "" {
			path = filepath.Join(cfg.PluginDir, path)
		}
		reg := Registration{
			Config: pluginCfg.Config,
			Policy: pluginCfg.Policy,
			Stage:  pluginCfg.Stage,
			Before: pluginCfg.Before,
		}
		if err := m.Load(id, path, reg); err != nil {
			return err
		}
	}
	return nil
}

func mergeInfo(info Info, id string) Info {
	if info.ID == "" {
		info.ID = id
	}
	return info
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}
