package plugin

import (
	"errors"
	"fmt"
	"slices"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
)

// IsolationStrategy enforces security restrictions for plugins at runtime.
type IsolationStrategy interface {
	Validate(info Info, policy IsolationPolicy) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// NoopIsolationStrategy performs only capability and hook validation.
type NoopIsolationStrategy struct{}

// Validate ensures the plugin requested capabilities and hooks are allowed.
func (NoopIsolationStrategy) Validate(info Info, policy IsolationPolicy) error {
	allowed := map[Capability]struct{}{}
	for _, cap := range policy.AllowedCapabilities {
		allowed[cap] = struct{}{}
	}
	for _, cap := range policy.DeniedCapabilities {
		if slices.Contains(info.Capabilities, cap) {
			return xerrors.Newf(xerrors.CodePermissionDenied, "capability %s is explicitly denied", cap)
		}
	}
	if len(allowed) > 0 {
		for _, cap := range info.Capabilities {
			if _, ok := allowed[cap]; !ok {
				return xerrors.Newf(xerrors.CodePermissionDenied, "capability %s not permitted", cap)
			}
		}
	}
	for _, name := range info.Hooks {
		if err := checkHook(name, policy); err != nil {
			return err
		}
	}
	return nil
}

// Prepare implements IsolationStrategy.
func (NoopIsolationStrategy) Prepare(Info) error { return nil }

// Cleanup implements IsolationStrategy.
func (NoopIsolationStrategy) Cleanup(Info) error { return nil }

// checkHook applies the hook lists of policy to name.
func checkHook(name string, policy IsolationPolicy) error {
	if slices.Contains(policy.DeniedHooks, name) {
		return xerrors.Newf(xerrors.CodePermissionDenied, "hook %s is explicitly denied", name)
	}
	if len(policy.AllowedHooks) > 0 && !slices.Contains(policy.AllowedHooks, name) {
		return xerrors.Newf(xerrors.CodePermissionDenied, "hook %s not permitted", name)
	}
	return nil
}

// NewIsolationStrategy returns a default isolation strategy if none is supplied.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return NoopIsolationStrategy{}
	}
	return strategy
}

// MergePolicies combines the default and plugin specific isolation policies.
func MergePolicies(defaults IsolationPolicy, plugin *IsolationPolicy) IsolationPolicy {
	if plugin == nil {
		return defaults
	}
	merged := plugin.Merge(defaults)
	if merged.empty() {
		return defaults
	}
	return merged
}

// EnsurePolicy returns an error when the isolation policy is empty and the plugin requests capabilities.
func EnsurePolicy(info Info, policy IsolationPolicy) error {
	if len(info.Capabilities) == 0 {
		return nil
	}
	if len(policy.AllowedCapabilities) == 0 && len(policy.DeniedCapabilities) == 0 {
		return errors.New("plugins declaring capabilities require an isolation policy")
	}
	return nil
}

func describePolicy(p IsolationPolicy) string {
	return fmt.Sprintf("allowHooks=%v denyHooks=%v allowCaps=%v denyCaps=%v",
		p.AllowedHooks, p.DeniedHooks, p.AllowedCapabilities, p.DeniedCapabilities)
}
