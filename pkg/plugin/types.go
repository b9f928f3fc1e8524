package plugin

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeObserver plugins watch hook traffic without changing results.
	TypeObserver Type = "observer"
	// TypeTransformer plugins alter arguments or short-circuit hooks.
	TypeTransformer Type = "transformer"
)

// Capability expresses optional features a plugin may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	Capabilities []Capability
	// Hooks lists the host hooks the plugin taps. An empty list lets the
	// plugin tap any hook permitted by its policy.
	Hooks []string
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered State = "registered"
	StateApplied    State = "applied"
	StateStopped    State = "stopped"
)
