// Package hooks provides the standard hook families on top of package hook:
// series, bail, waterfall and loop hooks for synchronous hosts, and series,
// parallel and parallel bail hooks for asynchronous ones. It also ships
// keyed hook maps, fan-out multi hooks and a named registry used by hosts
// that expose hooks over the network.
package hooks
