// Package config loads the hookd daemon configuration from YAML: the hooks
// the host exposes, the plugins applied to them, tracing and metrics
// settings, logging and the HTTP gateway.
package config
