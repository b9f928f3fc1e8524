// Package api exposes the hook registry over HTTP: listing and describing
// hooks, invoking them with any discipline, plus health and Prometheus
// endpoints.
package api
