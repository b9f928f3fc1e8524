// Package hook implements named extension points that plugins tap into.
//
// A Hook keeps its taps ordered by stage and before constraints, threads
// new registrations through interceptor Register transforms, and compiles
// one dispatcher per discipline (sync, async callback, promise) on first
// use. The orchestration semantics are supplied by a Compiler; package
// hooks provides the standard families.
package hook
