// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, metrics and debug introspection for a worker context.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads with reload listeners
//   - Counters and gauges keyed by name
//   - Named probes rendered into one state document
//
// Platform probes are build-tag-partitioned.
package control
