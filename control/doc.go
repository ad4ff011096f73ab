// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, runtime metrics and debug introspection for hioload-httpc.
//
// Provides concurrent-safe state handling primitives including:
//   - YAML configuration documents with validation
//   - Counter and gauge registry
//   - State export through named debug probes
package control
