// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot-reload, runtime metrics and debug introspection layer.
//
// Provides concurrent-safe state handling primitives including:
//   - YAML configuration with defaults and validation (Config, LoadConfig)
//   - Snapshot reads and reload listeners (ConfigStore, ReloadOnSignal)
//   - Prometheus collectors wired to the connection observers (Metrics)
//   - State export and probe registration (DebugProbes)
package control
