// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot reload, runtime counters and debug introspection for
// the chat server.
//
// Provides:
//   - Config, loaded by viper from defaults, an optional YAML file and
//     HIOCHAT_* environment variables
//   - Loader.Watch for hot reload with listener callbacks
//   - MetricsRegistry counters shared by the pipeline stages
//   - DebugProbes for on-demand state dumps
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
