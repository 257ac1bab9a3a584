// File: server/options.go
// Package server defines functional options for the chat Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/momentics/hioload-chat/control"
	"github.com/momentics/hioload-chat/handlers"
	"github.com/momentics/hioload-chat/protocol"
	"github.com/momentics/hioload-chat/store"
)

// ServerOption customizes server initialization.
type ServerOption func(*options)

type options struct {
	backend   store.Backend
	overrides map[protocol.CommandType]handlers.HandlerFunc
	metrics   *control.MetricsRegistry
	probes    *control.DebugProbes
}

// WithBackend uses b instead of opening the configured store driver.
// The server takes ownership and closes it on shutdown.
func WithBackend(b store.Backend) ServerOption {
	return func(o *options) {
		o.backend = b
	}
}

// WithHandler replaces the handler of one command type.
func WithHandler(t protocol.CommandType, h handlers.HandlerFunc) ServerOption {
	return func(o *options) {
		if o.overrides == nil {
			o.overrides = make(map[protocol.CommandType]handlers.HandlerFunc)
		}
		o.overrides[t] = h
	}
}

// WithMetrics shares an existing counter registry.
func WithMetrics(m *control.MetricsRegistry) ServerOption {
	return func(o *options) {
		o.metrics = m
	}
}

// WithProbes registers the server probes into dp.
func WithProbes(dp *control.DebugProbes) ServerOption {
	return func(o *options) {
		o.probes = dp
	}
}
