// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Option customizes server initialization.
type Option func(*Server)

// WithHandler sets the per-connection handler. The default echoes every
// message back.
func WithHandler(h Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// WithRegistry uses reg for the engine metrics and /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithTracerProvider replaces the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracerProvider = tp
	}
}
