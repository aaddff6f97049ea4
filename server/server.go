// File: server/server.go
// Package server is the hioload-wsd facade: HTTP routing, WebSocket
// upgrades, per-connection lifecycle, observability and graceful shutdown.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/control"
	"github.com/momentics/hioload-wsengine/highlevel"
	"github.com/momentics/hioload-wsengine/internal/capture"
	"github.com/momentics/hioload-wsengine/internal/discovery"
	"github.com/momentics/hioload-wsengine/internal/logging"
	"github.com/momentics/hioload-wsengine/internal/session"
	"github.com/momentics/hioload-wsengine/pool"
)

// TracerName names the tracer used for connection spans.
const TracerName = "github.com/momentics/hioload-wsengine/server"

var ErrAlreadyRunning = errors.New("server already running")

// Server is the high-level façade encapsulating listener, router, sessions and control.
type Server struct {
	store    *control.ConfigStore
	handler  Handler
	registry *prometheus.Registry
	metrics  *control.Metrics
	probes   *control.DebugProbes
	sessions *session.Registry
	router   chi.Router

	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	log            *zap.Logger

	mu        sync.Mutex
	running   bool
	httpSrv   *http.Server
	ln        net.Listener
	observers *api.Observers
	capture   *capture.Recorder
	announcer *discovery.Announcer
	serveErr  chan error

	closing atomic.Bool
	conns   sync.WaitGroup
}

// New builds the Server facade around the configuration in store.
func New(store *control.ConfigStore, opts ...Option) (*Server, error) {
	if store == nil {
		store = control.NewConfigStore(control.DefaultConfig(), "")
	}
	if err := store.Snapshot().Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		store:    store,
		handler:  Echo,
		probes:   control.NewDebugProbes(),
		sessions: session.NewRegistry(64),
		log:      logging.Named("server"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}
	s.tracer = s.tracerProvider.Tracer(TracerName)
	s.metrics = control.NewMetrics(control.WithRegistry(s.registry))
	s.observers = &api.Observers{
		Frames: []api.FrameObserver{s.metrics},
		Conns:  []api.ConnObserver{s.metrics},
	}
	s.registerProbes()
	s.router = s.routes(store.Snapshot().Path)

	store.OnReload(func(old, cur *control.Config) {
		if old.Path != cur.Path || old.Listen != cur.Listen {
			s.log.Warn("listen address and path changes apply after restart",
				zap.String("listen", cur.Listen), zap.String("path", cur.Path))
		}
		logging.Info("configuration reloaded", zap.String("source", store.Path()))
	})
	return s, nil
}

func (s *Server) routes(path string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(path, s.serveWS)
	r.Get("/healthz", s.serveHealth)
	r.Get("/debug/state", s.serveDebug)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

// Sessions exposes the live connection registry.
func (s *Server) Sessions() *session.Registry { return s.sessions }

// Probes exposes the debug probe registry.
func (s *Server) Probes() *control.DebugProbes { return s.probes }

// Capture returns the frame recorder, or nil when capture is disabled.
func (s *Server) Capture() *capture.Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capture
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) currentObservers() *api.Observers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observers
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if s.closing.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (s *Server) serveDebug(w http.ResponseWriter, _ *http.Request) {
	body, err := s.probes.DumpJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) registerProbes() {
	control.RegisterPlatformProbes(s.probes)
	s.probes.RegisterProbe("version", func() any { return highlevel.Version })
	s.probes.RegisterProbe("connections", func() any { return s.sessions.Len() })
	s.probes.RegisterProbe("sessions", func() any { return s.sessions.Snapshot() })
	s.probes.RegisterProbe("buffers", func() any { return pool.Default.Stats() })
	s.probes.RegisterProbe("config", func() any { return s.store.Snapshot() })
	s.probes.RegisterProbe("capture", func() any {
		rec := s.Capture()
		if rec == nil {
			return map[string]any{"enabled": false}
		}
		return map[string]any{"enabled": true, "written": rec.Written(), "dropped": rec.Dropped()}
	})
}
