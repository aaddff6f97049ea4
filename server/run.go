// File: server/run.go
// Package server implements startup, the accept loop and graceful shutdown
// for the hioload-wsd facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/highlevel"
	"github.com/momentics/hioload-wsengine/internal/capture"
	"github.com/momentics/hioload-wsengine/internal/discovery"
	"github.com/momentics/hioload-wsengine/internal/session"
	"github.com/momentics/hioload-wsengine/protocol"
	"github.com/momentics/hioload-wsengine/transport/tcp"
)

// Start binds the listener, opens the optional capture database, announces
// the endpoint when configured and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	cfg := s.store.Snapshot()

	ln, err := tcp.Listen(ctx, tcp.ListenerConfig{
		Addr:       cfg.Listen,
		ReusePort:  cfg.TCP.ReusePort,
		NoDelay:    cfg.TCP.NoDelay,
		SendBuffer: cfg.TCP.SendBuffer,
		RecvBuffer: cfg.TCP.RecvBuffer,
	})
	if err != nil {
		return err
	}

	if cfg.Capture.Enabled {
		rec, err := capture.Open(cfg.Capture.Path, capture.DefaultOptions())
		if err != nil {
			ln.Close()
			return err
		}
		s.capture = rec
		s.observers = &api.Observers{
			Frames: append(append([]api.FrameObserver(nil), s.observers.Frames...), rec),
			Conns:  append(append([]api.ConnObserver(nil), s.observers.Conns...), rec),
		}
	}

	if cfg.Announce.Enabled {
		port := 0
		if ta, ok := ln.Addr().(*net.TCPAddr); ok {
			port = ta.Port
		}
		ann, err := discovery.Announce(discovery.Announcement{
			Instance:    cfg.Announce.Instance,
			Service:     cfg.Announce.Service,
			Domain:      cfg.Announce.Domain,
			Port:        port,
			Path:        cfg.Path,
			Compression: cfg.Compression.Enabled,
			Version:     highlevel.Version,
		})
		if err != nil {
			// Serving without an announcement is still useful.
			s.log.Warn("mdns announce failed", zap.Error(err))
		} else {
			s.announcer = ann
		}
	}

	s.ln = ln
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: cfg.Timeouts.Handshake,
	}
	s.serveErr = make(chan error, 1)
	s.running = true
	s.closing.Store(false)
	go func(srv *http.Server, ln net.Listener, errc chan<- error) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}(s.httpSrv, ln, s.serveErr)

	s.log.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", cfg.Path),
		zap.Bool("compression", cfg.Compression.Enabled),
		zap.Bool("capture", cfg.Capture.Enabled))
	return nil
}

// Run starts the server and blocks until ctx ends or serving fails, then
// shuts down within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	errc := s.serveErr
	s.mu.Unlock()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}
	timeout := s.store.Snapshot().Timeouts.Shutdown
	sctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()
	if err := s.Shutdown(sctx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown stops accepting connections, sends a going-away close to every
// live connection and waits for them to finish. Connections still open when
// ctx ends are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.closing.Store(true)
	httpSrv, rec, ann := s.httpSrv, s.capture, s.announcer
	s.announcer = nil
	s.mu.Unlock()

	ann.Shutdown()
	err := httpSrv.Shutdown(ctx)

	n, closeErr := s.sessions.CloseAll(protocol.CloseGoingAway, "server shutdown")
	if closeErr != nil {
		s.log.Debug("going-away close errors", zap.Error(closeErr))
	}
	s.log.Info("shutting down", zap.Int("connections", n))

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.sessions.Range(func(sess *session.Session) bool {
			if c, ok := sess.Peer().(*highlevel.Conn); ok {
				c.Abort()
			}
			return true
		})
		<-done
		if err == nil {
			err = ctx.Err()
		}
	}

	if rec != nil {
		if cerr := rec.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.mu.Lock()
		s.capture = nil
		s.observers = &api.Observers{
			Frames: []api.FrameObserver{s.metrics},
			Conns:  []api.ConnObserver{s.metrics},
		}
		s.mu.Unlock()
	}
	return err
}
