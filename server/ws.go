// File: server/ws.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection lifecycle: upgrade, registration, keepalive, handler and
// close bookkeeping.

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/control"
	"github.com/momentics/hioload-wsengine/highlevel"
	"github.com/momentics/hioload-wsengine/internal/logging"
	"github.com/momentics/hioload-wsengine/protocol"
)

// Handler serves one upgraded connection. The connection is closed with
// 1000 when the handler returns while it is still open.
type Handler func(ctx context.Context, c *highlevel.Conn)

// Echo writes every message back with the same type.
func Echo(ctx context.Context, c *highlevel.Conn) {
	for {
		mt, data, err := c.ReadMessage(ctx)
		if err != nil {
			return
		}
		if err := c.WriteMessage(ctx, mt, data); err != nil {
			return
		}
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		s.metrics.HandshakeFailed("shutdown")
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	cfg := s.store.Snapshot()
	up := highlevel.Upgrader{Options: connOptions(cfg, s.currentObservers())}

	conn, err := up.Upgrade(w, r)
	if err != nil {
		reason := "hijack"
		var he *highlevel.HandshakeError
		if errors.As(err, &he) {
			reason = strconv.Itoa(he.Status)
		}
		s.metrics.HandshakeFailed(reason)
		s.log.Debug("upgrade rejected",
			zap.String("remote_addr", r.RemoteAddr), zap.String("reason", reason), zap.Error(err))
		return
	}

	// The hijacked request context is never canceled.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "ws.connection",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ws.conn_id", conn.ID()),
			attribute.String("http.route", cfg.Path),
			attribute.String("net.peer.addr", r.RemoteAddr),
			attribute.String("ws.extensions", conn.Agreement().String()),
		))
	defer span.End()

	s.conns.Add(1)
	defer s.conns.Done()

	sess, err := s.sessions.Add(conn, r.RemoteAddr)
	if err != nil {
		s.log.Error("session registration failed", zap.String("conn_id", conn.ID()), zap.Error(err))
		conn.Close(protocol.CloseInternalServerErr, "")
		return
	}
	defer s.sessions.Delete(sess.ID())
	if s.closing.Load() {
		// Registered after Shutdown swept the registry.
		go conn.Close(protocol.CloseGoingAway, "server shutdown")
	}

	logging.LogConnection(conn.ID(), r.RemoteAddr, "websocket_upgraded",
		zap.String("extensions", conn.Agreement().String()))

	go keepAlive(conn, cfg.Liveness, s.log)
	s.handler(ctx, conn)
	if conn.Err() == nil {
		conn.Close(protocol.CloseNormalClosure, "")
	}
	<-conn.Done()

	var ce *highlevel.CloseError
	if errors.As(conn.Err(), &ce) {
		span.SetAttributes(
			attribute.Int("ws.close_code", int(ce.Code)),
			attribute.Bool("ws.close_remote", ce.Remote),
		)
		if ce.Code != protocol.CloseNormalClosure && ce.Code != protocol.CloseGoingAway {
			span.RecordError(ce)
			span.SetStatus(codes.Error, ce.Code.String())
		}
		logging.LogClose(conn.ID(), uint16(ce.Code), ce.Reason, ce.Remote)
	}
}

// keepAlive pings c every PingInterval and drops it when a ping stays
// unanswered for PongTimeout.
func keepAlive(c *highlevel.Conn, cfg control.LivenessConfig, log *zap.Logger) {
	if cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Done():
			return
		case <-ticker.C:
		}
		if err := c.Ping(nil); err != nil {
			return
		}
		if cfg.PongTimeout <= 0 {
			continue
		}
		timer := time.NewTimer(cfg.PongTimeout)
		select {
		case <-c.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, _, waiting := c.Liveness(); waiting {
			log.Info("pong timeout, dropping connection",
				zap.String("conn_id", c.ID()), zap.Duration("timeout", cfg.PongTimeout))
			c.Abort()
			return
		}
	}
}

// connOptions maps the service configuration onto connection options.
func connOptions(cfg *control.Config, obs *api.Observers) highlevel.Options {
	o := highlevel.DefaultOptions()
	o.MaxFramePayload = cfg.Limits.MaxFramePayload
	o.MaxMessageSize = cfg.Limits.MaxMessageSize
	o.ReadBufferSize = cfg.Limits.ReadBufferSize
	o.FragmentSize = cfg.Limits.FragmentSize
	o.WriteHighWatermark = cfg.Limits.WriteHighWatermark
	o.EnableCompression = cfg.Compression.Enabled
	o.CompressionLevel = cfg.Compression.Level
	o.CompressThreshold = cfg.Compression.Threshold
	o.HandshakeTimeout = cfg.Timeouts.Handshake
	o.WriteTimeout = cfg.Timeouts.Write
	o.Observers = obs
	return o
}
