// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp provides the TCP listener used by the WebSocket server.

package tcp

import (
	"context"
	"fmt"
	"net"
	"time"
)

// ListenerConfig holds configuration for the TCP listener.
type ListenerConfig struct {
	Addr       string        // TCP address to bind (e.g., ":9001")
	ReusePort  bool          // SO_REUSEPORT, Linux only
	NoDelay    bool          // TCP_NODELAY on accepted connections
	SendBuffer int           // SO_SNDBUF, zero keeps the kernel default
	RecvBuffer int           // SO_RCVBUF, zero keeps the kernel default
	KeepAlive  time.Duration // zero keeps the Go default, negative disables
}

// Listen opens the listening socket described by cfg. Connections returned
// by Accept already carry the per-connection options.
func Listen(ctx context.Context, cfg ListenerConfig) (net.Listener, error) {
	if cfg.ReusePort && !reusePortSupported {
		return nil, fmt.Errorf("tcp listen %s: %w", cfg.Addr, errReusePort)
	}
	lc := net.ListenConfig{
		KeepAlive: cfg.KeepAlive,
		Control:   controlFunc(cfg),
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", cfg.Addr, err)
	}
	return &listener{Listener: ln, cfg: cfg}, nil
}

type listener struct {
	net.Listener
	cfg ListenerConfig
}

// Accept waits for the next connection and applies the configured options.
// A failure to tune a socket closes it and is returned as the accept error.
func (l *listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		if err := tune(tc, l.cfg); err != nil {
			tc.Close()
			return nil, err
		}
	}
	return c, nil
}

func tune(tc *net.TCPConn, cfg ListenerConfig) error {
	if err := tc.SetNoDelay(cfg.NoDelay); err != nil {
		return fmt.Errorf("tcp nodelay: %w", err)
	}
	if cfg.SendBuffer > 0 {
		if err := tc.SetWriteBuffer(cfg.SendBuffer); err != nil {
			return fmt.Errorf("tcp send buffer: %w", err)
		}
	}
	if cfg.RecvBuffer > 0 {
		if err := tc.SetReadBuffer(cfg.RecvBuffer); err != nil {
			return fmt.Errorf("tcp recv buffer: %w", err)
		}
	}
	return nil
}
