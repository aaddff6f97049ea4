//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - Linux socket options on the listening socket.

package tcp

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

const reusePortSupported = true

var errReusePort = errors.New("SO_REUSEPORT unavailable")

// controlFunc sets listener options before bind.
func controlFunc(cfg ListenerConfig) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			if cfg.ReusePort {
				if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); serr != nil {
					return
				}
			}
			// Accepted sockets inherit buffer sizes set before listen.
			if cfg.RecvBuffer > 0 {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBuffer)
			}
		})
		if err != nil {
			return err
		}
		return serr
	}
}
