//go:build !linux
// +build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - portable fallback without listener socket options.

package tcp

import (
	"fmt"
	"runtime"
	"syscall"

	"github.com/momentics/hioload-wsengine/api"
)

const reusePortSupported = false

var errReusePort = fmt.Errorf("SO_REUSEPORT on %s: %w", runtime.GOOS, api.ErrNotSupported)

func controlFunc(ListenerConfig) func(network, address string, c syscall.RawConn) error {
	return nil
}
