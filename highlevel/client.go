// File: highlevel/client.go
// Package highlevel provides a user-friendly API for WebSocket clients and servers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package highlevel

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/protocol"
)

// Dial connects to a WebSocket server using default options.
func Dial(ctx context.Context, rawURL string) (*Conn, *http.Response, error) {
	return DialWithOptions(ctx, rawURL, DefaultOptions())
}

// DialWithOptions performs the initiator handshake against rawURL (ws or
// wss scheme). The handshake response is returned even when it fails the
// upgrade.
func DialWithOptions(ctx context.Context, rawURL string, opts Options) (*Conn, *http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, api.WrapError(api.ErrCodeInvalidArgument, "dial: bad url", err)
	}
	var secure bool
	switch u.Scheme {
	case "ws":
	case "wss":
		secure = true
	default:
		return nil, nil, api.WrapError(api.ErrCodeInvalidArgument, "dial: scheme must be ws or wss", api.ErrInvalidArgument).
			WithContext("scheme", u.Scheme)
	}
	addr := u.Host
	if u.Port() == "" {
		if secure {
			addr = net.JoinHostPort(u.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	if opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}
	dial := opts.NetDial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	nc, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if secure {
		cfg := opts.TLSConfig.Clone()
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg.ServerName = u.Hostname()
		}
		tc := tls.Client(nc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("dial %s: tls: %w", addr, err)
		}
		nc = tc
	}

	conn, resp, err := clientHandshake(ctx, nc, u, opts)
	if err != nil {
		nc.Close()
		return nil, resp, err
	}
	return conn, resp, nil
}

func clientHandshake(ctx context.Context, nc net.Conn, u *url.URL, opts Options) (*Conn, *http.Response, error) {
	if dl, ok := ctx.Deadline(); ok {
		nc.SetDeadline(dl)
		defer nc.SetDeadline(time.Time{})
	}
	key, err := protocol.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}
	var offers []protocol.Extension
	if opts.EnableCompression {
		offers = append(offers, protocol.DeflateOffer())
	}
	if err := protocol.WriteHandshakeRequest(nc, u, key, offers, opts.Header); err != nil {
		return nil, nil, fmt.Errorf("handshake write: %w", err)
	}

	br := bufio.NewReaderSize(nc, 4096)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodGet, URL: u})
	if err != nil {
		return nil, nil, fmt.Errorf("handshake read: %w", err)
	}
	agreement, err := protocol.ValidateUpgradeResponse(resp, key, offers)
	if err != nil {
		return nil, resp, err
	}
	conn, err := NewConn(nc, br, protocol.RoleInitiator, agreement, opts)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}
