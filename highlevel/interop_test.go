// Copyright 2025 momentics@gmail.com
// License: Apache 2.0

package highlevel_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/momentics/hioload-wsengine/highlevel"
	"github.com/momentics/hioload-wsengine/protocol"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// TestAcceptorAgainstGorillaClient runs the engine as acceptor behind
// net/http and talks to it with an independent client implementation.
func TestAcceptorAgainstGorillaClient(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "deflate"}[compress], func(t *testing.T) {
			opts := testOptions()
			opts.EnableCompression = compress
			opts.CompressThreshold = 0
			opts.FragmentSize = 1024
			up := &highlevel.Upgrader{Options: opts}

			serverErr := make(chan error, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				c, err := up.Upgrade(w, r)
				if err != nil {
					serverErr <- err
					return
				}
				ctx := context.Background()
				for {
					mt, p, err := c.ReadMessage(ctx)
					if err != nil {
						serverErr <- err
						return
					}
					if err := c.WriteMessage(ctx, mt, p); err != nil {
						serverErr <- err
						return
					}
				}
			}))
			defer srv.Close()

			d := websocket.Dialer{EnableCompression: compress, HandshakeTimeout: 2 * time.Second}
			ws, resp, err := d.Dial(wsURL(srv), nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer ws.Close()
			ext := resp.Header.Get(protocol.HeaderSecWebSocketExtensions)
			if compress != strings.Contains(ext, protocol.ExtPerMessageDeflate) {
				t.Fatalf("extensions header %q", ext)
			}

			ws.SetReadDeadline(time.Now().Add(3 * time.Second))
			if err := ws.WriteMessage(websocket.TextMessage, []byte("héllo")); err != nil {
				t.Fatal(err)
			}
			mt, p, err := ws.ReadMessage()
			if err != nil || mt != websocket.TextMessage || string(p) != "héllo" {
				t.Fatalf("echo text: %d %q %v", mt, p, err)
			}

			big := bytes.Repeat([]byte("0123456789abcdef"), 8192)
			if err := ws.WriteMessage(websocket.BinaryMessage, big); err != nil {
				t.Fatal(err)
			}
			mt, p, err = ws.ReadMessage()
			if err != nil || mt != websocket.BinaryMessage || !bytes.Equal(p, big) {
				t.Fatalf("echo binary: %d %d bytes %v", mt, len(p), err)
			}

			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
			if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
				t.Fatal(err)
			}
			if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("client expected close echo, got %v", err)
			}
			select {
			case err := <-serverErr:
				var ce *highlevel.CloseError
				if !errors.As(err, &ce) || ce.Code != protocol.CloseNormalClosure || ce.Reason != "done" || !ce.Remote {
					t.Fatalf("server saw %v", err)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("server did not finish")
			}
		})
	}
}

// TestInitiatorAgainstGorillaServer dials an independent server
// implementation with the engine as initiator.
func TestInitiatorAgainstGorillaServer(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "deflate"}[compress], func(t *testing.T) {
			up := websocket.Upgrader{EnableCompression: compress}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ws, err := up.Upgrade(w, r, nil)
				if err != nil {
					return
				}
				defer ws.Close()
				for {
					mt, p, err := ws.ReadMessage()
					if err != nil {
						return
					}
					if err := ws.WriteMessage(mt, p); err != nil {
						return
					}
				}
			}))
			defer srv.Close()

			opts := testOptions()
			opts.EnableCompression = compress
			opts.CompressThreshold = 0
			ctx := ctxTimeout(t, 3*time.Second)
			c, resp, err := highlevel.DialWithOptions(ctx, wsURL(srv), opts)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			if resp.StatusCode != http.StatusSwitchingProtocols {
				t.Fatalf("status %d", resp.StatusCode)
			}
			if got := c.Agreement().Has(protocol.ExtPerMessageDeflate); got != compress {
				t.Fatalf("deflate agreed = %v", got)
			}

			if err := c.WriteText(ctx, "ping me"); err != nil {
				t.Fatal(err)
			}
			mt, p, err := c.ReadMessage(ctx)
			if err != nil || mt != highlevel.TextMessage || string(p) != "ping me" {
				t.Fatalf("echo: %v %q %v", mt, p, err)
			}

			payload := bytes.Repeat([]byte{0, 1, 2, 3}, 40000)
			if err := c.WriteMessage(ctx, highlevel.BinaryMessage, payload, protocol.WithFragmentSize(4096)); err != nil {
				t.Fatal(err)
			}
			mt, p, err = c.ReadMessage(ctx)
			if err != nil || mt != highlevel.BinaryMessage || !bytes.Equal(p, payload) {
				t.Fatalf("echo binary: %v %d bytes %v", mt, len(p), err)
			}

			if err := c.Close(protocol.CloseNormalClosure, ""); err != nil {
				t.Fatalf("close: %v", err)
			}
			if !highlevel.IsCloseError(c.Err(), protocol.CloseNormalClosure) {
				t.Fatalf("final status %v", c.Err())
			}
		})
	}
}

func TestUpgradeRejectsBadRequests(t *testing.T) {
	up := &highlevel.Upgrader{
		Options:     testOptions(),
		CheckOrigin: func(r *http.Request) bool { return r.Header.Get("Origin") != "http://evil.example" },
	}
	cases := []struct {
		name   string
		method string
		header map[string]string
		status int
	}{
		{"post", http.MethodPost, nil, http.StatusMethodNotAllowed},
		{"no upgrade", http.MethodGet, map[string]string{"Sec-WebSocket-Version": "13"}, http.StatusBadRequest},
		{"old version", http.MethodGet, map[string]string{
			"Connection": "Upgrade", "Upgrade": "websocket",
			"Sec-WebSocket-Version": "8", "Sec-WebSocket-Key": "dGhlIHNhbXBsZSBub25jZQ==",
		}, http.StatusUpgradeRequired},
		{"bad key", http.MethodGet, map[string]string{
			"Connection": "Upgrade", "Upgrade": "websocket",
			"Sec-WebSocket-Version": "13", "Sec-WebSocket-Key": "short",
		}, http.StatusBadRequest},
		{"origin", http.MethodGet, map[string]string{
			"Connection": "Upgrade", "Upgrade": "websocket", "Origin": "http://evil.example",
			"Sec-WebSocket-Version": "13", "Sec-WebSocket-Key": "dGhlIHNhbXBsZSBub25jZQ==",
		}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(tc.method, "/ws", nil)
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			_, err := up.Upgrade(w, r)
			var he *highlevel.HandshakeError
			if !errors.As(err, &he) || he.Status != tc.status {
				t.Fatalf("got %v", err)
			}
			if w.Code != tc.status {
				t.Fatalf("response status %d", w.Code)
			}
		})
	}
}
