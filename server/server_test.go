// Copyright 2025 momentics@gmail.com
// License: Apache 2.0

package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sugawarayuuta/sonnet"

	"github.com/momentics/hioload-wsengine/control"
	"github.com/momentics/hioload-wsengine/highlevel"
	"github.com/momentics/hioload-wsengine/internal/capture"
	"github.com/momentics/hioload-wsengine/server"
)

func testConfig() *control.Config {
	cfg := control.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.Liveness.PingInterval = 0
	cfg.Timeouts.Shutdown = 2 * time.Second
	return cfg
}

func startServer(t *testing.T, cfg *control.Config, opts ...server.Option) (*server.Server, string) {
	t.Helper()
	opts = append([]server.Option{server.WithRegistry(prometheus.NewRegistry())}, opts...)
	s, err := server.New(control.NewConfigStore(cfg, ""), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s, s.Addr().String()
}

func dial(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()
	d := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	ws, _, err := d.Dial("ws://"+addr+path, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServerEchoAndEndpoints(t *testing.T) {
	s, addr := startServer(t, testConfig())
	ws := dial(t, addr, "/ws")
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))

	for _, msg := range []string{"hello", strings.Repeat("x", 70000)} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatal(err)
		}
		mt, p, err := ws.ReadMessage()
		if err != nil || mt != websocket.TextMessage || string(p) != msg {
			t.Fatalf("echo: type=%d len=%d err=%v", mt, len(p), err)
		}
	}
	waitFor(t, "session registration", func() bool { return s.Sessions().Len() == 1 })

	if code, body := httpGet(t, "http://"+addr+"/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	code, body := httpGet(t, "http://"+addr+"/metrics")
	if code != http.StatusOK || !strings.Contains(body, "hioload_ws_connections_total 1") {
		t.Fatalf("metrics: %d\n%s", code, body)
	}

	code, body = httpGet(t, "http://"+addr+"/debug/state")
	if code != http.StatusOK {
		t.Fatalf("debug: %d %s", code, body)
	}
	var state map[string]any
	if err := sonnet.Unmarshal([]byte(body), &state); err != nil {
		t.Fatalf("debug json: %v", err)
	}
	if state["version"] != highlevel.Version || state["connections"] != float64(1) {
		t.Fatalf("debug state version=%v connections=%v", state["version"], state["connections"])
	}

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, "session removal", func() bool { return s.Sessions().Len() == 0 })
}

func TestServerRejectsPlainRequest(t *testing.T) {
	_, addr := startServer(t, testConfig())
	code, _ := httpGet(t, "http://"+addr+"/ws")
	if code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", code)
	}
	_, body := httpGet(t, "http://"+addr+"/metrics")
	if !strings.Contains(body, `hioload_ws_handshake_failures_total{reason="400"} 1`) {
		t.Fatalf("handshake failure not counted:\n%s", body)
	}
}

func TestServerShutdownSendsGoingAway(t *testing.T) {
	s, addr := startServer(t, testConfig())
	ws := dial(t, addr, "/ws")
	waitFor(t, "session registration", func() bool { return s.Sessions().Len() == 1 })

	readErr := make(chan error, 1)
	go func() {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := ws.ReadMessage()
		readErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	err := <-readErr
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("client read error %v, want close 1001", err)
	}
	if s.Sessions().Len() != 0 {
		t.Fatalf("%d sessions left after shutdown", s.Sessions().Len())
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestServerDropsUnresponsivePeer(t *testing.T) {
	cfg := testConfig()
	cfg.Liveness.PingInterval = 50 * time.Millisecond
	cfg.Liveness.PongTimeout = 50 * time.Millisecond
	s, addr := startServer(t, cfg)

	// Gorilla answers pings only while reading, so this client never does.
	dial(t, addr, "/ws")
	waitFor(t, "session registration", func() bool { return s.Sessions().Len() == 1 })
	waitFor(t, "pong timeout", func() bool { return s.Sessions().Len() == 0 })
}

func TestServerKeepsResponsivePeer(t *testing.T) {
	cfg := testConfig()
	cfg.Liveness.PingInterval = 30 * time.Millisecond
	cfg.Liveness.PongTimeout = 100 * time.Millisecond
	s, addr := startServer(t, cfg)

	ws := dial(t, addr, "/ws")
	pings := make(chan struct{}, 16)
	ws.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	for i := 0; i < 3; i++ {
		select {
		case <-pings:
		case <-time.After(2 * time.Second):
			t.Fatalf("ping %d not received", i)
		}
	}
	if s.Sessions().Len() != 1 {
		t.Fatal("responsive peer was dropped")
	}
}

func TestServerCustomHandler(t *testing.T) {
	greet := func(ctx context.Context, c *highlevel.Conn) {
		c.WriteText(ctx, "welcome "+c.ID())
	}
	_, addr := startServer(t, testConfig(), server.WithHandler(greet))

	c, _, err := highlevel.Dial(context.Background(), "ws://"+addr+"/ws")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Abort()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	mt, p, err := c.ReadMessage(ctx)
	if err != nil || mt != highlevel.TextMessage || !strings.HasPrefix(string(p), "welcome acc-") {
		t.Fatalf("greeting: %v %q %v", mt, p, err)
	}
	_, _, err = c.ReadMessage(ctx)
	var ce *highlevel.CloseError
	if !errors.As(err, &ce) || ce.Code != 1000 || !ce.Remote {
		t.Fatalf("after handler return: %v", err)
	}
}

func TestServerCapture(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.Enabled = true
	cfg.Capture.Path = filepath.Join(t.TempDir(), "frames.db")
	s, addr := startServer(t, cfg)

	ws := dial(t, addr, "/ws")
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
	if _, _, err := ws.ReadMessage(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "session registration", func() bool { return s.Sessions().Len() == 1 })
	id := s.Sessions().Snapshot()[0].ID
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	rec, err := capture.Open(cfg.Capture.Path, capture.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer rec.Close()
	frames, err := rec.Frames(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	var in, out int
	for _, f := range frames {
		switch f.Dir {
		case "in":
			in++
		case "out":
			out++
		}
	}
	// Binary in and out, then the close exchange.
	if in < 2 || out < 2 {
		t.Fatalf("captured in=%d out=%d frames for %s: %+v", in, out, id, frames)
	}
	closes, err := rec.Closes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(closes) != 1 || closes[0].ConnID != id || closes[0].Code != 1001 {
		t.Fatalf("closes %+v", closes)
	}
}
