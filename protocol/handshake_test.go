// Copyright 2025 momentics@gmail.com
// License: Apache 2.0

// handshake_test.go - accept token and upgrade request/response checks.
package protocol_test

import (
	"bufio"
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/momentics/hioload-wsengine/protocol"
)

const sampleKey = "dGhlIHNhbXBsZSBub25jZQ=="

func TestComputeAcceptKey(t *testing.T) {
	if got := protocol.ComputeAcceptKey(sampleKey); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("accept=%q", got)
	}
}

func TestVerifyAcceptKey(t *testing.T) {
	if err := protocol.VerifyAcceptKey(sampleKey, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	err := protocol.VerifyAcceptKey(sampleKey, "s3pPLMBiTxaQ9kYGzzhZRbK+xOp=")
	if !errors.Is(err, protocol.ErrAcceptMismatch) {
		t.Fatalf("err=%v, want ErrAcceptMismatch", err)
	}
	if protocol.KindOf(err) != protocol.KindHandshake {
		t.Errorf("kind=%s, want handshake", protocol.KindOf(err))
	}
}

func TestGenerateKey(t *testing.T) {
	k1, err := protocol.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	k2, _ := protocol.GenerateKey(nil)
	if len(k1) != 24 || k1 == k2 {
		t.Errorf("keys %q %q", k1, k2)
	}
	fixed, _ := protocol.GenerateKey(bytes.NewReader(make([]byte, 16)))
	if fixed != "AAAAAAAAAAAAAAAAAAAAAA==" {
		t.Errorf("fixed source key %q", fixed)
	}
	if _, err := protocol.GenerateKey(bytes.NewReader([]byte{1})); err == nil {
		t.Error("short random source accepted")
	}
}

func upgradeHeader() http.Header {
	h := http.Header{}
	h.Set("Connection", "keep-alive, Upgrade")
	h.Set("Upgrade", "WebSocket")
	h.Set("Sec-WebSocket-Version", "13")
	h.Set("Sec-WebSocket-Key", sampleKey)
	return h
}

func TestValidateUpgradeRequest(t *testing.T) {
	key, err := protocol.ValidateUpgradeRequest(upgradeHeader())
	if err != nil || key != sampleKey {
		t.Fatalf("key=%q err=%v", key, err)
	}
	cases := []struct {
		name string
		mod  func(http.Header)
		want error
	}{
		{"no upgrade", func(h http.Header) { h.Del("Upgrade") }, protocol.ErrInvalidUpgradeHeaders},
		{"no connection token", func(h http.Header) { h.Set("Connection", "keep-alive") }, protocol.ErrInvalidUpgradeHeaders},
		{"version 8", func(h http.Header) { h.Set("Sec-WebSocket-Version", "8") }, protocol.ErrBadWebSocketVersion},
		{"no key", func(h http.Header) { h.Del("Sec-WebSocket-Key") }, protocol.ErrMissingWebSocketKey},
		{"short key", func(h http.Header) { h.Set("Sec-WebSocket-Key", "c2hvcnQ=") }, protocol.ErrMissingWebSocketKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := upgradeHeader()
			tc.mod(h)
			if _, err := protocol.ValidateUpgradeRequest(h); !errors.Is(err, tc.want) {
				t.Errorf("err=%v, want %v", err, tc.want)
			}
		})
	}
}

func TestRequestResponseRoundTrip(t *testing.T) {
	u, _ := url.Parse("ws://example.com:8080/ws?room=1")
	offers := []protocol.Extension{protocol.DeflateOffer()}

	var req bytes.Buffer
	if err := protocol.WriteHandshakeRequest(&req, u, sampleKey, offers, http.Header{"Origin": {"http://example.com"}}); err != nil {
		t.Fatal(err)
	}
	parsed, key, err := protocol.ReadUpgradeRequest(bufio.NewReader(&req))
	if err != nil {
		t.Fatalf("ReadUpgradeRequest: %v", err)
	}
	if key != sampleKey || parsed.URL.RequestURI() != "/ws?room=1" || parsed.Host != "example.com:8080" {
		t.Errorf("key=%q uri=%q host=%q", key, parsed.URL.RequestURI(), parsed.Host)
	}
	if parsed.Header.Get("Origin") != "http://example.com" {
		t.Error("extra header lost")
	}

	agreement := protocol.Negotiator{EnableDeflate: true}.Negotiate(protocol.ParseExtensions(parsed.Header))
	var resp bytes.Buffer
	if err := protocol.WriteHandshakeResponse(&resp, protocol.AcceptHeaders(key, agreement)); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.String(), "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Fatalf("status line %q", resp.String())
	}
	r, err := http.ReadResponse(bufio.NewReader(&resp), nil)
	if err != nil {
		t.Fatal(err)
	}
	confirmed, err := protocol.ValidateUpgradeResponse(r, sampleKey, offers)
	if err != nil {
		t.Fatalf("ValidateUpgradeResponse: %v", err)
	}
	if !confirmed.Has(protocol.ExtPerMessageDeflate) {
		t.Error("deflate agreement lost on the initiator side")
	}
}

func TestValidateUpgradeResponseMismatch(t *testing.T) {
	var resp bytes.Buffer
	protocol.WriteHandshakeResponse(&resp, protocol.AcceptHeaders("AAAAAAAAAAAAAAAAAAAAAA==", protocol.Agreement{}))
	r, _ := http.ReadResponse(bufio.NewReader(&resp), nil)
	if _, err := protocol.ValidateUpgradeResponse(r, sampleKey, nil); !errors.Is(err, protocol.ErrAcceptMismatch) {
		t.Fatalf("err=%v, want ErrAcceptMismatch", err)
	}
}

func TestReadUpgradeRequestRejectsPost(t *testing.T) {
	raw := "POST /ws HTTP/1.1\r\nHost: x\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n" +
		"Sec-WebSocket-Version: 13\r\nSec-WebSocket-Key: " + sampleKey + "\r\n\r\n"
	if _, _, err := protocol.ReadUpgradeRequest(bufio.NewReader(strings.NewReader(raw))); !errors.Is(err, protocol.ErrInvalidUpgradeHeaders) {
		t.Fatalf("err=%v", err)
	}
}

func TestWriteHandshakeError(t *testing.T) {
	var buf bytes.Buffer
	protocol.WriteHandshakeError(&buf, http.StatusBadRequest, "bad key")
	r, err := http.ReadResponse(bufio.NewReader(&buf), nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.StatusCode != http.StatusBadRequest || r.Header.Get("Sec-WebSocket-Version") != "13" {
		t.Errorf("status=%d headers=%v", r.StatusCode, r.Header)
	}
}
