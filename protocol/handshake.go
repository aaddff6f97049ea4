// File: protocol/handshake.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Core logic WebSocket handshake: accept token, key generation and the
// validation of upgrade requests and responses. Only the handful of header
// fields the engine needs are inspected.
package protocol

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	WebSocketGUID                = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	MaxHandshakeHeadersSize      = 8192
	HeaderConnection             = "Connection"
	HeaderUpgrade                = "Upgrade"
	HeaderSecWebSocketKey        = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer        = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept     = "Sec-WebSocket-Accept"
	HeaderSecWebSocketExtensions = "Sec-WebSocket-Extensions"
	HeaderSecWebSocketProtocol   = "Sec-WebSocket-Protocol"
	RequiredWebSocketVersion     = "13"

	keyRawLen = 16
)

// ComputeAcceptKey derives the Sec-WebSocket-Accept token for key:
// base64(SHA-1(key + GUID)).
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyAcceptKey checks the acceptor's token against the key this side
// sent. The comparison runs in constant time.
func VerifyAcceptKey(key, accept string) error {
	want := ComputeAcceptKey(key)
	if subtle.ConstantTimeCompare([]byte(want), []byte(strings.TrimSpace(accept))) != 1 {
		return ErrAcceptMismatch
	}
	return nil
}

// GenerateKey returns a fresh Sec-WebSocket-Key: 16 random bytes, base64.
// A nil source uses crypto/rand.
func GenerateKey(src io.Reader) (string, error) {
	if src == nil {
		src = rand.Reader
	}
	var raw [keyRawLen]byte
	if _, err := io.ReadFull(src, raw[:]); err != nil {
		return "", fmt.Errorf("handshake key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

// validKey reports whether key decodes to exactly 16 bytes.
func validKey(key string) bool {
	raw, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(raw) == keyRawLen
}

// ValidateUpgradeRequest checks the upgrade fields of a request header and
// returns the client key.
func ValidateUpgradeRequest(h http.Header) (string, error) {
	// Проверка Connection и Upgrade
	if !headerContainsToken(h, HeaderConnection, "upgrade") ||
		!headerContainsToken(h, HeaderUpgrade, "websocket") {
		return "", ErrInvalidUpgradeHeaders
	}
	if h.Get(HeaderSecWebSocketVer) != RequiredWebSocketVersion {
		return "", ErrBadWebSocketVersion
	}
	key := strings.TrimSpace(h.Get(HeaderSecWebSocketKey))
	if !validKey(key) {
		return "", ErrMissingWebSocketKey
	}
	return key, nil
}

// ReadUpgradeRequest reads one HTTP request from br and validates it as a
// WebSocket upgrade. It returns the request and the client key.
func ReadUpgradeRequest(br *bufio.Reader) (*http.Request, string, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, "", fmt.Errorf("handshake read request: %w", err)
	}
	if headerSize(req.Header) > MaxHandshakeHeadersSize {
		return nil, "", fmt.Errorf("%w: headers too large", ErrInvalidUpgradeHeaders)
	}
	if req.Method != http.MethodGet {
		return nil, "", fmt.Errorf("%w: method %s", ErrInvalidUpgradeHeaders, req.Method)
	}
	key, err := ValidateUpgradeRequest(req.Header)
	if err != nil {
		return nil, "", err
	}
	return req, key, nil
}

// AcceptHeaders builds the 101 response headers for key and agreement.
func AcceptHeaders(key string, agreement Agreement) http.Header {
	hdr := make(http.Header)
	hdr.Set(HeaderUpgrade, "websocket")
	hdr.Set(HeaderConnection, "Upgrade")
	hdr.Set(HeaderSecWebSocketAccept, ComputeAcceptKey(key))
	if !agreement.IsZero() {
		hdr.Set(HeaderSecWebSocketExtensions, agreement.Header())
	}
	return hdr
}

// ValidateUpgradeResponse checks the acceptor's answer to a request that
// carried key and offered offers, and returns the confirmed agreement.
func ValidateUpgradeResponse(resp *http.Response, key string, offers []Extension) (Agreement, error) {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return Agreement{}, fmt.Errorf("%w: %s", ErrBadHandshakeStatus, resp.Status)
	}
	if !headerContainsToken(resp.Header, HeaderConnection, "upgrade") ||
		!headerContainsToken(resp.Header, HeaderUpgrade, "websocket") {
		return Agreement{}, ErrInvalidUpgradeHeaders
	}
	if err := VerifyAcceptKey(key, resp.Header.Get(HeaderSecWebSocketAccept)); err != nil {
		return Agreement{}, err
	}
	return ConfirmAgreement(offers, ParseExtensions(resp.Header))
}

// headerContainsToken проверяет наличие токена token в headerName.
func headerContainsToken(h http.Header, headerName, token string) bool {
	for _, v := range h.Values(headerName) {
		for _, p := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(p), token) {
				return true
			}
		}
	}
	return false
}

func headerSize(h http.Header) int {
	total := 0
	for k, vs := range h {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
	}
	return total
}
