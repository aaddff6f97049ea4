// File: protocol/handshake_serializer.go
// Package protocol
// Helper functions для сериализации HTTP-заголовков WebSocket-handshake.
package protocol

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
)

// WriteHandshakeResponse записывает в w статус 101 и заголовки hdr.
// Header order is sorted so the output is reproducible.
func WriteHandshakeResponse(w io.Writer, hdr http.Header) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	writeHeaders(bw, hdr)
	bw.WriteString("\r\n")
	return bw.Flush()
}

// WriteHandshakeError rejects an upgrade with a plain HTTP error response.
func WriteHandshakeError(w io.Writer, status int, reason string) error {
	text := http.StatusText(status)
	if reason == "" {
		reason = text
	}
	_, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n%s: %s\r\n\r\n%s",
		status, text, len(reason), HeaderSecWebSocketVer, RequiredWebSocketVersion, reason)
	return err
}

// WriteHandshakeRequest writes the initiator's upgrade request for u.
// extra headers are copied after the mandatory fields.
func WriteHandshakeRequest(w io.Writer, u *url.URL, key string, offers []Extension, extra http.Header) error {
	bw := bufio.NewWriter(w)
	path := u.RequestURI()
	if path == "" {
		path = "/"
	}
	fmt.Fprintf(bw, "GET %s HTTP/1.1\r\nHost: %s\r\n", path, u.Host)

	hdr := make(http.Header, len(extra)+5)
	for k, vs := range extra {
		hdr[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	hdr.Set(HeaderUpgrade, "websocket")
	hdr.Set(HeaderConnection, "Upgrade")
	hdr.Set(HeaderSecWebSocketKey, key)
	hdr.Set(HeaderSecWebSocketVer, RequiredWebSocketVersion)
	if len(offers) > 0 {
		hdr.Set(HeaderSecWebSocketExtensions, FormatExtensions(offers))
	}
	writeHeaders(bw, hdr)
	bw.WriteString("\r\n")
	return bw.Flush()
}

func writeHeaders(bw *bufio.Writer, hdr http.Header) {
	keys := make([]string, 0, len(hdr))
	for k := range hdr {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range hdr[k] {
			fmt.Fprintf(bw, "%s: %s\r\n", k, v)
		}
	}
}
