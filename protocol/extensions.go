// File: protocol/extensions.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sec-WebSocket-Extensions parsing and negotiation. Negotiation yields an
// Agreement token; the codec behind an agreed extension is supplied by the
// caller and never lives in this package.

package protocol

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Extension names and permessage-deflate parameters (RFC 7692).
const (
	ExtPerMessageDeflate = "permessage-deflate"

	ParamServerNoContextTakeover = "server_no_context_takeover"
	ParamClientNoContextTakeover = "client_no_context_takeover"
	ParamServerMaxWindowBits     = "server_max_window_bits"
	ParamClientMaxWindowBits     = "client_max_window_bits"

	maxWindowBits = 15
)

// ExtensionParam is one name[=value] pair of an extension offer.
type ExtensionParam struct {
	Name  string
	Value string
}

// Extension is one element of a Sec-WebSocket-Extensions list.
type Extension struct {
	Name   string
	Params []ExtensionParam
}

// Param returns the value of the named parameter and whether it is present.
func (e Extension) Param(name string) (string, bool) {
	for _, p := range e.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

func (e Extension) String() string {
	var b strings.Builder
	b.WriteString(e.Name)
	for _, p := range e.Params {
		b.WriteString("; ")
		b.WriteString(p.Name)
		if p.Value != "" {
			b.WriteByte('=')
			b.WriteString(p.Value)
		}
	}
	return b.String()
}

// ParseExtensions reads every Sec-WebSocket-Extensions header in h.
// Malformed elements are skipped.
func ParseExtensions(h http.Header) []Extension {
	var out []Extension
	for _, line := range h.Values(HeaderSecWebSocketExtensions) {
		for _, item := range strings.Split(line, ",") {
			parts := strings.Split(item, ";")
			name := strings.ToLower(strings.TrimSpace(parts[0]))
			if name == "" {
				continue
			}
			ext := Extension{Name: name}
			for _, raw := range parts[1:] {
				k, v, _ := strings.Cut(raw, "=")
				k = strings.ToLower(strings.TrimSpace(k))
				if k == "" {
					continue
				}
				v = strings.Trim(strings.TrimSpace(v), `"`)
				ext.Params = append(ext.Params, ExtensionParam{Name: k, Value: v})
			}
			out = append(out, ext)
		}
	}
	return out
}

// FormatExtensions renders exts as a single header value.
func FormatExtensions(exts []Extension) string {
	parts := make([]string, 0, len(exts))
	for _, e := range exts {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, ", ")
}

// DeflateParams are the agreed permessage-deflate parameters.
type DeflateParams struct {
	ServerNoContextTakeover bool
	ClientNoContextTakeover bool
	ServerMaxWindowBits     int
	ClientMaxWindowBits     int
}

// Agreement is the capability token produced by negotiation. The zero value
// means no extension is active.
type Agreement struct {
	deflate *DeflateParams
}

// DeflateAgreement builds an Agreement carrying permessage-deflate.
func DeflateAgreement(p DeflateParams) Agreement {
	return Agreement{deflate: &p}
}

// IsZero reports whether no extension was agreed.
func (a Agreement) IsZero() bool { return a.deflate == nil }

// Has reports whether the named extension is active.
func (a Agreement) Has(name string) bool {
	return name == ExtPerMessageDeflate && a.deflate != nil
}

// Deflate returns the agreed permessage-deflate parameters.
func (a Agreement) Deflate() (DeflateParams, bool) {
	if a.deflate == nil {
		return DeflateParams{}, false
	}
	return *a.deflate, true
}

// ReservedBits returns the RSV bits claimed by the agreed extensions.
func (a Agreement) ReservedBits() byte {
	if a.deflate != nil {
		return Rsv1Bit
	}
	return 0
}

// Extensions returns the agreement in response form.
func (a Agreement) Extensions() []Extension {
	if a.deflate == nil {
		return nil
	}
	e := Extension{Name: ExtPerMessageDeflate}
	if a.deflate.ServerNoContextTakeover {
		e.Params = append(e.Params, ExtensionParam{Name: ParamServerNoContextTakeover})
	}
	if a.deflate.ClientNoContextTakeover {
		e.Params = append(e.Params, ExtensionParam{Name: ParamClientNoContextTakeover})
	}
	if bits := a.deflate.ServerMaxWindowBits; bits > 0 && bits != maxWindowBits {
		e.Params = append(e.Params, ExtensionParam{Name: ParamServerMaxWindowBits, Value: strconv.Itoa(bits)})
	}
	if bits := a.deflate.ClientMaxWindowBits; bits > 0 && bits != maxWindowBits {
		e.Params = append(e.Params, ExtensionParam{Name: ParamClientMaxWindowBits, Value: strconv.Itoa(bits)})
	}
	return []Extension{e}
}

// Header returns the Sec-WebSocket-Extensions value for the agreement.
func (a Agreement) Header() string {
	return FormatExtensions(a.Extensions())
}

func (a Agreement) String() string {
	if a.deflate == nil {
		return "none"
	}
	return a.Header()
}

// Negotiator selects the extensions an acceptor agrees to.
type Negotiator struct {
	// EnableDeflate allows permessage-deflate. The engine only runs it
	// without context takeover in both directions.
	EnableDeflate bool
}

// Negotiate picks the first acceptable offer of every supported extension.
func (n Negotiator) Negotiate(offers []Extension) Agreement {
	if !n.EnableDeflate {
		return Agreement{}
	}
	for _, offer := range offers {
		if offer.Name != ExtPerMessageDeflate {
			continue
		}
		if _, err := parseDeflateParams(offer, true); err != nil {
			continue
		}
		return DeflateAgreement(DeflateParams{
			ServerNoContextTakeover: true,
			ClientNoContextTakeover: true,
		})
	}
	return Agreement{}
}

// DeflateOffer is the permessage-deflate offer sent by initiators.
func DeflateOffer() Extension {
	return Extension{
		Name: ExtPerMessageDeflate,
		Params: []ExtensionParam{
			{Name: ParamServerNoContextTakeover},
			{Name: ParamClientNoContextTakeover},
		},
	}
}

// ConfirmAgreement checks an acceptor's response against what the initiator
// offered and returns the resulting agreement. Any extension that was not
// offered fails the handshake.
func ConfirmAgreement(offers, response []Extension) (Agreement, error) {
	var a Agreement
	for _, r := range response {
		offered := false
		for _, o := range offers {
			if o.Name == r.Name {
				offered = true
				break
			}
		}
		if !offered || r.Name != ExtPerMessageDeflate || a.deflate != nil {
			return Agreement{}, fmt.Errorf("%w: %s", ErrUnofferedExtension, r.Name)
		}
		p, err := parseDeflateParams(r, false)
		if err != nil {
			return Agreement{}, err
		}
		// Inflating with a fresh window per message requires the acceptor
		// to drop its context. A smaller client window cannot be honoured.
		if !p.ServerNoContextTakeover || (p.ClientMaxWindowBits > 0 && p.ClientMaxWindowBits < maxWindowBits) {
			return Agreement{}, fmt.Errorf("%w: %s", ErrExtensionParams, r)
		}
		p.ClientNoContextTakeover = true
		a = DeflateAgreement(p)
	}
	return a, nil
}

// parseDeflateParams validates permessage-deflate parameters. In an offer
// client_max_window_bits may appear without a value.
func parseDeflateParams(e Extension, offer bool) (DeflateParams, error) {
	var p DeflateParams
	seen := make(map[string]bool, len(e.Params))
	for _, prm := range e.Params {
		if seen[prm.Name] {
			return p, fmt.Errorf("%w: duplicate %s", ErrExtensionParams, prm.Name)
		}
		seen[prm.Name] = true
		switch prm.Name {
		case ParamServerNoContextTakeover:
			if prm.Value != "" {
				return p, fmt.Errorf("%w: %s takes no value", ErrExtensionParams, prm.Name)
			}
			p.ServerNoContextTakeover = true
		case ParamClientNoContextTakeover:
			if prm.Value != "" {
				return p, fmt.Errorf("%w: %s takes no value", ErrExtensionParams, prm.Name)
			}
			p.ClientNoContextTakeover = true
		case ParamServerMaxWindowBits:
			bits, err := windowBits(prm.Value)
			if err != nil {
				return p, err
			}
			// The codec always deflates with the full window.
			if offer && bits < maxWindowBits {
				return p, fmt.Errorf("%w: server window %d", ErrExtensionParams, bits)
			}
			p.ServerMaxWindowBits = bits
		case ParamClientMaxWindowBits:
			if offer && prm.Value == "" {
				continue
			}
			bits, err := windowBits(prm.Value)
			if err != nil {
				return p, err
			}
			p.ClientMaxWindowBits = bits
		default:
			return p, fmt.Errorf("%w: unknown %s", ErrExtensionParams, prm.Name)
		}
	}
	return p, nil
}

func windowBits(v string) (int, error) {
	bits, err := strconv.Atoi(v)
	if err != nil || bits < 8 || bits > maxWindowBits {
		return 0, fmt.Errorf("%w: window bits %q", ErrExtensionParams, v)
	}
	return bits, nil
}
