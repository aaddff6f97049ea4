// Package discovery announces the WebSocket endpoint over mDNS/DNS-SD and
// browses for other announced endpoints.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD service type used by hioload-wsd.
	ServiceType = "_hioload-ws._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultBrowseTimeout bounds Browse when the context has no deadline.
	DefaultBrowseTimeout = 3 * time.Second
)

// Endpoint is one announced WebSocket server.
type Endpoint struct {
	Instance    string
	Host        string
	IP          string
	Port        int
	Path        string
	Compression bool
	Version     string
}

// URL returns the ws:// address of e.
func (e Endpoint) URL() string {
	path := e.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(e.IP, strconv.Itoa(e.Port)) + path
}

// Announcement describes what Announce publishes.
type Announcement struct {
	Instance    string
	Service     string
	Domain      string
	Port        int
	Path        string
	Compression bool
	Version     string
}

// TXT renders the TXT records for a.
func (a Announcement) TXT() []string {
	txt := []string{"path=" + a.Path}
	if a.Version != "" {
		txt = append(txt, "ver="+a.Version)
	}
	if a.Compression {
		txt = append(txt, "ext=permessage-deflate")
	}
	return txt
}

// Announcer keeps an mDNS registration alive until Shutdown.
type Announcer struct {
	server *zeroconf.Server
}

// Announce registers a on every multicast interface.
func Announce(a Announcement) (*Announcer, error) {
	if a.Service == "" {
		a.Service = ServiceType
	}
	if a.Domain == "" {
		a.Domain = ServiceDomain
	}
	if a.Port <= 0 {
		return nil, fmt.Errorf("mdns announce: invalid port %d", a.Port)
	}
	srv, err := zeroconf.Register(a.Instance, a.Service, a.Domain, a.Port, a.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns announce: %w", err)
	}
	return &Announcer{server: srv}, nil
}

// Shutdown withdraws the announcement.
func (a *Announcer) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Browse collects endpoints of service until ctx ends.
func Browse(ctx context.Context, service, domain string) ([]Endpoint, error) {
	if service == "" {
		service = ServiceType
	}
	if domain == "" {
		domain = ServiceDomain
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
		defer cancel()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan []Endpoint, 1)
	go func() {
		var out []Endpoint
		for entry := range entries {
			if ep, ok := parseEntry(entry); ok {
				out = append(out, ep)
			}
		}
		found <- out
	}()
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	<-ctx.Done()
	select {
	case out := <-found:
		return out, nil
	case <-time.After(time.Second):
		return nil, fmt.Errorf("mdns browse: resolver did not finish")
	}
}

// parseEntry converts a zeroconf entry. Entries without an address are
// skipped.
func parseEntry(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry == nil {
		return Endpoint{}, false
	}
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" || entry.Port <= 0 {
		return Endpoint{}, false
	}
	ep := Endpoint{
		Instance: entry.Instance,
		Host:     entry.HostName,
		IP:       ip,
		Port:     entry.Port,
		Path:     "/",
	}
	for _, txt := range entry.Text {
		key, val, _ := strings.Cut(txt, "=")
		switch key {
		case "path":
			if val != "" {
				ep.Path = val
			}
		case "ver":
			ep.Version = val
		case "ext":
			ep.Compression = strings.Contains(val, "permessage-deflate")
		}
	}
	return ep, true
}
