package session_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/internal/session"
	"github.com/momentics/hioload-wsengine/protocol"
)

type fakePeer struct {
	id string

	mu     sync.Mutex
	closes []protocol.CloseCode
	err    error
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Close(code protocol.CloseCode, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes = append(p.closes, code)
	return p.err
}

func TestRegistryAddGetDelete(t *testing.T) {
	r := session.NewRegistry(3)
	p := &fakePeer{id: "c1"}
	s, err := r.Add(p, "10.0.0.1:5000")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if s.ID() != "c1" || s.Remote() != "10.0.0.1:5000" {
		t.Fatalf("unexpected session %+v", s.Info())
	}
	if _, err := r.Add(&fakePeer{id: "c1"}, ""); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("duplicate Add: got %v", err)
	}
	if _, err := r.Add(&fakePeer{}, ""); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("empty id Add: got %v", err)
	}
	got, ok := r.Get("c1")
	if !ok || got != s {
		t.Fatal("Get did not return the registered session")
	}
	if !r.Delete("c1") {
		t.Fatal("Delete reported missing session")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Delete")
	}
	if r.Delete("c1") {
		t.Fatal("second Delete succeeded")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestRegistryConcurrentAdd(t *testing.T) {
	r := session.NewRegistry(8)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Add(&fakePeer{id: fmt.Sprintf("conn-%d", i)}, ""); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if r.Len() != 64 {
		t.Fatalf("Len = %d, want 64", r.Len())
	}
	if n := len(r.Snapshot()); n != 64 {
		t.Fatalf("Snapshot has %d entries", n)
	}
	seen := 0
	r.Range(func(*session.Session) bool {
		seen++
		return seen < 10
	})
	if seen != 10 {
		t.Fatalf("Range visited %d sessions after stop", seen)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	r := session.NewRegistry(4)
	a := &fakePeer{id: "a"}
	b := &fakePeer{id: "b", err: protocol.ErrCloseSent}
	c := &fakePeer{id: "c", err: errors.New("broken pipe")}
	for _, p := range []*fakePeer{a, b, c} {
		if _, err := r.Add(p, ""); err != nil {
			t.Fatal(err)
		}
	}
	n, err := r.CloseAll(protocol.CloseGoingAway, "shutdown")
	if n != 3 {
		t.Fatalf("CloseAll asked %d peers, want 3", n)
	}
	if err == nil || !errors.Is(err, c.err) {
		t.Fatalf("CloseAll error = %v, want broken pipe", err)
	}
	for _, p := range []*fakePeer{a, b, c} {
		if len(p.closes) != 1 || p.closes[0] != protocol.CloseGoingAway {
			t.Fatalf("peer %s closes = %v", p.id, p.closes)
		}
	}
	if r.Len() != 3 {
		t.Fatal("CloseAll must leave removal to the owners")
	}
}
