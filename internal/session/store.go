// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe registry for high connection counts.

package session

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/protocol"
)

// Registry holds the live sessions of one server.
type Registry struct {
	shards []*shard
	mask   uint32
	now    func() time.Time
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs a registry with shardCount shards, rounded up to a
// power of two.
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard, m)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return &Registry{shards: shards, mask: m - 1, now: time.Now}
}

func (r *Registry) shard(id string) *shard {
	return r.shards[fnv32(id)&r.mask]
}

// Add registers p. IDs must be unique among live sessions.
func (r *Registry) Add(p Peer, remote string) (*Session, error) {
	if p == nil || p.ID() == "" {
		return nil, api.WrapError(api.ErrCodeInvalidArgument, "session: peer without id", api.ErrInvalidArgument)
	}
	id := p.ID()
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[id]; ok {
		return nil, fmt.Errorf("session: %w: duplicate id %q", api.ErrInvalidArgument, id)
	}
	s := newSession(p, remote, r.now())
	sh.sessions[id] = s
	return s, nil
}

// Get fetches a session if present.
func (r *Registry) Get(id string) (*Session, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

// Delete removes the session and closes its Done channel.
func (r *Registry) Delete(id string) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	s, ok := sh.sessions[id]
	delete(sh.sessions, id)
	sh.mu.Unlock()
	if ok {
		s.cancel()
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Range calls fn for each session until fn returns false. fn runs without
// any shard lock held.
func (r *Registry) Range(fn func(*Session) bool) {
	for _, s := range r.collect() {
		if !fn(s) {
			return
		}
	}
}

// Snapshot lists the live sessions ordered by registration time.
func (r *Registry) Snapshot() []Info {
	all := r.collect()
	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}

// CloseAll starts a close handshake with code on every live session and
// returns how many peers were asked to close. Peers stay registered until
// their owners call Delete.
func (r *Registry) CloseAll(code protocol.CloseCode, reason string) (int, error) {
	var errs []error
	n := 0
	for _, s := range r.collect() {
		n++
		if err := s.peer.Close(code, reason); err != nil && !errors.Is(err, protocol.ErrCloseSent) {
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID(), err))
		}
	}
	return n, errors.Join(errs...)
}

func (r *Registry) collect() []*Session {
	var out []*Session
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			out = append(out, s)
		}
		sh.mu.RUnlock()
	}
	return out
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
