// Package session
// Author: momentics <momentics@gmail.com>
//
// Registry of live WebSocket connections. Entries are sharded by connection
// ID so accept, close and probe paths rarely contend on the same lock.
// Shutdown walks every shard and starts a going-away close on each peer.

package session
