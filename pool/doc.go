// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for hioload-wsengine.
// Size-classed byte slices for read buffers and encoded frames, backed by a
// generic wrapper around sync.Pool. See bytepool.go and objpool.go.
package pool
