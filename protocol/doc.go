// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the core WebSocket protocol logic (RFC 6455) for hioload-wsengine.
//
// Everything in this package is pure: no I/O, no goroutines, no blocking.
// Bytes go in, frames, messages and encoded replies come out, so the same
// engine can be stepped by a blocking read loop, a reactor callback or a test.
//
// Includes:
//   - Frame encoding and header decoding with the three length classes
//   - One symmetric masking transform for both directions
//   - An incremental frame reader resumable at any byte boundary
//   - Message reassembly with incremental UTF-8 validation
//   - Ping/Pong/Close control handling and the close handshake FSM
//   - Accept-token computation and extension negotiation
//
// A Connection is owned by a single goroutine at a time. Hosts that touch it
// from several goroutines must serialise access themselves.
package protocol
