// File: internal/capture/recorder.go
// Package capture
// Author: momentics <momentics@gmail.com>
//
// Recorder persists frame headers and close outcomes into SQLite. Observer
// callbacks never block: records go through a bounded channel and are
// dropped (and counted) when the writer falls behind.

package capture

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS frames (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	ts       INTEGER NOT NULL,
	conn_id  TEXT    NOT NULL,
	dir      TEXT    NOT NULL,
	opcode   INTEGER NOT NULL,
	fin      INTEGER NOT NULL,
	rsv      INTEGER NOT NULL,
	masked   INTEGER NOT NULL,
	length   INTEGER NOT NULL,
	encoded  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS frames_conn ON frames(conn_id, id);
CREATE TABLE IF NOT EXISTS closes (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	ts       INTEGER NOT NULL,
	conn_id  TEXT    NOT NULL,
	code     INTEGER NOT NULL,
	remote   INTEGER NOT NULL
);
`

// Options tunes the background writer.
type Options struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultOptions returns the writer defaults.
func DefaultOptions() Options {
	return Options{QueueSize: 4096, BatchSize: 256, FlushInterval: 200 * time.Millisecond}
}

type record struct {
	ts     time.Time
	frame  *api.FrameInfo
	connID string
	code   uint16
	remote bool
}

// Recorder is an api.FrameObserver and api.ConnObserver backed by SQLite.
type Recorder struct {
	db   *sql.DB
	opts Options

	mu     sync.RWMutex
	closed bool
	ch     chan record
	syncCh chan chan error
	done   chan struct{}

	dropped atomic.Uint64
	written atomic.Uint64
}

var (
	_ api.FrameObserver = (*Recorder)(nil)
	_ api.ConnObserver  = (*Recorder)(nil)
)

// Open creates or opens the capture database at path.
func Open(path string, opts Options) (*Recorder, error) {
	d := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = d.QueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = d.BatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = d.FlushInterval
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("capture open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("capture pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("capture schema: %w", err)
	}
	r := &Recorder{
		db:     db,
		opts:   opts,
		ch:     make(chan record, opts.QueueSize),
		syncCh: make(chan chan error),
		done:   make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// ObserveFrame implements api.FrameObserver.
func (r *Recorder) ObserveFrame(info api.FrameInfo) {
	r.offer(record{ts: time.Now(), frame: &info, connID: info.ConnID})
}

// ConnClosed implements api.ConnObserver.
func (r *Recorder) ConnClosed(connID string, code uint16, remote bool) {
	r.offer(record{ts: time.Now(), connID: connID, code: code, remote: remote})
}

// ConnOpened implements api.ConnObserver.
func (r *Recorder) ConnOpened(string) {}

// MessageObserved implements api.ConnObserver.
func (r *Recorder) MessageObserved(string, api.Direction, bool, int) {}

// ProtocolError implements api.ConnObserver.
func (r *Recorder) ProtocolError(string, string) {}

func (r *Recorder) offer(rec record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- rec:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many records were discarded on a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns how many records reached the database.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Sync writes every queued record before returning.
func (r *Recorder) Sync(ctx context.Context) error {
	ack := make(chan error, 1)
	select {
	case r.syncCh <- ack:
	case <-r.done:
		return api.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending records and closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	<-r.done
	return r.db.Close()
}

func (r *Recorder) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()
	batch := make([]record, 0, r.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := r.write(batch)
		if err != nil {
			logging.Warn("capture write failed", zap.Int("records", len(batch)), zap.Error(err))
		} else {
			r.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
		return err
	}
	for {
		select {
		case rec, ok := <-r.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= r.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case ack := <-r.syncCh:
		drain:
			for {
				select {
				case rec, ok := <-r.ch:
					if !ok {
						break drain
					}
					batch = append(batch, rec)
				default:
					break drain
				}
			}
			ack <- flush()
		}
	}
}

func (r *Recorder) write(batch []record) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	frameStmt, err := tx.Prepare(`INSERT INTO frames (ts, conn_id, dir, opcode, fin, rsv, masked, length, encoded) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer frameStmt.Close()
	closeStmt, err := tx.Prepare(`INSERT INTO closes (ts, conn_id, code, remote) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer closeStmt.Close()

	for _, rec := range batch {
		ts := rec.ts.UnixNano()
		if f := rec.frame; f != nil {
			_, err = frameStmt.Exec(ts, f.ConnID, f.Dir.String(), int(f.Opcode), f.Fin, int(f.Rsv), f.Masked, f.Length, f.Encoded)
		} else {
			_, err = closeStmt.Exec(ts, rec.connID, int(rec.code), rec.remote)
		}
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
