// File: internal/capture/query.go
// Package capture
// Author: momentics <momentics@gmail.com>

package capture

import (
	"context"
	"time"
)

// FrameRow is one stored frame header.
type FrameRow struct {
	Time    time.Time `json:"time"`
	ConnID  string    `json:"conn_id"`
	Dir     string    `json:"dir"`
	Opcode  int       `json:"opcode"`
	Fin     bool      `json:"fin"`
	Rsv     int       `json:"rsv"`
	Masked  bool      `json:"masked"`
	Length  int64     `json:"length"`
	Encoded int       `json:"encoded"`
}

// CloseRow is one stored close outcome.
type CloseRow struct {
	Time   time.Time `json:"time"`
	ConnID string    `json:"conn_id"`
	Code   int       `json:"code"`
	Remote bool      `json:"remote"`
}

// Frames returns the frames stored for connID in arrival order. Records
// still queued are not included; call Sync first.
func (r *Recorder) Frames(ctx context.Context, connID string) ([]FrameRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ts, conn_id, dir, opcode, fin, rsv, masked, length, encoded FROM frames WHERE conn_id = ? ORDER BY id`, connID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FrameRow
	for rows.Next() {
		var (
			fr FrameRow
			ts int64
		)
		if err := rows.Scan(&ts, &fr.ConnID, &fr.Dir, &fr.Opcode, &fr.Fin, &fr.Rsv, &fr.Masked, &fr.Length, &fr.Encoded); err != nil {
			return nil, err
		}
		fr.Time = time.Unix(0, ts)
		out = append(out, fr)
	}
	return out, rows.Err()
}

// Closes returns every stored close outcome in arrival order.
func (r *Recorder) Closes(ctx context.Context) ([]CloseRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT ts, conn_id, code, remote FROM closes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CloseRow
	for rows.Next() {
		var (
			cr CloseRow
			ts int64
		)
		if err := rows.Scan(&ts, &cr.ConnID, &cr.Code, &cr.Remote); err != nil {
			return nil, err
		}
		cr.Time = time.Unix(0, ts)
		out = append(out, cr)
	}
	return out, rows.Err()
}
