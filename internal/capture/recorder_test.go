package capture_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/internal/capture"
	"github.com/momentics/hioload-wsengine/protocol"
)

func openRecorder(t *testing.T, opts capture.Options) *capture.Recorder {
	t.Helper()
	r, err := capture.Open(filepath.Join(t.TempDir(), "frames.db"), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecorderStoresFramesAndCloses(t *testing.T) {
	r := openRecorder(t, capture.DefaultOptions())

	r.ObserveFrame(api.FrameInfo{ConnID: "c1", Dir: api.Inbound, Opcode: byte(protocol.OpcodeText), Fin: true, Masked: true, Length: 5, Encoded: 11})
	r.ObserveFrame(api.FrameInfo{ConnID: "c1", Dir: api.Outbound, Opcode: byte(protocol.OpcodeText), Fin: true, Rsv: protocol.Rsv1Bit, Length: 7, Encoded: 9})
	r.ObserveFrame(api.FrameInfo{ConnID: "c2", Dir: api.Inbound, Opcode: byte(protocol.OpcodePing), Fin: true, Masked: true})
	r.ConnClosed("c1", uint16(protocol.CloseNormalClosure), true)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	frames, err := r.Frames(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames for c1, want 2", len(frames))
	}
	if frames[0].Dir != "in" || !frames[0].Masked || frames[0].Length != 5 || frames[0].Encoded != 11 {
		t.Fatalf("first frame %+v", frames[0])
	}
	if frames[1].Dir != "out" || frames[1].Rsv != int(protocol.Rsv1Bit) {
		t.Fatalf("second frame %+v", frames[1])
	}

	closes, err := r.Closes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(closes) != 1 || closes[0].Code != 1000 || !closes[0].Remote {
		t.Fatalf("closes %+v", closes)
	}
	if r.Written() != 4 {
		t.Fatalf("Written = %d, want 4", r.Written())
	}
}

func TestRecorderFlushOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.db")
	r, err := capture.Open(path, capture.Options{FlushInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		r.ObserveFrame(api.FrameInfo{ConnID: "c", Opcode: byte(protocol.OpcodeBinary), Fin: true})
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	r.ObserveFrame(api.FrameInfo{ConnID: "c"}) // ignored after Close

	again, err := capture.Open(path, capture.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	frames, err := again.Frames(context.Background(), "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 10 {
		t.Fatalf("got %d frames after reopen, want 10", len(frames))
	}
}

func TestRecorderAccountsEveryRecord(t *testing.T) {
	r := openRecorder(t, capture.Options{QueueSize: 1, BatchSize: 4096, FlushInterval: time.Hour})
	for i := 0; i < 1000; i++ {
		r.ObserveFrame(api.FrameInfo{ConnID: "burst"})
	}
	if err := r.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := r.Written() + r.Dropped(); got != 1000 {
		t.Fatalf("written+dropped = %d, want 1000", got)
	}
}
