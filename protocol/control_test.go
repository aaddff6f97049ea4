// Copyright 2025 momentics@gmail.com
// License: Apache 2.0

package protocol_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-wsengine/protocol"
)

func TestCloseHandlerLocalFirst(t *testing.T) {
	h := protocol.NewCloseHandler(nil)
	if err := h.SendClose(protocol.CloseInfo{Code: protocol.CloseNormalClosure}); err != nil {
		t.Fatal(err)
	}
	if h.State() != protocol.StateClosingSent {
		t.Fatalf("state %s, want closing_sent", h.State())
	}
	if _, reply := h.ReceiveClose(protocol.CloseInfo{Code: protocol.CloseNormalClosure}); reply {
		t.Error("echo requested for a close that answers ours")
	}
	if h.State() != protocol.StateClosed {
		t.Fatalf("state %s, want closed", h.State())
	}
	if err := h.SendClose(protocol.CloseInfo{Code: protocol.CloseNormalClosure}); !errors.Is(err, protocol.ErrCloseSent) {
		t.Errorf("second SendClose err=%v", err)
	}
}

func TestCloseHandlerRemoteFirst(t *testing.T) {
	h := protocol.NewCloseHandler(nil)
	echo, reply := h.ReceiveClose(protocol.CloseInfo{Code: protocol.CloseGoingAway, Reason: "bye"})
	if !reply || echo.Code != protocol.CloseGoingAway {
		t.Fatalf("reply=%t echo=%v", reply, echo)
	}
	if h.State() != protocol.StateClosingReceived {
		t.Fatalf("state %s, want closing_received", h.State())
	}
	if err := h.SendClose(echo); err != nil {
		t.Fatal(err)
	}
	if h.State() != protocol.StateClosed {
		t.Fatalf("state %s, want closed", h.State())
	}
	st, _ := h.Status()
	if st.Code != protocol.CloseGoingAway || st.Reason != "bye" {
		t.Errorf("status %v", st)
	}
}

func TestCloseHandlerEchoWithoutCode(t *testing.T) {
	h := protocol.NewCloseHandler(nil)
	echo, reply := h.ReceiveClose(protocol.CloseInfo{Code: protocol.CloseNoStatusReceived})
	if !reply || echo.Code != protocol.CloseNormalClosure {
		t.Fatalf("reply=%t echo=%v, want 1000", reply, echo)
	}
}

func TestCloseHandlerPing(t *testing.T) {
	h := protocol.NewCloseHandler(nil)
	pong, ok := h.ReceivePing([]byte("X"))
	if !ok || !bytes.Equal(pong, []byte("X")) {
		t.Fatalf("pong=%q ok=%t", pong, ok)
	}
	if h.State() != protocol.StateOpen {
		t.Errorf("ping changed state to %s", h.State())
	}
	h.SendClose(protocol.CloseInfo{Code: protocol.CloseNormalClosure})
	if _, ok := h.ReceivePing([]byte("Y")); ok {
		t.Error("pong produced after close was sent")
	}
}

func TestCloseHandlerLiveness(t *testing.T) {
	now := time.Unix(1000, 0)
	h := protocol.NewCloseHandler(func() time.Time { return now })
	h.PingSent([]byte("probe"))
	if !h.PingOutstanding() || !h.LastPing().Equal(now) {
		t.Fatal("ping not recorded")
	}
	now = now.Add(time.Second)
	if !h.ReceivePong([]byte("probe")) {
		t.Error("matching pong reported as unsolicited")
	}
	if h.PingOutstanding() || !h.LastPong().Equal(now) {
		t.Error("pong did not clear liveness expectation")
	}
	if h.ReceivePong([]byte("late")) {
		t.Error("unsolicited pong reported as matched")
	}
}

func TestCloseHandlerAbort(t *testing.T) {
	h := protocol.NewCloseHandler(nil)
	if info := h.Abort(); info.Code != protocol.CloseAbnormalClosure {
		t.Fatalf("abort code %d, want 1006", info.Code)
	}
	if h.State() != protocol.StateClosed {
		t.Fatalf("state %s", h.State())
	}
	if _, reply := h.ReceiveClose(protocol.CloseInfo{Code: protocol.CloseNormalClosure}); reply {
		t.Error("close after CLOSED must be ignored")
	}

	clean := protocol.NewCloseHandler(nil)
	clean.SendClose(protocol.CloseInfo{Code: protocol.CloseNormalClosure})
	clean.ReceiveClose(protocol.CloseInfo{Code: protocol.CloseNormalClosure})
	if info := clean.Abort(); info.Code != protocol.CloseNormalClosure {
		t.Errorf("abort after clean close reported %d", info.Code)
	}
}
