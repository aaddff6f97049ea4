package highlevel

import "testing"

func TestFIFOOrderAndWake(t *testing.T) {
	f := newFIFO()
	_, ok, wait, closed := f.pop()
	if ok || closed || wait == nil {
		t.Fatal("empty fifo must hand out a wait channel")
	}
	for i := 0; i < 3; i++ {
		if !f.push(i) {
			t.Fatal("push failed on open fifo")
		}
	}
	select {
	case <-wait:
	default:
		t.Fatal("push did not wake waiters")
	}
	for i := 0; i < 3; i++ {
		v, ok, _, _ := f.pop()
		if !ok || v.(int) != i {
			t.Fatalf("pop %d: got %v %v", i, v, ok)
		}
	}
}

func TestFIFOClose(t *testing.T) {
	f := newFIFO()
	f.push("a")
	f.close()
	if f.push("b") {
		t.Fatal("push succeeded after close")
	}
	if v, ok, _, _ := f.pop(); !ok || v != "a" {
		t.Fatal("queued item lost on close")
	}
	if _, ok, _, closed := f.pop(); ok || !closed {
		t.Fatal("drained closed fifo must report closed")
	}
	if n := len(f.drain()); n != 0 {
		t.Fatalf("drain returned %d items", n)
	}
}
