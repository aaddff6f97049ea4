package pool_test

import (
	"testing"

	"github.com/momentics/hioload-wsengine/pool"
)

func TestBytePoolReuse(t *testing.T) {
	bp := pool.NewBytePool(128, 1024)
	b1 := bp.Get(100)
	if len(b1) != 100 || cap(b1) != 128 {
		t.Fatalf("got len=%d cap=%d, want 100/128", len(b1), cap(b1))
	}
	bp.Put(b1)
	b2 := bp.Get(64)
	// b2 should come from the 128 class
	if cap(b2) != 128 {
		t.Errorf("cap=%d, want 128", cap(b2))
	}
}

func TestBytePoolLargeRequest(t *testing.T) {
	bp := pool.NewBytePool(128)
	b := bp.Get(4096)
	if len(b) != 4096 {
		t.Fatalf("len=%d, want 4096", len(b))
	}
	bp.Put(b)
	st := bp.Stats()
	if st.Large != 1 {
		t.Errorf("Large=%d, want 1", st.Large)
	}
	if st.Puts != 0 {
		t.Errorf("Puts=%d, oversized buffer must not be retained", st.Puts)
	}
}

func TestBytePoolForeignSliceIgnored(t *testing.T) {
	bp := pool.NewBytePool(128)
	bp.Put(make([]byte, 10, 50))
	if st := bp.Stats(); st.Puts != 0 {
		t.Errorf("Puts=%d, want 0", st.Puts)
	}
}
