package control_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/momentics/hioload-wsengine/api"
	"github.com/momentics/hioload-wsengine/control"
)

func TestMetricsObservers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := control.NewMetrics(control.WithRegistry(reg))

	m.ConnOpened("c1")
	m.ObserveFrame(api.FrameInfo{ConnID: "c1", Dir: api.Inbound, Opcode: 0x1, Fin: true, Length: 5, Encoded: 11})
	m.MessageObserved("c1", api.Inbound, true, 5)
	m.ProtocolError("c1", "encoding")
	m.ConnClosed("c1", 1007, false)
	m.HandshakeFailed("bad_version")

	expected := map[string]float64{
		"hioload_ws_connections_total":        1,
		"hioload_ws_active_connections":       0,
		"hioload_ws_frames_total":             1,
		"hioload_ws_frame_bytes_total":        11,
		"hioload_ws_messages_total":           1,
		"hioload_ws_protocol_errors_total":    1,
		"hioload_ws_closes_total":             1,
		"hioload_ws_handshake_failures_total": 1,
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.Counter != nil:
				got[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.Gauge != nil:
				got[mf.GetName()] += metric.GetGauge().GetValue()
			}
		}
	}
	for name, want := range expected {
		if got[name] != want {
			t.Errorf("%s=%v, want %v", name, got[name], want)
		}
	}
	if n, err := testutil.GatherAndCount(reg, "hioload_ws_message_size_bytes"); err != nil || n != 1 {
		t.Errorf("message size series=%d err=%v, want 1", n, err)
	}
}
