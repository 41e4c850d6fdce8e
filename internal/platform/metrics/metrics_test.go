package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	m.IncRecordEvent("CREATED")
	m.IncOfflineSync("CREATE", "synced")
	m.ObserveDispatch("dc-sandata", "sent", time.Second)
	m.IncAuditFailure()
	m.ObserveJob("offline-sync", "ok", time.Millisecond)
}

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncRecordEvent("APPROVED")
	m.ObserveDispatch("virginia-mco", "failed", 250*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"evv_record_transitions_total",
		"evv_outbox_dispatch_total",
		"evv_outbox_dispatch_duration_seconds",
	} {
		if !names[want] {
			t.Errorf("expected %s to be registered", want)
		}
	}
}
