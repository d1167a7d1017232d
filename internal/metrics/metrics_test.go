package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// New registers every collector on the global default registry, so the
// whole test file shares a single instance — a second New() call would
// panic on duplicate registration.
var (
	sharedOnce sync.Once
	shared     *Metrics
)

func testMetrics() *Metrics {
	sharedOnce.Do(func() {
		shared = New()
	})
	return shared
}

func TestRecordHTTPRequestIncrementsCounterAndHistogram(t *testing.T) {
	m := testMetrics()

	before := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/api/v1/files/write", "0"))
	m.RecordHTTPRequest("/api/v1/files/write", "0", 25*time.Millisecond)
	after := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/api/v1/files/write", "0"))

	if after != before+1 {
		t.Fatalf("HTTPRequestsTotal = %v, want %v", after, before+1)
	}
}

func TestComponentGaugesAreSettable(t *testing.T) {
	m := testMetrics()

	m.ProcessesRunning.Set(3)
	if got := testutil.ToFloat64(m.ProcessesRunning); got != 3 {
		t.Errorf("ProcessesRunning = %v, want 3", got)
	}

	m.SessionsActive.Set(2)
	if got := testutil.ToFloat64(m.SessionsActive); got != 2 {
		t.Errorf("SessionsActive = %v, want 2", got)
	}

	m.WebSocketClients.Set(5)
	if got := testutil.ToFloat64(m.WebSocketClients); got != 5 {
		t.Errorf("WebSocketClients = %v, want 5", got)
	}
}

func TestSampleUpdatesHostGauges(t *testing.T) {
	m := testMetrics()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.sample(ctx)

	// gopsutil may be unable to read /proc in some sandboxes; sample()
	// silently skips a gauge on a read error rather than failing, so this
	// only asserts sample() completes without panicking. sample() itself
	// is otherwise exercised indirectly by StartSampler's first eager call.
}
