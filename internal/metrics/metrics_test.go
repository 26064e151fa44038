package metrics

import "testing"

func TestRecordInvocationWithDetailsUpdatesCounters(t *testing.T) {
	m := &Metrics{startTime: StartTime()}
	m.MinLatencyMs.Store(int64(^uint64(0) >> 1))
	m.tsChan = make(chan timeSeriesEvent, 8)
	m.initTimeSeries()
	go m.processTimeSeriesLoop()

	m.RecordInvocationWithDetails("fn-1", "hello", "nodejs20.x", 42, false, true)
	m.RecordInvocationWithDetails("fn-1", "hello", "nodejs20.x", 10, false, false)

	if got := m.TotalInvocations.Load(); got != 2 {
		t.Fatalf("expected 2 total invocations, got %d", got)
	}
	if got := m.SuccessInvocations.Load(); got != 1 {
		t.Fatalf("expected 1 success, got %d", got)
	}
	if got := m.FailedInvocations.Load(); got != 1 {
		t.Fatalf("expected 1 failure, got %d", got)
	}
	if got := m.MinLatencyMs.Load(); got != 10 {
		t.Fatalf("expected min latency 10, got %d", got)
	}
	if got := m.MaxLatencyMs.Load(); got != 42 {
		t.Fatalf("expected max latency 42, got %d", got)
	}

	fm := m.GetFunctionMetrics("fn-1")
	if fm == nil {
		t.Fatal("expected per-function metrics to exist for fn-1")
	}
	if got := fm.Invocations.Load(); got != 2 {
		t.Fatalf("expected 2 invocations on fn-1, got %d", got)
	}
}

func TestRecordPoolHitAndMiss(t *testing.T) {
	m := &Metrics{}
	m.RecordPoolHit()
	m.RecordPoolHit()
	m.RecordPoolMiss()

	if got := m.PoolHits.Load(); got != 2 {
		t.Fatalf("expected 2 pool hits, got %d", got)
	}
	if got := m.PoolMisses.Load(); got != 1 {
		t.Fatalf("expected 1 pool miss, got %d", got)
	}
}

func TestVMLifecycleCounters(t *testing.T) {
	m := &Metrics{}
	m.RecordVMCreated()
	m.RecordVMCreated()
	m.RecordVMStopped()
	m.RecordVMCrashed()

	if got := m.VMsCreated.Load(); got != 2 {
		t.Fatalf("expected 2 VMs created, got %d", got)
	}
	if got := m.VMsStopped.Load(); got != 1 {
		t.Fatalf("expected 1 VM stopped, got %d", got)
	}
	if got := m.VMsCrashed.Load(); got != 1 {
		t.Fatalf("expected 1 VM crashed, got %d", got)
	}
}

func TestSnapshotReportsZeroedFieldsOnFreshInstance(t *testing.T) {
	m := &Metrics{startTime: StartTime()}
	m.MinLatencyMs.Store(int64(^uint64(0) >> 1))
	m.tsChan = make(chan timeSeriesEvent, 1)
	m.initTimeSeries()

	snap := m.Snapshot()
	invocations, ok := snap["invocations"].(map[string]interface{})
	if !ok {
		t.Fatal("expected invocations key in snapshot")
	}
	if invocations["total"].(int64) != 0 {
		t.Fatalf("expected zero invocations on a fresh instance, got %v", invocations["total"])
	}

	latency := snap["latency_ms"].(map[string]interface{})
	if latency["min"].(int64) != 0 {
		t.Fatalf("expected min latency to read back as 0 when unset, got %v", latency["min"])
	}
}
