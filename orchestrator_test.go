package netagent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// stubTransport scripts per-device responses and counts dials/runs so tests
// can assert on connection behavior.
type stubTransport struct {
	mu      sync.Mutex
	dials   map[string]int
	runs    map[string]int
	dialErr map[string]error
	pingErr map[string]error
	// respond is called with the device address and the 1-based run attempt
	// counter for that address.
	respond func(addr, command string, run int) (string, error)
}

func newStubTransport(respond func(addr, command string, run int) (string, error)) *stubTransport {
	return &stubTransport{
		dials:   make(map[string]int),
		runs:    make(map[string]int),
		dialErr: make(map[string]error),
		pingErr: make(map[string]error),
		respond: respond,
	}
}

func (t *stubTransport) Dial(ctx context.Context, dev Device) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials[dev.Address]++
	if err := t.dialErr[dev.Address]; err != nil {
		return nil, err
	}
	return &stubSession{transport: t, addr: dev.Address}, nil
}

func (t *stubTransport) dialCount(addr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials[addr]
}

func (t *stubTransport) runCount(addr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs[addr]
}

func (t *stubTransport) totalDials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, n := range t.dials {
		total += n
	}
	return total
}

type stubSession struct {
	transport *stubTransport
	addr      string
	closed    bool
}

func (s *stubSession) Run(ctx context.Context, command string) (string, error) {
	s.transport.mu.Lock()
	s.transport.runs[s.addr]++
	run := s.transport.runs[s.addr]
	respond := s.transport.respond
	s.transport.mu.Unlock()
	if respond == nil {
		return "output from " + s.addr, nil
	}
	return respond(s.addr, command, run)
}

func (s *stubSession) Ping(ctx context.Context) error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	return s.transport.pingErr[s.addr]
}

func (s *stubSession) Close() error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	s.closed = true
	return nil
}

func testInventory() *Inventory {
	return NewInventory([]Device{
		{Address: "10.0.0.1", Name: "edge-1", Platform: "ios", CredentialRef: "lab"},
		{Address: "10.0.0.2", Name: "edge-2", Platform: "ios", CredentialRef: "lab"},
		{Address: "10.0.0.3", Name: "core-1", Platform: "nxos", CredentialRef: "lab"},
	})
}

func newTestOrchestrator(transport Transport) *Orchestrator {
	return NewOrchestrator(testInventory(), transport, OrchestratorConfig{Concurrency: 3})
}

func checkResultInvariant(t *testing.T, result *BatchResult, targets []string) {
	t.Helper()
	if got := result.SuccessCount() + result.FailureCount(); got != result.TotalDevices {
		t.Fatalf("success(%d)+failed(%d) != total(%d)", result.SuccessCount(), result.FailureCount(), result.TotalDevices)
	}
	if len(targets) != result.TotalDevices {
		t.Fatalf("expected %d targeted devices, got %d", len(targets), result.TotalDevices)
	}
	for _, addr := range targets {
		_, ok := result.Outputs[addr]
		_, failed := result.Failures[addr]
		if ok == failed {
			t.Fatalf("device %s must appear in exactly one result map (output=%v failed=%v)", addr, ok, failed)
		}
	}
}

func TestRunBatchAggregatesAllDevices(t *testing.T) {
	transport := newStubTransport(func(addr, command string, run int) (string, error) {
		if addr == "10.0.0.2" {
			return "", errors.New("% invalid input detected at marker")
		}
		return "uptime is 4 weeks", nil
	})
	orch := newTestOrchestrator(transport)

	result := orch.RunBatch(context.Background(), "show clock", nil)

	checkResultInvariant(t, result, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"})
	if result.SuccessCount() != 2 || result.FailureCount() != 1 {
		t.Fatalf("unexpected partition: %d ok / %d failed", result.SuccessCount(), result.FailureCount())
	}
	failure := result.Failures["10.0.0.2"]
	if failure.Detail.Type != "invalid_command" {
		t.Fatalf("expected invalid_command classification, got %s", failure.Detail.Type)
	}
	if result.BatchError != nil {
		t.Fatalf("partial failure must not set a batch-level error")
	}
}

func TestRunBatchScopeOnlyNarrows(t *testing.T) {
	transport := newStubTransport(nil)
	orch := newTestOrchestrator(transport)

	ctx := WithScope(context.Background(), []string{"10.0.0.2", "10.0.0.9"})
	result := orch.RunBatch(ctx, "show clock", []string{"10.0.0.1", "10.0.0.2"})

	checkResultInvariant(t, result, []string{"10.0.0.2"})
	if transport.dialCount("10.0.0.1") != 0 {
		t.Fatalf("scope must prevent any contact with 10.0.0.1")
	}
	if _, ok := result.Outputs["10.0.0.2"]; !ok {
		t.Fatalf("10.0.0.2 should have succeeded")
	}
}

func TestRunBatchRejectsDeniedCommand(t *testing.T) {
	transport := newStubTransport(nil)
	orch := newTestOrchestrator(transport)

	result := orch.RunBatch(context.Background(), "reload in 5", nil)

	if result.TotalDevices != 0 {
		t.Fatalf("rejected command must target zero devices, got %d", result.TotalDevices)
	}
	if result.BatchError == nil || result.BatchError.Detail.Type != "security_violation" {
		t.Fatalf("expected security_violation batch error, got %+v", result.BatchError)
	}
	if transport.totalDials() != 0 {
		t.Fatalf("no connection may be acquired for a rejected command, got %d dials", transport.totalDials())
	}
}

func TestRunBatchNoMatchingDevices(t *testing.T) {
	transport := newStubTransport(nil)
	orch := newTestOrchestrator(transport)

	ctx := WithScope(context.Background(), []string{"192.168.0.1"})
	result := orch.RunBatch(ctx, "show version", nil)

	if result.TotalDevices != 0 {
		t.Fatalf("expected zero targeted devices, got %d", result.TotalDevices)
	}
	if result.BatchError == nil || result.BatchError.Detail.Category != CategoryFilter {
		t.Fatalf("expected filter-category batch error, got %+v", result.BatchError)
	}
	if transport.totalDials() != 0 {
		t.Fatalf("empty target set must not contact devices")
	}
}

func TestRunBatchRetriesTransportFailureOnce(t *testing.T) {
	transport := newStubTransport(func(addr, command string, run int) (string, error) {
		if run == 1 {
			return "", errors.New("read tcp: i/o timeout: connection timed out")
		}
		return "recovered output", nil
	})
	orch := newTestOrchestrator(transport)

	result := orch.RunBatch(context.Background(), "show clock", []string{"10.0.0.1"})

	checkResultInvariant(t, result, []string{"10.0.0.1"})
	if result.Outputs["10.0.0.1"] != "recovered output" {
		t.Fatalf("device must succeed on the post-eviction retry, got %+v", result)
	}
	if transport.dialCount("10.0.0.1") != 2 {
		t.Fatalf("retry must evict and redial, got %d dials", transport.dialCount("10.0.0.1"))
	}
	if result.CacheMisses != 1 {
		t.Fatalf("a retried unit counts one cache miss, got %d", result.CacheMisses)
	}
}

func TestRunBatchDoesNotRetryCommandErrors(t *testing.T) {
	transport := newStubTransport(func(addr, command string, run int) (string, error) {
		return "", errors.New("% ambiguous command")
	})
	orch := newTestOrchestrator(transport)

	result := orch.RunBatch(context.Background(), "show ver", []string{"10.0.0.1"})

	if transport.runCount("10.0.0.1") != 1 {
		t.Fatalf("command-syntax failures are never retried, got %d runs", transport.runCount("10.0.0.1"))
	}
	if result.Failures["10.0.0.1"].Detail.Type != "ambiguous_command" {
		t.Fatalf("unexpected classification: %+v", result.Failures["10.0.0.1"])
	}
}

func TestRunBatchSecondTransportFailureIsTerminal(t *testing.T) {
	transport := newStubTransport(func(addr, command string, run int) (string, error) {
		return "", errors.New("dial tcp: connection refused")
	})
	orch := newTestOrchestrator(transport)

	result := orch.RunBatch(context.Background(), "show clock", []string{"10.0.0.1"})

	if transport.runCount("10.0.0.1") != 2 {
		t.Fatalf("expected exactly two attempts, got %d", transport.runCount("10.0.0.1"))
	}
	failure, ok := result.Failures["10.0.0.1"]
	if !ok || failure.Detail.Type != "connection_refused" {
		t.Fatalf("expected terminal connection_refused failure, got %+v", result.Failures)
	}
}

func TestRunBatchServesCachedOutput(t *testing.T) {
	transport := newStubTransport(func(addr, command string, run int) (string, error) {
		return "Version 17.3.4", nil
	})
	orch := newTestOrchestrator(transport)

	first := orch.RunBatch(context.Background(), "show version", []string{"10.0.0.1"})
	second := orch.RunBatch(context.Background(), "show version", []string{"10.0.0.1"})

	if first.CacheHits != 0 || first.CacheMisses != 1 {
		t.Fatalf("first run: want 0 hits / 1 miss, got %d/%d", first.CacheHits, first.CacheMisses)
	}
	if second.CacheHits != 1 || second.CacheMisses != 0 {
		t.Fatalf("second run: want 1 hit / 0 misses, got %d/%d", second.CacheHits, second.CacheMisses)
	}
	if first.Outputs["10.0.0.1"] != second.Outputs["10.0.0.1"] {
		t.Fatalf("cached output must be identical")
	}
	if transport.runCount("10.0.0.1") != 1 {
		t.Fatalf("second run must not reach the device, got %d runs", transport.runCount("10.0.0.1"))
	}
}

func TestRunBatchNonCacheableCommandNeverHits(t *testing.T) {
	transport := newStubTransport(nil)
	orch := newTestOrchestrator(transport)

	orch.RunBatch(context.Background(), "show interfaces", []string{"10.0.0.1"})
	second := orch.RunBatch(context.Background(), "show interfaces", []string{"10.0.0.1"})

	if second.CacheHits != 0 {
		t.Fatalf("non-allow-listed command must never hit the cache, got %d hits", second.CacheHits)
	}
	if transport.runCount("10.0.0.1") != 2 {
		t.Fatalf("both runs must execute live, got %d", transport.runCount("10.0.0.1"))
	}
}

func TestRunBatchPoolEvictionInvalidatesCache(t *testing.T) {
	transport := newStubTransport(func(addr, command string, run int) (string, error) {
		return "inventory chassis", nil
	})
	orch := newTestOrchestrator(transport)

	orch.RunBatch(context.Background(), "show inventory", []string{"10.0.0.1"})
	orch.Pool().Evict("10.0.0.1")
	second := orch.RunBatch(context.Background(), "show inventory", []string{"10.0.0.1"})

	if second.CacheHits != 0 {
		t.Fatalf("eviction must invalidate cached output for the device")
	}
}

func TestRunBatchReportsProgress(t *testing.T) {
	transport := newStubTransport(nil)
	orch := newTestOrchestrator(transport)

	var (
		mu     sync.Mutex
		maxPct int
		calls  int
	)
	orch.RunBatchWithProgress(context.Background(), "show clock", nil, func(done, total int, stage string) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if pct := done * 100 / total; pct > maxPct {
			maxPct = pct
		}
		if !strings.HasPrefix(stage, "executing on ") {
			t.Errorf("unexpected stage %q", stage)
		}
	})

	if calls != 3 {
		t.Fatalf("expected one progress call per device, got %d", calls)
	}
	if maxPct != 100 {
		t.Fatalf("final progress must reach 100, got %d", maxPct)
	}
}

func TestRunBatchDuplicateTargetsCollapse(t *testing.T) {
	transport := newStubTransport(nil)
	orch := newTestOrchestrator(transport)

	result := orch.RunBatch(context.Background(), "show clock", []string{"10.0.0.1", "10.0.0.1", " 10.0.0.1 "})

	checkResultInvariant(t, result, []string{"10.0.0.1"})
	if transport.runCount("10.0.0.1") != 1 {
		t.Fatalf("duplicate targets must collapse to one unit of work")
	}
}
