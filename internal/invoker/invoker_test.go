package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/novafn/internal/domain"
	"github.com/oriys/novafn/internal/metrics"
)

type fakePool struct {
	acquires atomic.Int32
	releases []bool

	acquireErr error
	coldStart  bool
}

func (p *fakePool) Acquire(_ context.Context, runtime domain.Runtime) (*domain.VM, bool, error) {
	if p.acquireErr != nil {
		return nil, false, p.acquireErr
	}
	p.acquires.Add(1)
	return &domain.VM{ID: "vm-1", Config: domain.VMConfig{Runtime: runtime}}, p.coldStart, nil
}

func (p *fakePool) Release(_ *domain.VM, reusable bool) {
	p.releases = append(p.releases, reusable)
}

type fakeExecutor struct {
	responses [][]byte
	errs      []error
	calls     int

	deadlineCap      time.Duration
	deadlineRequests []time.Duration
}

func (e *fakeExecutor) Execute(_ context.Context, _ *domain.VM, _ []byte) ([]byte, error) {
	i := e.calls
	e.calls++
	var err error
	if i < len(e.errs) {
		err = e.errs[i]
	}
	var resp []byte
	if i < len(e.responses) {
		resp = e.responses[i]
	}
	return resp, err
}

func (e *fakeExecutor) ExecuteDeadline(requested time.Duration) time.Duration {
	e.deadlineRequests = append(e.deadlineRequests, requested)
	if e.deadlineCap > 0 && requested > e.deadlineCap {
		return e.deadlineCap
	}
	return requested
}

func testFn() *domain.Function {
	return &domain.Function{
		ID:         "fn-1",
		Name:       "hello",
		Runtime:    domain.RuntimeNodeJS20,
		Handler:    "index.handler",
		Code:       "module.exports.handler = () => {}",
		MemoryMB:   128,
		TimeoutSec: 5,
	}
}

func TestInvoker_SuccessIsReusable(t *testing.T) {
	pool := &fakePool{}
	exec := &fakeExecutor{responses: [][]byte{
		[]byte(`{"statusCode":200,"body":{"ok":true},"duration_ms":12}`),
	}}
	inv := New(pool, exec)

	out, err := inv.Invoke(context.Background(), testFn(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Kind != domain.KindInternal {
		t.Fatalf("expected success kind, got %v", out.Kind)
	}
	if len(pool.releases) != 1 || !pool.releases[0] {
		t.Fatalf("expected one reusable release, got %v", pool.releases)
	}
}

func TestInvoker_HandlerFailureIsReusable(t *testing.T) {
	pool := &fakePool{}
	exec := &fakeExecutor{responses: [][]byte{
		[]byte(`{"statusCode":500,"error":"boom","stack":"at handler","duration_ms":3}`),
	}}
	inv := New(pool, exec)

	out, err := inv.Invoke(context.Background(), testFn(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Kind != domain.KindHandlerFailed {
		t.Fatalf("expected HandlerFailed, got %v", out.Kind)
	}
	if out.HandlerError != "boom" {
		t.Fatalf("expected error message to propagate, got %q", out.HandlerError)
	}
	if len(pool.releases) != 1 || !pool.releases[0] {
		t.Fatalf("expected handler failure to leave the vm reusable, got %v", pool.releases)
	}
}

func TestInvoker_TransportFailureRetriesOnceThenSucceeds(t *testing.T) {
	pool := &fakePool{}
	exec := &fakeExecutor{
		errs:      []error{&net.OpError{Op: "dial", Err: errors.New("connection refused")}, nil},
		responses: [][]byte{nil, []byte(`{"statusCode":200,"body":{},"duration_ms":5}`)},
	}
	inv := New(pool, exec)

	out, err := inv.Invoke(context.Background(), testFn(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Kind != domain.KindInternal {
		t.Fatalf("expected the retry to succeed, got %v", out.Kind)
	}
	if exec.calls != 2 {
		t.Fatalf("expected exactly 2 execute attempts (1 retry), got %d", exec.calls)
	}
	if len(pool.releases) != 2 || pool.releases[0] != false || pool.releases[1] != true {
		t.Fatalf("expected [not-reusable, reusable] releases, got %v", pool.releases)
	}
}

func TestInvoker_TransportFailureRetriesOnceThenGivesUp(t *testing.T) {
	pool := &fakePool{}
	refused := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	exec := &fakeExecutor{errs: []error{refused, refused}}
	inv := New(pool, exec)

	out, err := inv.Invoke(context.Background(), testFn(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Kind != domain.KindUnavailable {
		t.Fatalf("expected Unavailable after a single retry, got %v", out.Kind)
	}
	if exec.calls != 2 {
		t.Fatalf("expected exactly 2 attempts total (no further retries), got %d", exec.calls)
	}
}

func TestInvoker_DeadlineExceededIsTimeoutNotRetried(t *testing.T) {
	pool := &fakePool{}
	exec := &fakeExecutor{errs: []error{context.DeadlineExceeded}}
	inv := New(pool, exec)

	out, err := inv.Invoke(context.Background(), testFn(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Kind != domain.KindTimeout {
		t.Fatalf("expected KindTimeout, got %v", out.Kind)
	}
	if exec.calls != 1 {
		t.Fatalf("expected exactly 1 attempt (timeout is never retried), got %d", exec.calls)
	}
	if len(pool.releases) != 1 || pool.releases[0] != false {
		t.Fatalf("expected the vm to be released as not-reusable, got %v", pool.releases)
	}
}

func TestInvoker_UsesDriverCappedDeadlineNotRawTimeoutSec(t *testing.T) {
	pool := &fakePool{}
	exec := &fakeExecutor{
		deadlineCap: 2 * time.Second,
		responses:   [][]byte{[]byte(`{"statusCode":200,"body":{},"duration_ms":1}`)},
	}
	inv := New(pool, exec)

	fn := testFn()
	fn.TimeoutSec = 900
	if _, err := inv.Invoke(context.Background(), fn, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(exec.deadlineRequests) != 1 || exec.deadlineRequests[0] != 900*time.Second {
		t.Fatalf("expected the raw requested timeout to be delegated to ExecuteDeadline, got %v", exec.deadlineRequests)
	}
}

func TestInvoker_SurfacesPoolColdStartToMetrics(t *testing.T) {
	before := metrics.Global().ColdStarts.Load()

	pool := &fakePool{coldStart: true}
	exec := &fakeExecutor{responses: [][]byte{
		[]byte(`{"statusCode":200,"body":{},"duration_ms":1}`),
	}}
	inv := New(pool, exec)

	if _, err := inv.Invoke(context.Background(), testFn(), json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if after := metrics.Global().ColdStarts.Load(); after != before+1 {
		t.Fatalf("expected a pool-reported cold start to increment ColdStarts: before=%d after=%d", before, after)
	}
}

func TestInvoker_AcquireFailurePropagates(t *testing.T) {
	pool := &fakePool{acquireErr: domain.NewError(domain.KindUnavailable, "pool.Acquire", "no capacity", nil)}
	inv := New(pool, &fakeExecutor{})

	_, err := inv.Invoke(context.Background(), testFn(), json.RawMessage(`{}`))
	if domain.KindOf(err) != domain.KindUnavailable {
		t.Fatalf("expected KindUnavailable, got %v", err)
	}
}
