// Package invoker implements the Invoker (C5): the orchestration step
// between a registered function and a running microVM. It acquires a VM
// from the warm pool, forwards the invocation to the in-guest runtime
// agent, classifies the outcome, and returns the VM to the pool (or
// discards it) based on whether the failure corrupted guest state.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/oriys/novafn/internal/domain"
	"github.com/oriys/novafn/internal/logging"
	"github.com/oriys/novafn/internal/metrics"
	"github.com/oriys/novafn/internal/tracing"
)

// Pool is the subset of the warm pool (C4) the invoker needs. The bool
// Acquire returns is true when it had to create the VM on demand (a cold
// start) rather than serve it from the warm queue.
type Pool interface {
	Acquire(ctx context.Context, runtime domain.Runtime) (*domain.VM, bool, error)
	Release(vm *domain.VM, reusable bool)
}

// Executor is the subset of the hypervisor driver (C3) the invoker needs.
type Executor interface {
	Execute(ctx context.Context, vm *domain.VM, payload []byte) ([]byte, error)

	// ExecuteDeadline returns the lesser of requested and the driver's
	// own independent cap, per spec.md §4.3.4/§5. The invoker must use
	// this instead of fn.TimeoutSec directly so a runaway control-plane
	// call is always bounded regardless of what the function requests.
	ExecuteDeadline(requested time.Duration) time.Duration
}

// Outcome is the tagged-variant classification of one invocation attempt:
// KindInternal (success/Result), KindHandlerFailed, KindTimeout, or
// KindUnavailable. Only the fields relevant to Kind are populated.
type Outcome struct {
	Kind domain.ErrorKind

	Body       json.RawMessage // set when Kind == KindInternal (success)
	Logs       string
	DurationMs int64

	HandlerError string // set when Kind == KindHandlerFailed
	Stack        string
}

// Invoker runs functions against microVMs drawn from a Pool.
type Invoker struct {
	pool     Pool
	executor Executor
}

// New constructs an Invoker over the given pool and execution driver.
func New(pool Pool, executor Executor) *Invoker {
	return &Invoker{pool: pool, executor: executor}
}

// Invoke runs fn against event, following spec.md §4.5's five-step
// sequence. On a transport-level Unavailable classification it retries
// exactly once with a freshly acquired VM; no further retries and no
// backoff, per §4.5.
func (inv *Invoker) Invoke(ctx context.Context, fn *domain.Function, event json.RawMessage) (*Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "invoker.Invoke",
		tracing.AttrFunctionName.String(fn.Name),
		tracing.AttrFunctionID.String(fn.ID),
		tracing.AttrRuntime.String(string(fn.Runtime)),
	)
	defer span.End()

	outcome, err := inv.attempt(ctx, fn, event)
	if err != nil {
		tracing.SetSpanError(span, err)
		return nil, err
	}
	if outcome.Kind == domain.KindUnavailable {
		outcome, err = inv.attempt(ctx, fn, event)
		if err != nil {
			tracing.SetSpanError(span, err)
			return nil, err
		}
	}
	if outcome.Kind == domain.KindInternal {
		tracing.SetSpanOK(span)
	} else {
		span.SetAttributes(tracing.AttrDurationMs.Int64(outcome.DurationMs))
	}
	return outcome, nil
}

func (inv *Invoker) attempt(ctx context.Context, fn *domain.Function, event json.RawMessage) (*Outcome, error) {
	acquireCtx, acquireSpan := tracing.StartSpan(ctx, "invoker.Acquire", tracing.AttrRuntime.String(string(fn.Runtime)))
	vm, coldStart, err := inv.pool.Acquire(acquireCtx, fn.Runtime)
	if err != nil {
		tracing.SetSpanError(acquireSpan, err)
		acquireSpan.End()
		return nil, err
	}
	acquireSpan.SetAttributes(tracing.AttrVMID.String(vm.ID), tracing.AttrColdStart.Bool(coldStart))
	tracing.SetSpanOK(acquireSpan)
	acquireSpan.End()

	timeoutSec := fn.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = domain.DefaultTimeoutSec
	}
	deadline := inv.executor.ExecuteDeadline(time.Duration(timeoutSec) * time.Second)
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req := domain.InvocationRequest{
		Code:         fn.Code,
		Handler:      fn.Handler,
		Event:        event,
		Env:          fn.Environment,
		FunctionName: fn.Name,
		MemoryMB:     fn.MemoryMB,
		TimeoutMs:    int64(timeoutSec) * 1000,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		inv.release(ctx, vm, true)
		return nil, domain.NewError(domain.KindInvalid, "invoker.Invoke", "marshal invocation request", err)
	}

	execCtx, executeSpan := tracing.StartSpan(execCtx, "invoker.Execute", tracing.AttrVMID.String(vm.ID))
	start := time.Now()
	raw, execErr := inv.executor.Execute(execCtx, vm, payload)
	durationMs := time.Since(start).Milliseconds()
	executeSpan.SetAttributes(tracing.AttrDurationMs.Int64(durationMs))
	if execErr != nil {
		tracing.SetSpanError(executeSpan, execErr)
	} else {
		tracing.SetSpanOK(executeSpan)
	}
	executeSpan.End()

	if execErr != nil {
		inv.release(ctx, vm, false)
		logging.Op().Warn("invocation transport failure", "function", fn.Name, "vm_id", vm.ID, "error", execErr)
		metrics.Global().RecordInvocationWithDetails(fn.ID, fn.Name, string(fn.Runtime), durationMs, coldStart, false)

		// execCtx's own deadline (fn.timeout_sec) expiring means the
		// handler itself ran too long — retrying would hit the same
		// timeout again, so this is classified distinctly from a
		// transport-level Unavailable and never retried (spec.md §7).
		if errors.Is(execErr, context.DeadlineExceeded) {
			return &Outcome{Kind: domain.KindTimeout, DurationMs: durationMs}, nil
		}
		if isUnreachable(execErr) {
			return &Outcome{Kind: domain.KindUnavailable, DurationMs: durationMs}, nil
		}
		return nil, domain.NewError(domain.KindUnavailable, "invoker.Invoke", "execute invocation", execErr)
	}

	var resp domain.InvocationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		inv.release(ctx, vm, false)
		return nil, domain.NewError(domain.KindInternal, "invoker.Invoke", "parse guest response", err)
	}

	switch resp.StatusCode {
	case 200:
		inv.release(ctx, vm, true)
		metrics.Global().RecordInvocationWithDetails(fn.ID, fn.Name, string(fn.Runtime), durationMs, coldStart, true)
		return &Outcome{
			Kind:       domain.KindInternal,
			Body:       resp.Body,
			Logs:       resp.Logs,
			DurationMs: resp.DurationMs,
		}, nil
	case 500:
		// A handler error is assumed to leave guest state intact, so the
		// VM goes back to the pool. Whether the guest agent resets global
		// state between invocations is not checked here.
		inv.release(ctx, vm, true)
		metrics.Global().RecordInvocationWithDetails(fn.ID, fn.Name, string(fn.Runtime), durationMs, coldStart, false)
		return &Outcome{
			Kind:         domain.KindHandlerFailed,
			HandlerError: resp.Error,
			Stack:        resp.Stack,
			Logs:         resp.Logs,
			DurationMs:   resp.DurationMs,
		}, nil
	default:
		inv.release(ctx, vm, false)
		metrics.Global().RecordInvocationWithDetails(fn.ID, fn.Name, string(fn.Runtime), durationMs, coldStart, false)
		return nil, domain.NewError(domain.KindInternal, "invoker.Invoke", "unexpected guest status code", nil)
	}
}

// release wraps Pool.Release in its own child span, per spec.md §4.10's
// "child spans for Acquire, Execute, and Release".
func (inv *Invoker) release(ctx context.Context, vm *domain.VM, reusable bool) {
	_, span := tracing.StartSpan(ctx, "invoker.Release",
		tracing.AttrVMID.String(vm.ID),
		attribute.Bool("novafn.reusable", reusable),
	)
	defer span.End()
	inv.pool.Release(vm, reusable)
	tracing.SetSpanOK(span)
}

func isUnreachable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
