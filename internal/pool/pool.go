// Package pool implements the warm pool (C4): a bounded, per-runtime
// queue of pre-warmed, generic microVMs that amortises cold-start
// latency across invocations while never blocking an acquirer. A pooled
// VM carries no function code of its own — the invoker delivers code per
// invocation (spec.md §6.4) — so every function sharing a runtime draws
// from the same queue.
//
// # Design rationale
//
// Booting a microVM through the hypervisor driver takes on the order of
// hundreds of milliseconds. A background refill loop keeps each runtime's
// queue topped up to its configured capacity so most acquires are
// instant; an empty queue always falls through to a synchronous,
// on-demand create rather than making the caller wait on a channel that
// may never fill.
//
// # Concurrency model
//
// Each runtime owns one buffered chan *domain.VM at pool_size capacity.
// Acquire does a non-blocking receive; Release does a non-blocking send.
// Concurrent on-demand creates for the same runtime are deduplicated with
// singleflight so a burst of empty-queue acquires doesn't spawn N
// redundant VMs at once.
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oriys/novafn/internal/domain"
	"github.com/oriys/novafn/internal/metrics"
)

const (
	// DefaultPoolSize is the per-runtime queue capacity when Config.PoolSize
	// is left at zero, per spec.md §4.4's "default 2-4" guidance.
	DefaultPoolSize = 2

	// DefaultRefillInterval is how often the background loop checks for a
	// deficit and fills it, per spec.md §4.4's "ticker (10s)".
	DefaultRefillInterval = 10 * time.Second

	refillMemoryMB = domain.DefaultMemoryMB
	refillVCPUs    = 1
)

// Driver is the subset of the hypervisor driver (C3) the pool needs.
type Driver interface {
	CreateVM(ctx context.Context, cfg domain.VMConfig) (*domain.VM, error)
	StopVM(id string) error
}

// Config configures a Pool's capacity and refill cadence.
type Config struct {
	PoolSize       int
	RefillInterval time.Duration
	// Runtimes is the set of runtimes whose queues exist from the start
	// and are kept warm by the background loop. Acquire also accepts any
	// other valid runtime; its queue is created on first use and is
	// refilled by the background loop from then on.
	Runtimes []domain.Runtime
}

// Pool is the central warm-VM resource manager for one host. It is safe
// for concurrent use. Construct with NewPool; call Stop when done.
type Pool struct {
	driver Driver
	cfg    Config

	mu     sync.Mutex
	queues map[domain.Runtime]chan *domain.VM

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a Pool and starts its background refill loop. The
// caller must call Stop to halt the loop and drain remaining VMs.
func NewPool(driver Driver, cfg Config) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = DefaultRefillInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		driver: driver,
		cfg:    cfg,
		queues: make(map[domain.Runtime]chan *domain.VM),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, rt := range cfg.Runtimes {
		p.queues[rt] = make(chan *domain.VM, cfg.PoolSize)
	}

	p.wg.Add(1)
	go p.refillLoop()
	return p
}

func (p *Pool) queueFor(runtime domain.Runtime) chan *domain.VM {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[runtime]
	if !ok {
		q = make(chan *domain.VM, p.cfg.PoolSize)
		p.queues[runtime] = q
	}
	return q
}

// Acquire returns a ready VM for runtime, preferring the warm queue and
// falling back to a synchronous create through the driver. It never
// blocks waiting on the queue to fill; `Unsupported` per spec.md §4.4
// maps to KindInvalid here since no separate runtime registry exists in
// this package. The returned bool is true when Acquire had to create the
// VM on demand (a cold start) rather than serve it from the warm queue.
func (p *Pool) Acquire(ctx context.Context, runtime domain.Runtime) (*domain.VM, bool, error) {
	if !runtime.IsValid() {
		return nil, false, domain.NewError(domain.KindInvalid, "pool.Acquire", "unknown runtime", nil)
	}

	q := p.queueFor(runtime)
	select {
	case vm, open := <-q:
		if open && vm != nil {
			metrics.Global().RecordPoolHit()
			return vm, false, nil
		}
	default:
	}

	metrics.Global().RecordPoolMiss()
	v, err, _ := p.group.Do(string(runtime), func() (interface{}, error) {
		return p.driver.CreateVM(ctx, domain.VMConfig{Runtime: runtime, MemoryMB: refillMemoryMB, VCPUs: refillVCPUs})
	})
	if err != nil {
		return nil, true, domain.NewError(domain.KindUnavailable, "pool.Acquire", "create vm on demand", err)
	}
	return v.(*domain.VM), true, nil
}

// Release returns vm to the pool if reusable, otherwise stops it. A
// non-blocking send into a full queue also results in the VM being
// stopped, per spec.md §4.4.
func (p *Pool) Release(vm *domain.VM, reusable bool) {
	if vm == nil {
		return
	}
	if !reusable {
		p.driver.StopVM(vm.ID)
		return
	}

	q := p.queueFor(vm.Config.Runtime)
	select {
	case q <- vm:
	default:
		p.driver.StopVM(vm.ID)
	}
}

// Depths returns the current warm-queue length for every runtime the
// pool has a queue for, keyed by runtime name, for reporting on
// GET /health.
func (p *Pool) Depths() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	depths := make(map[string]int, len(p.queues))
	for runtime, q := range p.queues {
		depths[string(runtime)] = len(q)
	}
	return depths
}

// Stop signals the refill loop to exit, drains every queue, and stops
// each drained VM.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	queues := make([]chan *domain.VM, 0, len(p.queues))
	for _, q := range p.queues {
		queues = append(queues, q)
	}
	p.mu.Unlock()

	for _, q := range queues {
		for {
			select {
			case vm := <-q:
				if vm != nil {
					p.driver.StopVM(vm.ID)
				}
			default:
				goto drained
			}
		}
	drained:
	}
}

func (p *Pool) refillLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.RefillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.refillOnce()
		}
	}
}

func (p *Pool) refillOnce() {
	p.mu.Lock()
	type target struct {
		runtime domain.Runtime
		queue   chan *domain.VM
	}
	targets := make([]target, 0, len(p.queues))
	for runtime, q := range p.queues {
		targets = append(targets, target{runtime, q})
	}
	p.mu.Unlock()

	for _, t := range targets {
		deficit := p.cfg.PoolSize - len(t.queue)
		for i := 0; i < deficit; i++ {
			go p.fillOne(t.runtime, t.queue)
		}
	}
}

func (p *Pool) fillOne(runtime domain.Runtime, q chan *domain.VM) {
	vm, err := p.driver.CreateVM(p.ctx, domain.VMConfig{Runtime: runtime, MemoryMB: refillMemoryMB, VCPUs: refillVCPUs})
	if err != nil {
		return
	}

	select {
	case q <- vm:
	default:
		p.driver.StopVM(vm.ID)
	}
}
