package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/novafn/internal/domain"
)

type fakeDriver struct {
	creates atomic.Int32
	stops   atomic.Int32
	mu      sync.Mutex
	stopped map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{stopped: make(map[string]bool)}
}

func (f *fakeDriver) CreateVM(_ context.Context, cfg domain.VMConfig) (*domain.VM, error) {
	n := f.creates.Add(1)
	id := string(cfg.Runtime) + "-vm-" + time.Now().Format("150405.000000000") + "-" + string(rune('a'+n%26))
	return &domain.VM{ID: id, Config: cfg, State: domain.VMStateRunning}, nil
}

func (f *fakeDriver) StopVM(id string) error {
	f.stops.Add(1)
	f.mu.Lock()
	f.stopped[id] = true
	f.mu.Unlock()
	return nil
}

func TestPool_AcquireFallsBackToCreateWhenEmpty(t *testing.T) {
	driver := newFakeDriver()
	p := NewPool(driver, Config{PoolSize: 2, RefillInterval: time.Hour})
	defer p.Stop()

	vm, cold, err := p.Acquire(context.Background(), domain.RuntimeNodeJS20)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if vm == nil {
		t.Fatal("expected a vm")
	}
	if !cold {
		t.Error("expected an on-demand create to report cold=true")
	}
	if driver.creates.Load() != 1 {
		t.Fatalf("expected 1 create, got %d", driver.creates.Load())
	}
}

func TestPool_AcquireUnknownRuntimeIsInvalid(t *testing.T) {
	driver := newFakeDriver()
	p := NewPool(driver, Config{PoolSize: 2, RefillInterval: time.Hour})
	defer p.Stop()

	_, _, err := p.Acquire(context.Background(), domain.Runtime("cobol"))
	if domain.KindOf(err) != domain.KindInvalid {
		t.Fatalf("expected KindInvalid, got %v", err)
	}
}

func TestPool_ReleaseReusableGoesBackToQueue(t *testing.T) {
	driver := newFakeDriver()
	p := NewPool(driver, Config{PoolSize: 2, RefillInterval: time.Hour})
	defer p.Stop()

	vm, _, err := p.Acquire(context.Background(), domain.RuntimePython311)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(vm, true)

	vm2, cold, err := p.Acquire(context.Background(), domain.RuntimePython311)
	if err != nil {
		t.Fatal(err)
	}
	if vm2.ID != vm.ID {
		t.Fatalf("expected the released vm to be reacquired, got different id")
	}
	if cold {
		t.Error("expected a warm-queue hit to report cold=false")
	}
	if driver.creates.Load() != 1 {
		t.Fatalf("expected exactly 1 create (reuse avoided a second), got %d", driver.creates.Load())
	}
}

func TestPool_ReleaseNotReusableStopsVM(t *testing.T) {
	driver := newFakeDriver()
	p := NewPool(driver, Config{PoolSize: 2, RefillInterval: time.Hour})
	defer p.Stop()

	vm, _, err := p.Acquire(context.Background(), domain.RuntimePython312)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(vm, false)

	if driver.stops.Load() != 1 {
		t.Fatalf("expected vm to be stopped, stops=%d", driver.stops.Load())
	}
}

func TestPool_ReleaseIntoFullQueueStops(t *testing.T) {
	driver := newFakeDriver()
	p := NewPool(driver, Config{PoolSize: 1, RefillInterval: time.Hour})
	defer p.Stop()

	vm1, _, err := p.Acquire(context.Background(), domain.RuntimeDotnet8)
	if err != nil {
		t.Fatal(err)
	}
	vm2, _, err := p.Acquire(context.Background(), domain.RuntimeDotnet8)
	if err != nil {
		t.Fatal(err)
	}

	p.Release(vm1, true) // fills the capacity-1 queue
	p.Release(vm2, true) // queue full, should be stopped instead

	if driver.stops.Load() != 1 {
		t.Fatalf("expected exactly one stop from the overflow release, got %d", driver.stops.Load())
	}
}

func TestPool_StopDrainsQueuedVMs(t *testing.T) {
	driver := newFakeDriver()
	p := NewPool(driver, Config{PoolSize: 2, RefillInterval: time.Hour})

	vm, _, err := p.Acquire(context.Background(), domain.RuntimeNodeJS18)
	if err != nil {
		t.Fatal(err)
	}
	p.Release(vm, true)

	p.Stop()

	if driver.stops.Load() != 1 {
		t.Fatalf("expected Stop to drain and stop the queued vm, stops=%d", driver.stops.Load())
	}
}

func TestPool_ConcurrentAcquireDeduplicatesColdStarts(t *testing.T) {
	driver := newFakeDriver()
	p := NewPool(driver, Config{PoolSize: 2, RefillInterval: time.Hour})
	defer p.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Acquire(context.Background(), domain.RuntimeNodeJS20)
		}()
	}
	wg.Wait()

	if driver.creates.Load() == 0 {
		t.Fatal("expected at least one create")
	}
}
