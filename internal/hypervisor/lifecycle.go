package hypervisor

import (
	"os"
	"sync"

	"github.com/oriys/novafn/internal/domain"
	"github.com/oriys/novafn/internal/metrics"
)

// StopVM tears a VM down per spec.md §4.3.3: the control socket and tap
// device are removed, the overlay file is deleted, and the allocated
// network identity is returned to the pool, leaving no host-side residue.
// Calling StopVM on an id that is tracked but already stopped is a no-op
// success, per spec.md §4.3.3's idempotency requirement; only an id never
// seen by this Manager is KindNotFound.
func (m *Manager) StopVM(id string) error {
	m.mu.Lock()
	vm, ok := m.vms[id]
	if !ok {
		m.mu.Unlock()
		return domain.NewError(domain.KindNotFound, "hypervisor.StopVM", "vm not tracked", nil)
	}
	if vm.State == domain.VMStateStopped {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	err := m.teardownTracked(id)
	metrics.Global().RecordVMStopped()
	return err
}

// teardownTracked releases every host-side resource a VM held and marks
// it stopped in place, leaving it in the tracking map so a repeat StopVM
// observes VMStateStopped instead of KindNotFound. A no-op if vmID was
// never tracked (e.g. already evicted). Shared by StopVM and manager.go's
// crash-monitor path.
func (m *Manager) teardownTracked(vmID string) error {
	m.mu.Lock()
	vm, ok := m.vms[vmID]
	octet, hadOctet := m.octets[vmID]
	delete(m.octets, vmID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	removeSocketClient(vm.SocketPath)
	var teardownErr error
	if err := deleteTAP(vm.TapName); err != nil {
		teardownErr = err
	}
	if err := os.Remove(vm.SocketPath); err != nil && !os.IsNotExist(err) {
		teardownErr = err
	}
	if err := os.Remove(vm.OverlayPath); err != nil && !os.IsNotExist(err) {
		teardownErr = err
	}
	if hadOctet {
		m.net.release(octet)
	}

	m.mu.Lock()
	vm.State = domain.VMStateStopped
	m.mu.Unlock()

	return teardownErr
}

// Cleanup stops every tracked VM in parallel and waits for all of them to
// finish, per spec.md §4.3.5: errors are collected and the last
// non-nil one is returned.
func (m *Manager) Cleanup() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.vms))
	for id := range m.vms {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var (
		mu      sync.Mutex
		lastErr error
		wg      sync.WaitGroup
	)
	for _, id := range ids {
		wg.Add(1)
		go func(vmID string) {
			defer wg.Done()
			if err := m.StopVM(vmID); err != nil {
				mu.Lock()
				lastErr = err
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return lastErr
}
