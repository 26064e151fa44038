package hypervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/novafn/internal/domain"
	"github.com/oriys/novafn/internal/logging"
	"github.com/oriys/novafn/internal/metrics"
)

const defaultVCPUs = 1

// Manager drives the full lifecycle of microVMs on one host: overlay
// creation, network allocation, process launch, control-socket
// configuration and boot, and teardown. It is the sole implementation of
// the hypervisor driver (C3).
type Manager struct {
	cfg *Config
	net *netAllocator

	mu     sync.RWMutex
	vms    map[string]*domain.VM
	octets map[string]uint8
}

func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	for _, dir := range []string{cfg.socketsDir(), cfg.vmsDir(), cfg.logsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return &Manager{
		cfg:    cfg,
		net:    newNetAllocator(cfg.BridgeName, cfg.Subnet),
		vms:    make(map[string]*domain.VM),
		octets: make(map[string]uint8),
	}, nil
}

// CreateVM boots a microVM per the given configuration, following
// spec.md §4.3.1's numbered step sequence. Any failure past resource
// allocation triggers a best-effort compensating teardown of everything
// allocated so far so the host is left with no residue. The VM itself
// carries no function code — it is scoped to cfg.Runtime only; code is
// delivered later, per invocation, by the invoker (spec.md §6.4).
func (m *Manager) CreateVM(ctx context.Context, cfg domain.VMConfig) (*domain.VM, error) {
	vmID := cfg.ID
	if vmID == "" {
		vmID = uuid.New().String()
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = domain.DefaultMemoryMB
	}
	if cfg.VCPUs <= 0 {
		cfg.VCPUs = defaultVCPUs
	}

	if err := m.net.ensureBridge(); err != nil {
		return nil, domain.NewError(domain.KindInternal, "hypervisor.CreateVM", "ensure bridge", err)
	}

	hostIP, guestIP, mac, octet, err := m.net.allocate()
	if err != nil {
		return nil, domain.NewError(domain.KindUnavailable, "hypervisor.CreateVM", "allocate network identity", err)
	}
	teardown := []func(){func() { m.net.release(octet) }}
	defer func() {
		if err != nil {
			runTeardown(teardown)
		}
	}()

	tap, err := createTAP(vmID, m.cfg.BridgeName)
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, "hypervisor.CreateVM", "create tap device", err)
	}
	teardown = append(teardown, func() { deleteTAP(tap) })

	overlayPath := filepath.Join(m.cfg.vmsDir(), vmID+".ext4")
	if err = createOverlay(m.cfg.BaseRootfsPath, overlayPath); err != nil {
		return nil, domain.NewError(domain.KindInternal, "hypervisor.CreateVM", "create rootfs overlay", err)
	}
	teardown = append(teardown, func() { os.Remove(overlayPath) })

	socketPath := filepath.Join(m.cfg.socketsDir(), vmID+".sock")
	os.Remove(socketPath)

	logPath := filepath.Join(m.cfg.logsDir(), vmID+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, "hypervisor.CreateVM", "create vm log file", err)
	}
	defer logFile.Close()

	cmd := exec.Command(m.cfg.FirecrackerBin, "--api-sock", socketPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err = cmd.Start(); err != nil {
		return nil, domain.NewError(domain.KindInternal, "hypervisor.CreateVM", "start hypervisor process", err)
	}
	teardown = append(teardown, func() {
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		cmd.Wait()
	})

	cfg.ID = vmID
	vm := &domain.VM{
		ID:          vmID,
		Config:      cfg,
		SocketPath:  socketPath,
		OverlayPath: overlayPath,
		LogPath:     logPath,
		GuestIP:     guestIP,
		HostIP:      hostIP,
		TapName:     tap,
		MAC:         mac,
		State:       domain.VMStateCreating,
		CreatedAt:   time.Now(),
	}

	if err = waitForSocket(ctx, socketPath, cmd.Process, m.cfg.BootTimeout); err != nil {
		return nil, err
	}

	if err = configureAndBoot(ctx, vm, m.cfg.KernelPath, cfg.VCPUs, cfg.MemoryMB); err != nil {
		return nil, domain.NewError(domain.KindInternal, "hypervisor.CreateVM", "configure and boot vm", err)
	}

	vm.State = domain.VMStateRunning
	m.mu.Lock()
	m.vms[vm.ID] = vm
	m.octets[vm.ID] = octet
	m.mu.Unlock()

	metrics.Global().RecordVMCreated()
	go m.monitorProcess(vm.ID, cmd)

	return vm, nil
}

// GetVM returns a currently tracked VM by id.
func (m *Manager) GetVM(id string) (*domain.VM, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vm, ok := m.vms[id]
	return vm, ok
}

// ListVMs returns a snapshot of all currently tracked VMs.
func (m *Manager) ListVMs() []*domain.VM {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.VM, 0, len(m.vms))
	for _, vm := range m.vms {
		out = append(out, vm)
	}
	return out
}

func runTeardown(fns []func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func (m *Manager) monitorProcess(vmID string, cmd *exec.Cmd) {
	err := cmd.Wait()

	m.mu.RLock()
	_, tracked := m.vms[vmID]
	m.mu.RUnlock()
	if !tracked {
		return
	}

	logging.Op().Error("vm process exited unexpectedly", "vm_id", vmID, "error", err)
	metrics.Global().RecordVMCrashed()
	if err := m.teardownTracked(vmID); err != nil {
		logging.Op().Warn("teardown after crash reported errors", "vm_id", vmID, "error", err)
	}
}
