package hypervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/oriys/novafn/internal/domain"
)

// socketClients caches one http.Client per control socket so repeated
// calls during a single CreateVM reuse the same connection.
var (
	socketClients   = make(map[string]*http.Client)
	socketClientsMu sync.Mutex
)

func httpClientForSocket(socketPath string) *http.Client {
	socketClientsMu.Lock()
	defer socketClientsMu.Unlock()
	if c, ok := socketClients[socketPath]; ok {
		return c
	}
	c := &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
			MaxIdleConns:        2,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
		},
	}
	socketClients[socketPath] = c
	return c
}

func removeSocketClient(socketPath string) {
	socketClientsMu.Lock()
	defer socketClientsMu.Unlock()
	if c, ok := socketClients[socketPath]; ok {
		c.CloseIdleConnections()
		delete(socketClients, socketPath)
	}
}

// apiCall issues one control-socket request. A response status >= 400 is
// wrapped with the response body per spec.md §4.3.5's failure semantics.
func apiCall(ctx context.Context, socketPath, method, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://localhost"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClientForSocket(socketPath).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("control socket %s %s: status %d: %s", method, path, resp.StatusCode, string(b))
	}
	return nil
}

// waitForSocket polls for the control socket to exist and accept
// connections, bounded by the context deadline (falling back to timeout
// when the context carries none) and backing off 100ms between
// attempts, per spec.md §4.3.1 step 5.
func waitForSocket(ctx context.Context, path string, proc *os.Process, timeout time.Duration) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(timeout)
	}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if proc != nil {
			if err := proc.Signal(syscall.Signal(0)); err != nil {
				return fmt.Errorf("hypervisor process exited before socket ready: %w", err)
			}
		}
		if _, err := os.Stat(path); err == nil {
			conn, err := net.Dial("unix", path)
			if err == nil {
				conn.Close()
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return domain.NewError(domain.KindTimeout, "hypervisor.waitForSocket", "control socket not ready within deadline", nil)
}

// configureAndBoot runs the five control-socket steps spec.md §4.3.1
// step 7-8 and §6.2 name, in order, against an already-listening socket.
func configureAndBoot(ctx context.Context, vm *domain.VM, kernelPath string, vcpus, memoryMB int) error {
	bootArgs := "console=ttyS0 reboot=k panic=1 pci=off"
	if err := apiCall(ctx, vm.SocketPath, "PUT", "/boot-source", map[string]any{
		"kernel_image_path": kernelPath,
		"boot_args":         bootArgs,
	}); err != nil {
		return fmt.Errorf("boot-source: %w", err)
	}

	if err := apiCall(ctx, vm.SocketPath, "PUT", "/drives/rootfs", map[string]any{
		"drive_id":       "rootfs",
		"path_on_host":   vm.OverlayPath,
		"is_root_device": true,
		"is_read_only":   false,
	}); err != nil {
		return fmt.Errorf("drive rootfs: %w", err)
	}

	if err := apiCall(ctx, vm.SocketPath, "PUT", "/machine-config", map[string]any{
		"vcpu_count":   vcpus,
		"mem_size_mib": memoryMB,
	}); err != nil {
		return fmt.Errorf("machine-config: %w", err)
	}

	if err := apiCall(ctx, vm.SocketPath, "PUT", "/network-interfaces/eth0", map[string]any{
		"iface_id":      "eth0",
		"guest_mac":     vm.MAC,
		"host_dev_name": vm.TapName,
	}); err != nil {
		return fmt.Errorf("network-interfaces: %w", err)
	}

	if err := apiCall(ctx, vm.SocketPath, "PUT", "/actions", map[string]any{
		"action_type": "InstanceStart",
	}); err != nil {
		return fmt.Errorf("actions: %w", err)
	}

	return nil
}
