package hypervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oriys/novafn/internal/domain"
)

var guestHTTPClient = &http.Client{}

// ExecuteDeadline returns the lesser of requested and the driver's own
// MaxExecuteTimeout cap, per spec.md §4.3.4/§5. Callers must build
// Execute's context deadline from this rather than from the function's
// timeout_sec directly.
func (m *Manager) ExecuteDeadline(requested time.Duration) time.Duration {
	return m.cfg.ExecuteDeadline(requested)
}

// Execute posts payload to the guest runtime agent's /invoke endpoint and
// returns the raw response body, per spec.md §4.3.4. The caller is
// expected to have already bounded ctx to the lesser of the function's
// timeout and any driver-side cap (see ExecuteDeadline); Execute itself
// applies no additional deadline. Transport-level failures (timeout,
// connection refused) are returned as-is for the invoker to classify as
// Unavailable.
func (m *Manager) Execute(ctx context.Context, vm *domain.VM, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, vm.GuestEndpoint()+"/invoke", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := guestHTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read guest response: %w", err)
	}
	return body, nil
}
