package domain

import "encoding/json"

// InvocationRequest is the body POSTed to the in-guest runtime agent's
// /invoke endpoint (spec §6.4).
type InvocationRequest struct {
	Code        string            `json:"code"`
	Handler     string            `json:"handler"`
	Event       json.RawMessage   `json:"event"`
	Env         map[string]string `json:"env"`
	FunctionName string           `json:"function_name"`
	MemoryMB    int               `json:"memory_mb"`
	TimeoutMs   int64             `json:"timeout_ms"`
}

// InvocationResponse is the body returned by the in-guest runtime agent,
// on both success and handler failure.
type InvocationResponse struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body,omitempty"`
	Error      string          `json:"error,omitempty"`
	Stack      string          `json:"stack,omitempty"`
	Logs       string          `json:"logs,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}
