// Package api implements the Control API (C6): a REST surface over the
// function registry and the invoker, exposing exactly the route table in
// spec.md §4.6.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/oriys/novafn/internal/domain"
	"github.com/oriys/novafn/internal/invoker"
	"github.com/oriys/novafn/internal/registry"
)

// PoolDepths reports the current warm-queue length per runtime, for
// GET /health. Satisfied by *pool.Pool.
type PoolDepths interface {
	Depths() map[string]int
}

// Handler holds the Control API's dependencies and exposes its routes.
type Handler struct {
	Registry *registry.Service
	Invoker  *invoker.Invoker
	// Pool and MetricsEnabled are optional; when Pool is set and
	// MetricsEnabled is true, Health reports per-runtime warm-queue
	// depths alongside the base status fields.
	Pool           PoolDepths
	MetricsEnabled bool
}

// NewHandler constructs a Handler.
func NewHandler(reg *registry.Service, inv *invoker.Invoker) *Handler {
	return &Handler{Registry: reg, Invoker: inv}
}

// RegisterRoutes registers every route in spec.md §4.6 on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /api/v1/functions", h.CreateFunction)
	mux.HandleFunc("GET /api/v1/functions", h.ListFunctions)
	mux.HandleFunc("GET /api/v1/functions/{name}", h.GetFunction)
	mux.HandleFunc("PUT /api/v1/functions/{name}", h.UpdateFunction)
	mux.HandleFunc("DELETE /api/v1/functions/{name}", h.DeleteFunction)
	mux.HandleFunc("POST /api/v1/functions/{name}/invoke", h.InvokeFunction)
}

// Health handles GET /health. When metrics are enabled and a Pool is
// wired, the response additionally reports {status, service, pool:
// {runtime: depth}} per spec.md §6.6.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "service": "novafn"}
	if h.MetricsEnabled && h.Pool != nil {
		resp["pool"] = h.Pool.Depths()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// kindToStatus maps a domain.ErrorKind to the HTTP status spec.md §7
// assigns it. Used at every handler's error path so status-code mapping
// lives in exactly one place.
func kindToStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalid:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAlreadyExists:
		return http.StatusConflict
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindTimeout:
		return http.StatusRequestTimeout
	case domain.KindHandlerFailed:
		return http.StatusBadGateway
	case domain.KindBackendUnavailable:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, kindToStatus(kind), map[string]string{"error": err.Error()})
}
