package api

import (
	"encoding/json"
	"net/http"

	"github.com/oriys/novafn/internal/domain"
)

// CreateFunction handles POST /api/v1/functions.
func (h *Handler) CreateFunction(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateFunctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	fn, err := h.Registry.CreateFunction(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fn)
}

// ListFunctions handles GET /api/v1/functions.
func (h *Handler) ListFunctions(w http.ResponseWriter, r *http.Request) {
	fns, err := h.Registry.ListFunctions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if fns == nil {
		fns = []*domain.Function{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": fns, "count": len(fns)})
}

// GetFunction handles GET /api/v1/functions/{name}.
func (h *Handler) GetFunction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	fn, err := h.Registry.GetFunction(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

// UpdateFunction handles PUT /api/v1/functions/{name}.
func (h *Handler) UpdateFunction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var patch domain.UpdateFunctionRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	fn, err := h.Registry.UpdateFunction(r.Context(), name, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fn)
}

// DeleteFunction handles DELETE /api/v1/functions/{name}.
func (h *Handler) DeleteFunction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.Registry.DeleteFunction(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}
