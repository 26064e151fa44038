package api

import (
	"encoding/json"
	"net/http"

	"github.com/oriys/novafn/internal/domain"
)

// InvokeFunction handles POST /api/v1/functions/{name}/invoke.
func (h *Handler) InvokeFunction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	fn, err := h.Registry.GetFunction(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}

	var event json.RawMessage
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON event"})
			return
		}
	} else {
		event = json.RawMessage("{}")
	}

	outcome, err := h.Invoker.Invoke(r.Context(), fn, event)
	if err != nil {
		writeError(w, err)
		return
	}

	switch outcome.Kind {
	case domain.KindInternal:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if len(outcome.Body) == 0 {
			w.Write([]byte("null"))
			return
		}
		w.Write(outcome.Body)
	case domain.KindHandlerFailed:
		writeJSON(w, kindToStatus(domain.KindHandlerFailed), map[string]string{
			"error": outcome.HandlerError,
			"kind":  domain.KindHandlerFailed.String(),
			"stack": outcome.Stack,
			"logs":  outcome.Logs,
		})
	case domain.KindTimeout:
		writeJSON(w, kindToStatus(domain.KindTimeout), map[string]string{
			"error": "invocation exceeded timeout_sec",
			"kind":  domain.KindTimeout.String(),
		})
	default:
		writeJSON(w, kindToStatus(domain.KindUnavailable), map[string]string{
			"error": "vm could not be acquired or guest is unreachable",
			"kind":  domain.KindUnavailable.String(),
		})
	}
}
