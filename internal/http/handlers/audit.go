package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/iago/treasury-bizcase-back/internal/audit"
)

const defaultAuditLimit = 50

// Audit lists the most recent audit events, newest last. The optional
// event query parameter filters by name.
func (api *API) Audit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if api.audit == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "audit trail is not enabled")
		return
	}

	limit := defaultAuditLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	name := strings.TrimSpace(r.URL.Query().Get("event"))

	events := make([]audit.Event, 0, limit)
	for _, event := range api.audit.Events() {
		if name == "" || event.Name == name {
			events = append(events, event)
		}
	}
	if len(events) > limit {
		events = events[len(events)-limit:]
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
