package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/nasa-bridge/internal/audit"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// handleListAudit returns audit log entries, newest first.
//
// Query parameters: action, device, source, outcome, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log unavailable")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:  q.Get("action"),
		Source:  q.Get("source"),
		Outcome: q.Get("outcome"),
	}

	if raw := q.Get("device"); raw != "" {
		addr, err := nasa.ParseAddress(raw)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		filter.Device = addr.String()
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "invalid "+p.name)
			return
		}
		*p.dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to load audit log")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
