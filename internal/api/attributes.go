package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/nasa-bridge/internal/audit"
	"github.com/nerrad567/nasa-bridge/internal/bridges/ehs"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// requestTimeout bounds a read or write started from the API.
const requestTimeout = 10 * time.Second

// catalogEntry is the JSON view of an attribute definition.
type catalogEntry struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Kind     string         `json:"kind"`
	Unit     string         `json:"unit,omitempty"`
	Writable bool           `json:"writable"`
	Min      *float64       `json:"min,omitempty"`
	Max      *float64       `json:"max,omitempty"`
	Step     float64        `json:"step,omitempty"`
	Options  map[int]string `json:"options,omitempty"`
	Polled   bool           `json:"polled"`
	Scope    string         `json:"scope,omitempty"`
}

func newCatalogEntry(s nasa.AttributeSpec) catalogEntry {
	e := catalogEntry{
		ID:       s.ID.String(),
		Name:     s.Name,
		Kind:     s.Kind.String(),
		Unit:     s.Unit,
		Writable: s.Writable,
		Step:     s.Step,
		Options:  s.Options,
		Polled:   s.Poll,
		Scope:    s.Scope,
	}
	if s.Max > s.Min {
		e.Min, e.Max = &s.Min, &s.Max
	}
	return e
}

// writeRequest is the body of PUT /devices/{address}/attributes/{attr}.
type writeRequest struct {
	Value any `json:"value"`
}

// stateView renders an attribute state with its catalog metadata.
func (s *Server) stateView(st nasa.AttributeState) ehs.StateMessage {
	spec, _ := s.engine.Catalog().Lookup(st.ID)
	if st.Name == "" {
		st.Name = spec.Name
	}
	return ehs.NewStateMessage(st, spec)
}

// target parses the {address} and {attr} URL parameters. The attribute
// may be a catalog name or a hex id.
func (s *Server) target(w http.ResponseWriter, r *http.Request) (nasa.Address, nasa.AttributeID, bool) {
	device, err := parseAddress(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return nasa.Address{}, 0, false
	}
	id, err := s.engine.Catalog().Resolve(chi.URLParam(r, "attr"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return nasa.Address{}, 0, false
	}
	return device, id, true
}

// handleListAttributes returns the last known value of every attribute of
// a device, ordered by id.
func (s *Server) handleListAttributes(w http.ResponseWriter, r *http.Request) {
	device, err := parseAddress(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if _, ok := s.engine.Diagnostics(device); !ok {
		writeNotFound(w, "device not found")
		return
	}

	var states []nasa.AttributeState
	for _, st := range s.engine.Snapshot() {
		if st.Device == device {
			states = append(states, st)
		}
	}
	slices.SortFunc(states, func(a, b nasa.AttributeState) int { return int(a.ID) - int(b.ID) })

	out := make([]ehs.StateMessage, 0, len(states))
	for _, st := range states {
		out = append(out, s.stateView(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":    device.String(),
		"attributes": out,
		"count":      len(out),
	})
}

// handleGetAttribute returns the last known value without bus traffic.
// With ?refresh=true it performs a fresh read instead.
func (s *Server) handleGetAttribute(w http.ResponseWriter, r *http.Request) {
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		s.handleReadAttribute(w, r)
		return
	}

	device, id, ok := s.target(w, r)
	if !ok {
		return
	}
	st, found := s.engine.Get(device, id)
	if !found {
		writeNotFound(w, "no value known for "+id.String()+" on "+device.String())
		return
	}
	writeJSON(w, http.StatusOK, s.stateView(st))
}

// handleReadAttribute issues a fresh read of one attribute.
func (s *Server) handleReadAttribute(w http.ResponseWriter, r *http.Request) {
	device, id, ok := s.target(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	start := time.Now()
	st, err := s.engine.ReadID(ctx, device, id)
	s.observeRequest("read", start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.stateView(st))
}

// handleWriteAttribute sets one attribute. The value may be a number,
// boolean, option name or hex string, as the catalog allows.
func (s *Server) handleWriteAttribute(w http.ResponseWriter, r *http.Request) {
	device, id, ok := s.target(w, r)
	if !ok {
		return
	}

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}

	v, err := s.engine.Catalog().ParseValue(id, req.Value)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.engine.WriteID(ctx, device, id, v)
	s.observeRequest("write", start, err)
	if s.audit != nil {
		s.audit.RecordWrite(ctx, audit.SourceAPI, device, id, v, err)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":    device.String(),
		"attribute":  id.String(),
		"value":      v.Interface(),
		"echo":       res.Echo,
		"latency_ms": res.Latency.Milliseconds(),
	})
}

// handleCommand runs a high-level command through the MQTT bridge planner.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "commands unavailable")
		return
	}

	var cmd ehs.CommandMessage
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cmd.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}
	if cmd.Source == "" {
		cmd.Source = audit.SourceAPI
	}

	ack := s.commands.Execute(r.Context(), chi.URLParam(r, "address"), cmd)
	writeJSON(w, ackStatus(ack), ack)
}

// handleAttributeHistory returns recorded changes of one attribute,
// newest first.
func (s *Server) handleAttributeHistory(w http.ResponseWriter, r *http.Request) {
	device, id, ok := s.target(w, r)
	if !ok {
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	since, err := parseSinceParam(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "attribute history unavailable")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), device, id, limit)
	if err != nil {
		writeInternalError(w, "failed to load attribute history")
		return
	}

	if !since.IsZero() {
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.CreatedAt.After(since) {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":   device.String(),
		"attribute": id.String(),
		"history":   entries,
		"count":     len(entries),
	})
}

func (s *Server) observeRequest(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveRequest(operation, time.Since(start), err)
	}
}
