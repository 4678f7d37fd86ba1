package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/device"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// deviceView combines the live device table with diagnostics.
type deviceView struct {
	nasa.Device
	Class           string    `json:"class"`
	Attributes      int       `json:"attributes"`
	StaleAttributes int       `json:"stale_attributes"`
	HVACAction      string    `json:"hvac_action,omitempty"`
	LastPacket      time.Time `json:"last_packet,omitzero"`

	// Persisted is set for units known only from the database.
	Persisted bool `json:"persisted,omitempty"`
}

func (s *Server) newDeviceView(d nasa.Device) deviceView {
	v := deviceView{Device: d, Class: d.Address.Class.String()}
	if diag, ok := s.engine.Diagnostics(d.Address); ok {
		v.Attributes = diag.Attributes
		v.StaleAttributes = diag.StaleAttribute
		v.HVACAction = diag.HVACAction
		v.LastPacket = diag.LastPacket
	}
	return v
}

// handleListDevices returns every unit the engine knows about, followed
// by units remembered in the database but not seen since start.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	live := s.engine.DeviceList()
	out := make([]deviceView, 0, len(live))
	seen := make(map[nasa.Address]bool, len(live))
	for _, d := range live {
		out = append(out, s.newDeviceView(d))
		seen[d.Address] = true
	}

	if s.devices != nil {
		records, err := s.devices.ListDevices(r.Context())
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		for _, rec := range records {
			if seen[rec.Address] {
				continue
			}
			out = append(out, deviceView{
				Device: nasa.Device{
					Address:    rec.Address,
					FirstSeen:  rec.FirstSeen,
					LastSeen:   rec.LastSeen,
					Messages:   rec.Messages,
					Configured: rec.Configured,
				},
				Class:     rec.Address.Class.String(),
				Persisted: true,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
		"online":  s.engine.Online(),
	})
}

// handleGetDevice returns one unit with its diagnostics.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	for _, d := range s.engine.DeviceList() {
		if d.Address == addr {
			writeJSON(w, http.StatusOK, s.newDeviceView(d))
			return
		}
	}
	writeNotFound(w, "device not found")
}

// handleForgetDevice removes a unit's stored record and snapshot. The live
// engine state is untouched; a unit still on the bus is saved again by the
// next snapshot.
func (s *Server) handleForgetDevice(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device store unavailable")
		return
	}

	addr, err := parseAddress(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.devices.DeleteDevice(r.Context(), addr); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
