package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/nasa-bridge/internal/gateway"
	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// SystemStatus is the JSON status report of the bridge process.
type SystemStatus struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeStatus  `json:"runtime"`
	WebSocket     WSStatus       `json:"websocket"`
	Link          LinkStatus     `json:"link"`
	Requests      RequestStatus  `json:"requests"`
	Poller        PollerStatus   `json:"poller"`
	Registry      RegistryStatus `json:"registry"`
	Gateway       *gateway.Stats `json:"gateway,omitempty"`
}

// RuntimeStatus contains Go runtime statistics.
type RuntimeStatus struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSStatus contains WebSocket hub statistics.
type WSStatus struct {
	ConnectedClients int `json:"connected_clients"`
}

// LinkStatus describes the bridge connection.
type LinkStatus struct {
	State         string    `json:"state"`
	Online        bool      `json:"online"`
	FramesRx      uint64    `json:"frames_rx"`
	FramesTx      uint64    `json:"frames_tx"`
	FramingErrors uint64    `json:"framing_errors"`
	BytesDropped  uint64    `json:"bytes_dropped"`
	Reconnects    uint64    `json:"reconnects"`
	LastActivity  time.Time `json:"last_activity,omitzero"`
}

// RequestStatus contains correlator counters.
type RequestStatus struct {
	Issued    uint64 `json:"issued"`
	Succeeded uint64 `json:"succeeded"`
	TimedOut  uint64 `json:"timed_out"`
	Rejected  uint64 `json:"rejected"`
	Unmatched uint64 `json:"unmatched"`
	Pending   int    `json:"pending"`
}

// PollerStatus contains poll scheduler counters.
type PollerStatus struct {
	Cycles         uint64    `json:"cycles"`
	Skipped        uint64    `json:"skipped"`
	Failures       uint64    `json:"failures"`
	LastCycle      time.Time `json:"last_cycle,omitzero"`
	LastDurationMs int64     `json:"last_duration_ms"`
}

// RegistryStatus contains attribute registry counters.
type RegistryStatus struct {
	Devices    int    `json:"devices"`
	Attributes int    `json:"attributes"`
	Mismatches uint64 `json:"type_mismatches"`
}

// handleSystemStatus returns runtime and engine statistics.
func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	base := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		WebSocket:     WSStatus{ConnectedClients: s.hub.ClientCount()},
	}
	if s.gateway != nil {
		gw := s.gateway.Stats()
		base.Gateway = &gw
	}
	writeJSON(w, http.StatusOK, newSystemStatus(s.engine.Stats(), s.engine.Online(), memStats, base))
}

func newSystemStatus(st nasa.ClientStats, online bool, mem runtime.MemStats, base SystemStatus) SystemStatus {
	base.Runtime = RuntimeStatus{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
		MemoryTotalMB: float64(mem.TotalAlloc) / 1024 / 1024,
		NumGC:         mem.NumGC,
	}
	base.Link = LinkStatus{
		State:         st.Session.State.String(),
		Online:        online,
		FramesRx:      st.Session.FramesRx,
		FramesTx:      st.Session.FramesTx,
		FramingErrors: st.Session.FramingErrors,
		BytesDropped:  st.Session.BytesDropped,
		Reconnects:    st.Session.Reconnects,
		LastActivity:  st.Session.LastActivity,
	}
	base.Requests = RequestStatus{
		Issued:    st.Correlator.Issued,
		Succeeded: st.Correlator.Succeeded,
		TimedOut:  st.Correlator.TimedOut,
		Rejected:  st.Correlator.Rejected,
		Unmatched: st.Correlator.Unmatched,
		Pending:   st.Correlator.Pending,
	}
	base.Poller = PollerStatus{
		Cycles:         st.Poller.Cycles,
		Skipped:        st.Poller.Skipped,
		Failures:       st.Poller.Failures,
		LastCycle:      st.Poller.LastCycle,
		LastDurationMs: st.Poller.LastDuration.Milliseconds(),
	}
	base.Registry = RegistryStatus{
		Devices:    st.Devices,
		Attributes: st.Attributes,
		Mismatches: st.Mismatches,
	}
	return base
}
