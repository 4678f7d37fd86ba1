package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/nasa-bridge/internal/nasa"
)

// Origin checks are left to the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// hookEngine subscribes the hub to engine events. Only the first call
// registers.
func (s *Server) hookEngine() {
	s.hooksOnce.Do(func() {
		s.unsub = s.engine.OnChange(func(c nasa.Change) {
			if st, ok := s.engine.Get(c.Device, c.ID); ok {
				s.hub.Broadcast(ChannelAttributeChanged, s.stateView(st))
			}
		})
		s.engine.OnHVACAction(func(c nasa.DerivedChange) {
			s.hub.Broadcast(ChannelHVACAction, map[string]any{
				"address":  c.Device.String(),
				"action":   c.New.String(),
				"previous": c.Old.String(),
			})
		})
		s.engine.OnDeviceReachability(func(d nasa.Device) {
			s.hub.Broadcast(ChannelDeviceReachability, map[string]any{
				"address":   d.Address.String(),
				"reachable": d.Reachable,
			})
		})
		s.engine.OnAvailability(func(online bool) {
			s.hub.Broadcast(ChannelAvailability, map[string]any{"online": online})
		})
	})
}

// handleWebSocket upgrades to the event stream. ?channels=a,b subscribes
// up front; unknown names are ignored there.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	var channels []string
	for ch := range strings.SplitSeq(r.URL.Query().Get("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}

	client := newWSClient(s.hub, conn, channels...)
	s.hub.Register(client)

	go client.writeLoop()
	go client.readLoop()
}
