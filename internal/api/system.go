package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/soundmesh-core/internal/speaker"
)

// handleSystemStatus returns an operational summary: fleet connection
// counts, group count, WebSocket clients, and broker link state.
func (s *Server) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	var connected, total int
	for _, id := range s.speakers.IDs() {
		sp, ok := s.speakers.Get(id)
		if !ok {
			continue
		}
		total++
		if sp.ConnectionState() == speaker.StateConnected {
			connected++
		}
	}

	groups := 0
	seen := make(map[string]struct{})
	for _, id := range s.coordinator.MemberIDs() {
		members := s.coordinator.ResolveMembers(id)
		if len(members) == 0 {
			continue
		}
		if _, counted := seen[members[0]]; counted {
			continue
		}
		seen[members[0]] = struct{}{}
		groups++
	}

	status := map[string]any{
		"version":            s.version,
		"uptime_seconds":     int(time.Since(s.startedAt).Seconds()),
		"speakers_total":     total,
		"speakers_connected": connected,
		"groups":             groups,
		"ws_clients":         s.hub.ClientCount(),
	}
	if s.mqtt != nil {
		status["mqtt_connected"] = s.mqtt.IsConnected()
	}

	writeJSON(w, http.StatusOK, status)
}
