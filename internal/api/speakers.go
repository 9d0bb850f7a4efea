package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/soundmesh-core/internal/speaker"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 200
	maxParamLen       = 128
	maxVolume         = 100
)

// speakerResponse is the wire shape of one speaker.
type speakerResponse struct {
	ID          string                  `json:"id"`
	Address     string                  `json:"address"`
	State       speaker.ConnectionState `json:"state"`
	IsConnected bool                    `json:"is_connected"`
	Attributes  speaker.Attributes      `json:"attributes"`
}

// connectionResponse is the wire shape of a speaker's connection health.
type connectionResponse struct {
	ID                string                  `json:"id"`
	State             speaker.ConnectionState `json:"state"`
	LastSeen          string                  `json:"last_seen,omitempty"`
	ProbesTotal       uint64                  `json:"probes_total"`
	ProbeFailures     uint64                  `json:"probe_failures"`
	ReconnectsTotal   uint64                  `json:"reconnects_total"`
	ReconnectAttempts int32                   `json:"reconnect_attempts"`
	CommandErrors     uint64                  `json:"command_errors"`
}

// handleListSpeakers returns all registered speakers.
func (s *Server) handleListSpeakers(w http.ResponseWriter, _ *http.Request) {
	ids := s.speakers.IDs()
	out := make([]speakerResponse, 0, len(ids))
	for _, id := range ids {
		sp, ok := s.speakers.Get(id)
		if !ok {
			continue
		}
		out = append(out, speakerView(sp))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"speakers": out,
		"count":    len(out),
	})
}

// handleGetSpeaker returns one speaker's snapshot.
func (s *Server) handleGetSpeaker(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.lookupSpeaker(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, speakerView(sp))
}

// handleGetConnection returns a speaker's connection state and engine counters.
func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.lookupSpeaker(w, r)
	if !ok {
		return
	}

	stats := sp.Stats()
	resp := connectionResponse{
		ID:                sp.ID(),
		State:             stats.State,
		ProbesTotal:       stats.ProbesTotal,
		ProbeFailures:     stats.ProbeFailures,
		ReconnectsTotal:   stats.ReconnectsTotal,
		ReconnectAttempts: stats.ReconnectAttempts,
		CommandErrors:     stats.CommandErrors,
	}
	if !stats.LastSeen.IsZero() {
		resp.LastSeen = stats.LastSeen.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetSpeakerEvents returns recent history rows for a speaker.
func (s *Server) handleGetSpeakerEvents(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.lookupSpeaker(w, r)
	if !ok {
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event history unavailable")
		return
	}

	limit, err := parseEventLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	events, err := s.history.GetEvents(r.Context(), sp.ID(), limit)
	if err != nil {
		writeInternalError(w, "failed to load speaker events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"speaker_id": sp.ID(),
		"events":     events,
		"count":      len(events),
	})
}

// handleGetSpeakerGroup returns the resolved group for a speaker.
func (s *Server) handleGetSpeakerGroup(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.lookupSpeaker(w, r)
	if !ok {
		return
	}

	members := s.coordinator.ResolveMembers(sp.ID())
	resp := map[string]any{
		"speaker_id": sp.ID(),
		"grouped":    len(members) > 0,
	}
	if len(members) > 0 {
		resp["master_id"] = members[0]
		resp["members"] = members
	}

	writeJSON(w, http.StatusOK, resp)
}

// volumeRequest is the body of PUT /speakers/{id}/volume.
type volumeRequest struct {
	Volume *int `json:"volume"`
}

// handleSetVolume sets a speaker's volume.
func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.lookupSpeaker(w, r)
	if !ok {
		return
	}

	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		writeBadRequest(w, "volume is required")
		return
	}
	if *req.Volume < 0 || *req.Volume > maxVolume {
		writeBadRequest(w, "volume must be between 0 and 100")
		return
	}

	if err := sp.SetVolume(r.Context(), *req.Volume); err != nil {
		s.writeCommandError(w, sp.ID(), "set volume", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"speaker_id": sp.ID(),
		"volume":     *req.Volume,
	})
}

// muteRequest is the body of PUT /speakers/{id}/mute.
type muteRequest struct {
	Muted *bool `json:"muted"`
}

// handleSetMute sets a speaker's mute state.
func (s *Server) handleSetMute(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.lookupSpeaker(w, r)
	if !ok {
		return
	}

	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Muted == nil {
		writeBadRequest(w, "muted is required")
		return
	}

	if err := sp.SetMuted(r.Context(), *req.Muted); err != nil {
		s.writeCommandError(w, sp.ID(), "set mute", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"speaker_id": sp.ID(),
		"muted":      *req.Muted,
	})
}

// handlePlay starts playback on a speaker.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.lookupSpeaker(w, r)
	if !ok {
		return
	}

	if err := sp.Play(r.Context()); err != nil {
		s.writeCommandError(w, sp.ID(), "play", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"speaker_id": sp.ID(), "playing": true})
}

// handlePause pauses playback on a speaker.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	sp, ok := s.lookupSpeaker(w, r)
	if !ok {
		return
	}

	if err := sp.Pause(r.Context()); err != nil {
		s.writeCommandError(w, sp.ID(), "pause", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"speaker_id": sp.ID(), "playing": false})
}

// lookupSpeaker resolves the {id} URL parameter to a directory entry,
// writing the error response itself when the lookup fails.
func (s *Server) lookupSpeaker(w http.ResponseWriter, r *http.Request) (Speaker, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxParamLen {
		writeBadRequest(w, "invalid speaker ID")
		return nil, false
	}

	sp, ok := s.speakers.Get(id)
	if !ok {
		writeNotFound(w, "speaker not found")
		return nil, false
	}
	return sp, true
}

// writeCommandError maps a failed speaker command to an HTTP response.
// Connection-class failures surface as 502 so clients can distinguish
// an unreachable speaker from a server fault.
func (s *Server) writeCommandError(w http.ResponseWriter, id, op string, err error) {
	s.logger.Warn("speaker command failed", "speaker_id", id, "op", op, "error", err)
	writeError(w, http.StatusBadGateway, ErrCodeUnavailable, fmt.Sprintf("%s failed: speaker unreachable", op))
}

// speakerView builds the wire shape for one speaker.
func speakerView(sp Speaker) speakerResponse {
	return speakerResponse{
		ID:          sp.ID(),
		Address:     sp.Address(),
		State:       sp.ConnectionState(),
		IsConnected: sp.IsConnected(),
		Attributes:  sp.Attributes(),
	}
}

// parseEventLimit parses the limit query parameter with bounds enforcement.
func parseEventLimit(raw string) (int, error) {
	if raw == "" {
		return defaultEventLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxEventLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}
