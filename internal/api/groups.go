package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// addMembersRequest is the body of POST /groups/{masterId}/members.
type addMembersRequest struct {
	MemberIDs []string `json:"member_ids"`
}

// handleGetGroupMembers returns the resolved membership for a master.
func (s *Server) handleGetGroupMembers(w http.ResponseWriter, r *http.Request) {
	masterID := chi.URLParam(r, "masterId")
	if masterID == "" || len(masterID) > maxParamLen {
		writeBadRequest(w, "invalid master ID")
		return
	}
	if _, ok := s.speakers.Get(masterID); !ok {
		writeNotFound(w, "speaker not found")
		return
	}

	members := s.coordinator.ResolveMembers(masterID)
	writeJSON(w, http.StatusOK, map[string]any{
		"master_id": masterID,
		"members":   members,
		"grouped":   len(members) > 0,
	})
}

// handleAddGroupMembers requests that speakers join a master's group.
//
// The request is accepted into the pending operation and committed
// after the settle delay, so success here means "queued", not
// "grouped". 202 makes that contract explicit.
func (s *Server) handleAddGroupMembers(w http.ResponseWriter, r *http.Request) {
	masterID := chi.URLParam(r, "masterId")
	if masterID == "" || len(masterID) > maxParamLen {
		writeBadRequest(w, "invalid master ID")
		return
	}

	var req addMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.MemberIDs) == 0 {
		writeBadRequest(w, "member_ids is required")
		return
	}

	if err := s.coordinator.RequestAddToGroup(masterID, req.MemberIDs); err != nil {
		writeGroupingError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"master_id":  masterID,
		"member_ids": req.MemberIDs,
		"status":     "pending",
	})
}

// handleRemoveGroupMember requests that a speaker leave a master's group.
func (s *Server) handleRemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	masterID := chi.URLParam(r, "masterId")
	memberID := chi.URLParam(r, "memberId")
	if masterID == "" || len(masterID) > maxParamLen || memberID == "" || len(memberID) > maxParamLen {
		writeBadRequest(w, "invalid speaker ID")
		return
	}

	if err := s.coordinator.RequestRemoveFromGroup(masterID, memberID); err != nil {
		writeGroupingError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"master_id": masterID,
		"member_id": memberID,
		"status":    "pending",
	})
}
