// Copyright 2025 Wisdom Hub Project
//
// Discovery API Handlers - peer registration, heartbeats, and the hub list
// Peer-list redistribution in register and heartbeat replies is gated by
// hub.role at the service layer: primaries reply with their peer list,
// secondaries reply with an empty one.

package server

import (
	"net/http"

	"github.com/wisdomnet/wisdom-hub/pkg/federation"
	"github.com/wisdomnet/wisdom-hub/pkg/hub"
)

// handleDiscoveryHubs handles GET /api/v1/discovery/hubs.
func (s *Server) handleDiscoveryHubs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hubs": s.svc.Hubs(),
	})
}

// handleDiscoveryRegister handles POST /api/v1/discovery/register.
func (s *Server) handleDiscoveryRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req federation.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.HubID == "" || req.URL == "" {
		s.writeError(w, hub.Errf(hub.KindValidation, "hub_id and url are required"))
		return
	}
	peers := s.svc.RegisterHub(req.HubID, req.URL, req.Capabilities)
	writeJSON(w, http.StatusOK, federation.RegisterResponse{Peers: peers})
}

// handleDiscoveryHeartbeat handles POST /api/v1/discovery/heartbeat.
func (s *Server) handleDiscoveryHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req federation.HeartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.HubID == "" {
		s.writeError(w, hub.Errf(hub.KindValidation, "hub_id is required"))
		return
	}
	peers, err := s.svc.HeartbeatHub(req.HubID, req.Stats)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, federation.HeartbeatResponse{Peers: peers})
}
