// Copyright 2025 Wisdom Hub Project
//
// Search and Trust API Handlers

package server

import (
	"context"
	"net/http"

	"github.com/wisdomnet/wisdom-hub/pkg/federation"
	"github.com/wisdomnet/wisdom-hub/pkg/hub"
)

// handleFragmentSearch handles GET /api/v1/fragments/search?q= over the
// local store only.
func (s *Server) handleFragmentSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, hub.Errf(hub.KindValidation, "missing q parameter"))
		return
	}
	cursor, limit := pageParams(r)
	matches, next, err := s.svc.SearchFragments(query, cursor, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	hits := make([]*federation.SearchHit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, &federation.SearchHit{
			Fragment: m.Fragment,
			Score:    m.Score,
			Source:   s.cfg.Hub.HubID,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Hits       []*federation.SearchHit `json:"hits"`
		NextCursor string                  `json:"next_cursor,omitempty"`
	}{Hits: hits, NextCursor: next})
}

// handleSearch handles GET /api/v1/search?q=&federate=. When federate is
// true the local query runs concurrently with one outbound query per live
// peer, all bounded by the federated search deadline.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, hub.Errf(hub.KindValidation, "missing q parameter"))
		return
	}
	federate := r.URL.Query().Get("federate") == "true"
	_, limit := pageParams(r)

	ctx, cancel := context.WithTimeout(r.Context(), federatedSearchTimeout)
	defer cancel()

	rs, err := s.svc.Search(ctx, query, federate, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// handleTrustPath handles GET /api/v1/trust/path?from=&to=.
func (s *Server) handleTrustPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	from, err := queryID(r, "from")
	if err != nil {
		s.writeError(w, err)
		return
	}
	to, err := queryID(r, "to")
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.TrustPath(from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
