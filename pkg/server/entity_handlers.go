// Copyright 2025 Wisdom Hub Project
//
// Entity API Handlers
// list/create plus single-entity GET for every federated entity kind.

package server

import (
	"net/http"

	"github.com/wisdomnet/wisdom-hub/pkg/entity"
)

// handleAgents handles GET (list) and POST (create/update) on /api/v1/agents.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listEntities(w, r, entity.KindAgent)
	case http.MethodPost:
		var a entity.Agent
		if err := decodeBody(r, &a); err != nil {
			s.writeError(w, err)
			return
		}
		receipt, err := s.svc.PutAgent(&a)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeReceipt(w, receipt)
	default:
		methodNotAllowed(w)
	}
}

// handleAgentByID handles GET /api/v1/agents/{id}.
func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, err := pathID(r.URL.Path, "/api/v1/agents/")
	if err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.svc.GetAgent(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleFragments handles GET (list) and POST (create/update).
func (s *Server) handleFragments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listEntities(w, r, entity.KindFragment)
	case http.MethodPost:
		var f entity.Fragment
		if err := decodeBody(r, &f); err != nil {
			s.writeError(w, err)
			return
		}
		receipt, err := s.svc.PutFragment(&f)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeReceipt(w, receipt)
	default:
		methodNotAllowed(w)
	}
}

// handleFragmentByID handles GET /api/v1/fragments/{id}.
func (s *Server) handleFragmentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, err := pathID(r.URL.Path, "/api/v1/fragments/")
	if err != nil {
		s.writeError(w, err)
		return
	}
	f, err := s.svc.GetFragment(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handleRelations handles GET (list, with ?from= / ?to= filters) and POST.
func (s *Server) handleRelations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cursor, limit := pageParams(r)
		if r.URL.Query().Get("from") != "" {
			id, err := queryID(r, "from")
			if err != nil {
				s.writeError(w, err)
				return
			}
			rels, next, err := s.svc.RelationsFrom(id, cursor, limit)
			if err != nil {
				s.writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, listResponse{Items: emptyList(rels), NextCursor: next})
			return
		}
		if r.URL.Query().Get("to") != "" {
			id, err := queryID(r, "to")
			if err != nil {
				s.writeError(w, err)
				return
			}
			rels, next, err := s.svc.RelationsTo(id, cursor, limit)
			if err != nil {
				s.writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, listResponse{Items: emptyList(rels), NextCursor: next})
			return
		}
		s.listEntities(w, r, entity.KindRelation)
	case http.MethodPost:
		var rel entity.Relation
		if err := decodeBody(r, &rel); err != nil {
			s.writeError(w, err)
			return
		}
		receipt, err := s.svc.PutRelation(&rel)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeReceipt(w, receipt)
	default:
		methodNotAllowed(w)
	}
}

// handleRelationByID handles GET /api/v1/relations/{id}.
func (s *Server) handleRelationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, err := pathID(r.URL.Path, "/api/v1/relations/")
	if err != nil {
		s.writeError(w, err)
		return
	}
	rel, err := s.svc.GetRelation(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// handleTags handles GET (list) and POST.
func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listEntities(w, r, entity.KindTag)
	case http.MethodPost:
		var t entity.Tag
		if err := decodeBody(r, &t); err != nil {
			s.writeError(w, err)
			return
		}
		receipt, err := s.svc.PutTag(&t)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeReceipt(w, receipt)
	default:
		methodNotAllowed(w)
	}
}

// handleTagByID handles GET /api/v1/tags/{id}.
func (s *Server) handleTagByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, err := pathID(r.URL.Path, "/api/v1/tags/")
	if err != nil {
		s.writeError(w, err)
		return
	}
	t, err := s.svc.GetTag(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleTransforms handles GET (list) and POST.
func (s *Server) handleTransforms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listEntities(w, r, entity.KindTransform)
	case http.MethodPost:
		var t entity.Transform
		if err := decodeBody(r, &t); err != nil {
			s.writeError(w, err)
			return
		}
		receipt, err := s.svc.PutTransform(&t)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeReceipt(w, receipt)
	default:
		methodNotAllowed(w)
	}
}

// handleTransformByID handles GET /api/v1/transforms/{id}.
func (s *Server) handleTransformByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, err := pathID(r.URL.Path, "/api/v1/transforms/")
	if err != nil {
		s.writeError(w, err)
		return
	}
	t, err := s.svc.GetTransform(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// listEntities serves one page of a kind, optionally filtered by ?author=.
func (s *Server) listEntities(w http.ResponseWriter, r *http.Request, kind entity.Kind) {
	cursor, limit := pageParams(r)
	if r.URL.Query().Get("author") != "" {
		author, err := queryID(r, "author")
		if err != nil {
			s.writeError(w, err)
			return
		}
		docs, next, err := s.svc.ListByAuthor(author, kind, cursor, limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse{Items: emptyList(docs), NextCursor: next})
		return
	}
	docs, next, err := s.svc.List(kind, cursor, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: emptyList(docs), NextCursor: next})
}
