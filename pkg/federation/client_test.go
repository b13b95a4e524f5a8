// Copyright 2025 Wisdom Hub Project
//
// Upstream Client Tests

package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdomnet/wisdom-hub/pkg/entity"
)

// fakePrimary implements the discovery surface of a primary hub.
type fakePrimary struct {
	srv        *httptest.Server
	registered map[string]bool
	peers      []*entity.HubRecord
	heartbeats int
}

func newFakePrimary(t *testing.T, peers []*entity.HubRecord) *fakePrimary {
	t.Helper()
	p := &fakePrimary{registered: map[string]bool{}, peers: peers}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/discovery/register", func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		json.NewDecoder(r.Body).Decode(&req)
		p.registered[req.HubID] = true
		json.NewEncoder(w).Encode(RegisterResponse{Peers: p.peers})
	})
	mux.HandleFunc("/api/v1/discovery/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		var req HeartbeatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !p.registered[req.HubID] {
			http.Error(w, `{"error":"unknown hub"}`, http.StatusNotFound)
			return
		}
		p.heartbeats++
		json.NewEncoder(w).Encode(HeartbeatResponse{Peers: p.peers})
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func TestRegisterOnce_MergesPeerList(t *testing.T) {
	remote := []*entity.HubRecord{
		{HubID: "hub-east", URL: "http://east.example", Status: entity.HubAlive},
		{HubID: "hub-self", URL: "http://self.example"},
	}
	primary := newFakePrimary(t, remote)

	reg := NewRegistry("hub-self", time.Second)
	c := NewUpstreamClient(reg, primary.srv.URL,
		RegisterRequest{HubID: "hub-self", URL: "http://self.example"}, nil, time.Second)

	require.NoError(t, c.RegisterOnce(context.Background()))
	assert.True(t, primary.registered["hub-self"])

	peers := reg.Peers()
	require.Len(t, peers, 1, "own record must not be merged")
	assert.Equal(t, "hub-east", peers[0].HubID)
}

func TestHeartbeatOnce_ReregistersAfterRestart(t *testing.T) {
	primary := newFakePrimary(t, nil)

	reg := NewRegistry("hub-self", time.Second)
	stats := func() entity.HubStats { return entity.HubStats{FragmentCount: 9} }
	c := NewUpstreamClient(reg, primary.srv.URL,
		RegisterRequest{HubID: "hub-self", URL: "http://self.example"}, stats, time.Second)

	// Heartbeat before registering: the primary answers 404 and the client
	// falls back to registration.
	require.NoError(t, c.HeartbeatOnce(context.Background()))
	assert.True(t, primary.registered["hub-self"])

	require.NoError(t, c.HeartbeatOnce(context.Background()))
	assert.Equal(t, 1, primary.heartbeats)
}
