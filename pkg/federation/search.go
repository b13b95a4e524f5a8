// Copyright 2025 Wisdom Hub Project
//
// Federated Search - local query plus concurrent single-hop peer fan-out
// Peer failures are non-fatal: a peer that errors, times out, or returns an
// invalid response is dropped from the merge and recorded in
// partial_failures. Outbound queries always carry federate=false.

package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wisdomnet/wisdom-hub/pkg/entity"
	"github.com/wisdomnet/wisdom-hub/pkg/store"
)

var peerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wisdomhub_federation_peer_failures_total",
	Help: "Peer queries dropped from federated search merges",
}, []string{"hub_id"})

// SearchHit is one merged search result with its origin hub.
type SearchHit struct {
	Fragment *entity.Fragment `json:"fragment"`
	Score    float64          `json:"score"`
	Source   string           `json:"source"`
}

// ResultSet is a merged federated search response.
type ResultSet struct {
	Hits            []*SearchHit `json:"hits"`
	PartialFailures []string     `json:"partial_failures"`
	Warning         string       `json:"warning,omitempty"`
}

// peerResponse is the subset of a peer's search reply the merge consumes.
type peerResponse struct {
	Hits []*SearchHit `json:"hits"`
}

// LocalSearchFunc runs the store-backed search for this hub.
type LocalSearchFunc func(query string, limit int) ([]*store.Match, error)

// SearcherConfig bounds the fan-out.
type SearcherConfig struct {
	SelfID string
	// MaxPeerConcurrency is the outbound budget per incoming request;
	// excess peers are queried as earlier calls complete. Default: 4.
	MaxPeerConcurrency int
}

// Searcher executes federated searches over the registry's live peers.
type Searcher struct {
	registry    *Registry
	local       LocalSearchFunc
	selfID      string
	maxInFlight int
	httpClient  *http.Client
	logger      *log.Logger
}

// NewSearcher creates a federated searcher. Outbound calls are bounded only
// by the caller's deadline; retrying inside the deadline would starve the
// merge, so the client performs none.
func NewSearcher(registry *Registry, local LocalSearchFunc, cfg SearcherConfig) *Searcher {
	if cfg.MaxPeerConcurrency <= 0 {
		cfg.MaxPeerConcurrency = 4
	}
	return &Searcher{
		registry:    registry,
		local:       local,
		selfID:      cfg.SelfID,
		maxInFlight: cfg.MaxPeerConcurrency,
		httpClient:  &http.Client{},
		logger:      log.New(log.Writer(), "[Federation] ", log.LstdFlags),
	}
}

// peerResult pairs one peer's reply with its identity for the merge.
type peerResult struct {
	hubID string
	hits  []*SearchHit
	err   error
}

// Search runs the local query and, when federate is set, one outbound query
// per live peer, all concurrently under ctx's deadline. The call succeeds as
// long as the local search completes.
func (s *Searcher) Search(ctx context.Context, query string, federate bool, limit int) (*ResultSet, error) {
	if limit <= 0 {
		limit = store.DefaultListLimit
	}

	type localResult struct {
		matches []*store.Match
		err     error
	}
	localCh := make(chan localResult, 1)
	go func() {
		matches, err := s.local(query, limit)
		localCh <- localResult{matches: matches, err: err}
	}()

	var peers []*entity.HubRecord
	if federate {
		peers = s.registry.LivePeers()
	}

	results := make(chan peerResult, len(peers))
	if len(peers) > 0 {
		var wg sync.WaitGroup
		sem := make(chan struct{}, s.maxInFlight)
		for _, peer := range peers {
			wg.Add(1)
			go func(p *entity.HubRecord) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					results <- peerResult{hubID: p.HubID, err: ctx.Err()}
					return
				}
				hits, err := s.queryPeer(ctx, p, query, limit)
				results <- peerResult{hubID: p.HubID, hits: hits, err: err}
			}(peer)
		}
		go func() {
			wg.Wait()
			close(results)
		}()
	} else {
		close(results)
	}

	rs := &ResultSet{PartialFailures: []string{}}
	merged := make(map[string]*SearchHit)

	for pr := range results {
		if pr.err != nil {
			s.logger.Printf("dropping peer %s from merge: %v", pr.hubID, pr.err)
			peerFailures.WithLabelValues(pr.hubID).Inc()
			rs.PartialFailures = append(rs.PartialFailures, pr.hubID)
			continue
		}
		for _, hit := range pr.hits {
			if hit == nil || hit.Fragment == nil {
				continue
			}
			if hit.Source == "" {
				hit.Source = pr.hubID
			}
			mergeHit(merged, hit)
		}
	}

	lr := <-localCh
	if lr.err != nil {
		return nil, fmt.Errorf("local search failed: %w", lr.err)
	}
	for _, m := range lr.matches {
		mergeHit(merged, &SearchHit{Fragment: m.Fragment, Score: m.Score, Source: s.selfID})
	}

	rs.Hits = rankHits(merged, limit)
	sort.Strings(rs.PartialFailures)
	if federate && len(peers) == 0 {
		rs.Warning = "no live peers; returning local results only"
	}
	return rs, nil
}

// mergeHit deduplicates by fragment identifier: the winning copy is the one
// with the lexicographically greatest (updated_at, uuid) pair.
func mergeHit(merged map[string]*SearchHit, hit *SearchHit) {
	id := hit.Fragment.ID.String()
	cur, ok := merged[id]
	if !ok {
		merged[id] = hit
		return
	}
	a, b := hit.Fragment, cur.Fragment
	if a.UpdatedAt.After(b.UpdatedAt) ||
		(a.UpdatedAt.Equal(b.UpdatedAt) && a.ID.String() > b.ID.String()) {
		merged[id] = hit
	}
}

// rankHits orders merged results by descending relevance, then recency,
// then identifier so the output is deterministic.
func rankHits(merged map[string]*SearchHit, limit int) []*SearchHit {
	hits := make([]*SearchHit, 0, len(merged))
	for _, h := range merged {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Fragment.UpdatedAt.Equal(hits[j].Fragment.UpdatedAt) {
			return hits[i].Fragment.UpdatedAt.After(hits[j].Fragment.UpdatedAt)
		}
		return hits[i].Fragment.ID.String() < hits[j].Fragment.ID.String()
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// queryPeer issues the single-hop outbound query. federate=false on the
// forwarded request is the structural defense against fan-out cycles.
func (s *Searcher) queryPeer(ctx context.Context, peer *entity.HubRecord, query string, limit int) ([]*SearchHit, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("federate", "false")
	q.Set("limit", strconv.Itoa(limit))
	reqURL := peer.URL + "/api/v1/search?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("X-Hub-ID", s.selfID)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer returned status %d: %s", resp.StatusCode, string(body))
	}
	var pr peerResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return pr.Hits, nil
}
