// Copyright 2025 Wisdom Hub Project
//
// Transitive Trust Resolver
// Bounded multi-path maximum-damped-trust search over the graph induced by
// agents' direct-trust maps.
//
// Damping convention: uniform per-hop. A path with n hops scores
// prod(trust_i) * damping^n, i.e. every hop is damped exactly once. The
// degenerate no-path fallback reports the declared or default direct trust
// undamped, since it is not produced by traversal. Reflexive trust is 1.0.

package trust

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wisdomnet/wisdom-hub/pkg/entity"
)

// ErrUnknownAgent is returned when the source or target agent is not stored.
var ErrUnknownAgent = errors.New("unknown agent")

// AgentSource supplies trust configurations, normally backed by the entity
// store.
type AgentSource interface {
	// TrustConfig returns the declared trust configuration for an agent,
	// or ErrUnknownAgent when no such agent is stored.
	TrustConfig(id uuid.UUID) (*entity.TrustConfig, error)
}

// Config bounds the traversal.
type Config struct {
	MaxDepth          int           // traversal depth cap
	DampingFactor     float64       // per-hop multiplier
	MinTrustThreshold float64       // per-hop magnitude prune
	SearchBudget      time.Duration // soft wall-clock bound
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxDepth:          5,
		DampingFactor:     0.8,
		MinTrustThreshold: 0.01,
		SearchBudget:      2 * time.Second,
	}
}

// Result is the winning path and its score. Truncated is set when the
// wall-clock budget expired and the score is best-so-far.
type Result struct {
	Path      []uuid.UUID `json:"path"`
	Score     float64     `json:"score"`
	Truncated bool        `json:"truncated,omitempty"`
}

// Resolver computes directional effective trust between agents.
type Resolver struct {
	agents AgentSource
	cfg    Config
}

// NewResolver creates a resolver over the given agent source.
func NewResolver(agents AgentSource, cfg Config) *Resolver {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 5
	}
	if cfg.DampingFactor <= 0 || cfg.DampingFactor > 1 {
		cfg.DampingFactor = 0.8
	}
	if cfg.SearchBudget <= 0 {
		cfg.SearchBudget = 2 * time.Second
	}
	return &Resolver{agents: agents, cfg: cfg}
}

// partial is one best-first queue entry: an acyclic prefix path and its
// accumulated damped score.
type partial struct {
	node  uuid.UUID
	path  []uuid.UUID
	score float64
	hops  int
}

// magnitude orders the queue; ties break toward shorter, then
// lexicographically smaller paths so results are reproducible.
type queue []*partial

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	mi, mj := abs(q[i].score), abs(q[j].score)
	if mi != mj {
		return mi > mj
	}
	if q[i].hops != q[j].hops {
		return q[i].hops < q[j].hops
	}
	return pathKey(q[i].path) < pathKey(q[j].path)
}
func (q queue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x interface{}) { *q = append(*q, x.(*partial)) }
func (q *queue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func pathKey(path []uuid.UUID) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = id.String()
	}
	return strings.Join(parts, "/")
}

// better reports whether candidate a beats b under the determinism rules:
// higher score, then shorter path, then lexicographically smaller
// intermediate sequence.
func better(a, b *Result) bool {
	if b == nil {
		return true
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.Path) != len(b.Path) {
		return len(a.Path) < len(b.Path)
	}
	return pathKey(a.Path) < pathKey(b.Path)
}

// directTrust returns cfg's declared trust toward target, falling back to
// the default for unlisted agents.
func directTrust(cfg *entity.TrustConfig, target uuid.UUID) float64 {
	if e, ok := cfg.Peers[target.String()]; ok {
		return e.Trust
	}
	return cfg.DefaultTrust
}

// sortedPeers returns the declared trust edges of cfg in identifier order,
// keeping expansion deterministic.
func sortedPeers(cfg *entity.TrustConfig) []string {
	peers := make([]string, 0, len(cfg.Peers))
	for id := range cfg.Peers {
		peers = append(peers, id)
	}
	sort.Strings(peers)
	return peers
}

// Resolve computes the effective trust of from toward to: the maximum damped
// path trust over all acyclic declared-trust paths of length <= MaxDepth.
// When no traversal path exists, the degenerate direct-trust path is
// returned; absence of a path is not an error.
func (r *Resolver) Resolve(from, to uuid.UUID) (*Result, error) {
	srcCfg, err := r.agents.TrustConfig(from)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", from, err)
	}
	if _, err := r.agents.TrustConfig(to); err != nil {
		return nil, fmt.Errorf("target %s: %w", to, err)
	}

	if from == to {
		return &Result{Path: []uuid.UUID{from}, Score: 1.0}, nil
	}

	start := time.Now()
	var best *Result
	truncated := false

	q := &queue{}
	heap.Init(q)
	heap.Push(q, &partial{
		node:  from,
		path:  []uuid.UUID{from},
		score: 1.0,
		hops:  0,
	})

	for q.Len() > 0 {
		if time.Since(start) > r.cfg.SearchBudget {
			truncated = true
			break
		}
		cur := heap.Pop(q).(*partial)

		// Remaining potential cannot exceed the best found: every further
		// hop multiplies by at most 1.0 and one damping factor.
		if best != nil && cur.hops > 0 && abs(cur.score)*r.cfg.DampingFactor <= best.Score {
			continue
		}
		if cur.hops >= r.cfg.MaxDepth {
			continue
		}

		cfg, err := r.agents.TrustConfig(cur.node)
		if err != nil {
			// An intermediate referenced but never admitted; paths cannot
			// continue through it.
			continue
		}

		for _, peerID := range sortedPeers(cfg) {
			next, err := uuid.Parse(peerID)
			if err != nil {
				continue
			}
			if onPath(cur.path, next) {
				continue
			}
			t := cfg.Peers[peerID].Trust
			if abs(t) < r.cfg.MinTrustThreshold {
				continue
			}
			score := cur.score * t * r.cfg.DampingFactor
			path := append(append([]uuid.UUID{}, cur.path...), next)
			if next == to {
				cand := &Result{Path: path, Score: score}
				if better(cand, best) {
					best = cand
				}
				continue
			}
			heap.Push(q, &partial{node: next, path: path, score: score, hops: cur.hops + 1})
		}
	}

	if best == nil {
		return &Result{
			Path:      []uuid.UUID{from, to},
			Score:     directTrust(srcCfg, to),
			Truncated: truncated,
		}, nil
	}
	best.Truncated = truncated
	return best, nil
}

func onPath(path []uuid.UUID, id uuid.UUID) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}
