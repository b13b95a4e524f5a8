// Copyright 2025 Wisdom Hub Project
//
// Service Layer - the externally visible contract
// Validates payloads, verifies signatures, consults admission, and
// dispatches to the store, trust resolver, and federation subsystem.

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/wisdomnet/wisdom-hub/pkg/admission"
	"github.com/wisdomnet/wisdom-hub/pkg/canonical"
	"github.com/wisdomnet/wisdom-hub/pkg/config"
	"github.com/wisdomnet/wisdom-hub/pkg/entity"
	"github.com/wisdomnet/wisdom-hub/pkg/federation"
	"github.com/wisdomnet/wisdom-hub/pkg/store"
	"github.com/wisdomnet/wisdom-hub/pkg/trust"
)

// Receipt is returned for every admitted write.
type Receipt struct {
	ID      uuid.UUID `json:"id"`
	Created bool      `json:"created"`
	Hint    string    `json:"hint,omitempty"`
}

// Service orchestrates all hub operations.
type Service struct {
	store     *store.Store
	admission *admission.Controller
	trust     *trust.Resolver
	searcher  *federation.Searcher
	registry  *federation.Registry
	logger    *log.Logger

	// redistributes is set for primary hubs only: hub.role gates whether
	// register and heartbeat replies carry this hub's peer list.
	redistributes bool
}

// NewService wires the core components together. role is the configured
// hub.role; only primary hubs redistribute their peer list on discovery
// calls.
func NewService(st *store.Store, adm *admission.Controller, reg *federation.Registry,
	searcher *federation.Searcher, trustCfg trust.Config, role string) *Service {

	s := &Service{
		store:         st,
		admission:     adm,
		registry:      reg,
		searcher:      searcher,
		redistributes: role == config.RolePrimary,
		logger:        log.New(log.Writer(), "[Hub] ", log.LstdFlags),
	}
	s.trust = trust.NewResolver(&storeAgentSource{st: st}, trustCfg)
	return s
}

// storeAgentSource exposes stored trust configurations to the resolver.
type storeAgentSource struct {
	st *store.Store
}

func (s *storeAgentSource) TrustConfig(id uuid.UUID) (*entity.TrustConfig, error) {
	a, err := s.st.GetAgent(id)
	if err == store.ErrNotFound {
		return nil, trust.ErrUnknownAgent
	}
	if err != nil {
		return nil, err
	}
	return &a.TrustConfig, nil
}

// ====== Agents ======

// PutAgent admits a new agent record or a signed update. First admission is
// self-certified: the signature verifies under the submitted key. Updates
// verify under the stored key and must strictly increase the version.
func (s *Service) PutAgent(a *entity.Agent) (*Receipt, error) {
	if err := a.Validate(); err != nil {
		return nil, Wrap(KindValidation, err, "invalid agent")
	}

	existing, err := s.store.GetAgent(a.ID)
	if err != nil && err != store.ErrNotFound {
		return nil, Wrap(KindInternal, err, "agent lookup failed")
	}

	verdict := s.admission.Decide(existing == nil, existing != nil)
	if !verdict.Allowed {
		return nil, Errf(KindCapacityRejected, "%s", verdict.Reason)
	}

	keySource := a.PublicKey
	if existing != nil {
		keySource = existing.PublicKey
	}
	pub, err := canonical.ParsePublicKey(keySource)
	if err != nil {
		return nil, Wrap(KindValidation, err, "bad agent public key")
	}
	if err := s.verify(a, a.Signature, pub); err != nil {
		return nil, err
	}

	if err := s.store.PutAgent(a); err != nil {
		if err == store.ErrConflict || kindConflict(err) {
			return nil, Wrap(KindConflict, err, "agent version rollback")
		}
		return nil, Wrap(KindInternal, err, "agent write failed")
	}
	return &Receipt{ID: a.ID, Created: existing == nil, Hint: verdict.Hint}, nil
}

// GetAgent returns a stored agent.
func (s *Service) GetAgent(id uuid.UUID) (*entity.Agent, error) {
	a, err := s.store.GetAgent(id)
	if err == store.ErrNotFound {
		return nil, Errf(KindNotFound, "agent %s not found", id)
	}
	if err != nil {
		return nil, Wrap(KindInternal, err, "agent lookup failed")
	}
	return a, nil
}

// ====== Signed non-agent writes ======

// admitWrite runs the shared admission sequence for non-agent entities:
// capacity verdict first (so unknown authors under pressure are rejected as
// capacity, not authentication), then signer resolution and signature
// verification.
func (s *Service) admitWrite(author uuid.UUID, payload interface{}, signature string) (admission.Verdict, error) {
	known, err := s.store.HasAgent(author)
	if err != nil {
		return admission.Verdict{}, Wrap(KindInternal, err, "author lookup failed")
	}

	verdict := s.admission.Decide(false, known)
	if !verdict.Allowed {
		return verdict, Errf(KindCapacityRejected, "%s", verdict.Reason)
	}

	if !known {
		return verdict, Errf(KindUnauthorized, "unknown signer %s", author)
	}
	agent, err := s.store.GetAgent(author)
	if err != nil {
		return verdict, Wrap(KindInternal, err, "author lookup failed")
	}
	pub, err := canonical.ParsePublicKey(agent.PublicKey)
	if err != nil {
		return verdict, Wrap(KindInternal, err, "stored key for %s is corrupt", author)
	}
	if err := s.verify(payload, signature, pub); err != nil {
		return verdict, err
	}
	return verdict, nil
}

// verify checks a detached signature and logs the key fingerprint on
// failure. Signature failures are never retried.
func (s *Service) verify(payload interface{}, signature string, pub []byte) error {
	if err := canonical.Verify(payload, signature, pub); err != nil {
		s.logger.Printf("signature verification failed (key %s): %v",
			canonical.KeyFingerprint(pub), err)
		return Wrap(KindUnauthorized, err, "signature verification failed")
	}
	return nil
}

// PutFragment admits a signed fragment.
func (s *Service) PutFragment(f *entity.Fragment) (*Receipt, error) {
	if err := f.Validate(); err != nil {
		return nil, Wrap(KindValidation, err, "invalid fragment")
	}

	verdict, err := s.admitWrite(f.AuthorID, f, f.Signature)
	if err != nil {
		return nil, err
	}

	old, err := s.store.GetFragment(f.ID)
	if err != nil && err != store.ErrNotFound {
		return nil, Wrap(KindInternal, err, "fragment lookup failed")
	}
	if old != nil && old.AuthorID != f.AuthorID {
		return nil, Errf(KindValidation, "fragment author is immutable")
	}

	if err := s.store.PutFragment(f); err != nil {
		return nil, Wrap(KindInternal, err, "fragment write failed")
	}
	return &Receipt{ID: f.ID, Created: old == nil, Hint: verdict.Hint}, nil
}

// GetFragment returns a stored fragment.
func (s *Service) GetFragment(id uuid.UUID) (*entity.Fragment, error) {
	f, err := s.store.GetFragment(id)
	if err == store.ErrNotFound {
		return nil, Errf(KindNotFound, "fragment %s not found", id)
	}
	if err != nil {
		return nil, Wrap(KindInternal, err, "fragment lookup failed")
	}
	return f, nil
}

// PutRelation admits a signed relation. Both endpoints must resolve to
// entities known to this hub; deferred targets are rejected, uniformly.
func (s *Service) PutRelation(r *entity.Relation) (*Receipt, error) {
	if err := r.Validate(); err != nil {
		return nil, Wrap(KindValidation, err, "invalid relation")
	}

	verdict, err := s.admitWrite(r.AuthorID, r, r.Signature)
	if err != nil {
		return nil, err
	}

	for name, id := range map[string]uuid.UUID{"source": r.SourceID, "target": r.TargetID} {
		ok, err := s.store.HasAny(id)
		if err != nil {
			return nil, Wrap(KindInternal, err, "relation %s lookup failed", name)
		}
		if !ok {
			return nil, Errf(KindValidation, "relation %s %s does not resolve to a known entity", name, id)
		}
	}

	old, err := s.store.GetRelation(r.ID)
	if err != nil && err != store.ErrNotFound {
		return nil, Wrap(KindInternal, err, "relation lookup failed")
	}

	if err := s.store.PutRelation(r); err != nil {
		return nil, Wrap(KindInternal, err, "relation write failed")
	}
	return &Receipt{ID: r.ID, Created: old == nil, Hint: verdict.Hint}, nil
}

// GetRelation returns a stored relation.
func (s *Service) GetRelation(id uuid.UUID) (*entity.Relation, error) {
	r, err := s.store.GetRelation(id)
	if err == store.ErrNotFound {
		return nil, Errf(KindNotFound, "relation %s not found", id)
	}
	if err != nil {
		return nil, Wrap(KindInternal, err, "relation lookup failed")
	}
	return r, nil
}

// PutTag admits a signed tag. Names are globally unique.
func (s *Service) PutTag(t *entity.Tag) (*Receipt, error) {
	if err := t.Validate(); err != nil {
		return nil, Wrap(KindValidation, err, "invalid tag")
	}

	verdict, err := s.admitWrite(t.AuthorID, t, t.Signature)
	if err != nil {
		return nil, err
	}

	old, err := s.store.GetTag(t.ID)
	if err != nil && err != store.ErrNotFound {
		return nil, Wrap(KindInternal, err, "tag lookup failed")
	}

	if err := s.store.PutTag(t); err != nil {
		if kindConflict(err) {
			return nil, Wrap(KindConflict, err, "tag name collision")
		}
		return nil, Wrap(KindInternal, err, "tag write failed")
	}
	return &Receipt{ID: t.ID, Created: old == nil, Hint: verdict.Hint}, nil
}

// GetTag returns a stored tag.
func (s *Service) GetTag(id uuid.UUID) (*entity.Tag, error) {
	t, err := s.store.GetTag(id)
	if err == store.ErrNotFound {
		return nil, Errf(KindNotFound, "tag %s not found", id)
	}
	if err != nil {
		return nil, Wrap(KindInternal, err, "tag lookup failed")
	}
	return t, nil
}

// PutTransform admits a signed transform.
func (s *Service) PutTransform(t *entity.Transform) (*Receipt, error) {
	if err := t.Validate(); err != nil {
		return nil, Wrap(KindValidation, err, "invalid transform")
	}

	verdict, err := s.admitWrite(t.AuthorID, t, t.Signature)
	if err != nil {
		return nil, err
	}

	old, err := s.store.GetTransform(t.ID)
	if err != nil && err != store.ErrNotFound {
		return nil, Wrap(KindInternal, err, "transform lookup failed")
	}

	if err := s.store.PutTransform(t); err != nil {
		return nil, Wrap(KindInternal, err, "transform write failed")
	}
	return &Receipt{ID: t.ID, Created: old == nil, Hint: verdict.Hint}, nil
}

// GetTransform returns a stored transform.
func (s *Service) GetTransform(id uuid.UUID) (*entity.Transform, error) {
	t, err := s.store.GetTransform(id)
	if err == store.ErrNotFound {
		return nil, Errf(KindNotFound, "transform %s not found", id)
	}
	if err != nil {
		return nil, Wrap(KindInternal, err, "transform lookup failed")
	}
	return t, nil
}

// ====== Lists and scans ======

// List returns one page of an entity kind's primaries.
func (s *Service) List(kind entity.Kind, cursor string, limit int) ([]json.RawMessage, string, error) {
	docs, next, err := s.store.List(kind, cursor, limit)
	if err != nil {
		return nil, "", classifyScan(err)
	}
	return docs, next, nil
}

// ListByAuthor returns one page of an author's entities of a kind.
func (s *Service) ListByAuthor(author uuid.UUID, kind entity.Kind, cursor string, limit int) ([]json.RawMessage, string, error) {
	docs, next, err := s.store.ListByAuthor(author, kind, cursor, limit)
	if err != nil {
		return nil, "", classifyScan(err)
	}
	return docs, next, nil
}

// RelationsFrom lists relations whose source is the given entity.
func (s *Service) RelationsFrom(id uuid.UUID, cursor string, limit int) ([]*entity.Relation, string, error) {
	rels, next, err := s.store.RelationsFrom(id, cursor, limit)
	if err != nil {
		return nil, "", classifyScan(err)
	}
	return rels, next, nil
}

// RelationsTo lists relations whose target is the given entity.
func (s *Service) RelationsTo(id uuid.UUID, cursor string, limit int) ([]*entity.Relation, string, error) {
	rels, next, err := s.store.RelationsTo(id, cursor, limit)
	if err != nil {
		return nil, "", classifyScan(err)
	}
	return rels, next, nil
}

// SearchFragments runs the local token search.
func (s *Service) SearchFragments(query, cursor string, limit int) ([]*store.Match, string, error) {
	matches, next, err := s.store.SearchFragments(query, cursor, limit)
	if err != nil {
		return nil, "", classifyScan(err)
	}
	return matches, next, nil
}

// ====== Trust ======

// TrustPath resolves the effective trust path between two stored agents.
func (s *Service) TrustPath(from, to uuid.UUID) (*trust.Result, error) {
	res, err := s.trust.Resolve(from, to)
	if err != nil {
		if kindUnknownAgent(err) {
			return nil, Wrap(KindNotFound, err, "trust endpoints must be stored agents")
		}
		return nil, Wrap(KindInternal, err, "trust resolution failed")
	}
	return res, nil
}

// ====== Federation ======

// Search runs a local or federated search under ctx's deadline.
func (s *Service) Search(ctx context.Context, query string, federate bool, limit int) (*federation.ResultSet, error) {
	rs, err := s.searcher.Search(ctx, query, federate, limit)
	if err != nil {
		return nil, Wrap(KindInternal, err, "search failed")
	}
	return rs, nil
}

// Hubs returns the current peer table snapshot.
func (s *Service) Hubs() []*entity.HubRecord {
	return s.registry.Peers()
}

// RegisterHub admits or refreshes a peer. The caller always lands in the
// peer table, but only a primary hub redistributes its peer list in the
// reply; a secondary answers with an empty list.
func (s *Service) RegisterHub(hubID, url string, caps []string) []*entity.HubRecord {
	peers := s.registry.Register(hubID, url, caps)
	if !s.redistributes {
		return []*entity.HubRecord{}
	}
	return peers
}

// HeartbeatHub refreshes a peer's liveness. As with register, the peer list
// in the reply is redistributed by primary hubs only.
func (s *Service) HeartbeatHub(hubID string, stats entity.HubStats) ([]*entity.HubRecord, error) {
	if err := s.registry.Heartbeat(hubID, stats); err != nil {
		return nil, Wrap(KindNotFound, err, "hub %s is not registered", hubID)
	}
	if !s.redistributes {
		return []*entity.HubRecord{}, nil
	}
	return s.registry.Peers(), nil
}

// Stats summarizes this hub for heartbeats and health reporting.
func (s *Service) Stats() entity.HubStats {
	agents, err := s.store.Count(entity.KindAgent)
	if err != nil {
		s.logger.Printf("agent count failed: %v", err)
	}
	fragments, err := s.store.Count(entity.KindFragment)
	if err != nil {
		s.logger.Printf("fragment count failed: %v", err)
	}
	return entity.HubStats{
		AgentCount:    agents,
		FragmentCount: fragments,
		ResourceLevel: s.admission.Level().String(),
	}
}

// ResourceLevel exposes the admission level for health reporting.
func (s *Service) ResourceLevel() admission.Level {
	return s.admission.Level()
}

// ====== Error classification helpers ======

func classifyScan(err error) error {
	if err == store.ErrBadCursor || kindBadCursor(err) {
		return Wrap(KindValidation, err, "bad cursor")
	}
	return Wrap(KindInternal, err, "scan failed")
}

func kindConflict(err error) bool     { return errors.Is(err, store.ErrConflict) }
func kindBadCursor(err error) bool    { return errors.Is(err, store.ErrBadCursor) }
func kindUnknownAgent(err error) bool { return errors.Is(err, trust.ErrUnknownAgent) }
