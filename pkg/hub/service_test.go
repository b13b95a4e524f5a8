// Copyright 2025 Wisdom Hub Project
//
// Service Layer Tests - admission, signature, and dispatch semantics

package hub

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdomnet/wisdom-hub/pkg/admission"
	"github.com/wisdomnet/wisdom-hub/pkg/canonical"
	"github.com/wisdomnet/wisdom-hub/pkg/config"
	"github.com/wisdomnet/wisdom-hub/pkg/entity"
	"github.com/wisdomnet/wisdom-hub/pkg/federation"
	"github.com/wisdomnet/wisdom-hub/pkg/store"
	"github.com/wisdomnet/wisdom-hub/pkg/trust"
)

// testEnv wires a service over an in-memory store with a stubbed disk.
type testEnv struct {
	svc   *Service
	st    *store.Store
	adm   *admission.Controller
	usage *float64
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvRole(t, config.RolePrimary)
}

func newTestEnvRole(t *testing.T, role string) *testEnv {
	t.Helper()
	st, err := store.New(dbm.NewMemDB(), 1)
	require.NoError(t, err)

	usage := 10.0
	adm := admission.New(admission.Config{
		WarningThreshold:  75,
		CriticalThreshold: 80,
		CheckInterval:     time.Hour,
		Usage:             func(string) (float64, error) { return usage, nil },
	})
	adm.SampleOnce()

	reg := federation.NewRegistry("self", time.Second)
	searcher := federation.NewSearcher(reg, func(q string, limit int) ([]*store.Match, error) {
		m, _, err := st.SearchFragments(q, "", limit)
		return m, err
	}, federation.SearcherConfig{SelfID: "self"})

	svc := NewService(st, adm, reg, searcher, trust.DefaultConfig(), role)
	return &testEnv{svc: svc, st: st, adm: adm, usage: &usage}
}

func (e *testEnv) setUsage(pct float64) {
	*e.usage = pct
	e.adm.SampleOnce()
}

// signedAgent builds a self-signed agent record.
func signedAgent(t *testing.T, version uint64) (*entity.Agent, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	now := time.Now().UTC()
	a := &entity.Agent{
		ID:        uuid.New(),
		PublicKey: canonical.EncodePublicKey(pub),
		Version:   version,
		TrustConfig: entity.TrustConfig{
			Peers:        map[string]entity.TrustEntry{},
			DefaultTrust: 0,
		},
		Profile:   entity.Profile{Specializations: map[string]float64{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	resign(t, a, priv)
	return a, priv
}

func resign(t *testing.T, a *entity.Agent, priv ed25519.PrivateKey) {
	t.Helper()
	a.Signature = ""
	sig, err := canonical.Sign(priv, a)
	require.NoError(t, err)
	a.Signature = sig
}

func signedFragment(t *testing.T, author uuid.UUID, priv ed25519.PrivateKey, content string) *entity.Fragment {
	t.Helper()
	now := time.Now().UTC()
	f := &entity.Fragment{
		ID: uuid.New(), Content: content, Language: "en",
		AuthorID: author, Confidence: 0.8,
		Evidence: entity.EvidenceEmpirical, State: entity.StateProposed,
		CreatedAt: now, UpdatedAt: now,
	}
	sig, err := canonical.Sign(priv, f)
	require.NoError(t, err)
	f.Signature = sig
	return f
}

func TestPutAgent_FirstAdmissionSelfCertified(t *testing.T) {
	env := newTestEnv(t)
	a, _ := signedAgent(t, 1)

	receipt, err := env.svc.PutAgent(a)
	require.NoError(t, err)
	assert.True(t, receipt.Created)

	got, err := env.svc.GetAgent(a.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
}

func TestPutAgent_VersionRollback(t *testing.T) {
	env := newTestEnv(t)
	a, priv := signedAgent(t, 5)
	_, err := env.svc.PutAgent(a)
	require.NoError(t, err)

	a.Version = 4
	resign(t, a, priv)
	_, err = env.svc.PutAgent(a)
	assert.Equal(t, KindConflict, KindOf(err))

	a.Version = 6
	resign(t, a, priv)
	receipt, err := env.svc.PutAgent(a)
	require.NoError(t, err)
	assert.False(t, receipt.Created)
}

func TestPutAgent_UpdateVerifiesUnderStoredKey(t *testing.T) {
	env := newTestEnv(t)
	a, _ := signedAgent(t, 1)
	_, err := env.svc.PutAgent(a)
	require.NoError(t, err)

	// An update signed by a different key must be rejected even if it
	// advertises that key in the record.
	newPub, newPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	a.Version = 2
	a.PublicKey = canonical.EncodePublicKey(newPub)
	resign(t, a, newPriv)
	_, err = env.svc.PutAgent(a)
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestPutAgent_InvalidShape(t *testing.T) {
	env := newTestEnv(t)
	a, priv := signedAgent(t, 1)
	a.TrustConfig.DefaultTrust = 1.5
	resign(t, a, priv)
	_, err := env.svc.PutAgent(a)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestPutFragment_UnknownSigner(t *testing.T) {
	env := newTestEnv(t)
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	f := signedFragment(t, uuid.New(), priv, "orphan knowledge")
	_, err = env.svc.PutFragment(f)
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestPutFragment_TamperedContent(t *testing.T) {
	env := newTestEnv(t)
	a, priv := signedAgent(t, 1)
	_, err := env.svc.PutAgent(a)
	require.NoError(t, err)

	f := signedFragment(t, a.ID, priv, "water boils at 100C")
	_, err = env.svc.PutFragment(f)
	require.NoError(t, err)

	got, err := env.svc.GetFragment(f.ID)
	require.NoError(t, err)

	// Flip one character of content, keep the signature.
	got.Content = "water boils at 200C"
	_, err = env.svc.PutFragment(got)
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestAdmissionUnderPressure(t *testing.T) {
	env := newTestEnv(t)

	known, knownPriv := signedAgent(t, 1)
	_, err := env.svc.PutAgent(known)
	require.NoError(t, err)

	env.setUsage(85) // critical threshold is 80

	// Known author still writes.
	f := signedFragment(t, known.ID, knownPriv, "still admitted")
	receipt, err := env.svc.PutFragment(f)
	require.NoError(t, err)
	assert.True(t, receipt.Created)

	// Unknown author is rejected as capacity, not authentication.
	_, strangerPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	orphan := signedFragment(t, uuid.New(), strangerPriv, "rejected")
	_, err = env.svc.PutFragment(orphan)
	assert.Equal(t, KindCapacityRejected, KindOf(err))

	// New agent creation is rejected.
	b, _ := signedAgent(t, 1)
	_, err = env.svc.PutAgent(b)
	assert.Equal(t, KindCapacityRejected, KindOf(err))

	// Existing agent updates still land.
	known.Version = 2
	resign(t, known, knownPriv)
	_, err = env.svc.PutAgent(known)
	assert.NoError(t, err)
}

func TestWarningLevelAttachesHint(t *testing.T) {
	env := newTestEnv(t)
	a, priv := signedAgent(t, 1)
	_, err := env.svc.PutAgent(a)
	require.NoError(t, err)

	env.setUsage(78) // between warning (75) and critical (80)

	f := signedFragment(t, a.ID, priv, "hinted write")
	receipt, err := env.svc.PutFragment(f)
	require.NoError(t, err)
	assert.Equal(t, admission.CapacityHint, receipt.Hint)
}

func TestPutRelation_EndpointResolution(t *testing.T) {
	env := newTestEnv(t)
	a, priv := signedAgent(t, 1)
	_, err := env.svc.PutAgent(a)
	require.NoError(t, err)

	f := signedFragment(t, a.ID, priv, "an endpoint")
	_, err = env.svc.PutFragment(f)
	require.NoError(t, err)

	now := time.Now().UTC()
	rel := &entity.Relation{
		ID: uuid.New(), SourceID: f.ID, TargetID: uuid.New(),
		Type: entity.RelSupports, Confidence: 0.9, AuthorID: a.ID,
		CreatedAt: now, UpdatedAt: now,
	}
	sig, err := canonical.Sign(priv, rel)
	require.NoError(t, err)
	rel.Signature = sig

	// Unknown target is rejected outright.
	_, err = env.svc.PutRelation(rel)
	assert.Equal(t, KindValidation, KindOf(err))

	// Pointing at stored entities succeeds.
	rel.TargetID = a.ID
	rel.Signature = ""
	sig, err = canonical.Sign(priv, rel)
	require.NoError(t, err)
	rel.Signature = sig
	receipt, err := env.svc.PutRelation(rel)
	require.NoError(t, err)
	assert.True(t, receipt.Created)
}

func TestPutTag_Collision(t *testing.T) {
	env := newTestEnv(t)
	a, priv := signedAgent(t, 1)
	_, err := env.svc.PutAgent(a)
	require.NoError(t, err)
	b, bpriv := signedAgent(t, 1)
	_, err = env.svc.PutAgent(b)
	require.NoError(t, err)

	now := time.Now().UTC()
	mkTag := func(author uuid.UUID, priv ed25519.PrivateKey) *entity.Tag {
		tag := &entity.Tag{
			ID: uuid.New(), Name: "ml", Category: entity.TagTopic,
			AuthorID: author, CreatedAt: now, UpdatedAt: now,
		}
		sig, err := canonical.Sign(priv, tag)
		require.NoError(t, err)
		tag.Signature = sig
		return tag
	}

	_, err = env.svc.PutTag(mkTag(a.ID, priv))
	require.NoError(t, err)
	_, err = env.svc.PutTag(mkTag(b.ID, bpriv))
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestTrustPath_ThroughStoredAgents(t *testing.T) {
	env := newTestEnv(t)

	mkAgent := func(peers map[string]entity.TrustEntry) *entity.Agent {
		a, priv := signedAgent(t, 1)
		a.TrustConfig.Peers = peers
		resign(t, a, priv)
		_, err := env.svc.PutAgent(a)
		require.NoError(t, err)
		return a
	}

	z := mkAgent(nil)
	y := mkAgent(map[string]entity.TrustEntry{
		z.ID.String(): {Trust: 0.8, Confidence: 0.9},
	})
	x := mkAgent(map[string]entity.TrustEntry{
		y.ID.String(): {Trust: 0.9, Confidence: 0.9},
	})

	res, err := env.svc.TrustPath(x.ID, z.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{x.ID, y.ID, z.ID}, res.Path)
	assert.InDelta(t, 0.4608, res.Score, 1e-9)

	_, err = env.svc.TrustPath(x.ID, uuid.New())
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestRegisterHub_PrimaryRedistributesPeerList(t *testing.T) {
	env := newTestEnv(t) // primary

	peers := env.svc.RegisterHub("hub-b", "http://b.example", nil)
	require.Len(t, peers, 1)
	assert.Equal(t, "hub-b", peers[0].HubID)

	peers, err := env.svc.HeartbeatHub("hub-b", entity.HubStats{})
	require.NoError(t, err)
	assert.Len(t, peers, 1)
}

func TestRegisterHub_SecondaryDoesNotRedistribute(t *testing.T) {
	env := newTestEnvRole(t, config.RoleSecondary)

	// The caller still lands in the peer table, but the reply carries no
	// peer list: a secondary is not a discovery authority.
	peers := env.svc.RegisterHub("hub-b", "http://b.example", nil)
	assert.Empty(t, peers)
	require.Len(t, env.svc.Hubs(), 1)

	peers, err := env.svc.HeartbeatHub("hub-b", entity.HubStats{})
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	a, priv := signedAgent(t, 1)
	_, err := env.svc.PutAgent(a)
	require.NoError(t, err)
	_, err = env.svc.PutFragment(signedFragment(t, a.ID, priv, "counted"))
	require.NoError(t, err)

	stats := env.svc.Stats()
	assert.Equal(t, int64(1), stats.AgentCount)
	assert.Equal(t, int64(1), stats.FragmentCount)
	assert.Equal(t, "normal", stats.ResourceLevel)
}
