// Copyright 2025 Wisdom Hub Project
//
// Federated entity model
// Every entity carries a stable UUID, RFC-3339 timestamps, the creating
// agent's identifier, and a detached Ed25519 signature over its canonical form.

package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an entity family and doubles as the primary key prefix
// in the store.
type Kind string

const (
	KindAgent     Kind = "agent"
	KindFragment  Kind = "fragment"
	KindRelation  Kind = "relation"
	KindTag       Kind = "tag"
	KindTransform Kind = "transform"
)

// EvidenceType classifies how a fragment's content is supported.
type EvidenceType string

const (
	EvidenceEmpirical   EvidenceType = "empirical"
	EvidenceLogical     EvidenceType = "logical"
	EvidenceConsensus   EvidenceType = "consensus"
	EvidenceSpeculation EvidenceType = "speculation"
	EvidenceUnknown     EvidenceType = "unknown"
)

// FragmentState tracks a fragment through community review.
type FragmentState string

const (
	StateProposed  FragmentState = "proposed"
	StateVerified  FragmentState = "verified"
	StateContested FragmentState = "contested"
)

// RelationType is the set of directed edge types between entities.
type RelationType string

const (
	RelReferences   RelationType = "REFERENCES"
	RelSupports     RelationType = "SUPPORTS"
	RelContradicts  RelationType = "CONTRADICTS"
	RelDerivedFrom  RelationType = "DERIVED_FROM"
	RelPartOf       RelationType = "PART_OF"
	RelSupersedes   RelationType = "SUPERSEDES"
	RelRelatesTo    RelationType = "RELATES_TO"
	RelTypedAs      RelationType = "TYPED_AS"
)

// TagCategory groups tags into fixed namespaces.
type TagCategory string

const (
	TagTopic  TagCategory = "topic"
	TagType   TagCategory = "type"
	TagStatus TagCategory = "status"
	TagDomain TagCategory = "domain"
	TagCustom TagCategory = "custom"
)

// Liveness is the last-known status of a peer hub.
type Liveness string

const (
	HubAlive   Liveness = "alive"
	HubSuspect Liveness = "suspect"
	HubDead    Liveness = "dead"
)

// TrustEntry is a single declared trust edge toward another agent.
type TrustEntry struct {
	Trust      float64 `json:"trust"`      // [-1, 1]
	Confidence float64 `json:"confidence"` // [0, 1]
}

// TrustConfig holds an agent's declared direct-trust map plus the default
// applied to agents not listed.
type TrustConfig struct {
	Peers        map[string]TrustEntry `json:"peers"`
	DefaultTrust float64               `json:"default_trust"`
}

// Profile describes an agent's self-reported competence surface.
type Profile struct {
	Specializations    map[string]float64 `json:"specializations"`
	Biases             []string           `json:"biases"`
	AverageConfidence  float64            `json:"average_confidence"`
	FragmentCount      int64              `json:"fragment_count"`
	HistoricalAccuracy float64            `json:"historical_accuracy"`
}

// Agent is the signed identity record and the principal of all writes.
// Created when first admitted, mutated only by a signed update whose version
// strictly exceeds the stored version, never destroyed.
type Agent struct {
	ID              uuid.UUID   `json:"id"`
	PublicKey       string      `json:"public_key"` // base64 Ed25519 (32 bytes)
	Description     string      `json:"description"`
	TrustConfig     TrustConfig `json:"trust_config"`
	Profile         Profile     `json:"profile"`
	PreferredHub    string      `json:"preferred_hub,omitempty"`
	ReputationScore float64     `json:"reputation_score"`
	Version         uint64      `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Signature       string      `json:"signature"`
}

// TrustSummary aggregates community votes on a fragment.
type TrustSummary struct {
	Score         float64 `json:"score"`
	TotalVotes    int64   `json:"total_votes"`
	Verifications int64   `json:"verifications"`
	Contestations int64   `json:"contestations"`
}

// Fragment is the atomic signed unit of knowledge content.
type Fragment struct {
	ID           uuid.UUID     `json:"id"`
	Content      string        `json:"content"`
	Language     string        `json:"language"`
	AuthorID     uuid.UUID     `json:"author_id"`
	ProjectID    *uuid.UUID    `json:"project_id,omitempty"`
	TransformID  *uuid.UUID    `json:"transform_id,omitempty"`
	Confidence   float64       `json:"confidence"`
	Evidence     EvidenceType  `json:"evidence"`
	TrustSummary TrustSummary  `json:"trust_summary"`
	State        FragmentState `json:"state"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Signature    string        `json:"signature"`
}

// Relation is a directed typed edge between two entities.
type Relation struct {
	ID         uuid.UUID              `json:"id"`
	SourceID   uuid.UUID              `json:"source_id"`
	TargetID   uuid.UUID              `json:"target_id"`
	Type       RelationType           `json:"type"`
	Confidence float64                `json:"confidence"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	AuthorID   uuid.UUID              `json:"author_id"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Signature  string                 `json:"signature"`
}

// Tag is a globally unique name within a fixed category.
type Tag struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Category  TagCategory `json:"category"`
	AuthorID  uuid.UUID   `json:"author_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Signature string      `json:"signature"`
}

// Transform is a named markdown specification for deriving fragments.
type Transform struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Domain    string      `json:"domain"`
	Version   string      `json:"version"`
	Spec      string      `json:"spec"` // markdown body
	TagIDs    []uuid.UUID `json:"tag_ids,omitempty"`
	AuthorID  uuid.UUID   `json:"author_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Signature string      `json:"signature"`
}

// HubStats is the health summary a hub attaches to heartbeats.
type HubStats struct {
	AgentCount    int64  `json:"agent_count"`
	FragmentCount int64  `json:"fragment_count"`
	ResourceLevel string `json:"resource_level"`
}

// HubRecord is a peer table entry. Owned exclusively by the hub registry.
type HubRecord struct {
	HubID         string    `json:"hub_id"`
	URL           string    `json:"url"`
	Capabilities  []string  `json:"capabilities,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Status        Liveness  `json:"status"`
	Stats         HubStats  `json:"stats"`
}

// ====== Shape Validation ======

func validUnit(v float64) bool  { return v >= 0 && v <= 1 }
func validTrust(v float64) bool { return v >= -1 && v <= 1 }

// Validate checks an agent's shape and numeric ranges.
func (a *Agent) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("agent id is required")
	}
	if a.PublicKey == "" {
		return fmt.Errorf("agent public key is required")
	}
	if a.Version == 0 {
		return fmt.Errorf("agent version must be >= 1")
	}
	if !validTrust(a.TrustConfig.DefaultTrust) {
		return fmt.Errorf("default trust %v outside [-1, 1]", a.TrustConfig.DefaultTrust)
	}
	for peer, e := range a.TrustConfig.Peers {
		if _, err := uuid.Parse(peer); err != nil {
			return fmt.Errorf("trust peer %q is not a valid agent id", peer)
		}
		if !validTrust(e.Trust) {
			return fmt.Errorf("trust toward %s outside [-1, 1]", peer)
		}
		if !validUnit(e.Confidence) {
			return fmt.Errorf("trust confidence toward %s outside [0, 1]", peer)
		}
	}
	for name, score := range a.Profile.Specializations {
		if !validUnit(score) {
			return fmt.Errorf("specialization %q outside [0, 1]", name)
		}
	}
	if !validUnit(a.Profile.AverageConfidence) {
		return fmt.Errorf("average confidence outside [0, 1]")
	}
	if a.Profile.FragmentCount < 0 {
		return fmt.Errorf("fragment count must be >= 0")
	}
	if !validUnit(a.Profile.HistoricalAccuracy) {
		return fmt.Errorf("historical accuracy outside [0, 1]")
	}
	if !validUnit(a.ReputationScore) && !validTrust(a.ReputationScore) {
		return fmt.Errorf("reputation score out of range")
	}
	return nil
}

// Validate checks a fragment's shape and numeric ranges.
func (f *Fragment) Validate() error {
	if f.ID == uuid.Nil {
		return fmt.Errorf("fragment id is required")
	}
	if strings.TrimSpace(f.Content) == "" {
		return fmt.Errorf("fragment content is required")
	}
	if f.AuthorID == uuid.Nil {
		return fmt.Errorf("fragment author is required")
	}
	if !validUnit(f.Confidence) {
		return fmt.Errorf("confidence %v outside [0, 1]", f.Confidence)
	}
	switch f.Evidence {
	case EvidenceEmpirical, EvidenceLogical, EvidenceConsensus, EvidenceSpeculation, EvidenceUnknown:
	case "":
		return fmt.Errorf("evidence type is required")
	default:
		return fmt.Errorf("unknown evidence type %q", f.Evidence)
	}
	switch f.State {
	case StateProposed, StateVerified, StateContested:
	case "":
		return fmt.Errorf("fragment state is required")
	default:
		return fmt.Errorf("unknown fragment state %q", f.State)
	}
	return nil
}

// Validate checks a relation's shape and numeric ranges.
func (r *Relation) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("relation id is required")
	}
	if r.SourceID == uuid.Nil || r.TargetID == uuid.Nil {
		return fmt.Errorf("relation source and target are required")
	}
	if r.AuthorID == uuid.Nil {
		return fmt.Errorf("relation author is required")
	}
	switch r.Type {
	case RelReferences, RelSupports, RelContradicts, RelDerivedFrom,
		RelPartOf, RelSupersedes, RelRelatesTo, RelTypedAs:
	case "":
		return fmt.Errorf("relation type is required")
	default:
		return fmt.Errorf("unknown relation type %q", r.Type)
	}
	if !validUnit(r.Confidence) {
		return fmt.Errorf("confidence %v outside [0, 1]", r.Confidence)
	}
	return nil
}

// Validate checks a tag's shape.
func (t *Tag) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("tag id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tag name is required")
	}
	if t.AuthorID == uuid.Nil {
		return fmt.Errorf("tag author is required")
	}
	switch t.Category {
	case TagTopic, TagType, TagStatus, TagDomain, TagCustom:
	case "":
		return fmt.Errorf("tag category is required")
	default:
		return fmt.Errorf("unknown tag category %q", t.Category)
	}
	return nil
}

// Validate checks a transform's shape.
func (t *Transform) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("transform id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("transform name is required")
	}
	if t.AuthorID == uuid.Nil {
		return fmt.Errorf("transform author is required")
	}
	if t.Spec == "" {
		return fmt.Errorf("transform spec body is required")
	}
	return nil
}
