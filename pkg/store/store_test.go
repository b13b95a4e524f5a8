// Copyright 2025 Wisdom Hub Project
//
// Entity Store Tests - run against the in-memory KV backend

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/google/uuid"

	"github.com/wisdomnet/wisdom-hub/pkg/entity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(dbm.NewMemDB(), 1)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func testAgent(id uuid.UUID, version uint64) *entity.Agent {
	return &entity.Agent{
		ID:        id,
		PublicKey: "tm2tAsbAuOXyfatpRZrDDRwf8Qpw7Ky+CGWUePB1y8Y=",
		Version:   version,
		TrustConfig: entity.TrustConfig{
			Peers:        map[string]entity.TrustEntry{},
			DefaultTrust: 0.1,
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func testFragment(id, author uuid.UUID, content string) *entity.Fragment {
	return &entity.Fragment{
		ID:         id,
		Content:    content,
		Language:   "en",
		AuthorID:   author,
		Confidence: 0.8,
		Evidence:   entity.EvidenceEmpirical,
		State:      entity.StateProposed,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
}

func TestPutGetAgent(t *testing.T) {
	s := newTestStore(t)
	a := testAgent(uuid.New(), 1)
	if err := s.PutAgent(a); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, err := s.GetAgent(a.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ID != a.ID || got.Version != 1 {
		t.Errorf("got %+v, want id %s version 1", got, a.ID)
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetAgent(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAgentVersionMonotonicity(t *testing.T) {
	s := newTestStore(t)
	id := uuid.New()
	if err := s.PutAgent(testAgent(id, 5)); err != nil {
		t.Fatalf("put v5 failed: %v", err)
	}
	if err := s.PutAgent(testAgent(id, 4)); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for rollback, got %v", err)
	}
	if err := s.PutAgent(testAgent(id, 5)); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for equal version, got %v", err)
	}
	if err := s.PutAgent(testAgent(id, 6)); err != nil {
		t.Errorf("put v6 failed: %v", err)
	}
	got, err := s.GetAgent(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Version != 6 {
		t.Errorf("stored version %d, want 6", got.Version)
	}
}

func TestTagNameUniqueness(t *testing.T) {
	s := newTestStore(t)
	author := uuid.New()
	first := &entity.Tag{ID: uuid.New(), Name: "ml", Category: entity.TagTopic, AuthorID: author}
	if err := s.PutTag(first); err != nil {
		t.Fatalf("first tag failed: %v", err)
	}
	second := &entity.Tag{ID: uuid.New(), Name: "ml", Category: entity.TagTopic, AuthorID: uuid.New()}
	if err := s.PutTag(second); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate name, got %v", err)
	}
	// Re-putting the same tag id is an update, not a collision.
	if err := s.PutTag(first); err != nil {
		t.Errorf("re-put of same tag failed: %v", err)
	}
	got, err := s.GetTagByName("ml")
	if err != nil {
		t.Fatalf("name lookup failed: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("name index resolves to %s, want %s", got.ID, first.ID)
	}
}

func TestTagRename_ReleasesName(t *testing.T) {
	s := newTestStore(t)
	tag := &entity.Tag{ID: uuid.New(), Name: "old", Category: entity.TagCustom, AuthorID: uuid.New()}
	if err := s.PutTag(tag); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	tag.Name = "new"
	if err := s.PutTag(tag); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if _, err := s.GetTagByName("old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old name still resolves, err=%v", err)
	}
	other := &entity.Tag{ID: uuid.New(), Name: "old", Category: entity.TagCustom, AuthorID: uuid.New()}
	if err := s.PutTag(other); err != nil {
		t.Errorf("released name not reusable: %v", err)
	}
}

func TestListByAuthor_Pagination(t *testing.T) {
	s := newTestStore(t)
	author := uuid.New()
	for i := 0; i < 5; i++ {
		f := testFragment(uuid.New(), author, fmt.Sprintf("fragment %d", i))
		if err := s.PutFragment(f); err != nil {
			t.Fatalf("put %d failed: %v", i, err)
		}
	}
	// Another author's fragment must not appear.
	if err := s.PutFragment(testFragment(uuid.New(), uuid.New(), "other")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		docs, next, err := s.ListByAuthor(author, entity.KindFragment, cursor, 2)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		for _, raw := range docs {
			var f entity.Fragment
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if f.AuthorID != author {
				t.Errorf("foreign fragment %s in author listing", f.ID)
			}
			if seen[f.ID.String()] {
				t.Errorf("fragment %s returned twice", f.ID)
			}
			seen[f.ID.String()] = true
		}
		pages++
		if next == "" {
			break
		}
		cursor = next
		if pages > 10 {
			t.Fatal("pagination did not terminate")
		}
	}
	if len(seen) != 5 {
		t.Errorf("listed %d fragments, want 5", len(seen))
	}
	if pages < 3 {
		t.Errorf("expected at least 3 pages with limit 2, got %d", pages)
	}
}

func TestList_BadCursor(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.List(entity.KindFragment, "%%%not-base64%%%", 10); !errors.Is(err, ErrBadCursor) {
		t.Errorf("expected ErrBadCursor, got %v", err)
	}
}

func TestRelationIndexes(t *testing.T) {
	s := newTestStore(t)
	src, tgt, author := uuid.New(), uuid.New(), uuid.New()
	rel := &entity.Relation{
		ID: uuid.New(), SourceID: src, TargetID: tgt,
		Type: entity.RelSupports, Confidence: 0.7, AuthorID: author,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.PutRelation(rel); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	from, _, err := s.RelationsFrom(src, "", 10)
	if err != nil {
		t.Fatalf("relations_from failed: %v", err)
	}
	if len(from) != 1 || from[0].ID != rel.ID {
		t.Errorf("relations_from: got %d results", len(from))
	}
	to, _, err := s.RelationsTo(tgt, "", 10)
	if err != nil {
		t.Fatalf("relations_to failed: %v", err)
	}
	if len(to) != 1 || to[0].ID != rel.ID {
		t.Errorf("relations_to: got %d results", len(to))
	}
	none, _, err := s.RelationsFrom(tgt, "", 10)
	if err != nil {
		t.Fatalf("relations_from failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unexpected relations from target: %d", len(none))
	}
}

func TestSearchFragments_TokenPredicate(t *testing.T) {
	s := newTestStore(t)
	author := uuid.New()
	match := testFragment(uuid.New(), author, "Distributed CONSENSUS protocols tolerate faults")
	miss := testFragment(uuid.New(), author, "unrelated content about databases")
	if err := s.PutFragment(match); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := s.PutFragment(miss); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	hits, _, err := s.SearchFragments("consensus faults", "", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Fragment.ID != match.ID {
		t.Fatalf("expected single hit for %s, got %d", match.ID, len(hits))
	}
	if hits[0].Score <= 0 {
		t.Errorf("expected positive score, got %v", hits[0].Score)
	}

	// All tokens must match.
	hits, _, err = s.SearchFragments("consensus databases", "", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits when tokens span fragments, got %d", len(hits))
	}
}

func TestCacheInvalidationOnPut(t *testing.T) {
	s := newTestStore(t)
	id := uuid.New()
	f := testFragment(id, uuid.New(), "version one")
	if err := s.PutFragment(f); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, err := s.GetFragment(id); err != nil { // populate cache
		t.Fatalf("get failed: %v", err)
	}
	f.Content = "version two"
	if err := s.PutFragment(f); err != nil {
		t.Fatalf("re-put failed: %v", err)
	}
	got, err := s.GetFragment(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Content != "version two" {
		t.Errorf("stale cache: got %q", got.Content)
	}
}

func TestFragmentsByProject(t *testing.T) {
	s := newTestStore(t)
	project := uuid.New()
	f := testFragment(uuid.New(), uuid.New(), "scoped")
	f.ProjectID = &project
	if err := s.PutFragment(f); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	got, _, err := s.FragmentsByProject(project, "", 10)
	if err != nil {
		t.Fatalf("project scan failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != f.ID {
		t.Errorf("project scan returned %d results", len(got))
	}
}

func TestHasAny(t *testing.T) {
	s := newTestStore(t)
	a := testAgent(uuid.New(), 1)
	if err := s.PutAgent(a); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	ok, err := s.HasAny(a.ID)
	if err != nil || !ok {
		t.Errorf("expected HasAny true for stored agent, got %v %v", ok, err)
	}
	ok, err = s.HasAny(uuid.New())
	if err != nil || ok {
		t.Errorf("expected HasAny false for random id, got %v %v", ok, err)
	}
}

func TestCount(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.PutAgent(testAgent(uuid.New(), 1)); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}
	n, err := s.Count(entity.KindAgent)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}
