// Copyright 2025 Wisdom Hub Project
//
// Entity Store
// Durable storage for all entity kinds with secondary indexes, atomic write
// batches, opaque continuation cursors, and an LRU front cache.

package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wisdomnet/wisdom-hub/pkg/entity"
)

// DefaultListLimit bounds scans when the caller does not supply a limit.
const DefaultListLimit = 50

// cacheEntriesPerMB approximates how many cached records fit in a megabyte.
// Entities are JSON blobs that average well under a kilobyte.
const cacheEntriesPerMB = 1024

// Store provides high-level access to entity data in the KV store.
//
// CONCURRENCY: readers run unsynchronized against the KV backend's own
// snapshots; writers are serialized internally by a single mutex so every
// multi-key batch observes a stable view of the indexes it rewrites.
type Store struct {
	db      dbm.DB
	cache   *lru.Cache[string, []byte]
	writeMu sync.Mutex
	logger  *log.Logger
}

// New creates a Store on top of an open KV database. cacheSizeMB bounds the
// in-memory LRU that fronts point reads.
func New(db dbm.DB, cacheSizeMB int) (*Store, error) {
	if cacheSizeMB <= 0 {
		cacheSizeMB = 1
	}
	cache, err := lru.New[string, []byte](cacheSizeMB * cacheEntriesPerMB)
	if err != nil {
		return nil, fmt.Errorf("failed to create read cache: %w", err)
	}
	return &Store{
		db:     db,
		cache:  cache,
		logger: log.New(log.Writer(), "[Store] ", log.LstdFlags),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.cache.Purge()
	return s.db.Close()
}

// ====== Low-Level Read/Write ======

// getRaw resolves a primary key through the cache, falling back to the
// database and repopulating on hit.
func (s *Store) getRaw(key []byte) ([]byte, error) {
	ck := string(key)
	if v, ok := s.cache.Get(ck); ok {
		return v, nil
	}
	v, err := s.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", err)
	}
	if len(v) == 0 {
		return nil, ErrNotFound
	}
	s.cache.Add(ck, v)
	return v, nil
}

// getEntity unmarshals the primary record for (kind, id) into dest.
func (s *Store) getEntity(kind entity.Kind, id uuid.UUID, dest interface{}) error {
	raw, err := s.getRaw(primaryKey(kind, id))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", kind, id, err)
	}
	return nil
}

// batchOp is a single mutation inside an atomic commit.
type batchOp struct {
	key   []byte
	value []byte // nil means delete
}

// commit applies all ops in a single atomic batch. The affected primary key
// is evicted from the cache before the batch lands, so concurrent readers
// either see the old value or re-read the committed one.
func (s *Store) commit(primary []byte, ops []batchOp) error {
	s.cache.Remove(string(primary))

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, op := range ops {
		if op.value == nil {
			if err := batch.Delete(op.key); err != nil {
				return fmt.Errorf("batch delete: %w", err)
			}
			continue
		}
		if err := batch.Set(op.key, op.value); err != nil {
			return fmt.Errorf("batch set: %w", err)
		}
	}
	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("batch commit: %w", err)
	}
	return nil
}

// ====== Agents ======

// PutAgent stores a new agent or a signed update. Versions are strictly
// monotonic: an update whose version does not exceed the stored version
// fails with ErrConflict.
func (s *Store) PutAgent(a *entity.Agent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.GetAgent(a.ID)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil && a.Version <= existing.Version {
		return fmt.Errorf("%w: agent %s version %d does not exceed stored version %d",
			ErrConflict, a.ID, a.Version, existing.Version)
	}

	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}
	pk := primaryKey(entity.KindAgent, a.ID)
	return s.commit(pk, []batchOp{
		{key: pk, value: raw},
		{key: authorIdxKey(a.ID, entity.KindAgent, a.ID), value: []byte{}},
	})
}

// GetAgent returns the agent or ErrNotFound.
func (s *Store) GetAgent(id uuid.UUID) (*entity.Agent, error) {
	var a entity.Agent
	if err := s.getEntity(entity.KindAgent, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// HasAgent reports whether an agent record exists. Used by the admission
// controller's "known to the hub" rule; bypasses the cache so the check
// reflects the store at decision time.
func (s *Store) HasAgent(id uuid.UUID) (bool, error) {
	v, err := s.db.Get(primaryKey(entity.KindAgent, id))
	if err != nil {
		return false, fmt.Errorf("kv get: %w", err)
	}
	return len(v) > 0, nil
}

// HasAny reports whether any entity kind holds a record with the given id.
// Used to resolve relation endpoints, which may point at any entity family.
func (s *Store) HasAny(id uuid.UUID) (bool, error) {
	for _, kind := range []entity.Kind{
		entity.KindAgent, entity.KindFragment, entity.KindRelation,
		entity.KindTag, entity.KindTransform,
	} {
		v, err := s.db.Get(primaryKey(kind, id))
		if err != nil {
			return false, fmt.Errorf("kv get: %w", err)
		}
		if len(v) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ====== Fragments ======

// PutFragment stores a fragment and its author/project index entries.
// A re-put of the same id replaces prior content.
func (s *Store) PutFragment(f *entity.Fragment) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old, err := s.GetFragment(f.ID)
	if err != nil && err != ErrNotFound {
		return err
	}

	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fragment: %w", err)
	}
	pk := primaryKey(entity.KindFragment, f.ID)
	ops := []batchOp{
		{key: pk, value: raw},
		{key: authorIdxKey(f.AuthorID, entity.KindFragment, f.ID), value: []byte{}},
	}
	if old != nil && old.ProjectID != nil &&
		(f.ProjectID == nil || *old.ProjectID != *f.ProjectID) {
		ops = append(ops, batchOp{key: fragProjKey(*old.ProjectID, f.ID)})
	}
	if f.ProjectID != nil {
		ops = append(ops, batchOp{key: fragProjKey(*f.ProjectID, f.ID), value: []byte{}})
	}
	return s.commit(pk, ops)
}

// GetFragment returns the fragment or ErrNotFound.
func (s *Store) GetFragment(id uuid.UUID) (*entity.Fragment, error) {
	var f entity.Fragment
	if err := s.getEntity(entity.KindFragment, id, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ====== Relations ======

// PutRelation stores a relation and its author/source/target index entries.
func (s *Store) PutRelation(r *entity.Relation) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old, err := s.GetRelation(r.ID)
	if err != nil && err != ErrNotFound {
		return err
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal relation: %w", err)
	}
	pk := primaryKey(entity.KindRelation, r.ID)
	ops := []batchOp{
		{key: pk, value: raw},
		{key: authorIdxKey(r.AuthorID, entity.KindRelation, r.ID), value: []byte{}},
		{key: relSrcKey(r.SourceID, r.ID), value: []byte{}},
		{key: relTgtKey(r.TargetID, r.ID), value: []byte{}},
	}
	if old != nil && old.SourceID != r.SourceID {
		ops = append(ops, batchOp{key: relSrcKey(old.SourceID, r.ID)})
	}
	if old != nil && old.TargetID != r.TargetID {
		ops = append(ops, batchOp{key: relTgtKey(old.TargetID, r.ID)})
	}
	return s.commit(pk, ops)
}

// GetRelation returns the relation or ErrNotFound.
func (s *Store) GetRelation(id uuid.UUID) (*entity.Relation, error) {
	var r entity.Relation
	if err := s.getEntity(entity.KindRelation, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ====== Tags ======

// PutTag stores a tag, enforcing global name uniqueness with a conditional
// write against the tag-name index. A second tag with an existing name fails
// with ErrConflict.
func (s *Store) PutTag(t *entity.Tag) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	nameKey := tagNameKey(t.Name)
	owner, err := s.db.Get(nameKey)
	if err != nil {
		return fmt.Errorf("kv get: %w", err)
	}
	if len(owner) > 0 && string(owner) != t.ID.String() {
		return fmt.Errorf("%w: tag name %q already exists", ErrConflict, t.Name)
	}

	old, err := s.GetTag(t.ID)
	if err != nil && err != ErrNotFound {
		return err
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal tag: %w", err)
	}
	pk := primaryKey(entity.KindTag, t.ID)
	ops := []batchOp{
		{key: pk, value: raw},
		{key: nameKey, value: []byte(t.ID.String())},
		{key: authorIdxKey(t.AuthorID, entity.KindTag, t.ID), value: []byte{}},
	}
	if old != nil && old.Name != t.Name {
		ops = append(ops, batchOp{key: tagNameKey(old.Name)})
	}
	return s.commit(pk, ops)
}

// GetTag returns the tag or ErrNotFound.
func (s *Store) GetTag(id uuid.UUID) (*entity.Tag, error) {
	var t entity.Tag
	if err := s.getEntity(entity.KindTag, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTagByName resolves a tag through the name index.
func (s *Store) GetTagByName(name string) (*entity.Tag, error) {
	owner, err := s.db.Get(tagNameKey(name))
	if err != nil {
		return nil, fmt.Errorf("kv get: %w", err)
	}
	if len(owner) == 0 {
		return nil, ErrNotFound
	}
	id, err := uuid.Parse(string(owner))
	if err != nil {
		return nil, fmt.Errorf("corrupt tag name index for %q: %w", name, err)
	}
	return s.GetTag(id)
}

// ====== Transforms ======

// PutTransform stores a transform and its author index entry.
func (s *Store) PutTransform(t *entity.Transform) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transform: %w", err)
	}
	pk := primaryKey(entity.KindTransform, t.ID)
	return s.commit(pk, []batchOp{
		{key: pk, value: raw},
		{key: authorIdxKey(t.AuthorID, entity.KindTransform, t.ID), value: []byte{}},
	})
}

// GetTransform returns the transform or ErrNotFound.
func (s *Store) GetTransform(id uuid.UUID) (*entity.Transform, error) {
	var t entity.Transform
	if err := s.getEntity(entity.KindTransform, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ====== Cursors ======

// encodeCursor wraps the last consumed key as an opaque continuation token.
func encodeCursor(lastKey []byte) string {
	return base64.RawURLEncoding.EncodeToString(lastKey)
}

// decodeCursor recovers the resume position; scans restart just after it.
func decodeCursor(cursor string) ([]byte, error) {
	if cursor == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrBadCursor
	}
	return b, nil
}

// scanStart computes the iterator start for a prefix scan with an optional
// cursor. Resuming appends a zero byte so the scan begins strictly after the
// cursor key.
func scanStart(prefix []byte, cursor string) ([]byte, error) {
	after, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if after == nil {
		return prefix, nil
	}
	if !strings.HasPrefix(string(after), string(prefix)) {
		return nil, ErrBadCursor
	}
	return append(after, 0x00), nil
}

// ====== Range Scans ======

// scanPrefix walks keys under prefix in index-key order, invoking fn for each
// pair until limit entries are consumed. Returns a continuation cursor when
// the range was not exhausted.
func (s *Store) scanPrefix(prefix []byte, cursor string, limit int,
	fn func(key, value []byte) (bool, error)) (string, error) {

	if limit <= 0 {
		limit = DefaultListLimit
	}
	start, err := scanStart(prefix, cursor)
	if err != nil {
		return "", err
	}
	_, end := prefixRange(prefix)

	it, err := s.db.Iterator(start, end)
	if err != nil {
		return "", fmt.Errorf("kv iterator: %w", err)
	}
	defer it.Close()

	taken := 0
	var lastKey []byte
	for ; it.Valid(); it.Next() {
		key := append([]byte{}, it.Key()...)
		value := append([]byte{}, it.Value()...)
		counted, err := fn(key, value)
		if err != nil {
			return "", err
		}
		lastKey = key
		if counted {
			taken++
			if taken >= limit {
				break
			}
		}
	}
	if err := it.Error(); err != nil {
		return "", fmt.Errorf("kv iterator: %w", err)
	}
	if taken >= limit {
		// Probe whether anything remains past the last consumed key.
		probe, err := s.db.Iterator(append(append([]byte{}, lastKey...), 0x00), end)
		if err != nil {
			return "", fmt.Errorf("kv iterator: %w", err)
		}
		defer probe.Close()
		if probe.Valid() {
			return encodeCursor(lastKey), nil
		}
	}
	return "", nil
}

// List range-scans the primaries of one kind, returning raw entity documents
// in key order plus a continuation cursor when more results exist.
func (s *Store) List(kind entity.Kind, cursor string, limit int) ([]json.RawMessage, string, error) {
	var out []json.RawMessage
	next, err := s.scanPrefix(kindPrefix(kind), cursor, limit, func(_, value []byte) (bool, error) {
		out = append(out, json.RawMessage(value))
		return true, nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

// ListByAuthor range-scans the author index for one agent and kind,
// resolving each entry through the primary family.
func (s *Store) ListByAuthor(author uuid.UUID, kind entity.Kind, cursor string, limit int) ([]json.RawMessage, string, error) {
	var out []json.RawMessage
	next, err := s.scanPrefix(authorIdxPrefix(author, kind), cursor, limit, func(key, _ []byte) (bool, error) {
		id, err := idFromIndexKey(key)
		if err != nil {
			return false, fmt.Errorf("corrupt author index key %q: %w", key, err)
		}
		raw, err := s.getRaw(primaryKey(kind, id))
		if err == ErrNotFound {
			s.logger.Printf("author index points at missing %s %s", kind, id)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		out = append(out, json.RawMessage(raw))
		return true, nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

// relationsByIndex resolves relation ids from a src/tgt index range.
func (s *Store) relationsByIndex(prefix []byte, cursor string, limit int) ([]*entity.Relation, string, error) {
	var out []*entity.Relation
	next, err := s.scanPrefix(prefix, cursor, limit, func(key, _ []byte) (bool, error) {
		id, err := idFromIndexKey(key)
		if err != nil {
			return false, fmt.Errorf("corrupt relation index key %q: %w", key, err)
		}
		r, err := s.GetRelation(id)
		if err == ErrNotFound {
			s.logger.Printf("relation index points at missing relation %s", id)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		out = append(out, r)
		return true, nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

// RelationsFrom returns relations whose source is the given entity.
func (s *Store) RelationsFrom(source uuid.UUID, cursor string, limit int) ([]*entity.Relation, string, error) {
	return s.relationsByIndex(relSrcPrefix(source), cursor, limit)
}

// RelationsTo returns relations whose target is the given entity.
func (s *Store) RelationsTo(target uuid.UUID, cursor string, limit int) ([]*entity.Relation, string, error) {
	return s.relationsByIndex(relTgtPrefix(target), cursor, limit)
}

// FragmentsByProject returns fragments indexed under a project.
func (s *Store) FragmentsByProject(project uuid.UUID, cursor string, limit int) ([]*entity.Fragment, string, error) {
	var out []*entity.Fragment
	next, err := s.scanPrefix(fragProjPrefix(project), cursor, limit, func(key, _ []byte) (bool, error) {
		id, err := idFromIndexKey(key)
		if err != nil {
			return false, fmt.Errorf("corrupt project index key %q: %w", key, err)
		}
		f, err := s.GetFragment(id)
		if err == ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		out = append(out, f)
		return true, nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

// ====== Fragment Search ======

// Match is one fragment search hit with its relevance score.
type Match struct {
	Fragment *entity.Fragment `json:"fragment"`
	Score    float64          `json:"score"`
}

// SearchFragments scans fragments returning those whose content contains all
// whitespace-separated query tokens, case-insensitive. The score counts
// token occurrences; a proper inverted index can replace the scan without
// changing this predicate.
func (s *Store) SearchFragments(query, cursor string, limit int) ([]*Match, string, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, "", nil
	}
	var out []*Match
	next, err := s.scanPrefix(kindPrefix(entity.KindFragment), cursor, limit, func(_, value []byte) (bool, error) {
		var f entity.Fragment
		if err := json.Unmarshal(value, &f); err != nil {
			return false, fmt.Errorf("failed to unmarshal fragment: %w", err)
		}
		content := strings.ToLower(f.Content)
		score := 0.0
		for _, tok := range tokens {
			n := strings.Count(content, tok)
			if n == 0 {
				return false, nil
			}
			score += float64(n)
		}
		out = append(out, &Match{Fragment: &f, Score: score})
		return true, nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

// ====== Stats ======

// Count walks one kind's primary family. Used for heartbeat stats.
func (s *Store) Count(kind entity.Kind) (int64, error) {
	start, end := prefixRange(kindPrefix(kind))
	it, err := s.db.Iterator(start, end)
	if err != nil {
		return 0, fmt.Errorf("kv iterator: %w", err)
	}
	defer it.Close()
	var n int64
	for ; it.Valid(); it.Next() {
		n++
	}
	if err := it.Error(); err != nil {
		return 0, fmt.Errorf("kv iterator: %w", err)
	}
	return n, nil
}
