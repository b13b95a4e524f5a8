// Copyright 2025 Wisdom Hub Project
//
// KV Key Layout
// One logical column family per entity kind plus one for secondary indexes.

package store

import (
	"github.com/google/uuid"

	"github.com/wisdomnet/wisdom-hub/pkg/entity"
)

// ====== KV Key Layout ======
//
//   {kind}:{uuid}                                -> serialized entity
//   idx:author:{agent_uuid}:{kind}:{uuid}        -> empty
//   idx:tag_name:{name}                          -> tag uuid
//   idx:rel_src:{source_uuid}:{uuid}             -> empty
//   idx:rel_tgt:{target_uuid}:{uuid}             -> empty
//   idx:frag_proj:{project_uuid}:{uuid}          -> empty

var (
	keyAuthorIdxPrefix = []byte("idx:author:")
	keyTagNamePrefix   = []byte("idx:tag_name:")
	keyRelSrcPrefix    = []byte("idx:rel_src:")
	keyRelTgtPrefix    = []byte("idx:rel_tgt:")
	keyFragProjPrefix  = []byte("idx:frag_proj:")
)

// primaryKey generates the primary KV key for an entity.
func primaryKey(kind entity.Kind, id uuid.UUID) []byte {
	return []byte(string(kind) + ":" + id.String())
}

// kindPrefix is the range prefix covering all primaries of one kind.
func kindPrefix(kind entity.Kind) []byte {
	return []byte(string(kind) + ":")
}

// authorIdxKey indexes an entity under its creating agent.
func authorIdxKey(author uuid.UUID, kind entity.Kind, id uuid.UUID) []byte {
	return append(append([]byte{}, keyAuthorIdxPrefix...),
		[]byte(author.String()+":"+string(kind)+":"+id.String())...)
}

// authorIdxPrefix is the range prefix for one author and kind.
func authorIdxPrefix(author uuid.UUID, kind entity.Kind) []byte {
	return append(append([]byte{}, keyAuthorIdxPrefix...),
		[]byte(author.String()+":"+string(kind)+":")...)
}

// tagNameKey enforces global tag-name uniqueness via a conditional write.
func tagNameKey(name string) []byte {
	return append(append([]byte{}, keyTagNamePrefix...), []byte(name)...)
}

// relSrcKey indexes a relation under its source entity.
func relSrcKey(source, id uuid.UUID) []byte {
	return append(append([]byte{}, keyRelSrcPrefix...),
		[]byte(source.String()+":"+id.String())...)
}

func relSrcPrefix(source uuid.UUID) []byte {
	return append(append([]byte{}, keyRelSrcPrefix...), []byte(source.String()+":")...)
}

// relTgtKey indexes a relation under its target entity.
func relTgtKey(target, id uuid.UUID) []byte {
	return append(append([]byte{}, keyRelTgtPrefix...),
		[]byte(target.String()+":"+id.String())...)
}

func relTgtPrefix(target uuid.UUID) []byte {
	return append(append([]byte{}, keyRelTgtPrefix...), []byte(target.String()+":")...)
}

// fragProjKey indexes a fragment under its project.
func fragProjKey(project, id uuid.UUID) []byte {
	return append(append([]byte{}, keyFragProjPrefix...),
		[]byte(project.String()+":"+id.String())...)
}

func fragProjPrefix(project uuid.UUID) []byte {
	return append(append([]byte{}, keyFragProjPrefix...), []byte(project.String()+":")...)
}

// idFromIndexKey extracts the trailing entity uuid from an index key.
func idFromIndexKey(key []byte) (uuid.UUID, error) {
	s := string(key)
	if len(s) < 36 {
		return uuid.Nil, ErrBadCursor
	}
	return uuid.Parse(s[len(s)-36:])
}

// prefixRange converts a key prefix into an iterator [start, end) range.
func prefixRange(prefix []byte) (start, end []byte) {
	start = prefix
	end = make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return start, end[:i+1]
		}
	}
	return start, nil // unbounded
}
