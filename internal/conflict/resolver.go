package conflict

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/store"
)

// Resolver merges conflicting versions of store files.
type Resolver struct {
	log *zap.Logger
}

// NewResolver creates a resolver.
func NewResolver(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{log: log}
}

// ResolveFile merges two versions of the store file at path and returns
// the merged encoding. Only memory, relation and meta files are merged;
// any other path, or a side that does not decode, is unresolved.
func (r *Resolver) ResolveFile(path string, local, remote []byte) ([]byte, error) {
	kind, id := store.Classify(path)
	r.log.Debug("resolving", zap.String("path", path))
	switch kind {
	case store.KindMemory:
		a, errA := store.DecodeMemory(local)
		b, errB := store.DecodeMemory(remote)
		if err := decodeErr(path, id, errA, errB); err != nil {
			return nil, err
		}
		if a.ID != b.ID {
			return nil, &UnresolvedError{Path: path, ID: id, Reason: fmt.Sprintf("id mismatch %s vs %s", a.ID, b.ID)}
		}
		return store.EncodeMemory(Merge(a, b))

	case store.KindRelation:
		a, errA := store.DecodeRelation(local)
		b, errB := store.DecodeRelation(remote)
		if err := decodeErr(path, id, errA, errB); err != nil {
			return nil, err
		}
		if a.ID != b.ID {
			return nil, &UnresolvedError{Path: path, ID: id, Reason: fmt.Sprintf("id mismatch %s vs %s", a.ID, b.ID)}
		}
		return store.EncodeRelation(MergeRelation(a, b))

	case store.KindMeta:
		a, errA := store.DecodeMeta(local)
		b, errB := store.DecodeMeta(remote)
		if err := decodeErr(path, "", errA, errB); err != nil {
			return nil, err
		}
		m, err := MergeMeta(a, b)
		if err != nil {
			return nil, err
		}
		return store.EncodeMeta(m)
	}
	return nil, &UnresolvedError{Path: path, Reason: "not a store record"}
}

func decodeErr(path, id string, errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return &UnresolvedError{Path: path, ID: id, Reason: "undecodable version: " + err.Error()}
		}
	}
	return nil
}

// ResolveDeletedFile settles a conflict where one side deleted path and the
// other modified it. It returns nil when the deletion should win. A memory
// deletion wins when provenance explains it. A relation deletion wins when
// one of its endpoints no longer exists, since relations are only removed
// as orphans. exists reports whether a memory id survives the merge.
func (r *Resolver) ResolveDeletedFile(path string, present []byte, relations []*model.Relation, exists func(id string) bool) error {
	kind, id := store.Classify(path)
	r.log.Debug("resolving deletion", zap.String("path", path))
	switch kind {
	case store.KindMemory:
		return ResolveDeletion(id, relations)
	case store.KindRelation:
		rel, err := store.DecodeRelation(present)
		if err != nil {
			return &UnresolvedError{Path: path, ID: id, Reason: "undecodable version: " + err.Error()}
		}
		if !exists(rel.Source) || !exists(rel.Target) {
			return nil
		}
		return &UnresolvedError{Path: path, ID: id, Reason: "relation deleted while both endpoints survive"}
	}
	return &UnresolvedError{Path: path, Reason: "not a store record"}
}
