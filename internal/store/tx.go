package store

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/rcliao/memstore/internal/model"
)

// Tx is the view handed to Update. It must not escape the callback.
type Tx struct {
	s *Store
}

// PutMemory validates and writes m through to disk and cache.
func (tx *Tx) PutMemory(m *model.Memory) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("put memory: %w", err)
	}
	s := tx.s
	m = m.Clone()
	extra, err := normalizeMap(m.Metadata.Extra)
	if err != nil {
		return fmt.Errorf("put memory %s: extra: %w", m.ID, err)
	}
	m.Metadata.Extra = extra
	if s.tokens.Count(m.Content) < s.minTokens {
		m.Summary = ""
	}
	data, err := EncodeMemory(m)
	if err != nil {
		return err
	}
	if err := s.fs.WriteFile(s.MemoryPath(m.ID), data); err != nil {
		return fmt.Errorf("write memory %s: %w", m.ID, err)
	}
	if old, ok := s.memories[m.ID]; ok {
		s.unindexMemory(old)
	}
	s.memories[m.ID] = m
	s.indexMemory(m)
	return nil
}

// GetMemory returns a copy of memory id.
func (tx *Tx) GetMemory(id string) (*model.Memory, error) {
	m, ok := tx.s.memories[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return m.Clone(), nil
}

// HasMemory reports whether id is cached.
func (tx *Tx) HasMemory(id string) bool {
	_, ok := tx.s.memories[id]
	return ok
}

// DeleteMemory removes memory id.
func (tx *Tx) DeleteMemory(id string) error {
	s := tx.s
	m, ok := s.memories[id]
	if !ok {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	if err := s.fs.Remove(s.MemoryPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove memory %s: %w", id, err)
	}
	s.unindexMemory(m)
	delete(s.memories, id)
	return nil
}

// PutRelation validates and writes r.
func (tx *Tx) PutRelation(r *model.Relation) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("put relation: %w", err)
	}
	s := tx.s
	r = r.Clone()
	meta, err := normalizeMap(r.Metadata)
	if err != nil {
		return fmt.Errorf("put relation %s: metadata: %w", r.ID, err)
	}
	r.Metadata = meta
	data, err := EncodeRelation(r)
	if err != nil {
		return err
	}
	if err := s.fs.WriteFile(s.RelationPath(r.ID), data); err != nil {
		return fmt.Errorf("write relation %s: %w", r.ID, err)
	}
	if old, ok := s.relations[r.ID]; ok {
		s.unindexRelation(old)
	}
	s.relations[r.ID] = r
	s.indexRelation(r)
	return nil
}

// GetRelation returns a copy of relation id.
func (tx *Tx) GetRelation(id string) (*model.Relation, error) {
	r, ok := tx.s.relations[id]
	if !ok {
		return nil, fmt.Errorf("relation %s: %w", id, ErrNotFound)
	}
	return r.Clone(), nil
}

// HasRelation reports whether id is cached.
func (tx *Tx) HasRelation(id string) bool {
	_, ok := tx.s.relations[id]
	return ok
}

// DeleteRelation removes relation id.
func (tx *Tx) DeleteRelation(id string) error {
	s := tx.s
	r, ok := s.relations[id]
	if !ok {
		return fmt.Errorf("relation %s: %w", id, ErrNotFound)
	}
	if err := s.fs.Remove(s.RelationPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove relation %s: %w", id, err)
	}
	s.unindexRelation(r)
	delete(s.relations, id)
	return nil
}

// RelationsFor returns every relation with id as an endpoint, sorted by id.
func (tx *Tx) RelationsFor(id string) []*model.Relation {
	return tx.s.relationsFor(id)
}

// MemoryIDs returns the ids of all cached memories, sorted.
func (tx *Tx) MemoryIDs() []string {
	ids := make([]string, 0, len(tx.s.memories))
	for id := range tx.s.memories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Meta returns the store metadata.
func (tx *Tx) Meta() model.StoreMeta { return cloneMeta(tx.s.meta) }

// PutMeta writes the store metadata.
func (tx *Tx) PutMeta(m model.StoreMeta) error {
	data, err := EncodeMeta(m)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := tx.s.fs.WriteFile(tx.s.MetaPath(), data); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	tx.s.meta = cloneMeta(m)
	return nil
}

func (s *Store) relationsFor(id string) []*model.Relation {
	ids := s.byEndpoint[id]
	out := make([]*model.Relation, 0, len(ids))
	for rid := range ids {
		out = append(out, s.relations[rid].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) indexMemory(m *model.Memory) {
	for _, tag := range m.Metadata.Tags {
		set := s.byTag[tag]
		if set == nil {
			set = map[string]struct{}{}
			s.byTag[tag] = set
		}
		set[m.ID] = struct{}{}
	}
}

func (s *Store) unindexMemory(m *model.Memory) {
	for _, tag := range m.Metadata.Tags {
		if set := s.byTag[tag]; set != nil {
			delete(set, m.ID)
			if len(set) == 0 {
				delete(s.byTag, tag)
			}
		}
	}
}

func (s *Store) indexRelation(r *model.Relation) {
	for _, id := range []string{r.Source, r.Target} {
		set := s.byEndpoint[id]
		if set == nil {
			set = map[string]struct{}{}
			s.byEndpoint[id] = set
		}
		set[r.ID] = struct{}{}
	}
}

func (s *Store) unindexRelation(r *model.Relation) {
	for _, id := range []string{r.Source, r.Target} {
		if set := s.byEndpoint[id]; set != nil {
			delete(set, r.ID)
			if len(set) == 0 {
				delete(s.byEndpoint, id)
			}
		}
	}
}
