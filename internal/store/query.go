package store

import (
	"fmt"
	"iter"
	"sort"

	"github.com/gobwas/glob"

	"github.com/rcliao/memstore/internal/model"
)

// Memories returns a lazy sequence over the memories cached at call time.
// The sequence can be ranged over more than once; order is unspecified.
func (s *Store) Memories() iter.Seq[*model.Memory] {
	s.mu.RLock()
	snap := make([]*model.Memory, 0, len(s.memories))
	for _, m := range s.memories {
		snap = append(snap, m)
	}
	s.mu.RUnlock()

	return func(yield func(*model.Memory) bool) {
		for _, m := range snap {
			if !yield(m.Clone()) {
				return
			}
		}
	}
}

// Relations returns a lazy sequence over the relations cached at call time.
func (s *Store) Relations() iter.Seq[*model.Relation] {
	s.mu.RLock()
	snap := make([]*model.Relation, 0, len(s.relations))
	for _, r := range s.relations {
		snap = append(snap, r)
	}
	s.mu.RUnlock()

	return func(yield func(*model.Relation) bool) {
		for _, r := range snap {
			if !yield(r.Clone()) {
				return
			}
		}
	}
}

// RelationsFor returns every relation with id as an endpoint.
func (s *Store) RelationsFor(id string) []*model.Relation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relationsFor(id)
}

// Snapshot is a consistent, deep copy of the whole store.
type Snapshot struct {
	Meta      model.StoreMeta   `json:"meta"`
	Memories  []*model.Memory   `json:"memories"`
	Relations []*model.Relation `json:"relations"`
}

// Snapshot copies every record under one read lock, sorted by id.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Meta:      cloneMeta(s.meta),
		Memories:  make([]*model.Memory, 0, len(s.memories)),
		Relations: make([]*model.Relation, 0, len(s.relations)),
	}
	for _, m := range s.memories {
		snap.Memories = append(snap.Memories, m.Clone())
	}
	for _, r := range s.relations {
		snap.Relations = append(snap.Relations, r.Clone())
	}
	sort.Slice(snap.Memories, func(i, j int) bool { return snap.Memories[i].ID < snap.Memories[j].ID })
	sort.Slice(snap.Relations, func(i, j int) bool { return snap.Relations[i].ID < snap.Relations[j].ID })
	return snap
}

// FindParams filters memories.
type FindParams struct {
	Status     model.Status
	Tag        string // exact tag, served from the tag index
	TagPattern string // glob over tags, e.g. "proj-*"
	Limit      int
}

// Find returns matching memories, newest first.
func (s *Store) Find(p FindParams) ([]*model.Memory, error) {
	var pattern glob.Glob
	if p.TagPattern != "" {
		g, err := glob.Compile(p.TagPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid tag pattern %q: %w", p.TagPattern, err)
		}
		pattern = g
	}

	s.mu.RLock()
	var candidates []*model.Memory
	if p.Tag != "" {
		for id := range s.byTag[p.Tag] {
			candidates = append(candidates, s.memories[id])
		}
	} else {
		for _, m := range s.memories {
			candidates = append(candidates, m)
		}
	}
	s.mu.RUnlock()

	var out []*model.Memory
	for _, m := range candidates {
		if p.Status != "" && m.Status != p.Status {
			continue
		}
		if pattern != nil && !anyTagMatches(m.Metadata.Tags, pattern) {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

// Tags returns every tag with its memory count.
func (s *Store) Tags() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.byTag))
	for tag, ids := range s.byTag {
		out[tag] = len(ids)
	}
	return out
}

func anyTagMatches(tags []string, g glob.Glob) bool {
	for _, t := range tags {
		if g.Match(t) {
			return true
		}
	}
	return false
}
