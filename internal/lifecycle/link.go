package lifecycle

import (
	"context"
	"fmt"

	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/store"
)

// LinkParams holds parameters for an explicit relation.
type LinkParams struct {
	Source   string
	Target   string
	Type     model.RelationType
	Strength float64
	Metadata map[string]any
}

// Link creates a semantic relation between two existing memories.
// Derivation types are reserved for consolidation and split.
func (e *Engine) Link(ctx context.Context, p LinkParams) (*model.Relation, error) {
	if !model.ValidRelationTypes[p.Type] {
		return nil, fmt.Errorf("invalid relation %q (valid: related, causes, supports, contradicts)", p.Type)
	}
	if p.Type.IsDerivation() {
		return nil, fmt.Errorf("relation %q is only created by consolidate or split", p.Type)
	}
	if err := e.allow(ctx); err != nil {
		return nil, err
	}
	strength := p.Strength
	if strength <= 0 {
		strength = 1
	}
	r := &model.Relation{
		ID:        model.NewID(),
		Source:    p.Source,
		Target:    p.Target,
		Type:      p.Type,
		Strength:  strength,
		CreatedAt: e.now(),
		Metadata:  p.Metadata,
	}
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		for _, id := range []string{p.Source, p.Target} {
			if !tx.HasMemory(id) {
				return fmt.Errorf("link endpoint: memory %s: %w", id, store.ErrNotFound)
			}
		}
		for _, existing := range tx.RelationsFor(p.Source) {
			if existing.Source == p.Source && existing.Target == p.Target && existing.Type == p.Type {
				r = existing
				return nil
			}
		}
		return tx.PutRelation(r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Unlink removes a relation by id.
func (e *Engine) Unlink(ctx context.Context, id string) error {
	if err := e.allow(ctx); err != nil {
		return err
	}
	return e.store.DeleteRelation(ctx, id)
}
