// Package consolidate applies the multi-record changesets: merging many
// memories into one and decomposing one memory into atoms. Each changeset
// is guarded by a durable pending marker so a crash never leaves it half
// applied.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memstore/internal/lifecycle"
	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/store"
)

// ErrBatchFailed marks an aborted changeset.
var ErrBatchFailed = errors.New("batch failed")

// BatchError reports which steps of an aborted changeset were applied and
// which of those were undone.
type BatchError struct {
	Op         model.OpKind
	Committed  []string
	RolledBack []string
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s batch failed: %v (committed: [%s], rolled back: [%s])",
		e.Op, e.Err, strings.Join(e.Committed, ", "), strings.Join(e.RolledBack, ", "))
}

func (e *BatchError) Unwrap() []error { return []error{ErrBatchFailed, e.Err} }

// Guard gates changesets to the maintenance replica.
type Guard interface {
	Allow(ctx context.Context) error
}

// Proposer publishes a committed changeset to other replicas.
type Proposer interface {
	Propose(ctx context.Context, label string, paths []string) error
}

// Orchestrator runs consolidate and split changesets against a store.
type Orchestrator struct {
	store    *store.Store
	guard    Guard
	proposer Proposer
	policy   model.SourcePolicy
	log      *zap.Logger
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGuard restricts changesets to the replica the guard allows.
func WithGuard(g Guard) Option { return func(o *Orchestrator) { o.guard = g } }

// WithProposer publishes each successful changeset.
func WithProposer(p Proposer) Option { return func(o *Orchestrator) { o.proposer = p } }

// WithSourcePolicy sets what Split does with its source. Default archive.
func WithSourcePolicy(p model.SourcePolicy) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.policy = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New creates an orchestrator over s.
func New(s *store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  s,
		policy: model.SourceArchive,
		log:    zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result names the records a changeset created.
type Result struct {
	TargetIDs   []string `json:"target_ids"`
	RelationIDs []string `json:"relation_ids"`
}

// ConsolidateParams describes a merge of SourceIDs into Record.
type ConsolidateParams struct {
	SourceIDs []string
	Record    *model.Memory
	// Cohesion is the clustering score recorded on each provenance edge.
	// Zero omits it.
	Cohesion float64
}

// Consolidate writes Record, links it to every source with a
// consolidated_from relation and deletes the sources, as one changeset.
func (o *Orchestrator) Consolidate(ctx context.Context, p ConsolidateParams) (*Result, error) {
	if len(p.SourceIDs) == 0 {
		return nil, fmt.Errorf("consolidate: no source ids")
	}
	if p.Record == nil || p.Record.Content == "" {
		return nil, fmt.Errorf("consolidate: record content is required")
	}
	if err := o.allow(ctx); err != nil {
		return nil, err
	}

	now := o.now()
	target := p.Record.Clone()
	if target.ID == "" {
		target.ID = model.NewID()
	}
	if target.CreatedAt.IsZero() {
		target.CreatedAt = now
	}
	if target.LastAccess.IsZero() {
		target.LastAccess = now
	}
	if target.Status == "" {
		target.Status = model.StatusActive
	}
	o.store.Prepare(ctx, target)

	var res *Result
	var op *model.PendingOp
	err := o.store.Update(ctx, func(tx *store.Tx) error {
		seen := map[string]bool{}
		strongest := 0.0
		for _, id := range p.SourceIDs {
			if seen[id] {
				return fmt.Errorf("consolidate: duplicate source %s", id)
			}
			seen[id] = true
			src, err := tx.GetMemory(id)
			if err != nil {
				return fmt.Errorf("consolidate source: %w", err)
			}
			strongest = max(strongest, src.Strength)
		}
		if tx.HasMemory(target.ID) {
			return fmt.Errorf("consolidate target %s: %w", target.ID, store.ErrExists)
		}
		if target.Strength == 0 {
			target.Strength = strongest
		}
		if target.Strength == 0 {
			target.Strength = 1
		}
		target.ReviewPriority = lifecycle.ReviewPriority(target)

		b := &batch{tx: tx, store: o.store, log: o.log}
		op = &model.PendingOp{
			ID:          model.NewID(),
			Kind:        model.OpConsolidate,
			Label:       fmt.Sprintf("consolidate %d memories into %s", len(p.SourceIDs), target.ID),
			StartedAt:   now,
			NewMemories: []string{target.ID},
			Sources:     p.SourceIDs,
			Policy:      model.SourceDelete,
		}
		var rels []*model.Relation
		for _, id := range p.SourceIDs {
			r := &model.Relation{
				ID:        model.NewID(),
				Source:    target.ID,
				Target:    id,
				Type:      model.RelConsolidatedFrom,
				Strength:  1,
				CreatedAt: now,
			}
			if p.Cohesion != 0 {
				r.Metadata = map[string]any{"cohesion": p.Cohesion}
			}
			rels = append(rels, r)
			op.NewRelation = append(op.NewRelation, r.ID)
		}

		if err := b.begin(op); err != nil {
			return err
		}
		if err := b.putMemory(target); err != nil {
			return b.abort(err)
		}
		for _, r := range rels {
			if err := b.putRelation(r); err != nil {
				return b.abort(err)
			}
		}
		for _, id := range p.SourceIDs {
			if err := b.deleteMemory(id); err != nil {
				return b.abort(err)
			}
		}
		b.commit()
		res = &Result{TargetIDs: op.NewMemories, RelationIDs: op.NewRelation}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.log.Info("consolidated",
		zap.String("target", target.ID),
		zap.Strings("sources", p.SourceIDs))
	return res, o.propose(ctx, op)
}

// Atom is one piece of a split. Nil Tags or Entities inherit the source's.
type Atom struct {
	Content  string
	Tags     []string
	Entities []string
}

// SplitParams describes the decomposition of SourceID into Atoms.
type SplitParams struct {
	SourceID string
	Atoms    []Atom
}

// Split writes one memory per atom, links each to the source with a
// split_from relation and then archives or deletes the source, as one
// changeset. Atoms inherit the source's strength, access count, creation
// time and metadata; the split counts as an access.
func (o *Orchestrator) Split(ctx context.Context, p SplitParams) (*Result, error) {
	if len(p.Atoms) == 0 {
		return nil, fmt.Errorf("split %s: no atoms", p.SourceID)
	}
	for i, a := range p.Atoms {
		if strings.TrimSpace(a.Content) == "" {
			return nil, fmt.Errorf("split %s: atom %d has no content", p.SourceID, i)
		}
	}
	if err := o.allow(ctx); err != nil {
		return nil, err
	}

	src, err := o.store.GetMemory(p.SourceID)
	if err != nil {
		return nil, fmt.Errorf("split source: %w", err)
	}
	if err := o.checkSource(src); err != nil {
		return nil, err
	}
	now := o.now()
	atoms := make([]*model.Memory, len(p.Atoms))
	for i, a := range p.Atoms {
		m := &model.Memory{
			ID:             model.NewID(),
			Content:        a.Content,
			Metadata:       src.Clone().Metadata,
			CreatedAt:      src.CreatedAt,
			LastAccess:     now,
			AccessCount:    src.AccessCount,
			Strength:       src.Strength,
			Status:         model.StatusActive,
			Entities:       src.Entities,
			ReviewPriority: src.ReviewPriority,
		}
		if now.Before(src.LastAccess) {
			m.LastAccess = src.LastAccess
		}
		if a.Tags != nil {
			m.Metadata.Tags = a.Tags
		}
		if a.Entities != nil {
			m.Entities = a.Entities
		}
		o.store.Prepare(ctx, m)
		atoms[i] = m
	}

	var res *Result
	var op *model.PendingOp
	err = o.store.Update(ctx, func(tx *store.Tx) error {
		cur, err := tx.GetMemory(p.SourceID)
		if err != nil {
			return fmt.Errorf("split source: %w", err)
		}
		if err := o.checkSource(cur); err != nil {
			return err
		}
		b := &batch{tx: tx, store: o.store, log: o.log}
		op = &model.PendingOp{
			ID:        model.NewID(),
			Kind:      model.OpSplit,
			Label:     fmt.Sprintf("split %s into %d atoms", p.SourceID, len(atoms)),
			StartedAt: now,
			Sources:   []string{p.SourceID},
			Policy:    o.policy,
		}
		var rels []*model.Relation
		for i, m := range atoms {
			op.NewMemories = append(op.NewMemories, m.ID)
			r := &model.Relation{
				ID:        model.NewID(),
				Source:    m.ID,
				Target:    p.SourceID,
				Type:      model.RelSplitFrom,
				Strength:  1,
				CreatedAt: now,
				Metadata:  map[string]any{"split_index": i, "split_total": len(atoms)},
			}
			rels = append(rels, r)
			op.NewRelation = append(op.NewRelation, r.ID)
		}

		if err := b.begin(op); err != nil {
			return err
		}
		for _, m := range atoms {
			if err := b.putMemory(m); err != nil {
				return b.abort(err)
			}
		}
		for _, r := range rels {
			if err := b.putRelation(r); err != nil {
				return b.abort(err)
			}
		}
		if o.policy == model.SourceDelete {
			err = b.deleteMemory(cur.ID)
		} else {
			err = b.archiveMemory(cur)
		}
		if err != nil {
			return b.abort(err)
		}
		b.commit()
		res = &Result{TargetIDs: op.NewMemories, RelationIDs: op.NewRelation}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.log.Info("split",
		zap.String("source", p.SourceID),
		zap.Int("atoms", len(atoms)),
		zap.String("policy", string(o.policy)))
	return res, o.propose(ctx, op)
}

// checkSource rejects a split whose source policy would make a status
// change the lifecycle forbids: schema memories are never archived.
func (o *Orchestrator) checkSource(src *model.Memory) error {
	if o.policy == model.SourceArchive && src.Status == model.StatusSchema {
		return fmt.Errorf("split %s: %w: %s -> %s", src.ID, lifecycle.ErrInvalidTransition,
			src.Status, model.StatusArchived)
	}
	return nil
}

func (o *Orchestrator) allow(ctx context.Context) error {
	if o.guard == nil {
		return nil
	}
	return o.guard.Allow(ctx)
}

// propose publishes a committed changeset. The changeset stays applied
// when publishing fails; the error is returned alongside the result.
func (o *Orchestrator) propose(ctx context.Context, op *model.PendingOp) error {
	if o.proposer == nil {
		return nil
	}
	if err := o.proposer.Propose(ctx, op.Label, o.paths(op)); err != nil {
		o.log.Warn("propose failed", zap.String("label", op.Label), zap.Error(err))
		return fmt.Errorf("propose %q: %w", op.Label, err)
	}
	return nil
}

func (o *Orchestrator) paths(op *model.PendingOp) []string {
	var out []string
	for _, id := range op.NewMemories {
		out = append(out, o.store.MemoryPath(id))
	}
	for _, id := range op.NewRelation {
		out = append(out, o.store.RelationPath(id))
	}
	for _, id := range op.Sources {
		out = append(out, o.store.MemoryPath(id))
	}
	return append(out, o.store.MetaPath())
}
