package consolidate

import (
	"go.uber.org/zap"

	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/store"
)

// step is one applied file operation and its inverse.
type step struct {
	name string
	undo func() error
}

// batch tracks the steps of one changeset inside an Update.
type batch struct {
	tx    *store.Tx
	store *store.Store
	log   *zap.Logger
	op    *model.PendingOp
	done  []step
}

func (b *batch) begin(op *model.PendingOp) error {
	b.op = op
	if err := b.store.WritePending(op); err != nil {
		return &BatchError{Op: op.Kind, Err: err}
	}
	return nil
}

func (b *batch) putMemory(m *model.Memory) error {
	if err := b.tx.PutMemory(m); err != nil {
		return err
	}
	id := m.ID
	b.done = append(b.done, step{
		name: "write memory " + id,
		undo: func() error { return b.tx.DeleteMemory(id) },
	})
	return nil
}

func (b *batch) putRelation(r *model.Relation) error {
	if err := b.tx.PutRelation(r); err != nil {
		return err
	}
	id := r.ID
	b.done = append(b.done, step{
		name: "write relation " + id,
		undo: func() error { return b.tx.DeleteRelation(id) },
	})
	return nil
}

func (b *batch) deleteMemory(id string) error {
	orig, err := b.tx.GetMemory(id)
	if err != nil {
		return err
	}
	if err := b.tx.DeleteMemory(id); err != nil {
		return err
	}
	b.done = append(b.done, step{
		name: "delete memory " + id,
		undo: func() error { return b.tx.PutMemory(orig) },
	})
	return nil
}

func (b *batch) archiveMemory(orig *model.Memory) error {
	m := orig.Clone()
	m.Status = model.StatusArchived
	if err := b.tx.PutMemory(m); err != nil {
		return err
	}
	b.done = append(b.done, step{
		name: "archive memory " + orig.ID,
		undo: func() error { return b.tx.PutMemory(orig) },
	})
	return nil
}

// abort undoes the applied steps newest first. Undo stops at the first
// failure so targets are never removed while a source is still missing;
// the marker is then kept and Recover finishes the job.
func (b *batch) abort(cause error) error {
	be := &BatchError{Op: b.op.Kind, Err: cause}
	for _, s := range b.done {
		be.Committed = append(be.Committed, s.name)
	}
	for i := len(b.done) - 1; i >= 0; i-- {
		s := b.done[i]
		if err := s.undo(); err != nil {
			b.log.Error("undo failed", zap.String("op", b.op.ID), zap.String("step", s.name), zap.Error(err))
			b.log.Warn("pending marker kept for recovery", zap.String("op", b.op.ID))
			return be
		}
		be.RolledBack = append(be.RolledBack, s.name)
	}
	if err := b.store.RemovePending(b.op.ID); err != nil {
		b.log.Warn("pending marker not cleared", zap.String("op", b.op.ID), zap.Error(err))
	}
	return be
}

// commit clears the marker. A marker that cannot be cleared is harmless:
// every target exists, so Recover completes it as a no-op.
func (b *batch) commit() {
	if err := b.store.RemovePending(b.op.ID); err != nil {
		b.log.Warn("pending marker not cleared", zap.String("op", b.op.ID), zap.Error(err))
	}
}

