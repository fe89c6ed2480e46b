package consolidate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/store"
)

// RecoverReport lists what Recover did with each leftover marker.
type RecoverReport struct {
	Completed  []string `json:"completed"`
	RolledBack []string `json:"rolled_back"`
	Invalid    []error  `json:"-"`
}

// Recover settles changesets interrupted by a crash. A changeset whose
// targets were all written is completed by applying its source policy;
// any other is rolled back by removing the targets it wrote. Sources are
// changed last, so a rollback never has a source to restore. Call it after
// LoadAll.
func (o *Orchestrator) Recover(ctx context.Context) (*RecoverReport, error) {
	ops, invalid, err := o.store.PendingOps()
	if err != nil {
		return nil, fmt.Errorf("list pending ops: %w", err)
	}
	rep := &RecoverReport{Invalid: invalid}
	for _, e := range invalid {
		o.log.Warn("unreadable pending marker", zap.Error(e))
	}
	for _, op := range ops {
		var completed bool
		err := o.store.Update(ctx, func(tx *store.Tx) error {
			completed = targetsPresent(tx, op)
			if completed {
				if err := completeOp(tx, op); err != nil {
					return err
				}
			} else if err := rollbackOp(tx, op); err != nil {
				return err
			}
			return o.store.RemovePending(op.ID)
		})
		if err != nil {
			return rep, fmt.Errorf("recover %s %s: %w", op.Kind, op.ID, err)
		}
		if completed {
			rep.Completed = append(rep.Completed, op.ID)
		} else {
			rep.RolledBack = append(rep.RolledBack, op.ID)
		}
		o.log.Info("recovered pending op",
			zap.String("op", op.ID),
			zap.String("kind", string(op.Kind)),
			zap.Bool("completed", completed))
	}
	return rep, nil
}

func targetsPresent(tx *store.Tx, op *model.PendingOp) bool {
	for _, id := range op.NewMemories {
		if !tx.HasMemory(id) {
			return false
		}
	}
	for _, id := range op.NewRelation {
		if !tx.HasRelation(id) {
			return false
		}
	}
	return true
}

func completeOp(tx *store.Tx, op *model.PendingOp) error {
	for _, id := range op.Sources {
		if !tx.HasMemory(id) {
			continue
		}
		if op.Policy == model.SourceDelete {
			if err := tx.DeleteMemory(id); err != nil {
				return err
			}
			continue
		}
		m, err := tx.GetMemory(id)
		if err != nil {
			return err
		}
		if m.Status == model.StatusArchived {
			continue
		}
		m.Status = model.StatusArchived
		if err := tx.PutMemory(m); err != nil {
			return err
		}
	}
	return nil
}

func rollbackOp(tx *store.Tx, op *model.PendingOp) error {
	for _, id := range op.NewRelation {
		if tx.HasRelation(id) {
			if err := tx.DeleteRelation(id); err != nil {
				return err
			}
		}
	}
	for _, id := range op.NewMemories {
		if tx.HasMemory(id) {
			if err := tx.DeleteMemory(id); err != nil {
				return err
			}
		}
	}
	return nil
}
