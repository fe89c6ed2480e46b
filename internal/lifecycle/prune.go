package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memstore/internal/store"
)

// PruneResult reports what a prune pass removed.
type PruneResult struct {
	Scanned          int      `json:"scanned"`
	Deleted          []string `json:"deleted"`
	RelationsRemoved int      `json:"relations_removed"`
}

// Prune deletes every memory whose score at now is below threshold and
// sweeps the relations that referenced it. A second pass with no writes in
// between deletes nothing: pruned records are already gone.
func (e *Engine) Prune(ctx context.Context, threshold float64, now time.Time) (*PruneResult, error) {
	if err := e.allow(ctx); err != nil {
		return nil, err
	}

	res := &PruneResult{Deleted: []string{}}
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		for _, id := range tx.MemoryIDs() {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := tx.GetMemory(id)
			if err != nil {
				return err
			}
			res.Scanned++
			if e.decay(m, now) >= threshold {
				continue
			}
			if err := tx.DeleteMemory(id); err != nil {
				return err
			}
			res.Deleted = append(res.Deleted, id)
			n, err := cleanupOrphans(tx, id)
			res.RelationsRemoved += n
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	e.log.Info("prune finished",
		zap.Float64("threshold", threshold),
		zap.Int("scanned", res.Scanned),
		zap.Int("deleted", len(res.Deleted)),
		zap.Int("relations_removed", res.RelationsRemoved))
	return res, nil
}
