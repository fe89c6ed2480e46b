package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memstore/internal/model"
)

// Export is the portable form of a whole store.
type Export struct {
	ExportedAt time.Time `json:"exported_at"`
	Snapshot
}

// Export returns every record, sorted by id.
func (s *Store) Export() *Export {
	return &Export{ExportedAt: time.Now().UTC(), Snapshot: *s.Snapshot()}
}

// ImportResult counts what an import wrote.
type ImportResult struct {
	Memories  int `json:"memories"`
	Relations int `json:"relations"`
	Skipped   int `json:"skipped"`
}

// Import backfills records from an export. Ids already present are
// skipped. The run is appended to the store's migration provenance.
func (s *Store) Import(ctx context.Context, e *Export, source string) (*ImportResult, error) {
	res := &ImportResult{}
	for _, m := range e.Memories {
		if _, err := s.GetMemory(m.ID); err == nil {
			res.Skipped++
			continue
		}
		if err := s.PutMemory(ctx, m); err != nil {
			return res, fmt.Errorf("import memory %s: %w", m.ID, err)
		}
		res.Memories++
	}
	for _, r := range e.Relations {
		if _, err := s.GetRelation(r.ID); err == nil {
			res.Skipped++
			continue
		}
		if err := s.PutRelation(ctx, r); err != nil {
			return res, fmt.Errorf("import relation %s: %w", r.ID, err)
		}
		res.Relations++
	}

	err := s.Update(ctx, func(tx *Tx) error {
		meta := tx.Meta()
		meta.Migrations = append(meta.Migrations, model.Migration{
			Source: source,
			At:     time.Now().UTC(),
			Count:  res.Memories + res.Relations,
			Note:   "import",
		})
		return tx.PutMeta(meta)
	})
	if err != nil {
		return res, err
	}
	s.log.Info("import finished",
		zap.String("source", source),
		zap.Int("memories", res.Memories),
		zap.Int("relations", res.Relations),
		zap.Int("skipped", res.Skipped))
	return res, nil
}
