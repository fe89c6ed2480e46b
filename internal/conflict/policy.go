package conflict

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/memstore/internal/store"
)

// ErrNotMaintainer is returned when prune, consolidate or split is
// attempted on a replica other than the designated one.
var ErrNotMaintainer = errors.New("not the maintenance replica")

// Policy allows maintenance only on one replica. The designated replica is
// the configured one, else whichever replica the store metadata records
// as having last run maintenance. An unclaimed store is claimed by the
// first replica that asks.
type Policy struct {
	store      *store.Store
	replica    string
	designated string
	log        *zap.Logger
}

// NewPolicy creates a policy for the local replica. designated may be empty.
func NewPolicy(s *store.Store, replica, designated string, log *zap.Logger) *Policy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Policy{store: s, replica: replica, designated: designated, log: log}
}

// Allow implements the maintenance guard of the lifecycle engine and the
// orchestrator.
func (p *Policy) Allow(ctx context.Context) error { return p.CheckMaintenance(ctx) }

// CheckMaintenance returns nil when the local replica may run maintenance,
// recording it as the maintenance replica.
func (p *Policy) CheckMaintenance(ctx context.Context) error {
	if p.replica == "" {
		return fmt.Errorf("%w: local replica has no id", ErrNotMaintainer)
	}
	return p.store.Update(ctx, func(tx *store.Tx) error {
		meta := tx.Meta()
		owner := p.designated
		if owner == "" {
			owner = meta.MaintenanceReplica
		}
		if owner != "" && owner != p.replica {
			return fmt.Errorf("%w: this is %s, maintenance runs on %s", ErrNotMaintainer, p.replica, owner)
		}
		if meta.MaintenanceReplica == p.replica {
			return nil
		}
		p.log.Info("claiming maintenance",
			zap.String("replica", p.replica),
			zap.String("previous", meta.MaintenanceReplica))
		meta.MaintenanceReplica = p.replica
		return tx.PutMeta(meta)
	})
}
