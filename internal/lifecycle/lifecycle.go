// Package lifecycle drives a memory through creation, reinforcement,
// archival and decay-based pruning. It only touches records through the
// store.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/store"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// Guard gates maintenance operations to the designated replica.
type Guard interface {
	Allow(ctx context.Context) error
}

// Config tunes decay and reinforcement.
type Config struct {
	BaseHalfLife  time.Duration
	ReinforceStep float64
	MaxStrength   float64
}

// DefaultConfig returns a one-week base half-life, +0.5 strength per
// access, capped at 10.
func DefaultConfig() Config {
	return Config{
		BaseHalfLife:  7 * 24 * time.Hour,
		ReinforceStep: 0.5,
		MaxStrength:   10,
	}
}

// Engine applies lifecycle operations to a store.
type Engine struct {
	store *store.Store
	cfg   Config
	decay DecayFunc
	guard Guard
	log   *zap.Logger
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithDecay replaces the default exponential decay.
func WithDecay(d DecayFunc) Option { return func(e *Engine) { e.decay = d } }

// WithGuard restricts the destructive operations (Archive, Delete, Prune,
// Link and Unlink) to the replica the guard allows. Create, Touch and
// Review stay open to every replica.
func WithGuard(g Guard) Option { return func(e *Engine) { e.guard = g } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

// WithClock overrides time.Now for Create.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an engine over s.
func New(s *store.Store, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.BaseHalfLife <= 0 {
		cfg.BaseHalfLife = def.BaseHalfLife
	}
	if cfg.ReinforceStep <= 0 {
		cfg.ReinforceStep = def.ReinforceStep
	}
	if cfg.MaxStrength <= 0 {
		cfg.MaxStrength = def.MaxStrength
	}
	e := &Engine{
		store: s,
		cfg:   cfg,
		log:   zap.NewNop(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	if e.decay == nil {
		e.decay = ExponentialDecay(cfg.BaseHalfLife)
	}
	return e
}

// Score applies the decay function.
func (e *Engine) Score(m *model.Memory, now time.Time) float64 {
	return e.decay(m, now)
}

// CreateParams holds parameters for a new memory.
type CreateParams struct {
	Content  string
	Summary  string
	Tags     []string
	Source   string
	Context  string
	Extra    map[string]any
	Entities []string
	Status   model.Status
}

// Create writes a new memory with strength 1 and a fresh id.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*model.Memory, error) {
	if p.Content == "" {
		return nil, fmt.Errorf("content is required")
	}
	status := p.Status
	if status == "" {
		status = model.StatusActive
	}
	now := e.now()
	m := &model.Memory{
		ID:      model.NewID(),
		Content: p.Content,
		Summary: p.Summary,
		Metadata: model.Metadata{
			Tags:    p.Tags,
			Source:  p.Source,
			Context: p.Context,
			Extra:   p.Extra,
		},
		CreatedAt:  now,
		LastAccess: now,
		Strength:   1,
		Status:     status,
		Entities:   p.Entities,
	}
	m.ReviewPriority = ReviewPriority(m)
	if err := e.store.PutMemory(ctx, m); err != nil {
		return nil, err
	}
	e.log.Debug("memory created", zap.String("id", m.ID))
	return e.store.GetMemory(m.ID)
}

// Touch records an access at now: the access count grows, strength is
// reinforced and review priority recomputed. Last access never moves
// backwards, so replicas with skewed clocks still merge monotonically.
func (e *Engine) Touch(ctx context.Context, id string, now time.Time) (*model.Memory, error) {
	var out *model.Memory
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		m, err := tx.GetMemory(id)
		if err != nil {
			return err
		}
		m.AccessCount++
		if now.After(m.LastAccess) {
			m.LastAccess = now
		}
		m.Strength = reinforce(m.Strength, e.cfg.ReinforceStep, e.cfg.MaxStrength)
		m.ReviewPriority = ReviewPriority(m)
		if err := tx.PutMemory(m); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// Review records a spaced-review pass over a memory.
func (e *Engine) Review(ctx context.Context, id string, now time.Time) (*model.Memory, error) {
	var out *model.Memory
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		m, err := tx.GetMemory(id)
		if err != nil {
			return err
		}
		m.ReviewCount++
		t := now
		m.LastReview = &t
		m.ReviewPriority = ReviewPriority(m)
		if err := tx.PutMemory(m); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// Archive moves an active memory to archived. Archiving an archived memory
// is a no-op; schema memories cannot be archived.
func (e *Engine) Archive(ctx context.Context, id string) (*model.Memory, error) {
	if err := e.allow(ctx); err != nil {
		return nil, err
	}
	var out *model.Memory
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		m, err := tx.GetMemory(id)
		if err != nil {
			return err
		}
		switch m.Status {
		case model.StatusArchived:
			out = m
			return nil
		case model.StatusSchema:
			return fmt.Errorf("archive %s: %w: %s -> %s", id, ErrInvalidTransition, m.Status, model.StatusArchived)
		}
		m.Status = model.StatusArchived
		if err := tx.PutMemory(m); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// Delete removes a memory and every relation that references it.
func (e *Engine) Delete(ctx context.Context, id string) (int, error) {
	if err := e.allow(ctx); err != nil {
		return 0, err
	}
	var removed int
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.DeleteMemory(id); err != nil {
			return err
		}
		n, err := cleanupOrphans(tx, id)
		removed = n
		return err
	})
	return removed, err
}

func (e *Engine) allow(ctx context.Context) error {
	if e.guard == nil {
		return nil
	}
	return e.guard.Allow(ctx)
}

// cleanupOrphans deletes the relations that point at a removed memory.
func cleanupOrphans(tx *store.Tx, id string) (int, error) {
	n := 0
	for _, r := range tx.RelationsFor(id) {
		if err := tx.DeleteRelation(r.ID); err != nil {
			return n, fmt.Errorf("orphan cleanup for %s: %w", id, err)
		}
		n++
	}
	return n, nil
}
