package consolidate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memstore/internal/lifecycle"
	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// faultFS fails the writes and removes its predicates select.
type faultFS struct {
	store.OSFS
	failWrite  func(name string) bool
	failRemove func(name string) bool
}

var errDiskFull = errors.New("disk full")

func (f *faultFS) WriteFile(name string, data []byte) error {
	if f.failWrite != nil && f.failWrite(name) {
		return errDiskFull
	}
	return f.OSFS.WriteFile(name, data)
}

func (f *faultFS) Remove(name string) error {
	if f.failRemove != nil && f.failRemove(name) {
		return errDiskFull
	}
	return f.OSFS.Remove(name)
}

func openStore(t *testing.T, root string, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(root, opts...)
	require.NoError(t, err)
	_, err = s.LoadAll(context.Background())
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s *store.Store, ids ...string) {
	t.Helper()
	for i, id := range ids {
		m := &model.Memory{
			ID:          id,
			Content:     "fact " + id,
			Metadata:    model.Metadata{Tags: []string{"seed"}, Source: "test"},
			CreatedAt:   t0.Add(-time.Duration(i+1) * time.Hour),
			LastAccess:  t0.Add(-time.Duration(i+1) * time.Hour),
			AccessCount: i + 2,
			Strength:    float64(i + 1),
			Status:      model.StatusActive,
			Entities:    []string{"E" + id},
		}
		require.NoError(t, s.PutMemory(context.Background(), m))
	}
}

func newOrchestrator(s *store.Store, opts ...Option) *Orchestrator {
	return New(s, append([]Option{WithClock(func() time.Time { return t0 })}, opts...)...)
}

func assertNoPending(t *testing.T, s *store.Store) {
	t.Helper()
	ops, bad, err := s.PendingOps()
	require.NoError(t, err)
	assert.Empty(t, ops)
	assert.Empty(t, bad)
}

func TestConsolidate(t *testing.T) {
	s := openStore(t, t.TempDir())
	seed(t, s, "m1", "m2", "m3")
	o := newOrchestrator(s)

	res, err := o.Consolidate(context.Background(), ConsolidateParams{
		SourceIDs: []string{"m1", "m2", "m3"},
		Record:    &model.Memory{Content: "merged fact"},
		Cohesion:  0.8,
	})
	require.NoError(t, err)
	require.Len(t, res.TargetIDs, 1)
	require.Len(t, res.RelationIDs, 3)
	target := res.TargetIDs[0]

	got, err := s.GetMemory(target)
	require.NoError(t, err)
	assert.Equal(t, "merged fact", got.Content)
	assert.Equal(t, 3.0, got.Strength, "inherits the strongest source")
	assert.Greater(t, got.ReviewPriority, 0.0)
	assert.Equal(t, lifecycle.ReviewPriority(got), got.ReviewPriority)

	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := s.GetMemory(id)
		assert.ErrorIs(t, err, store.ErrNotFound)
	}

	rels := s.RelationsFor(target)
	require.Len(t, rels, 3)
	var targets []string
	for _, r := range rels {
		assert.Equal(t, model.RelConsolidatedFrom, r.Type)
		assert.Equal(t, target, r.Source)
		assert.Equal(t, 0.8, r.Metadata["cohesion"])
		targets = append(targets, r.Target)
	}
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, targets)
	assertNoPending(t, s)
}

func TestConsolidatePreconditions(t *testing.T) {
	s := openStore(t, t.TempDir())
	seed(t, s, "m1", "m2", "taken")
	o := newOrchestrator(s)
	ctx := context.Background()

	_, err := o.Consolidate(ctx, ConsolidateParams{
		SourceIDs: []string{"m1", "m2"},
		Record:    &model.Memory{ID: "taken", Content: "x"},
	})
	assert.ErrorIs(t, err, store.ErrExists)

	_, err = o.Consolidate(ctx, ConsolidateParams{
		SourceIDs: []string{"m1", "missing"},
		Record:    &model.Memory{Content: "x"},
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = o.Consolidate(ctx, ConsolidateParams{Record: &model.Memory{Content: "x"}})
	assert.Error(t, err)

	_, err = o.Consolidate(ctx, ConsolidateParams{
		SourceIDs: []string{"m1", "m1"},
		Record:    &model.Memory{Content: "x"},
	})
	assert.Error(t, err)

	assert.Equal(t, 3, s.Stats().TotalMemories)
	assert.Equal(t, 0, s.Stats().TotalRelations)
	assertNoPending(t, s)
}

func TestSplit(t *testing.T) {
	s := openStore(t, t.TempDir())
	seed(t, s, "src")
	src, err := s.GetMemory("src")
	require.NoError(t, err)
	o := newOrchestrator(s)

	res, err := o.Split(context.Background(), SplitParams{
		SourceID: "src",
		Atoms: []Atom{
			{Content: "first atom"},
			{Content: "second atom", Tags: []string{"override"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.TargetIDs, 2)

	for i, id := range res.TargetIDs {
		atom, err := s.GetMemory(id)
		require.NoError(t, err)
		assert.Equal(t, src.Strength, atom.Strength)
		assert.Equal(t, src.AccessCount, atom.AccessCount)
		assert.True(t, atom.CreatedAt.Equal(src.CreatedAt))
		assert.False(t, atom.LastAccess.Before(t0))
		assert.Equal(t, src.Entities, atom.Entities)

		rels := s.RelationsFor(id)
		require.Len(t, rels, 1)
		assert.Equal(t, model.RelSplitFrom, rels[0].Type)
		assert.Equal(t, id, rels[0].Source)
		assert.Equal(t, "src", rels[0].Target)
		assert.EqualValues(t, i, rels[0].Metadata["split_index"])
		assert.EqualValues(t, 2, rels[0].Metadata["split_total"])
	}
	first, _ := s.GetMemory(res.TargetIDs[0])
	second, _ := s.GetMemory(res.TargetIDs[1])
	assert.Equal(t, []string{"seed"}, first.Metadata.Tags)
	assert.Equal(t, []string{"override"}, second.Metadata.Tags)

	archived, err := s.GetMemory("src")
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, archived.Status)
	assertNoPending(t, s)
}

func TestSplitDeletePolicy(t *testing.T) {
	s := openStore(t, t.TempDir())
	seed(t, s, "src")
	o := newOrchestrator(s, WithSourcePolicy(model.SourceDelete))

	res, err := o.Split(context.Background(), SplitParams{
		SourceID: "src",
		Atoms:    []Atom{{Content: "a"}, {Content: "b"}},
	})
	require.NoError(t, err)
	_, err = s.GetMemory("src")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, s.RelationsFor("src"), 2)
	assert.Len(t, res.RelationIDs, 2)
}

func TestSplitPreconditions(t *testing.T) {
	s := openStore(t, t.TempDir())
	seed(t, s, "src")
	o := newOrchestrator(s)
	ctx := context.Background()

	_, err := o.Split(ctx, SplitParams{SourceID: "src"})
	assert.Error(t, err)
	_, err = o.Split(ctx, SplitParams{SourceID: "src", Atoms: []Atom{{Content: "  "}}})
	assert.Error(t, err)
	_, err = o.Split(ctx, SplitParams{SourceID: "missing", Atoms: []Atom{{Content: "a"}}})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSplitRejectsArchivingSchema(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()
	seed(t, s, "src")
	src, err := s.GetMemory("src")
	require.NoError(t, err)
	src.Status = model.StatusSchema
	require.NoError(t, s.PutMemory(ctx, src))

	_, err = newOrchestrator(s).Split(ctx, SplitParams{SourceID: "src", Atoms: []Atom{{Content: "a"}, {Content: "b"}}})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	got, err := s.GetMemory("src")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSchema, got.Status)
	assert.Len(t, s.Snapshot().Memories, 1)
	assertNoPending(t, s)

	// Deleting a schema source is allowed.
	res, err := newOrchestrator(s, WithSourcePolicy(model.SourceDelete)).Split(ctx,
		SplitParams{SourceID: "src", Atoms: []Atom{{Content: "a"}}})
	require.NoError(t, err)
	assert.Len(t, res.TargetIDs, 1)
}

func TestConsolidateRollsBackOnWriteFailure(t *testing.T) {
	root := t.TempDir()
	var relWrites atomic.Int32
	fsys := &faultFS{failWrite: func(name string) bool {
		if filepath.Base(filepath.Dir(name)) != "relations" {
			return false
		}
		return relWrites.Add(1) == 2
	}}
	s := openStore(t, root, store.WithFS(fsys))
	seed(t, s, "m1", "m2", "m3")
	o := newOrchestrator(s)

	_, err := o.Consolidate(context.Background(), ConsolidateParams{
		SourceIDs: []string{"m1", "m2", "m3"},
		Record:    &model.Memory{ID: "target", Content: "merged"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchFailed)
	assert.ErrorIs(t, err, errDiskFull)

	var be *BatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, model.OpConsolidate, be.Op)
	assert.Len(t, be.Committed, 2)
	assert.Contains(t, be.Committed, "write memory target")
	assert.ElementsMatch(t, be.Committed, be.RolledBack)

	_, err = s.GetMemory("target")
	assert.ErrorIs(t, err, store.ErrNotFound)
	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := s.GetMemory(id)
		assert.NoError(t, err)
	}
	assert.Equal(t, 0, s.Stats().TotalRelations)
	assertNoPending(t, s)

	// Disk agrees with the cache.
	fresh := openStore(t, root)
	assert.Equal(t, 3, fresh.Stats().TotalMemories)
	assert.Equal(t, 0, fresh.Stats().TotalRelations)
}

func TestConsolidateRestoresDeletedSources(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	seed(t, s, "m1", "m2", "m3")

	m2Path := s.MemoryPath("m2")
	fsys := &faultFS{failRemove: func(name string) bool { return name == m2Path }}
	s = openStore(t, root, store.WithFS(fsys))
	o := newOrchestrator(s)

	_, err := o.Consolidate(context.Background(), ConsolidateParams{
		SourceIDs: []string{"m1", "m2", "m3"},
		Record:    &model.Memory{ID: "target", Content: "merged"},
	})
	require.ErrorIs(t, err, ErrBatchFailed)

	var be *BatchError
	require.True(t, errors.As(err, &be))
	assert.Contains(t, be.RolledBack, "delete memory m1")

	m1, err := s.GetMemory("m1")
	require.NoError(t, err)
	assert.Equal(t, "fact m1", m1.Content)
	_, err = s.GetMemory("target")
	assert.ErrorIs(t, err, store.ErrNotFound)

	fresh := openStore(t, root)
	assert.Equal(t, 3, fresh.Stats().TotalMemories)
	assert.Equal(t, 0, fresh.Stats().TotalRelations)
}

func TestFailedUndoLeavesMarkerForRecover(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	seed(t, s, "m1", "m2")
	targetPath := s.MemoryPath("target")

	fsys := &faultFS{
		failWrite: func(name string) bool {
			return filepath.Base(filepath.Dir(name)) == "relations"
		},
		failRemove: func(name string) bool { return name == targetPath },
	}
	s = openStore(t, root, store.WithFS(fsys))
	_, err := newOrchestrator(s).Consolidate(context.Background(), ConsolidateParams{
		SourceIDs: []string{"m1", "m2"},
		Record:    &model.Memory{ID: "target", Content: "merged"},
	})
	require.ErrorIs(t, err, ErrBatchFailed)

	ops, _, err := s.PendingOps()
	require.NoError(t, err)
	require.Len(t, ops, 1)

	// Restart with a healthy disk.
	restarted := openStore(t, root)
	rep, err := newOrchestrator(restarted).Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{ops[0].ID}, rep.RolledBack)
	assert.Empty(t, rep.Completed)

	_, err = restarted.GetMemory("target")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoFileExists(t, restarted.MemoryPath("target"))
	for _, id := range []string{"m1", "m2"} {
		_, err := restarted.GetMemory(id)
		assert.NoError(t, err)
	}
	assertNoPending(t, restarted)
}

// crashAfterTargets leaves a consolidation as a crash between writing the
// targets and deleting the sources would.
func crashAfterTargets(t *testing.T, s *store.Store, writeRelations bool) *model.PendingOp {
	t.Helper()
	ctx := context.Background()
	op := &model.PendingOp{
		ID:          "op1",
		Kind:        model.OpConsolidate,
		Label:       "consolidate",
		StartedAt:   t0,
		NewMemories: []string{"target"},
		NewRelation: []string{"r1", "r2"},
		Sources:     []string{"m1", "m2"},
		Policy:      model.SourceDelete,
	}
	require.NoError(t, s.WritePending(op))
	require.NoError(t, s.PutMemory(ctx, &model.Memory{
		ID: "target", Content: "merged", CreatedAt: t0, LastAccess: t0, Strength: 1, Status: model.StatusActive,
	}))
	if writeRelations {
		for i, src := range []string{"m1", "m2"} {
			require.NoError(t, s.PutRelation(ctx, &model.Relation{
				ID: op.NewRelation[i], Source: "target", Target: src,
				Type: model.RelConsolidatedFrom, Strength: 1, CreatedAt: t0,
			}))
		}
	}
	return op
}

func TestRecoverCompletesWhenTargetsPresent(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	seed(t, s, "m1", "m2")
	op := crashAfterTargets(t, s, true)

	restarted := openStore(t, root)
	rep, err := newOrchestrator(restarted).Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{op.ID}, rep.Completed)

	_, err = restarted.GetMemory("target")
	assert.NoError(t, err)
	for _, id := range []string{"m1", "m2"} {
		_, err := restarted.GetMemory(id)
		assert.ErrorIs(t, err, store.ErrNotFound)
	}
	assert.Len(t, restarted.RelationsFor("target"), 2)
	assertNoPending(t, restarted)

	// Recovering twice is a no-op.
	rep, err = newOrchestrator(restarted).Recover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Completed)
	assert.Empty(t, rep.RolledBack)
}

func TestRecoverRollsBackPartialTargets(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	seed(t, s, "m1", "m2")
	op := crashAfterTargets(t, s, false)

	restarted := openStore(t, root)
	rep, err := newOrchestrator(restarted).Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{op.ID}, rep.RolledBack)

	_, err = restarted.GetMemory("target")
	assert.ErrorIs(t, err, store.ErrNotFound)
	for _, id := range []string{"m1", "m2"} {
		_, err := restarted.GetMemory(id)
		assert.NoError(t, err)
	}
	assertNoPending(t, restarted)
}

func TestRecoverCompletesSplitArchive(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, root)
	seed(t, s, "src")
	ctx := context.Background()
	require.NoError(t, s.WritePending(&model.PendingOp{
		ID: "op2", Kind: model.OpSplit, StartedAt: t0,
		NewMemories: []string{"atom"}, Sources: []string{"src"}, Policy: model.SourceArchive,
	}))
	require.NoError(t, s.PutMemory(ctx, &model.Memory{
		ID: "atom", Content: "atom", CreatedAt: t0, LastAccess: t0, Strength: 1, Status: model.StatusActive,
	}))

	restarted := openStore(t, root)
	_, err := newOrchestrator(restarted).Recover(ctx)
	require.NoError(t, err)
	src, err := restarted.GetMemory("src")
	require.NoError(t, err)
	assert.Equal(t, model.StatusArchived, src.Status)
}

type denyGuard struct{}

var errDenied = errors.New("denied")

func (denyGuard) Allow(context.Context) error { return errDenied }

func TestGuardBlocksChangesets(t *testing.T) {
	s := openStore(t, t.TempDir())
	seed(t, s, "m1", "m2")
	o := newOrchestrator(s, WithGuard(denyGuard{}))
	ctx := context.Background()

	_, err := o.Consolidate(ctx, ConsolidateParams{SourceIDs: []string{"m1", "m2"}, Record: &model.Memory{Content: "x"}})
	assert.ErrorIs(t, err, errDenied)
	_, err = o.Split(ctx, SplitParams{SourceID: "m1", Atoms: []Atom{{Content: "a"}}})
	assert.ErrorIs(t, err, errDenied)
	assert.Equal(t, 2, s.Stats().TotalMemories)
}

type recordingProposer struct {
	mu     sync.Mutex
	labels []string
	paths  [][]string
}

func (p *recordingProposer) Propose(_ context.Context, label string, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.labels = append(p.labels, label)
	p.paths = append(p.paths, paths)
	return nil
}

func TestProposeAfterCommit(t *testing.T) {
	s := openStore(t, t.TempDir())
	seed(t, s, "m1", "m2")
	p := &recordingProposer{}
	o := newOrchestrator(s, WithProposer(p))

	res, err := o.Consolidate(context.Background(), ConsolidateParams{
		SourceIDs: []string{"m1", "m2"},
		Record:    &model.Memory{ID: "target", Content: "merged"},
	})
	require.NoError(t, err)
	require.Len(t, p.labels, 1)
	assert.True(t, strings.HasPrefix(p.labels[0], "consolidate 2 memories"))
	assert.Contains(t, p.paths[0], s.MemoryPath("target"))
	assert.Contains(t, p.paths[0], s.MemoryPath("m1"))
	for _, id := range res.RelationIDs {
		assert.Contains(t, p.paths[0], s.RelationPath(id))
	}
}

func TestReadersNeverSeeHalfAppliedChangeset(t *testing.T) {
	s := openStore(t, t.TempDir())
	sources := []string{"m1", "m2", "m3", "m4"}
	seed(t, s, sources...)
	o := newOrchestrator(s)

	var done atomic.Bool
	var g errgroup.Group
	for range 4 {
		g.Go(func() error {
			for !done.Load() {
				snap := s.Snapshot()
				ids := map[string]bool{}
				for _, m := range snap.Memories {
					ids[m.ID] = true
				}
				present := 0
				for _, id := range sources {
					if ids[id] {
						present++
					}
				}
				switch {
				case ids["target"] && present == 0 && len(snap.Relations) == len(sources):
				case !ids["target"] && present == len(sources) && len(snap.Relations) == 0:
				default:
					return errors.New("observed a half-applied changeset")
				}
			}
			return nil
		})
	}

	_, err := o.Consolidate(context.Background(), ConsolidateParams{
		SourceIDs: sources,
		Record:    &model.Memory{ID: "target", Content: "merged"},
	})
	done.Store(true)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
}
