package conflict

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func version(id string, lastAccess time.Time, count int, content string) *model.Memory {
	return &model.Memory{
		ID:          id,
		Content:     content,
		CreatedAt:   t0.Add(-24 * time.Hour),
		LastAccess:  lastAccess,
		AccessCount: count,
		Strength:    1,
		Status:      model.StatusActive,
	}
}

func TestMergePrefersLaterAccess(t *testing.T) {
	local := version("m", t0.Add(100*time.Second), 3, "local edit")
	remote := version("m", t0.Add(150*time.Second), 1, "remote edit")
	third := version("m", t0.Add(120*time.Second), 9, "third edit")

	assert.Equal(t, "remote edit", Merge(local, remote).Content)
	assert.Equal(t, "remote edit", Merge(remote, local).Content)
	assert.Equal(t, "remote edit", Merge(Merge(local, third), remote).Content)
	assert.Equal(t, "remote edit", Merge(local, Merge(third, remote)).Content)
}

func TestMergeTieBreaks(t *testing.T) {
	a := version("m", t0, 5, "more accesses")
	b := version("m", t0, 2, "fewer accesses")
	assert.Equal(t, "more accesses", Merge(a, b).Content)
	assert.Equal(t, "more accesses", Merge(b, a).Content)

	c := version("m", t0, 2, "aaa")
	d := version("m", t0, 2, "bbb")
	assert.Equal(t, "bbb", Merge(c, d).Content)
	assert.Equal(t, "bbb", Merge(d, c).Content)
}

// unencodable refuses YAML encoding.
type unencodable struct{ tag string }

func (u unencodable) MarshalYAML() (any, error) { return nil, fmt.Errorf("cannot encode %s", u.tag) }

func TestMergeUnencodableVersions(t *testing.T) {
	good := version("m", t0, 2, "same")
	good.Metadata.Extra = map[string]any{"v": 1}
	bad := version("m", t0, 2, "same")
	bad.Metadata.Extra = map[string]any{"v": unencodable{"x"}}
	_, err := store.EncodeMemory(bad)
	require.Error(t, err)

	assert.Equal(t, 1, Merge(good, bad).Metadata.Extra["v"])
	assert.Equal(t, 1, Merge(bad, good).Metadata.Extra["v"])

	x := version("m", t0, 2, "xxx")
	x.Metadata.Extra = map[string]any{"v": unencodable{"x"}}
	y := version("m", t0, 2, "yyy")
	y.Metadata.Extra = map[string]any{"v": unencodable{"y"}}
	assert.Equal(t, Merge(x, y).Content, Merge(y, x).Content)

	r1 := &model.Relation{ID: "r", Source: "a", Target: "b", Type: model.RelRelated, CreatedAt: t0,
		Metadata: map[string]any{"v": unencodable{"r"}}}
	r2 := &model.Relation{ID: "r", Source: "a", Target: "b", Type: model.RelRelated, CreatedAt: t0,
		Metadata: map[string]any{"v": 2}}
	assert.Equal(t, 2, MergeRelation(r1, r2).Metadata["v"])
	assert.Equal(t, 2, MergeRelation(r2, r1).Metadata["v"])
}

func TestMergeAlgebra(t *testing.T) {
	var versions []*model.Memory
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			versions = append(versions,
				version("m", t0.Add(time.Duration(i)*time.Minute), j, fmt.Sprintf("v%d-%d", i, j)),
				version("m", t0.Add(time.Duration(i)*time.Minute), j, fmt.Sprintf("w%d-%d", i, j)))
		}
	}

	for _, a := range versions {
		if diff := cmp.Diff(a, Merge(a, a)); diff != "" {
			t.Fatalf("merge not idempotent (-want +got):\n%s", diff)
		}
		for _, b := range versions {
			if diff := cmp.Diff(Merge(a, b), Merge(b, a)); diff != "" {
				t.Fatalf("merge not commutative for %s/%s:\n%s", a.Content, b.Content, diff)
			}
			for _, c := range versions {
				left := Merge(Merge(a, b), c)
				right := Merge(a, Merge(b, c))
				if diff := cmp.Diff(left, right); diff != "" {
					t.Fatalf("merge not associative for %s/%s/%s:\n%s", a.Content, b.Content, c.Content, diff)
				}
			}
		}
	}
}

func TestMergeReturnsCopy(t *testing.T) {
	a := version("m", t0, 1, "a")
	a.Metadata.Tags = []string{"x"}
	out := Merge(a, version("m", t0.Add(-time.Hour), 1, "b"))
	out.Metadata.Tags[0] = "changed"
	assert.Equal(t, "x", a.Metadata.Tags[0])
}

func TestMergeRelation(t *testing.T) {
	older := &model.Relation{ID: "r", Source: "a", Target: "b", Type: model.RelRelated, Strength: 1, CreatedAt: t0}
	newer := older.Clone()
	newer.CreatedAt = t0.Add(time.Minute)
	newer.Strength = 0.5
	assert.Equal(t, 0.5, MergeRelation(older, newer).Strength)
	assert.Equal(t, 0.5, MergeRelation(newer, older).Strength)

	tie := older.Clone()
	tie.Strength = 2
	assert.Equal(t, MergeRelation(older, tie), MergeRelation(tie, older))
}

func TestMergeMeta(t *testing.T) {
	m1 := model.Migration{Source: "sqlite", At: t0, Count: 10}
	m2 := model.Migration{Source: "backup.json", At: t0.Add(time.Hour), Count: 2, Note: "import"}
	a := model.StoreMeta{FormatVersion: 1, CreatedAt: t0, MaintenanceReplica: "laptop", Migrations: []model.Migration{m1}}
	b := model.StoreMeta{FormatVersion: 1, CreatedAt: t0.Add(time.Hour), Migrations: []model.Migration{m1, m2}}

	ab, err := MergeMeta(a, b)
	require.NoError(t, err)
	ba, err := MergeMeta(b, a)
	require.NoError(t, err)
	if diff := cmp.Diff(ab, ba); diff != "" {
		t.Fatalf("meta merge not commutative:\n%s", diff)
	}
	assert.True(t, ab.CreatedAt.Equal(t0))
	assert.Equal(t, "laptop", ab.MaintenanceReplica)
	assert.Len(t, ab.Migrations, 2)

	b.MaintenanceReplica = "desktop"
	_, err = MergeMeta(a, b)
	assert.ErrorIs(t, err, ErrConflictUnresolved)
}

func TestResolveDeletion(t *testing.T) {
	rels := []*model.Relation{
		{ID: "r1", Source: "new", Target: "gone", Type: model.RelConsolidatedFrom},
		{ID: "r2", Source: "x", Target: "other", Type: model.RelRelated},
		{ID: "r3", Source: "atom", Target: "split-src", Type: model.RelSplitFrom},
	}
	assert.NoError(t, ResolveDeletion("gone", rels))
	assert.NoError(t, ResolveDeletion("split-src", rels))

	err := ResolveDeletion("other", rels)
	assert.ErrorIs(t, err, ErrConflictUnresolved)
	var ue *UnresolvedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "other", ue.ID)

	// Provenance pointing away from the deleted id does not explain it.
	assert.ErrorIs(t, ResolveDeletion("new", rels), ErrConflictUnresolved)
}

func encode(t *testing.T, m *model.Memory) []byte {
	t.Helper()
	b, err := store.EncodeMemory(m)
	require.NoError(t, err)
	return b
}

func TestResolveFile(t *testing.T) {
	r := NewResolver(nil)
	local := version("m1", t0, 1, "local")
	remote := version("m1", t0.Add(time.Minute), 1, "remote")

	out, err := r.ResolveFile("store/memories/m1.md", encode(t, local), encode(t, remote))
	require.NoError(t, err)
	merged, err := store.DecodeMemory(out)
	require.NoError(t, err)
	assert.Equal(t, "remote", merged.Content)

	_, err = r.ResolveFile("store/memories/m1.md", []byte("garbage"), encode(t, remote))
	assert.ErrorIs(t, err, ErrConflictUnresolved)

	_, err = r.ResolveFile("notes/todo.txt", []byte("a"), []byte("b"))
	assert.ErrorIs(t, err, ErrConflictUnresolved)

	metaA, err := store.EncodeMeta(model.StoreMeta{FormatVersion: 1, CreatedAt: t0, MaintenanceReplica: "a"})
	require.NoError(t, err)
	metaB, err := store.EncodeMeta(model.StoreMeta{FormatVersion: 1, CreatedAt: t0, MaintenanceReplica: "b"})
	require.NoError(t, err)
	_, err = r.ResolveFile("meta.yaml", metaA, metaB)
	assert.ErrorIs(t, err, ErrConflictUnresolved)
}

func TestResolveDeletedFile(t *testing.T) {
	r := NewResolver(nil)
	rels := []*model.Relation{{ID: "r1", Source: "new", Target: "old", Type: model.RelConsolidatedFrom}}
	exists := func(id string) bool { return id != "old" }

	assert.NoError(t, r.ResolveDeletedFile("memories/old.md", nil, rels, exists))
	assert.ErrorIs(t, r.ResolveDeletedFile("memories/kept.md", nil, rels, exists), ErrConflictUnresolved)

	orphan, err := store.EncodeRelation(&model.Relation{ID: "r9", Source: "new", Target: "old", Type: model.RelRelated, CreatedAt: t0})
	require.NoError(t, err)
	assert.NoError(t, r.ResolveDeletedFile("relations/r9.yaml", orphan, rels, exists))

	live, err := store.EncodeRelation(&model.Relation{ID: "r8", Source: "new", Target: "kept", Type: model.RelRelated, CreatedAt: t0})
	require.NoError(t, err)
	assert.ErrorIs(t, r.ResolveDeletedFile("relations/r8.yaml", live, rels, exists), ErrConflictUnresolved)
}

func TestPolicy(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	_, err = s.LoadAll(context.Background())
	require.NoError(t, err)
	ctx := context.Background()

	// The first replica to ask claims the unclaimed store.
	require.NoError(t, NewPolicy(s, "laptop", "", nil).CheckMaintenance(ctx))
	assert.Equal(t, "laptop", s.Meta().MaintenanceReplica)
	require.NoError(t, NewPolicy(s, "laptop", "", nil).Allow(ctx))

	assert.ErrorIs(t, NewPolicy(s, "desktop", "", nil).CheckMaintenance(ctx), ErrNotMaintainer)
	assert.ErrorIs(t, NewPolicy(s, "", "", nil).CheckMaintenance(ctx), ErrNotMaintainer)

	// Configuration overrides the recorded replica.
	require.NoError(t, NewPolicy(s, "desktop", "desktop", nil).CheckMaintenance(ctx))
	assert.Equal(t, "desktop", s.Meta().MaintenanceReplica)
	assert.ErrorIs(t, NewPolicy(s, "laptop", "desktop", nil).CheckMaintenance(ctx), ErrNotMaintainer)
}
