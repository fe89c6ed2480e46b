// Package conflict resolves divergent versions of the same record written
// by different replicas, and restricts maintenance to one replica.
//
// Every merge here is a max over a total order, which makes it
// commutative, associative and idempotent: replicas converge no matter
// how many there are or in which order they pairwise merge.
package conflict

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/store"
)

// ErrConflictUnresolved marks a conflict that needs an operator.
var ErrConflictUnresolved = errors.New("conflict unresolved")

// UnresolvedError names the conflicting record and why it was not merged.
type UnresolvedError struct {
	Path   string
	ID     string
	Reason string
}

func (e *UnresolvedError) Error() string {
	what := e.ID
	if what == "" {
		what = e.Path
	}
	return fmt.Sprintf("conflict unresolved: %s: %s", what, e.Reason)
}

func (e *UnresolvedError) Unwrap() error { return ErrConflictUnresolved }

// Merge picks between two versions of one memory: the later last access
// wins, then the higher access count, then the greater id, then the
// lexically greater encoding. A version that cannot be encoded loses to
// one that can.
func Merge(local, remote *model.Memory) *model.Memory {
	if compareMemory(local, remote) >= 0 {
		return local.Clone()
	}
	return remote.Clone()
}

func compareMemory(a, b *model.Memory) int {
	if c := a.LastAccess.Compare(b.LastAccess); c != 0 {
		return c
	}
	if a.AccessCount != b.AccessCount {
		if a.AccessCount > b.AccessCount {
			return 1
		}
		return -1
	}
	if c := strings.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	return compareCanonical(
		func() ([]byte, error) { return store.EncodeMemory(a) },
		func() ([]byte, error) { return store.EncodeMemory(b) },
		func() string { return printed(a.Content, a.Summary, a.Status, a.Strength, a.Metadata, a.Entities, a.Embedding) },
		func() string { return printed(b.Content, b.Summary, b.Status, b.Strength, b.Metadata, b.Entities, b.Embedding) },
	)
}

// compareCanonical orders two versions by their encoding. A version that
// cannot be encoded sorts below any that can, and two such versions are
// ordered by their printed fields, so the order stays total.
func compareCanonical(encA, encB func() ([]byte, error), printA, printB func() string) int {
	ea, errA := safeEncode(encA)
	eb, errB := safeEncode(encB)
	switch {
	case errA == nil && errB == nil:
		return bytes.Compare(ea, eb)
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	}
	return strings.Compare(printA(), printB())
}

// safeEncode turns an encoder panic on an unsupported value into an error.
func safeEncode(enc func() ([]byte, error)) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encode: %v", r)
		}
	}()
	return enc()
}

func printed(fields ...any) string {
	return fmt.Sprint(fields...)
}

// MergeRelation picks between two versions of one relation: the later
// creation wins, then the lexically greater encoding.
func MergeRelation(local, remote *model.Relation) *model.Relation {
	c := local.CreatedAt.Compare(remote.CreatedAt)
	if c == 0 {
		c = compareCanonical(
			func() ([]byte, error) { return store.EncodeRelation(local) },
			func() ([]byte, error) { return store.EncodeRelation(remote) },
			func() string { return printed(local.Source, local.Target, local.Type, local.Strength, local.Metadata) },
			func() string { return printed(remote.Source, remote.Target, remote.Type, remote.Strength, remote.Metadata) },
		)
	}
	if c >= 0 {
		return local.Clone()
	}
	return remote.Clone()
}

// MergeMeta combines two store metadata records. Two different maintenance
// replicas mean maintenance ran in two places, which is never merged
// automatically.
func MergeMeta(local, remote model.StoreMeta) (model.StoreMeta, error) {
	out := model.StoreMeta{FormatVersion: max(local.FormatVersion, remote.FormatVersion)}

	switch {
	case local.CreatedAt.IsZero():
		out.CreatedAt = remote.CreatedAt
	case remote.CreatedAt.IsZero() || local.CreatedAt.Before(remote.CreatedAt):
		out.CreatedAt = local.CreatedAt
	default:
		out.CreatedAt = remote.CreatedAt
	}

	switch {
	case local.MaintenanceReplica == remote.MaintenanceReplica, remote.MaintenanceReplica == "":
		out.MaintenanceReplica = local.MaintenanceReplica
	case local.MaintenanceReplica == "":
		out.MaintenanceReplica = remote.MaintenanceReplica
	default:
		return out, &UnresolvedError{
			Path: "meta.yaml",
			Reason: fmt.Sprintf("maintenance ran on two replicas (%s, %s)",
				local.MaintenanceReplica, remote.MaintenanceReplica),
		}
	}

	seen := map[string]bool{}
	for _, m := range append(append([]model.Migration{}, local.Migrations...), remote.Migrations...) {
		key := fmt.Sprintf("%s|%s|%d|%s", m.Source, m.At.UTC().Format("2006-01-02T15:04:05.999999999Z"), m.Count, m.Note)
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Migrations = append(out.Migrations, m)
	}
	sort.SliceStable(out.Migrations, func(i, j int) bool {
		a, b := out.Migrations[i], out.Migrations[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Count != b.Count {
			return a.Count < b.Count
		}
		return a.Note < b.Note
	})
	return out, nil
}

// ResolveDeletion settles a delete-vs-modify conflict on a memory. The
// deletion wins (nil) only when the merged relation set shows the memory
// was absorbed by a consolidation or split; otherwise the conflict is
// escalated.
func ResolveDeletion(deletedID string, relations []*model.Relation) error {
	for _, r := range relations {
		if r.Type.IsDerivation() && r.Target == deletedID {
			return nil
		}
	}
	return &UnresolvedError{
		ID:     deletedID,
		Reason: "deleted on one replica, modified on another, no provenance explains the deletion",
	}
}
