package store

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/rcliao/memstore/internal/model"
)

// WritePending durably records a changeset before it starts. Markers live
// in a local directory that is never synchronized.
func (s *Store) WritePending(op *model.PendingOp) error {
	data, err := encodePending(op)
	if err != nil {
		return fmt.Errorf("encode pending op %s: %w", op.ID, err)
	}
	if err := s.fs.WriteFile(s.pendingPath(op.ID), data); err != nil {
		return fmt.Errorf("write pending op %s: %w", op.ID, err)
	}
	return nil
}

// RemovePending clears a marker. Clearing an absent marker is not an error.
func (s *Store) RemovePending(id string) error {
	if err := s.fs.Remove(s.pendingPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pending op %s: %w", id, err)
	}
	return nil
}

// PendingOps returns every leftover marker, oldest first. Unreadable
// markers are reported as SchemaError alongside the valid ones.
func (s *Store) PendingOps() ([]*model.PendingOp, []error, error) {
	paths, err := s.listFiles(pendingDir, ".yaml")
	if err != nil {
		return nil, nil, err
	}
	var ops []*model.PendingOp
	var bad []error
	for _, path := range paths {
		raw, err := s.fs.ReadFile(path)
		if err != nil {
			bad = append(bad, &SchemaError{Path: path, Err: err})
			continue
		}
		op, err := decodePending(raw)
		if err != nil {
			bad = append(bad, &SchemaError{Path: path, Err: err})
			continue
		}
		if op.ID+".yaml" != filepath.Base(path) {
			bad = append(bad, &SchemaError{Path: path, Err: fmt.Errorf("op id %q does not match file name", op.ID)})
			continue
		}
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].StartedAt.Before(ops[j].StartedAt) })
	return ops, bad, nil
}
