package store

import (
	"io/fs"
	"path/filepath"

	"github.com/rcliao/memstore/internal/model"
)

// Stats holds store statistics.
type Stats struct {
	Root               string                     `json:"root"`
	DiskBytes          int64                      `json:"disk_bytes"`
	FormatVersion      int                        `json:"format_version"`
	MaintenanceReplica string                     `json:"maintenance_replica,omitempty"`
	TotalMemories      int                        `json:"total_memories"`
	ByStatus           map[model.Status]int       `json:"by_status"`
	TotalRelations     int                        `json:"total_relations"`
	ByRelationType     map[model.RelationType]int `json:"by_relation_type"`
	DanglingRelations  int                        `json:"dangling_relations"`
	Tags               int                        `json:"tags"`
	PendingOps         int                        `json:"pending_ops"`
}

// Stats returns store statistics.
func (s *Store) Stats() *Stats {
	s.mu.RLock()
	st := &Stats{
		Root:               s.root,
		FormatVersion:      s.meta.FormatVersion,
		MaintenanceReplica: s.meta.MaintenanceReplica,
		TotalMemories:      len(s.memories),
		ByStatus:           map[model.Status]int{},
		TotalRelations:     len(s.relations),
		ByRelationType:     map[model.RelationType]int{},
		Tags:               len(s.byTag),
	}
	for _, m := range s.memories {
		st.ByStatus[m.Status]++
	}
	for _, r := range s.relations {
		st.ByRelationType[r.Type]++
		_, src := s.memories[r.Source]
		_, dst := s.memories[r.Target]
		if !src || !dst {
			st.DanglingRelations++
		}
	}
	s.mu.RUnlock()

	if ops, _, err := s.PendingOps(); err == nil {
		st.PendingOps = len(ops)
	}
	for _, dir := range []string{memoriesDir, relationsDir} {
		entries, err := s.fs.ReadDir(filepath.Join(s.root, dir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if info, err := e.Info(); err == nil && info.Mode().IsRegular() {
				st.DiskBytes += info.Size()
			}
		}
	}
	if info, err := s.fs.Stat(s.MetaPath()); err == nil && info.Mode()&fs.ModeType == 0 {
		st.DiskBytes += info.Size()
	}
	return st
}
