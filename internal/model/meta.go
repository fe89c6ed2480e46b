package model

import "time"

// FormatVersion is the on-disk layout version written by this build.
const FormatVersion = 1

// Migration records one backfill or import into the store.
type Migration struct {
	Source string    `yaml:"source" json:"source"`
	At     time.Time `yaml:"at" json:"at"`
	Count  int       `yaml:"count" json:"count"`
	Note   string    `yaml:"note,omitempty" json:"note,omitempty"`
}

// StoreMeta is the directory-level metadata record.
type StoreMeta struct {
	FormatVersion      int         `yaml:"format_version" json:"format_version"`
	CreatedAt          time.Time   `yaml:"created_at" json:"created_at"`
	MaintenanceReplica string      `yaml:"maintenance_replica,omitempty" json:"maintenance_replica,omitempty"`
	Migrations         []Migration `yaml:"migrations,omitempty" json:"migrations,omitempty"`
}

// OpKind names a multi-file changeset.
type OpKind string

const (
	OpConsolidate OpKind = "consolidate"
	OpSplit       OpKind = "split"
)

// SourcePolicy decides what happens to a split source.
type SourcePolicy string

const (
	SourceArchive SourcePolicy = "archive"
	SourceDelete  SourcePolicy = "delete"
)

// PendingOp is the durable marker written before a changeset starts and
// removed after its last file operation.
type PendingOp struct {
	ID          string       `yaml:"id"`
	Kind        OpKind       `yaml:"kind"`
	Label       string       `yaml:"label"`
	StartedAt   time.Time    `yaml:"started_at"`
	NewMemories []string     `yaml:"new_memories"`
	NewRelation []string     `yaml:"new_relations"`
	Sources     []string     `yaml:"sources"`
	Policy      SourcePolicy `yaml:"source_policy"`
}
