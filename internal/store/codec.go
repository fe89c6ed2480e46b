package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/memstore/internal/model"
)

// Declared schemas, one per file kind.
const (
	SchemaMemory   = "memory/v1"
	SchemaRelation = "relation/v1"
	SchemaMeta     = "meta/v1"
	SchemaPending  = "pending/v1"
)

const frontMatterDelimiter = "---"

type memoryDoc struct {
	Schema       string `yaml:"schema"`
	model.Memory `yaml:",inline"`
}

type relationDoc struct {
	Schema         string `yaml:"schema"`
	model.Relation `yaml:",inline"`
}

type metaDoc struct {
	Schema          string `yaml:"schema"`
	model.StoreMeta `yaml:",inline"`
}

type pendingDoc struct {
	Schema          string `yaml:"schema"`
	model.PendingOp `yaml:",inline"`
}

// EncodeMemory renders a memory as YAML front-matter followed by its content.
func EncodeMemory(m *model.Memory) ([]byte, error) {
	front, err := yaml.Marshal(&memoryDoc{Schema: SchemaMemory, Memory: *m})
	if err != nil {
		return nil, fmt.Errorf("encode memory %s: %w", m.ID, err)
	}
	var sb strings.Builder
	sb.WriteString(frontMatterDelimiter + "\n")
	sb.Write(front)
	sb.WriteString(frontMatterDelimiter + "\n\n")
	sb.WriteString(m.Content)
	return []byte(sb.String()), nil
}

// DecodeMemory parses and validates a memory file.
func DecodeMemory(raw []byte) (*model.Memory, error) {
	s := string(raw)
	if !strings.HasPrefix(s, frontMatterDelimiter) {
		return nil, fmt.Errorf("missing front-matter delimiter")
	}
	rest := s[len(frontMatterDelimiter):]
	idx := strings.Index(rest, "\n"+frontMatterDelimiter)
	if idx == -1 {
		return nil, fmt.Errorf("unclosed front-matter block")
	}
	body := rest[idx+len("\n"+frontMatterDelimiter):]
	if strings.HasPrefix(body, "\n\n") {
		body = body[2:]
	} else if strings.HasPrefix(body, "\n") {
		body = body[1:]
	}

	var doc memoryDoc
	if err := yaml.Unmarshal([]byte(rest[:idx]), &doc); err != nil {
		return nil, fmt.Errorf("front-matter: %w", err)
	}
	if doc.Schema != SchemaMemory {
		return nil, fmt.Errorf("unsupported schema %q (want %s)", doc.Schema, SchemaMemory)
	}
	m := doc.Memory
	m.Content = body
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// normalizeMap returns m as it reads back from a record file, so a cached
// record equals the one a reload or another replica decodes.
func normalizeMap(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return m, nil
	}
	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeRelation renders a relation file.
func EncodeRelation(r *model.Relation) ([]byte, error) {
	b, err := yaml.Marshal(&relationDoc{Schema: SchemaRelation, Relation: *r})
	if err != nil {
		return nil, fmt.Errorf("encode relation %s: %w", r.ID, err)
	}
	return b, nil
}

// DecodeRelation parses and validates a relation file.
func DecodeRelation(raw []byte) (*model.Relation, error) {
	var doc relationDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Schema != SchemaRelation {
		return nil, fmt.Errorf("unsupported schema %q (want %s)", doc.Schema, SchemaRelation)
	}
	r := doc.Relation
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// EncodeMeta renders the store metadata file.
func EncodeMeta(m model.StoreMeta) ([]byte, error) {
	return yaml.Marshal(&metaDoc{Schema: SchemaMeta, StoreMeta: m})
}

// DecodeMeta parses the store metadata file.
func DecodeMeta(raw []byte) (model.StoreMeta, error) {
	var doc metaDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return model.StoreMeta{}, err
	}
	if doc.Schema != SchemaMeta {
		return model.StoreMeta{}, fmt.Errorf("unsupported schema %q (want %s)", doc.Schema, SchemaMeta)
	}
	return doc.StoreMeta, nil
}

func encodePending(op *model.PendingOp) ([]byte, error) {
	return yaml.Marshal(&pendingDoc{Schema: SchemaPending, PendingOp: *op})
}

func decodePending(raw []byte) (*model.PendingOp, error) {
	var doc pendingDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Schema != SchemaPending {
		return nil, fmt.Errorf("unsupported schema %q (want %s)", doc.Schema, SchemaPending)
	}
	op := doc.PendingOp
	return &op, nil
}

// FileKind classifies a path inside the store directory.
type FileKind int

const (
	KindUnknown FileKind = iota
	KindMemory
	KindRelation
	KindMeta
)

// Classify reports what a store-relative path holds and, for records,
// the id encoded in its file name.
func Classify(path string) (FileKind, string) {
	path = filepath.ToSlash(path)
	dir, name := filepath.Base(filepath.Dir(path)), filepath.Base(path)
	switch {
	case name == metaFile:
		return KindMeta, ""
	case dir == memoriesDir && strings.HasSuffix(name, memoryExt):
		return KindMemory, strings.TrimSuffix(name, memoryExt)
	case dir == relationsDir && strings.HasSuffix(name, relationExt):
		return KindRelation, strings.TrimSuffix(name, relationExt)
	}
	return KindUnknown, ""
}
