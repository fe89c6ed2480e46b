// Package store is the file-grained entity store: one file per memory and
// per relation, fronted by an in-memory cache that is written through on
// every mutation.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memstore/internal/embedding"
	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/summarize"
)

const (
	memoriesDir  = "memories"
	relationsDir = "relations"
	pendingDir   = ".pending"
	metaFile     = "meta.yaml"
	memoryExt    = ".md"
	relationExt  = ".yaml"
)

var (
	// ErrNotFound is returned for get/delete on an absent id.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when a fresh id is already in use.
	ErrExists = errors.New("already exists")
	// ErrSchemaInvalid marks a file that failed validation at load.
	ErrSchemaInvalid = errors.New("schema invalid")
)

// SchemaError reports one file skipped during load.
type SchemaError struct {
	Path string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema invalid: %s: %v", e.Path, e.Err)
}

func (e *SchemaError) Unwrap() []error { return []error{ErrSchemaInvalid, e.Err} }

// Store owns the record directory and its cache. Reads run concurrently;
// every write holds the exclusive lock.
type Store struct {
	root string
	fs   FS
	log  *zap.Logger

	summarizer    summarize.Summarizer
	summaryLevel  int
	tokens        summarize.TokenCounter
	minTokens     int
	embedder      embedding.Embedder
	enrichTimeout time.Duration

	mu         sync.RWMutex
	memories   map[string]*model.Memory
	relations  map[string]*model.Relation
	byTag      map[string]map[string]struct{}
	byEndpoint map[string]map[string]struct{}
	meta       model.StoreMeta
}

// Option configures a Store.
type Option func(*Store)

// WithFS replaces the file system (tests).
func WithFS(fs FS) Option { return func(s *Store) { s.fs = fs } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// WithSummarizer injects the summary capability used at write time.
func WithSummarizer(sum summarize.Summarizer, level int) Option {
	return func(s *Store) {
		if sum != nil {
			s.summarizer = sum
		}
		s.summaryLevel = level
	}
}

// WithTokenCounter sets how content length is measured for the summary threshold.
func WithTokenCounter(c summarize.TokenCounter) Option {
	return func(s *Store) {
		if c != nil {
			s.tokens = c
		}
	}
}

// WithMinSummaryTokens sets the content size below which no summary is kept.
func WithMinSummaryTokens(n int) Option { return func(s *Store) { s.minTokens = n } }

// WithEmbedder injects an embedder that fills missing embeddings at write time.
func WithEmbedder(e embedding.Embedder) Option { return func(s *Store) { s.embedder = e } }

// WithEnrichTimeout bounds summarizer and embedder calls.
func WithEnrichTimeout(d time.Duration) Option { return func(s *Store) { s.enrichTimeout = d } }

// Open prepares the directory layout under root. Call LoadAll before use.
func Open(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:          root,
		fs:            OSFS{},
		log:           zap.NewNop(),
		summarizer:    summarize.Nop{},
		summaryLevel:  1,
		tokens:        summarize.WordCounter{},
		minTokens:     summarize.DefaultMinTokens,
		enrichTimeout: 2 * time.Second,
		memories:      map[string]*model.Memory{},
		relations:     map[string]*model.Relation{},
		byTag:         map[string]map[string]struct{}{},
		byEndpoint:    map[string]map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	for _, dir := range []string{memoriesDir, relationsDir, pendingDir} {
		if err := s.fs.MkdirAll(filepath.Join(root, dir)); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// MemoryPath returns the file holding memory id.
func (s *Store) MemoryPath(id string) string {
	return filepath.Join(s.root, memoriesDir, id+memoryExt)
}

// RelationPath returns the file holding relation id.
func (s *Store) RelationPath(id string) string {
	return filepath.Join(s.root, relationsDir, id+relationExt)
}

// MetaPath returns the store metadata file.
func (s *Store) MetaPath() string { return filepath.Join(s.root, metaFile) }

func (s *Store) pendingPath(id string) string {
	return filepath.Join(s.root, pendingDir, id+".yaml")
}

// Prepare fills derived fields (summary, embedding) before a write. It
// never fails: a slow or missing collaborator leaves the field empty.
// Call it outside Update so the lock is not held across the calls.
func (s *Store) Prepare(ctx context.Context, m *model.Memory) {
	if s.tokens.Count(m.Content) < s.minTokens {
		m.Summary = ""
	} else if m.Summary == "" {
		cctx, cancel := context.WithTimeout(ctx, s.enrichTimeout)
		sum, ok, err := s.summarizer.Summarize(cctx, m.Content, s.summaryLevel)
		cancel()
		switch {
		case err != nil:
			s.log.Debug("summarizer unavailable", zap.String("id", m.ID), zap.Error(err))
		case ok:
			m.Summary = sum
		}
	}

	if s.embedder != nil && len(m.Embedding) == 0 {
		cctx, cancel := context.WithTimeout(ctx, s.enrichTimeout)
		vec, err := s.embedder.Embed(cctx, m.Content)
		cancel()
		if err != nil {
			s.log.Debug("embedder unavailable", zap.String("id", m.ID), zap.Error(err))
		} else {
			m.Embedding = vec
		}
	}
}

// Update runs fn holding the exclusive lock. Multi-file changesets go
// through here so no reader in this process sees them half-applied.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{s: s})
}

// PutMemory prepares and writes m, replacing any prior version.
func (s *Store) PutMemory(ctx context.Context, m *model.Memory) error {
	m = m.Clone()
	s.Prepare(ctx, m)
	return s.Update(ctx, func(tx *Tx) error { return tx.PutMemory(m) })
}

// GetMemory returns a copy of the cached memory.
func (s *Store) GetMemory(id string) (*model.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return m.Clone(), nil
}

// DeleteMemory removes the memory's file and cache entry. Relations are
// left alone; orphan cleanup is the caller's decision.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.DeleteMemory(id) })
}

// PutRelation writes r, replacing any prior version.
func (s *Store) PutRelation(ctx context.Context, r *model.Relation) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.PutRelation(r) })
}

// GetRelation returns a copy of the cached relation.
func (s *Store) GetRelation(id string) (*model.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relations[id]
	if !ok {
		return nil, fmt.Errorf("relation %s: %w", id, ErrNotFound)
	}
	return r.Clone(), nil
}

// DeleteRelation removes a relation's file and cache entry.
func (s *Store) DeleteRelation(ctx context.Context, id string) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.DeleteRelation(id) })
}

// Meta returns the store metadata.
func (s *Store) Meta() model.StoreMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMeta(s.meta)
}

func cloneMeta(m model.StoreMeta) model.StoreMeta {
	m.Migrations = append([]model.Migration(nil), m.Migrations...)
	return m
}
