package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/memstore/internal/model"
)

// LoadReport summarizes a directory scan.
type LoadReport struct {
	Memories  int           `json:"memories"`
	Relations int           `json:"relations"`
	Skipped   []error       `json:"-"`
	Took      time.Duration `json:"took"`
}

// LoadAll scans the record directories and replaces the cache. Files that
// fail validation are skipped and reported, never fatal. The exclusive lock
// is held for the whole scan so a reload cannot interleave with a changeset.
func (s *Store) LoadAll(ctx context.Context) (*LoadReport, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.loadMeta()
	if err != nil {
		return nil, err
	}

	memFiles, err := s.listFiles(memoriesDir, memoryExt)
	if err != nil {
		return nil, err
	}
	relFiles, err := s.listFiles(relationsDir, relationExt)
	if err != nil {
		return nil, err
	}

	mems := make([]*model.Memory, len(memFiles))
	rels := make([]*model.Relation, len(relFiles))
	memErrs := make([]error, len(memFiles))
	relErrs := make([]error, len(relFiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range memFiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mems[i], memErrs[i] = s.readMemory(path)
			return nil
		})
	}
	for i, path := range relFiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rels[i], relErrs[i] = s.readRelation(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &LoadReport{}
	s.memories = make(map[string]*model.Memory, len(mems))
	s.relations = make(map[string]*model.Relation, len(rels))
	s.byTag = map[string]map[string]struct{}{}
	s.byEndpoint = map[string]map[string]struct{}{}
	s.meta = meta

	for i, m := range mems {
		if memErrs[i] != nil {
			report.Skipped = append(report.Skipped, memErrs[i])
			continue
		}
		s.memories[m.ID] = m
		s.indexMemory(m)
	}
	for i, r := range rels {
		if relErrs[i] != nil {
			report.Skipped = append(report.Skipped, relErrs[i])
			continue
		}
		s.relations[r.ID] = r
		s.indexRelation(r)
	}
	for _, err := range report.Skipped {
		s.log.Warn("skipping invalid record file", zap.Error(err))
	}

	report.Memories = len(s.memories)
	report.Relations = len(s.relations)
	report.Took = time.Since(start)
	s.log.Debug("store loaded",
		zap.String("root", s.root),
		zap.Int("memories", report.Memories),
		zap.Int("relations", report.Relations),
		zap.Int("skipped", len(report.Skipped)))
	return report, nil
}

// Reload rescans the directory, e.g. after the transport delivered changes.
func (s *Store) Reload(ctx context.Context) (*LoadReport, error) {
	return s.LoadAll(ctx)
}

func (s *Store) loadMeta() (model.StoreMeta, error) {
	raw, err := s.fs.ReadFile(s.MetaPath())
	if errors.Is(err, fs.ErrNotExist) {
		meta := model.StoreMeta{FormatVersion: model.FormatVersion, CreatedAt: time.Now().UTC()}
		data, err := EncodeMeta(meta)
		if err != nil {
			return meta, err
		}
		if err := s.fs.WriteFile(s.MetaPath(), data); err != nil {
			return meta, fmt.Errorf("write meta: %w", err)
		}
		return meta, nil
	}
	if err != nil {
		return model.StoreMeta{}, fmt.Errorf("read meta: %w", err)
	}
	meta, err := DecodeMeta(raw)
	if err != nil {
		return model.StoreMeta{}, &SchemaError{Path: s.MetaPath(), Err: err}
	}
	if meta.FormatVersion > model.FormatVersion {
		return model.StoreMeta{}, fmt.Errorf("store format version %d is newer than supported %d",
			meta.FormatVersion, model.FormatVersion)
	}
	return meta, nil
}

func (s *Store) listFiles(dir, ext string) ([]string, error) {
	full := filepath.Join(s.root, dir)
	entries, err := s.fs.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", full, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		out = append(out, filepath.Join(full, e.Name()))
	}
	return out, nil
}

func (s *Store) readMemory(path string) (*model.Memory, error) {
	raw, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, &SchemaError{Path: path, Err: err}
	}
	m, err := DecodeMemory(raw)
	if err != nil {
		return nil, &SchemaError{Path: path, Err: err}
	}
	if want := strings.TrimSuffix(filepath.Base(path), memoryExt); m.ID != want {
		return nil, &SchemaError{Path: path, Err: fmt.Errorf("id %q does not match file name", m.ID)}
	}
	return m, nil
}

func (s *Store) readRelation(path string) (*model.Relation, error) {
	raw, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, &SchemaError{Path: path, Err: err}
	}
	r, err := DecodeRelation(raw)
	if err != nil {
		return nil, &SchemaError{Path: path, Err: err}
	}
	if want := strings.TrimSuffix(filepath.Base(path), relationExt); r.ID != want {
		return nil, &SchemaError{Path: path, Err: fmt.Errorf("id %q does not match file name", r.ID)}
	}
	return r, nil
}
