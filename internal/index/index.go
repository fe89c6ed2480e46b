// Package index maintains a derived SQLite full-text index over the store.
// It holds no source of truth: Rebuild replaces it from a snapshot and the
// file can be deleted at any time.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/memstore/internal/chunker"
	"github.com/rcliao/memstore/internal/store"
)

// Index is a disposable FTS5 database.
type Index struct {
	db   *sql.DB
	path string
}

// Open opens or creates the index database at path.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	x := &Index{db: db, path: path}
	if err := x.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	return x, nil
}

// Close closes the database.
func (x *Index) Close() error { return x.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id           TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	summary      TEXT,
	status       TEXT NOT NULL,
	tags         TEXT,
	strength     REAL NOT NULL,
	access_count INTEGER NOT NULL,
	created_at   TEXT NOT NULL,
	last_access  TEXT NOT NULL,
	embedding    TEXT
);
CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);

CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY,
	memory_id   TEXT NOT NULL REFERENCES memories(id),
	seq         INTEGER NOT NULL,
	text        TEXT NOT NULL,
	start_line  INTEGER,
	end_line    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_chunks_memory ON chunks(memory_id);

CREATE TABLE IF NOT EXISTS relations (
	id     TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	type   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source);
CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	text,
	content=chunks,
	content_rowid=id
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES('delete', old.id, old.text);
END;
`

func (x *Index) migrate() error {
	_, err := x.db.Exec(schema)
	return err
}

// RebuildResult counts what was indexed.
type RebuildResult struct {
	Memories  int           `json:"memories"`
	Chunks    int           `json:"chunks"`
	Relations int           `json:"relations"`
	Took      time.Duration `json:"took"`
}

// Rebuild replaces the whole index with the contents of snap.
func (x *Index) Rebuild(ctx context.Context, snap *store.Snapshot) (*RebuildResult, error) {
	start := time.Now()
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM chunks`,
		`DELETE FROM memories`,
		`DELETE FROM relations`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("clear index: %w", err)
		}
	}

	res := &RebuildResult{}
	for _, m := range snap.Memories {
		var tagsJSON, embJSON *string
		if len(m.Metadata.Tags) > 0 {
			b, _ := json.Marshal(m.Metadata.Tags)
			s := string(b)
			tagsJSON = &s
		}
		if len(m.Embedding) > 0 {
			b, _ := json.Marshal(m.Embedding)
			s := string(b)
			embJSON = &s
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO memories (id, content, summary, status, tags, strength, access_count, created_at, last_access, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.Content, m.Summary, string(m.Status), tagsJSON, m.Strength, m.AccessCount,
			m.CreatedAt.UTC().Format(time.RFC3339Nano), m.LastAccess.UTC().Format(time.RFC3339Nano), embJSON)
		if err != nil {
			return nil, fmt.Errorf("index memory %s: %w", m.ID, err)
		}
		res.Memories++

		for i, c := range chunker.Chunk(m.Content, chunker.DefaultOptions()) {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (memory_id, seq, text, start_line, end_line) VALUES (?, ?, ?, ?, ?)`,
				m.ID, i, c.Text, c.StartLine, c.EndLine)
			if err != nil {
				return nil, fmt.Errorf("index chunk %s/%d: %w", m.ID, i, err)
			}
			res.Chunks++
		}
	}
	for _, r := range snap.Relations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO relations (id, source, target, type) VALUES (?, ?, ?, ?)`,
			r.ID, r.Source, r.Target, string(r.Type))
		if err != nil {
			return nil, fmt.Errorf("index relation %s: %w", r.ID, err)
		}
		res.Relations++
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	res.Took = time.Since(start)
	return res, nil
}
