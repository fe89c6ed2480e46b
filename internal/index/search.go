package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/memstore/internal/embedding"
	"github.com/rcliao/memstore/internal/model"
)

// SearchParams holds parameters for searching the index.
type SearchParams struct {
	Query  string
	Status model.Status
	Tag    string
	Limit  int
	// Vector, when set, reorders hits by cosine similarity.
	Vector embedding.Vector
}

// SearchResult wraps a memory with the chunk that matched.
type SearchResult struct {
	model.Memory
	MatchChunk string  `json:"match_chunk,omitempty"`
	Rank       float64 `json:"rank"`
	Similarity float64 `json:"similarity,omitempty"`
}

// Search runs a full-text phrase query over indexed chunks.
func (x *Index) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, fmt.Errorf("empty query")
	}

	where := []string{"chunks_fts MATCH ?"}
	args := []any{ftsPhrase(p.Query)}
	if p.Status != "" {
		where = append(where, "m.status = ?")
		args = append(args, string(p.Status))
	}
	if p.Tag != "" {
		where = append(where, "m.tags LIKE ?")
		args = append(args, "%\""+p.Tag+"\"%")
	}

	query := fmt.Sprintf(`
		SELECT m.id, m.content, m.summary, m.status, m.tags, m.strength, m.access_count,
		       m.created_at, m.last_access, m.embedding, c.text, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		JOIN memories m ON m.id = c.memory_id
		WHERE %s
		ORDER BY rank
		LIMIT ?`, strings.Join(where, " AND "))
	// Several chunks of one memory may match; over-fetch before dedup.
	args = append(args, limit*4)

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	seen := map[string]bool{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(p.Vector) > 0 {
		for i := range results {
			results[i].Similarity = embedding.CosineSimilarity(p.Vector, results[i].Embedding)
		}
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Similarity > results[j].Similarity
		})
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ftsPhrase quotes the query as a single FTS5 phrase so user input never
// parses as query syntax.
func ftsPhrase(q string) string {
	return `"` + strings.ReplaceAll(strings.TrimSpace(q), `"`, `""`) + `"`
}

func scanResult(rows *sql.Rows) (SearchResult, error) {
	var r SearchResult
	var summary, tags, emb sql.NullString
	var status, createdAt, lastAccess string
	err := rows.Scan(&r.ID, &r.Content, &summary, &status, &tags, &r.Strength, &r.AccessCount,
		&createdAt, &lastAccess, &emb, &r.MatchChunk, &r.Rank)
	if err != nil {
		return r, err
	}
	r.Status = model.Status(status)
	r.Summary = summary.String
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.LastAccess, _ = time.Parse(time.RFC3339Nano, lastAccess)
	if tags.Valid {
		json.Unmarshal([]byte(tags.String), &r.Metadata.Tags)
	}
	if emb.Valid {
		json.Unmarshal([]byte(emb.String), &r.Embedding)
	}
	return r, nil
}
