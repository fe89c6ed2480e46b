package index

import (
	"context"
	"math"
	"sort"

	"github.com/rcliao/memstore/internal/model"
)

// Scorer rates how alive a memory is, in [0, 1]. The lifecycle decay
// score is the usual choice.
type Scorer func(m *model.Memory) float64

// ContextParams holds parameters for context assembly.
type ContextParams struct {
	Query  string
	Tag    string
	Budget int // max tokens in output (rough proxy: 1 token ≈ 4 chars)
}

// ContextMemory is a scored memory for context output.
type ContextMemory struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Excerpt bool    `json:"excerpt,omitempty"`
}

// ContextResult is the assembled context response.
type ContextResult struct {
	Budget   int             `json:"budget"`
	Used     int             `json:"used"`
	Memories []ContextMemory `json:"memories"`
}

// Context searches active memories, ranks them by relevance, liveness and
// access frequency, then packs them greedily into the budget. Summaries
// stand in for content when present.
func (x *Index) Context(ctx context.Context, p ContextParams, score Scorer) (*ContextResult, error) {
	budget := p.Budget
	if budget <= 0 {
		budget = 4000
	}
	charBudget := budget * 4

	results, err := x.Search(ctx, SearchParams{
		Query:  p.Query,
		Status: model.StatusActive,
		Tag:    p.Tag,
		Limit:  50,
	})
	if err != nil {
		return nil, err
	}
	out := &ContextResult{Budget: budget, Memories: []ContextMemory{}}
	if len(results) == 0 {
		return out, nil
	}

	type scored struct {
		id, text string
		score    float64
	}
	candidates := make([]scored, 0, len(results))
	for i, r := range results {
		// Search returns best matches first.
		relevance := 1.0 / (1.0 + float64(i)*0.1)
		alive := 1.0
		if score != nil {
			alive = score(&r.Memory)
		}
		freq := 0.0
		if r.AccessCount > 0 {
			freq = math.Min(1, math.Log(float64(r.AccessCount)+1)/math.Log(100))
		}
		text := r.Content
		if r.Summary != "" {
			text = r.Summary
		}
		candidates = append(candidates, scored{
			id:    r.ID,
			text:  text,
			score: relevance*0.5 + alive*0.3 + freq*0.2,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	used := 0
	for _, c := range candidates {
		if used+len(c.text) <= charBudget {
			out.Memories = append(out.Memories, ContextMemory{
				ID: c.id, Content: c.text, Score: math.Round(c.score*100) / 100,
			})
			used += len(c.text)
			continue
		}
		if remaining := charBudget - used; remaining >= 100 {
			out.Memories = append(out.Memories, ContextMemory{
				ID: c.id, Content: c.text[:remaining] + "...", Score: math.Round(c.score*100) / 100, Excerpt: true,
			})
			used += remaining
		}
		break
	}
	out.Used = used / 4
	return out, nil
}
