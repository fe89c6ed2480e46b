// Package chunker segments markdown content. The index uses Chunk to cut
// memories into searchable windows; split uses Sections to derive atoms.
package chunker

import (
	"strings"
)

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// Options configures chunking behavior.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{TargetSize: DefaultTargetSize, MaxSize: DefaultMaxSize}
}

// ChunkResult is a chunk with its 1-based line span in the original text.
type ChunkResult struct {
	Text      string
	StartLine int
	EndLine   int
}

// Sections splits text at headings and blank-line paragraph breaks. A
// heading stays attached to the paragraph that follows it.
func Sections(text string) []ChunkResult {
	lines := strings.Split(text, "\n")
	var out []ChunkResult
	var cur []string
	start := 0
	headingOnly := false

	flush := func(end int) {
		t := strings.TrimSpace(strings.Join(cur, "\n"))
		if t != "" {
			out = append(out, ChunkResult{Text: t, StartLine: start + 1, EndLine: end})
		}
		cur = nil
		headingOnly = false
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			if len(cur) > 0 && !headingOnly {
				flush(i)
			}
			if len(cur) == 0 {
				start = i
			}
			cur = append(cur, line)
			headingOnly = true
		case trimmed == "":
			if len(cur) > 0 && !headingOnly {
				flush(i)
			}
		default:
			if len(cur) == 0 {
				start = i
			}
			cur = append(cur, line)
			headingOnly = false
		}
	}
	flush(len(lines))
	return out
}

// Chunk cuts text into windows near opts.TargetSize. Text no longer than
// opts.MaxSize is a single chunk.
func Chunk(text string, opts Options) []ChunkResult {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= opts.MaxSize {
		return []ChunkResult{{Text: text, StartLine: 1, EndLine: strings.Count(text, "\n") + 1}}
	}

	var out []ChunkResult
	var acc *ChunkResult
	emit := func() {
		if acc == nil {
			return
		}
		if len(acc.Text) > opts.MaxSize {
			out = append(out, splitLines(*acc, opts.TargetSize)...)
		} else {
			out = append(out, *acc)
		}
		acc = nil
	}

	for _, sec := range Sections(text) {
		if acc == nil {
			s := sec
			acc = &s
			continue
		}
		if len(acc.Text)+2+len(sec.Text) <= opts.TargetSize {
			acc.Text += "\n\n" + sec.Text
			acc.EndLine = sec.EndLine
			continue
		}
		emit()
		s := sec
		acc = &s
	}
	emit()
	return out
}

// splitLines hard-splits an oversized section on line boundaries.
func splitLines(c ChunkResult, target int) []ChunkResult {
	lines := strings.Split(c.Text, "\n")
	var out []ChunkResult
	var cur []string
	curStart, curLen := c.StartLine, 0

	for i, line := range lines {
		if curLen+len(line) > target && len(cur) > 0 {
			if t := strings.TrimSpace(strings.Join(cur, "\n")); t != "" {
				out = append(out, ChunkResult{Text: t, StartLine: curStart, EndLine: c.StartLine + i - 1})
			}
			cur, curStart, curLen = nil, c.StartLine+i, 0
		}
		cur = append(cur, line)
		curLen += len(line) + 1
	}
	if t := strings.TrimSpace(strings.Join(cur, "\n")); t != "" {
		out = append(out, ChunkResult{Text: t, StartLine: curStart, EndLine: c.StartLine + len(lines) - 1})
	}
	return out
}
