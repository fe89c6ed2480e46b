package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_EmptyInput(t *testing.T) {
	assert.Nil(t, Chunk("", DefaultOptions()))
	assert.Nil(t, Chunk("  \n\n ", DefaultOptions()))
}

func TestChunk_ShortContent(t *testing.T) {
	text := "This is a short memory."
	result := Chunk(text, DefaultOptions())
	require.Len(t, result, 1)
	assert.Equal(t, text, result[0].Text)
	assert.Equal(t, 1, result[0].StartLine)
}

func TestChunk_SplitsOnHeadings(t *testing.T) {
	section := strings.Repeat("Some content filling space. ", 12) // ~336 chars
	text := "# Section One\n\n" + section + "\n\n# Section Two\n\n" + section + "\n\n# Section Three\n\n" + section

	result := Chunk(text, DefaultOptions())
	require.GreaterOrEqual(t, len(result), 2)
	assert.Contains(t, result[0].Text, "Section One")
}

func TestChunk_RespectsMaxSize(t *testing.T) {
	opts := Options{TargetSize: 200, MaxSize: 300}
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, "This is a line of text that is about fifty characters long.")
	}
	result := Chunk(strings.Join(lines, "\n"), opts)
	require.GreaterOrEqual(t, len(result), 2)
	for _, c := range result {
		assert.LessOrEqual(t, len(c.Text), opts.MaxSize)
	}
}

func TestChunk_MergesSmallSections(t *testing.T) {
	para := strings.Repeat("word ", 30)
	text := "# A\n\n" + para + "\n\n# B\n\n" + para + "\n\n# C\n\n" + strings.Repeat("longer text ", 60)

	result := Chunk(text, Options{TargetSize: 400, MaxSize: 500})
	require.GreaterOrEqual(t, len(result), 2)
	assert.Contains(t, result[0].Text, "# A")
	assert.Contains(t, result[0].Text, "# B")
}

func TestSections(t *testing.T) {
	text := "# A\n\nShort.\n\n# B\n\nAlso short.\nSecond line."

	got := Sections(text)
	require.Len(t, got, 2)
	assert.Equal(t, "# A\nShort.", got[0].Text)
	assert.Equal(t, 1, got[0].StartLine)
	assert.Equal(t, "# B\nAlso short.\nSecond line.", got[1].Text)
	assert.Equal(t, 5, got[1].StartLine)
	assert.Equal(t, 8, got[1].EndLine)
}

func TestSections_Paragraphs(t *testing.T) {
	got := Sections("first fact\n\n\nsecond fact\n")
	require.Len(t, got, 2)
	assert.Equal(t, "first fact", got[0].Text)
	assert.Equal(t, "second fact", got[1].Text)
}
