package persist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenChunkerRespectsMaxTokens(t *testing.T) {
	c := newTokenChunker(10, 2)
	content := strings.Repeat("word ", 50)

	chunks := c.split(content)

	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		require.LessOrEqual(t, ch.Tokens, 10)
	}
}

func TestTokenChunkerProducesOverlap(t *testing.T) {
	c := newTokenChunker(5, 2)
	words := make([]string, 20)
	for i := range words {
		words[i] = "w" + string(rune('a'+i))
	}
	content := strings.Join(words, " ")

	chunks := c.split(content)
	require.Greater(t, len(chunks), 1)

	// Consecutive chunks should share at least one word at the boundary.
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Content)
		currWords := strings.Fields(chunks[i].Content)
		require.NotEmpty(t, prevWords)
		require.NotEmpty(t, currWords)
		require.Contains(t, prevWords, currWords[0])
	}
}

func TestTokenChunkerEmptyContent(t *testing.T) {
	c := newTokenChunker(10, 2)
	require.Empty(t, c.split(""))
	require.Empty(t, c.split("   "))
}
