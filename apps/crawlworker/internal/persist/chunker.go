package persist

import (
	"strings"

	"github.com/ragforge/crawlmesh/pkg/tokenizer"
)

// chunk is one token-bounded slice of a page's content, produced before
// embedding.
type chunk struct {
	Index   int
	Content string
	Tokens  int
}

// tokenChunker splits content into overlapping, token-bounded chunks,
// grounded on apps/rag-loader/internal/processor/chunker.go's
// FixedSizeChunker sliding-window shape, generalized from an approximate
// word count to a real token count via pkg/tokenizer.SimpleTokenizer --
// the teacher's own chunker only counts words, which undercounts tokens
// for punctuation-heavy or non-English content.
type tokenChunker struct {
	tok           tokenizer.Tokenizer
	maxTokens     int
	overlapTokens int
}

func newTokenChunker(maxTokens, overlapTokens int) *tokenChunker {
	return &tokenChunker{
		tok:           tokenizer.NewSimpleTokenizer(maxTokens),
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
	}
}

// split breaks content into chunks of at most maxTokens tokens, each
// overlapping the previous by overlapTokens, walking word boundaries so
// chunk boundaries never land inside a word.
func (c *tokenChunker) split(content string) []chunk {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}

	var chunks []chunk
	index := 0

	for start := 0; start < len(words); {
		end := start
		for end < len(words) {
			next := c.tok.CountTokens(strings.Join(words[start:end+1], " "))
			if next > c.maxTokens && end > start {
				break
			}
			end++
		}

		text := strings.Join(words[start:end], " ")
		chunks = append(chunks, chunk{Index: index, Content: text, Tokens: c.tok.CountTokens(text)})
		index++

		if end >= len(words) {
			break
		}

		// Step forward leaving room for the configured overlap, measured
		// in words as a proxy (the teacher's own chunker does the same
		// approximation rather than walking tokens backward one at a
		// time).
		overlapWords := 0
		overlapTok := 0
		for i := end - 1; i > start && overlapTok < c.overlapTokens; i-- {
			overlapTok += c.tok.CountTokens(words[i])
			overlapWords++
		}
		nextStart := end - overlapWords
		if nextStart <= start {
			nextStart = start + 1
		}
		start = nextStart
	}

	return chunks
}
