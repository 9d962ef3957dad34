package pagefetch

import (
	"regexp"
	"strings"
)

const (
	// DefaultChunkSize is ~1500 tokens at ~4 chars/token, leaving a 2x
	// safety margin against an 8192-token context.
	DefaultChunkSize  = 6000
	minChunkChars     = 50
	chunkOverlapChars = 200
)

// Chunk is a single Markdown segment handed to the LLM Gateway for
// cleanup, or written as-is when it needs none.
type Chunk struct {
	Text string
}

var preCleanLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^On this page$`),
	regexp.MustCompile(`(?m)^Edit this page$`),
	regexp.MustCompile(`(?m)^Was this page helpful\??$`),
	regexp.MustCompile(`(?m)^Last updated .*$`),
	regexp.MustCompile(`(?m)^Skip to (main )?content$`),
	regexp.MustCompile(`(?m)^Table of contents?$`),
	regexp.MustCompile(`(?m)^Previous$`),
	regexp.MustCompile(`(?m)^Next$`),
}

var preCleanInlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`self\.__next_\S*`),
	regexp.MustCompile(`document\.querySelectorAll\S*`),
	regexp.MustCompile(`document\.getElementById\S*`),
	regexp.MustCompile(`window\.addEventListener\S*`),
	regexp.MustCompile(`data-page-mode=\S*`),
	regexp.MustCompile(`suppressHydrationWarning\S*`),
}

var strayBraceLine = regexp.MustCompile(`(?m)^\s*[{}]\s*$`)
var excessBlankLines = regexp.MustCompile(`\n{3,}`)

// PreClean removes boilerplate noise lines and inline script fragments a
// docs site's DOM tends to leak into extracted content, then collapses
// runs of blank lines to at most two.
func PreClean(markdown string) string {
	out := markdown
	for _, p := range preCleanLinePatterns {
		out = p.ReplaceAllString(out, "")
	}
	for _, p := range preCleanInlinePatterns {
		out = p.ReplaceAllString(out, "")
	}
	out = strayBraceLine.ReplaceAllString(out, "")
	out = excessBlankLines.ReplaceAllString(out, "\n\n")
	return out
}

// ChunkText splits pre-cleaned Markdown into Chunks bounded by size. If
// nativeTokenCount*4 <= size, the whole text is a single chunk. Otherwise
// it splits at the best boundary within [start+size/2, start+size):
// heading preferred, then paragraph, then line. The next chunk starts
// chunkOverlapChars characters before the cut to preserve context.
// Fragments under minChunkChars are dropped; the function never returns
// an empty chunk list for non-empty input.
func ChunkText(text string, size int, nativeTokenCount *int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if text == "" {
		return nil
	}

	if nativeTokenCount != nil && *nativeTokenCount*4 <= size {
		return []Chunk{{Text: text}}
	}
	if len(text) <= size {
		return []Chunk{{Text: text}}
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		remaining := text[start:]
		if len(remaining) <= size {
			appendChunk(&chunks, remaining)
			break
		}

		cut := findBoundary(remaining, size)
		piece := remaining[:cut]
		appendChunk(&chunks, piece)

		next := cut - chunkOverlapChars
		if next <= 0 {
			next = cut
		}
		start += next
	}

	if len(chunks) == 0 {
		return []Chunk{{Text: text}}
	}
	return chunks
}

func appendChunk(chunks *[]Chunk, text string) {
	if len(strings.TrimSpace(text)) < minChunkChars && len(*chunks) > 0 {
		return
	}
	*chunks = append(*chunks, Chunk{Text: text})
}

// findBoundary locates the best split point within [size/2, size) of s,
// preferring a heading break, then a paragraph break, then a line break.
// If none exists in the window, it falls back to a hard cut at size.
func findBoundary(s string, size int) int {
	if size > len(s) {
		size = len(s)
	}
	lo := size / 2
	window := s[lo:size]

	if idx := strings.LastIndex(window, "\n#"); idx >= 0 {
		return lo + idx + 1
	}
	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		return lo + idx + 2
	}
	if idx := strings.LastIndex(window, "\n"); idx >= 0 {
		return lo + idx + 1
	}
	return size
}
