// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package agent

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quillmind/quill/pkg/memory"
)

// Fallback snippets are trimmed to whole sentences under this length.
const maxSnippetChars = 450

// fallbackRespond builds a deterministic answer from retrieved memories.
// It runs when no provider is configured and when a provider answer was
// rejected by the guard.
func fallbackRespond(text string, memories []memory.ScoredMemory) *intentOutcome {
	if len(memories) == 0 {
		return &intentOutcome{Text: "I don't have anything relevant remembered for that yet. Try ingesting your files first."}
	}

	ranked := rankForRecall(text, memories)
	best := ranked[0]
	snippet := sentenceTrim(best.Content, maxSnippetChars)
	reply := snippet
	if src := memorySource(best.Memory); src != "" {
		reply = fmt.Sprintf("From %s: %s", src, snippet)
	}
	return &intentOutcome{
		Text: reply,
		Actions: []memory.Action{{
			Kind:   memory.ActionInfoRecall,
			Params: map[string]string{"memory_id": best.ID},
		}},
	}
}

// rankForRecall blends stored confidence with lexical overlap and a kind
// preference: distilled content beats bare file entries.
func rankForRecall(text string, memories []memory.ScoredMemory) []memory.ScoredMemory {
	queryToks := tokenSet(text)
	out := make([]memory.ScoredMemory, len(memories))
	copy(out, memories)

	score := func(m memory.ScoredMemory) float64 {
		overlap := tokenOverlap(queryToks, m.Content)
		boost := 0.0
		switch m.Kind {
		case memory.KindChunk, memory.KindFact, memory.KindResponse:
			boost = 0.15
		case memory.KindFile:
			boost = 0
		default:
			boost = 0.05
		}
		return 0.55*m.Confidence + 0.30*overlap + boost
	}
	sort.SliceStable(out, func(i, j int) bool { return score(out[i]) > score(out[j]) })
	return out
}

func tokenOverlap(query map[string]struct{}, content string) float64 {
	if len(query) == 0 {
		return 0
	}
	contentToks := tokenSet(content)
	hits := 0
	for tok := range query {
		if _, ok := contentToks[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// sentenceTrim cuts text to at most max characters on a sentence boundary,
// falling back to a word boundary when no sentence fits.
func sentenceTrim(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(cut, sep); idx > 0 {
			return strings.TrimSpace(cut[:idx+1])
		}
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		return strings.TrimSpace(cut[:idx])
	}
	return cut
}

func memorySource(m memory.Memory) string {
	switch {
	case m.Meta.Chunk != nil:
		return filepath.Base(m.Meta.Chunk.Path)
	case m.Meta.File != nil:
		return filepath.Base(m.Meta.File.Path)
	}
	return ""
}
