// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package memory

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Embedder maps text to a fixed-dimension vector. The default is a local
// character-trigram embedder; a real model can be injected at assembly.
type Embedder interface {
	ModelID() string
	Embed(text string) []float32
}

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// ChargramEmbedder hashes character trigrams and word tokens into a
// normalized vector. No external calls, stable across processes.
type ChargramEmbedder struct {
	dims int
}

func NewChargramEmbedder() *ChargramEmbedder {
	return &ChargramEmbedder{dims: 384}
}

func (e *ChargramEmbedder) ModelID() string { return "quill-chargram-384-v1" }

func (e *ChargramEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return vec
	}
	window := "#" + normalized + "#"
	for i := 0; i+3 <= len(window); i++ {
		gram := window[i : i+3]
		h := fnv.New64a()
		_, _ = h.Write([]byte(gram))
		idx := int(h.Sum64() % uint64(e.dims))
		vec[idx]++
	}
	for _, token := range tokenize(normalized) {
		h := fnv.New64a()
		_, _ = h.Write([]byte("tok:" + token))
		idx := int(h.Sum64() % uint64(e.dims))
		vec[idx] += 1.25
	}
	normalizeVector(vec)
	return vec
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	matches := tokenPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}
	return matches
}

// queryTokens keeps tokens longer than 2 characters, deduplicated, for the
// substring fallback tier.
func queryTokens(query string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, tok := range tokenize(query) {
		if len(tok) <= 2 {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range vec {
		vec[i] *= inv
	}
}
