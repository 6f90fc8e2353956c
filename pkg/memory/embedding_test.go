package memory

import (
	"math"
	"testing"
)

func TestEmbedIsDeterministicAndNormalized(t *testing.T) {
	e := NewChargramEmbedder()
	a := e.Embed("quarterly budget spreadsheet")
	b := e.Embed("quarterly budget spreadsheet")

	var norm float64
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at dim %d", i)
		}
		norm += float64(a[i]) * float64(a[i])
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Fatalf("embedding not unit-normalized: %v", norm)
	}
}

func TestEmbedSimilarTextScoresHigher(t *testing.T) {
	e := NewChargramEmbedder()
	query := e.Embed("budget spreadsheet")
	near := e.Embed("the quarterly budget spreadsheet numbers")
	far := e.Embed("watering schedule for houseplants")

	dot := func(x, y []float32) float64 {
		var s float64
		for i := range x {
			s += float64(x[i]) * float64(y[i])
		}
		return s
	}
	if dot(query, near) <= dot(query, far) {
		t.Fatal("related text should score higher than unrelated text")
	}
}

func TestQueryTokens(t *testing.T) {
	toks := queryTokens("Open the budget.xlsx file, the budget one")
	seen := map[string]bool{}
	for _, tok := range toks {
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
		if len(tok) <= 2 {
			t.Fatalf("short token %q not filtered", tok)
		}
	}
	if !seen["budget"] || !seen["xlsx"] {
		t.Fatalf("expected budget and xlsx tokens, got %v", toks)
	}
}
