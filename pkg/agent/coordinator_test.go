package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quillmind/quill/pkg/memory"
	"github.com/quillmind/quill/pkg/providers"
)

type scriptedCompleter struct {
	reply string
	err   error
	seen  []providers.Message
}

func (s *scriptedCompleter) Complete(ctx context.Context, messages []providers.Message) (string, error) {
	s.seen = messages
	return s.reply, s.err
}

func scoredFact(id, content string, confidence float64) memory.ScoredMemory {
	return memory.ScoredMemory{
		Memory: memory.Memory{ID: id, Kind: memory.KindFact, Content: content, Confidence: confidence},
		Score:  confidence,
	}
}

func TestCleanResponseStripsFenceAndUnwrapsEnvelope(t *testing.T) {
	raw := "```json\n{\"assistant_text\": \"Your meeting is at 3pm.\", \"actions\": [{\"kind\": \"file.open\", \"params\": {\"path\": \"/docs/agenda.md\"}}]}\n```"
	text, actions := cleanResponse(raw)
	if text != "Your meeting is at 3pm." {
		t.Fatalf("unexpected text: %q", text)
	}
	if len(actions) != 1 || actions[0].Kind != memory.ActionFileOpen {
		t.Fatalf("envelope actions lost: %+v", actions)
	}
}

func TestCleanResponseDropsUnknownActionKinds(t *testing.T) {
	raw := `{"assistant_text": "Done.", "actions": [{"kind": "system.exec", "params": {"cmd": "rm"}}]}`
	text, actions := cleanResponse(raw)
	if text != "Done." {
		t.Fatalf("unexpected text: %q", text)
	}
	if len(actions) != 0 {
		t.Fatalf("unknown action kind survived: %+v", actions)
	}
}

func TestCleanResponseScrubsPaths(t *testing.T) {
	text, _ := cleanResponse("The figures are in /home/user/docs/budget.xlsx under Q3.")
	if strings.Contains(text, "/home/") {
		t.Fatalf("path not scrubbed: %q", text)
	}
	if !strings.Contains(text, "budget.xlsx") {
		t.Fatalf("basename lost during scrub: %q", text)
	}
}

func TestCleanResponseRemovesMetaChatter(t *testing.T) {
	text, _ := cleanResponse("Based on the provided memories, your flight leaves at 9am.")
	if strings.Contains(strings.ToLower(text), "memories") {
		t.Fatalf("meta commentary survived: %q", text)
	}
	if !strings.Contains(text, "flight leaves at 9am") {
		t.Fatalf("answer content lost: %q", text)
	}
}

func TestCleanResponseDropsUserAskedPreamble(t *testing.T) {
	text, _ := cleanResponse("The user asked about their flight. It leaves Friday at 9am.")
	if strings.Contains(strings.ToLower(text), "user asked") {
		t.Fatalf("meta commentary survived: %q", text)
	}
	if !strings.Contains(text, "It leaves Friday at 9am.") {
		t.Fatalf("answer content lost: %q", text)
	}
}

func TestRespondFallsBackOnProviderError(t *testing.T) {
	c := NewCoordinator(&scriptedCompleter{err: errors.New("rate limited")})
	memories := []memory.ScoredMemory{scoredFact("m1", "The flight to Lisbon leaves Friday at 9am.", 0.9)}

	out := c.Respond(context.Background(), "when is my flight", nil, memories)
	if !strings.Contains(out.Text, "Lisbon") {
		t.Fatalf("fallback did not use the memory: %q", out.Text)
	}
	if len(out.Actions) != 1 || out.Actions[0].Kind != memory.ActionInfoRecall {
		t.Fatalf("expected info.recall action, got %+v", out.Actions)
	}
}

func TestRespondGuardsDegenerateAnswers(t *testing.T) {
	c := NewCoordinator(&scriptedCompleter{reply: "I don't know anything about that."})
	memories := []memory.ScoredMemory{scoredFact("m1", "The flight to Lisbon leaves Friday at 9am.", 0.9)}

	out := c.Respond(context.Background(), "when is my flight", nil, memories)
	if !strings.Contains(out.Text, "Lisbon") {
		t.Fatalf("guard did not trigger the fallback: %q", out.Text)
	}
}

func TestRespondWithoutCompleterUsesFallback(t *testing.T) {
	c := NewCoordinator(nil)
	out := c.Respond(context.Background(), "anything", nil, nil)
	if out.Text == "" {
		t.Fatal("fallback produced no text")
	}
	if len(out.Actions) != 0 {
		t.Fatalf("no memories means no recall action: %+v", out.Actions)
	}
}

func TestBuildMessagesIncludesMemoriesAndScreen(t *testing.T) {
	sc := &scriptedCompleter{reply: "fine"}
	c := NewCoordinator(sc)
	memories := []memory.ScoredMemory{scoredFact("m1", "Rent is due on the 1st.", 0.9)}
	screen := &memory.ScreenMeta{App: "browser", Text: "bank transfer page"}

	c.Respond(context.Background(), "when is rent due", screen, memories)
	if len(sc.seen) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(sc.seen))
	}
	system := sc.seen[0].Content
	if !strings.Contains(system, "Rent is due on the 1st.") {
		t.Fatalf("memories missing from prompt: %q", system)
	}
	if !strings.Contains(system, "bank transfer page") {
		t.Fatalf("screen context missing from prompt: %q", system)
	}
	if sc.seen[1].Content != "when is rent due" {
		t.Fatalf("user message mangled: %q", sc.seen[1].Content)
	}
}

func TestFallbackSnippetIsSentenceTrimmed(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("This is a fairly long sentence about the project timeline. ", 20))
	out := fallbackRespond("project timeline", []memory.ScoredMemory{scoredFact("m1", long, 0.9)})
	if len(out.Text) > maxSnippetChars {
		t.Fatalf("snippet too long: %d chars", len(out.Text))
	}
	if !strings.HasSuffix(out.Text, ".") {
		t.Fatalf("snippet not trimmed on a sentence boundary: %q", out.Text[len(out.Text)-20:])
	}
}

func TestFallbackPrefersDistilledContentOverFileEntries(t *testing.T) {
	memories := []memory.ScoredMemory{
		{
			Memory: memory.Memory{ID: "f1", Kind: memory.KindFile, Content: "File taxes.pdf in /docs", Confidence: 0.9,
				Meta: memory.Meta{File: &memory.FileMeta{Path: "/docs/taxes.pdf"}}},
			Score: 0.9,
		},
		scoredFact("m1", "Taxes are filed, the refund arrives in May.", 0.85),
	}
	out := fallbackRespond("taxes refund", memories)
	if len(out.Actions) != 1 || out.Actions[0].Params["memory_id"] != "m1" {
		t.Fatalf("fallback picked the bare file entry: %+v", out)
	}
}
