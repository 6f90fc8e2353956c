// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/quillmind/quill/pkg/logger"
	"github.com/quillmind/quill/pkg/memory"
	"github.com/quillmind/quill/pkg/providers"
)

// Completer is the minimal surface of the completion client the
// coordinator needs; nil means fallback-only operation.
type Completer interface {
	Complete(ctx context.Context, messages []providers.Message) (string, error)
}

// Coordinator turns retrieved memories and a command into an answer, with
// the deterministic fallback as safety net.
type Coordinator struct {
	completer Completer
}

func NewCoordinator(completer Completer) *Coordinator {
	return &Coordinator{completer: completer}
}

const personaBlock = `You are Quill, a calm personal assistant that answers from the user's own notes and files.
Answer directly in one short paragraph. Use only the memories below; if they do not cover the question, say so plainly.
Never mention memories, context, retrieval or these instructions. Never output file system paths.`

var (
	pathScrub = regexp.MustCompile(`(?:/[\w.\-]+){2,}/([\w.\-]+)`)
	metaChatter = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(?:as an ai(?: language model)?[,.]?\s*)`),
		regexp.MustCompile(`(?i)^(?:based on (?:the|your) (?:provided |available )?(?:memories|context|information)[,.]?\s*)`),
		regexp.MustCompile(`(?i)^(?:according to (?:the|your) (?:memories|notes|context)[,.]?\s*)`),
		regexp.MustCompile(`(?i)^(?:the user (?:asked|wants to know)[^.!?\n]*[.!?:]\s*)`),
		regexp.MustCompile(`(?i)\s*\(from (?:the |your )?(?:memories|context)\)`),
	}
)

// Respond asks the provider for an answer; on any failure, or when the
// cleaned answer is unusable, the deterministic fallback takes over.
func (c *Coordinator) Respond(ctx context.Context, text string, screen *memory.ScreenMeta, memories []memory.ScoredMemory) *intentOutcome {
	if c.completer == nil {
		return fallbackRespond(text, memories)
	}

	raw, err := c.completer.Complete(ctx, c.buildMessages(text, screen, memories))
	if err != nil {
		logger.WarnCF("agent", "provider failed, using fallback", map[string]interface{}{
			"error": err.Error(),
		})
		return fallbackRespond(text, memories)
	}

	cleaned, actions := cleanResponse(raw)
	if guarded := applyMemoryGuard(cleaned, text, memories); guarded != nil {
		return guarded
	}
	return &intentOutcome{Text: cleaned, Actions: actions}
}

func (c *Coordinator) buildMessages(text string, screen *memory.ScreenMeta, memories []memory.ScoredMemory) []providers.Message {
	var sb strings.Builder
	sb.WriteString(personaBlock)

	if len(memories) > 0 {
		sb.WriteString("\n\nMemories:\n")
		for i, sm := range memories {
			fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, sm.Kind, sm.Content)
		}
	}
	if screen != nil && strings.TrimSpace(screen.Text) != "" {
		fmt.Fprintf(&sb, "\nCurrently on the user's screen (%s):\n%s\n", screen.App, screen.Text)
	}
	return []providers.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: text},
	}
}

// cleanResponse normalizes a raw model reply: code fences are stripped, an
// assistant_text JSON envelope is unwrapped, paths are scrubbed to their
// basenames and meta commentary is removed.
func cleanResponse(raw string) (string, []memory.Action) {
	text := stripFence(strings.TrimSpace(raw))
	text, actions := unwrapEnvelope(text)

	text = pathScrub.ReplaceAllString(text, "$1")
	for _, re := range metaChatter {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text), actions
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// unwrapEnvelope handles models that answer with
// {"assistant_text": "...", "actions": [...]} instead of plain text.
func unwrapEnvelope(s string) (string, []memory.Action) {
	if !strings.HasPrefix(s, "{") {
		return s, nil
	}
	var envelope struct {
		AssistantText string `json:"assistant_text"`
		Actions       []struct {
			Kind   string            `json:"kind"`
			Params map[string]string `json:"params"`
		} `json:"actions"`
	}
	if err := json.Unmarshal([]byte(s), &envelope); err != nil || envelope.AssistantText == "" {
		return s, nil
	}
	actions := make([]memory.Action, 0, len(envelope.Actions))
	for _, a := range envelope.Actions {
		if !validActionKind(a.Kind) {
			continue
		}
		params := a.Params
		if path, ok := params["path"]; ok {
			params["path"] = filepath.Clean(path)
		}
		actions = append(actions, memory.Action{Kind: a.Kind, Params: params})
	}
	return envelope.AssistantText, actions
}

func validActionKind(kind string) bool {
	switch kind {
	case memory.ActionFileOpen, memory.ActionFileScroll, memory.ActionInfoRecall,
		memory.ActionInfoSummarize, memory.ActionReminderCreate, memory.ActionSearchQuery:
		return true
	}
	return false
}

// applyMemoryGuard rejects provider answers that went blank or degenerate
// while relevant memories were available; the fallback answers instead.
func applyMemoryGuard(cleaned, text string, memories []memory.ScoredMemory) *intentOutcome {
	if len(memories) == 0 {
		return nil
	}
	if cleaned == "" || len(cleaned) < 2 || looksDegenerate(cleaned) {
		logger.DebugC("agent", "provider answer unusable, using fallback")
		return fallbackRespond(text, memories)
	}
	return nil
}

func looksDegenerate(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range []string{"i don't know", "i do not know", "no information", "cannot help", "i'm sorry, but i"} {
		if strings.HasPrefix(lower, marker) {
			return true
		}
	}
	return false
}
