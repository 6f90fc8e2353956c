// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/quillmind/quill/pkg/ingest"
	"github.com/quillmind/quill/pkg/memory"
)

const fileExtractionPrompt = `You are the memory extraction system of a personal assistant.
Analyze the following document sections and extract memories worth remembering about the user, their work and their files.

For each memory, provide:
- kind: one of: fact, reminder
- content: the full memory (1-3 sentences, be specific and self-contained)
- confidence: 0.0-1.0 how confident this is worth remembering

Rules:
- Only extract genuinely useful memories that help answer future questions
- Ignore boilerplate, headers and formatting noise
- A batch of sections may produce 0-5 memories (do not force it)

Source: %s
Sections:
%s

Respond ONLY with valid JSON in this exact format (no markdown, no explanation):
{"memories": [{"kind": "fact", "content": "...", "confidence": 0.85}]}

If nothing is worth extracting, respond: {"memories": []}`

const exchangeExtractionPrompt = `You are the memory extraction system of a personal assistant.
The user issued a command and the assistant answered. Extract durable facts worth remembering from this exchange.

Rules:
- Extract only facts that stay true beyond this conversation
- Skip pleasantries, questions and one-off requests
- 0-3 memories per exchange

Command: %s
Answer: %s

Respond ONLY with valid JSON in this exact format (no markdown, no explanation):
{"memories": [{"kind": "fact", "content": "...", "confidence": 0.85}]}

If nothing is worth extracting, respond: {"memories": []}`

// ExtractionClient distills text into memories through the completion
// endpoint. It implements ingest.MemoryExtractor.
type ExtractionClient struct {
	client *Client
}

func NewExtractionClient(client *Client) *ExtractionClient {
	return &ExtractionClient{client: client}
}

// ExtractMemories sends the sections for distillation and parses the JSON
// contract. A response that is not valid JSON is an extraction failure.
func (e *ExtractionClient) ExtractMemories(ctx context.Context, source string, sections []string) ([]ingest.ExtractedMemory, error) {
	if len(sections) == 0 {
		return nil, nil
	}
	var sb strings.Builder
	for i, sec := range sections {
		fmt.Fprintf(&sb, "--- section %d ---\n%s\n", i+1, sec)
	}
	prompt := fmt.Sprintf(fileExtractionPrompt, source, sb.String())
	return e.extract(ctx, prompt)
}

// ExtractFromExchange pulls durable facts out of a finished command/answer
// pair for post-hoc persistence.
func (e *ExtractionClient) ExtractFromExchange(ctx context.Context, command, answer string) ([]ingest.ExtractedMemory, error) {
	if strings.TrimSpace(command) == "" {
		return nil, nil
	}
	prompt := fmt.Sprintf(exchangeExtractionPrompt, command, answer)
	return e.extract(ctx, prompt)
}

func (e *ExtractionClient) extract(ctx context.Context, prompt string) ([]ingest.ExtractedMemory, error) {
	raw, err := e.client.Complete(ctx, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Memories []struct {
			Kind       string  `json:"kind"`
			Content    string  `json:"content"`
			Confidence float64 `json:"confidence"`
		} `json:"memories"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable extraction response: %w", errors.Join(memory.ErrExtraction, err))
	}

	out := make([]ingest.ExtractedMemory, 0, len(parsed.Memories))
	for _, m := range parsed.Memories {
		kind := memory.Kind(m.Kind)
		switch kind {
		case memory.KindFact, memory.KindReminder:
		default:
			kind = memory.KindFact
		}
		out = append(out, ingest.ExtractedMemory{
			Kind:       kind,
			Content:    m.Content,
			Confidence: m.Confidence,
		})
	}
	return out, nil
}

// stripCodeFence unwraps ```json ... ``` style fencing some models insist
// on adding.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
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
