// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/quillmind/quill/pkg/logger"
	"github.com/quillmind/quill/pkg/memory"
	"github.com/quillmind/quill/pkg/providers"
	"github.com/quillmind/quill/pkg/tasks"
)

// Confidence of the deterministic command/response memories written after
// every exchange.
const exchangeConfidence = 0.7

// CommandRequest is one user command entering the pipeline.
type CommandRequest struct {
	CommandID      string
	WorkspaceID    string
	UserID         string
	ConversationID string
	Text           string
	Screen         *memory.ScreenMeta
}

// CommandResponse is the pipeline's answer: text plus the side effects the
// caller should execute.
type CommandResponse struct {
	CommandID     string
	AssistantText string
	Actions       []memory.Action
	MemoriesUsed  []memory.MemoryUse
}

// Processor runs the command pipeline: retrieve context, intercept
// mechanical intents, otherwise coordinate an answer, then persist the
// exchange.
type Processor struct {
	store       *memory.SQLiteStore
	searcher    *memory.Searcher
	coordinator *Coordinator
	extractor   *providers.ExtractionClient
	maxResults  int

	mu          sync.Mutex
	lastOpened  map[string]string
	lastExtract *tasks.Handle
}

func NewProcessor(store *memory.SQLiteStore, searcher *memory.Searcher, coordinator *Coordinator, extractor *providers.ExtractionClient, maxResults int) *Processor {
	if maxResults <= 0 {
		maxResults = 8
	}
	return &Processor{
		store:       store,
		searcher:    searcher,
		coordinator: coordinator,
		extractor:   extractor,
		maxResults:  maxResults,
		lastOpened:  map[string]string{},
	}
}

// ProcessCommand handles one command end to end. The returned response is
// already persisted.
func (p *Processor) ProcessCommand(ctx context.Context, req CommandRequest) (*CommandResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	memories, err := p.gatherContext(ctx, req)
	if err != nil {
		return nil, err
	}

	outcome := p.interceptIntent(req.Text, memories, p.getLastOpened(req.WorkspaceID))
	if outcome == nil {
		outcome = p.coordinator.Respond(ctx, req.Text, req.Screen, memories)
	}

	used := make([]memory.MemoryUse, 0, len(memories))
	for _, sm := range memories {
		used = append(used, memory.MemoryUse{MemoryID: sm.ID, Score: sm.Score})
	}

	cmd := memory.Command{
		ID:          req.CommandID,
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
		Text:        req.Text,
		Response:    outcome.Text,
	}
	if err := p.store.SaveCommand(ctx, cmd, outcome.Actions, used, req.Screen); err != nil {
		return nil, err
	}

	p.noteOpenedFile(req.WorkspaceID, outcome.Actions)
	if err := p.persistReminders(ctx, req, outcome.Actions); err != nil {
		logger.WarnCF("agent", "reminder memory not stored", map[string]interface{}{
			"command": req.CommandID,
			"error":   err.Error(),
		})
	}
	p.extractExchange(req, outcome.Text)

	return &CommandResponse{
		CommandID:     req.CommandID,
		AssistantText: outcome.Text,
		Actions:       outcome.Actions,
		MemoriesUsed:  used,
	}, nil
}

// validateRequest rejects incomplete requests before any store or provider
// work happens. Nothing is defaulted here: a missing workspace id must not
// silently persist the command under another tenant.
func validateRequest(req CommandRequest) error {
	switch {
	case strings.TrimSpace(req.CommandID) == "":
		return fmt.Errorf("process command: %w: missing command id", memory.ErrValidation)
	case strings.TrimSpace(req.WorkspaceID) == "":
		return fmt.Errorf("process command: %w: missing workspace id", memory.ErrValidation)
	case strings.TrimSpace(req.UserID) == "":
		return fmt.Errorf("process command: %w: missing user id", memory.ErrValidation)
	case strings.TrimSpace(req.Text) == "":
		return fmt.Errorf("process command: %w: empty command text", memory.ErrValidation)
	}
	return nil
}

// gatherContext retrieves command context in two stages: the two-tier
// search first, then recent non-screen memories as last resort. The
// substring tier inside the searcher already covers keyword matching.
func (p *Processor) gatherContext(ctx context.Context, req CommandRequest) ([]memory.ScoredMemory, error) {
	memories, err := p.searcher.SearchMemories(ctx, req.WorkspaceID, req.Text, p.maxResults)
	if err != nil {
		return nil, err
	}
	if len(memories) > 0 {
		return memories, nil
	}

	recent, err := p.store.RecentMemories(ctx, req.WorkspaceID, p.maxResults, []memory.Kind{memory.KindScreen})
	if err != nil {
		return nil, err
	}
	out := make([]memory.ScoredMemory, 0, len(recent))
	for _, m := range recent {
		out = append(out, memory.ScoredMemory{Memory: m, Score: m.Confidence})
	}
	return out, nil
}

func (p *Processor) getLastOpened(workspaceID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOpened[workspaceID]
}

func (p *Processor) noteOpenedFile(workspaceID string, actions []memory.Action) {
	for _, a := range actions {
		if a.Kind == memory.ActionFileOpen {
			if path := a.Params["path"]; path != "" {
				p.mu.Lock()
				p.lastOpened[workspaceID] = path
				p.mu.Unlock()
			}
		}
	}
}

// persistReminders turns reminder.create actions into reminder memories so
// recall finds them later.
func (p *Processor) persistReminders(ctx context.Context, req CommandRequest, actions []memory.Action) error {
	batch := []memory.Memory{}
	for _, a := range actions {
		if a.Kind != memory.ActionReminderCreate {
			continue
		}
		text := a.Params["text"]
		if text == "" {
			continue
		}
		batch = append(batch, memory.Memory{
			Kind:           memory.KindReminder,
			ConversationID: req.ConversationID,
			Content:        "Reminder: " + text,
			Confidence:     0.9,
			Meta: memory.Meta{Reminder: &memory.ReminderMeta{
				Text:       text,
				Recurrence: a.Params["recurrence"],
			}},
		})
	}
	if len(batch) == 0 {
		return nil
	}
	return p.store.AddMemories(ctx, req.WorkspaceID, batch)
}

// WaitBackground blocks until the most recent exchange extraction settles.
// One-shot callers must call this before closing the store, or the detached
// write races process exit.
func (p *Processor) WaitBackground(ctx context.Context) error {
	p.mu.Lock()
	h := p.lastExtract
	p.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Wait(ctx)
}

// extractExchange persists the exchange as memories in the background:
// deterministic command/response rows always, provider-distilled facts
// when an extractor is wired.
func (p *Processor) extractExchange(req CommandRequest, answer string) {
	h := tasks.Go("extract-"+req.CommandID, func() error {
		ctx := context.Background()
		batch := []memory.Memory{
			{
				Kind:           memory.KindCommand,
				ConversationID: req.ConversationID,
				Content:        req.Text,
				Confidence:     exchangeConfidence,
			},
			{
				Kind:           memory.KindResponse,
				ConversationID: req.ConversationID,
				Content:        answer,
				Confidence:     exchangeConfidence,
			},
		}

		if p.extractor != nil {
			facts, err := p.extractor.ExtractFromExchange(ctx, req.Text, answer)
			if err != nil {
				logger.DebugCF("agent", "exchange extraction failed", map[string]interface{}{
					"command": req.CommandID,
					"error":   err.Error(),
				})
			}
			for _, f := range facts {
				if f.Confidence < exchangeConfidence || strings.TrimSpace(f.Content) == "" {
					continue
				}
				batch = append(batch, memory.Memory{
					Kind:           f.Kind,
					ConversationID: req.ConversationID,
					Content:        f.Content,
					Confidence:     f.Confidence,
				})
			}
		}
		return p.store.AddMemories(ctx, req.WorkspaceID, batch)
	})
	p.mu.Lock()
	p.lastExtract = h
	p.mu.Unlock()
}
