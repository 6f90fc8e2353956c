// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package memory

// Kind classifies a memory. It is an open tag: callers may introduce new
// kinds without schema changes.
type Kind string

const (
	KindFile       Kind = "entity.file"
	KindCollection Kind = "entity.collection"
	KindFact       Kind = "fact"
	KindChunk      Kind = "doc.chunk"
	KindReminder   Kind = "reminder"
	KindScreen     Kind = "context.screen"
	KindCommand    Kind = "fact.command"
	KindResponse   Kind = "fact.response"
	KindSession    Kind = "fact.session"
)

// FileMeta is the payload carried by entity.file memories.
type FileMeta struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ModifiedMS  int64  `json:"modified_ms"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ChunkMeta is the payload carried by doc.chunk memories.
type ChunkMeta struct {
	Path        string `json:"path,omitempty"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
}

// ReminderMeta is the payload carried by reminder memories.
type ReminderMeta struct {
	Text       string `json:"text"`
	DueAtMS    int64  `json:"due_at_ms,omitempty"`
	Recurrence string `json:"recurrence,omitempty"`
}

// ScreenMeta is the payload carried by context.screen memories.
type ScreenMeta struct {
	App        string `json:"app,omitempty"`
	Text       string `json:"text"`
	CapturedMS int64  `json:"captured_ms,omitempty"`
}

// Meta is the typed metadata union. Exactly the member matching the
// memory's kind is set; Extra holds anything the presentation layer owns
// (including the hidden flag).
type Meta struct {
	File     *FileMeta         `json:"file,omitempty"`
	Chunk    *ChunkMeta        `json:"chunk,omitempty"`
	Reminder *ReminderMeta     `json:"reminder,omitempty"`
	Screen   *ScreenMeta       `json:"screen,omitempty"`
	Hidden   bool              `json:"hidden,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Memory is a stored, typed, scored unit of recalled content.
type Memory struct {
	ID             string
	WorkspaceID    string
	ConversationID string
	Kind           Kind
	Content        string
	Confidence     float64
	Meta           Meta
	Embedding      []float32
	CreatedAtMS    int64
	UpdatedAtMS    int64
}

// Relationship is a directed, typed edge between two memories. Traversal
// treats edges as bidirectional even though storage direction is fixed.
type Relationship struct {
	ID          string
	WorkspaceID string
	FromID      string
	ToID        string
	Relation    string
	Confidence  float64
	CreatedAtMS int64
}

const RelationContains = "contains"

// Command is the append-only record of one user utterance and the reply.
type Command struct {
	ID          string
	WorkspaceID string
	UserID      string
	Text        string
	Response    string
	CreatedAtMS int64
}

// Action is one side effect requested by a command.
type Action struct {
	ID           string
	CommandID    string
	Kind         string
	Params       map[string]string
	Status       string
	ExecutedAtMS int64
}

const (
	ActionFileOpen       = "file.open"
	ActionFileScroll     = "file.scroll"
	ActionInfoRecall     = "info.recall"
	ActionInfoSummarize  = "info.summarize"
	ActionReminderCreate = "reminder.create"
	ActionSearchQuery    = "search.query"

	ActionStatusSuccess = "success"
	ActionStatusFailed  = "failed"
)

// MemoryUse records one memory used as context for a command, with its
// score at time of use.
type MemoryUse struct {
	MemoryID string
	Score    float64
}

// ScoredMemory is a search result.
type ScoredMemory struct {
	Memory
	Score float64
}

// FileInfo is the raw file metadata callers hand to indexing/ingestion.
type FileInfo struct {
	Path       string
	Size       int64
	ModifiedMS int64
}
