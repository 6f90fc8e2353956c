// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package memory

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/quillmind/quill/pkg/logger"
)

// Confidence assigned to entity.file memories created from raw metadata,
// deliberately below content-derived memories.
const fileIndexConfidence = 0.3

// VectorSink receives best-effort copies of upserted memories for the
// similarity tier. Failures are logged, never fatal.
type VectorSink interface {
	Upsert(ctx context.Context, workspaceID string, m Memory) error
}

// SearchCache is notified after memory writes so cached query results for
// the affected workspace are dropped.
type SearchCache interface {
	InvalidateWorkspace(workspaceID string)
}

// SQLiteStore is the embedded relational store holding memories,
// relationships, commands, actions and their joins.
type SQLiteStore struct {
	db     *sql.DB
	vector VectorSink
	cache  SearchCache
}

// NewSQLiteStore creates/opens the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// AttachVectorIndex wires the similarity tier. Optional.
func (s *SQLiteStore) AttachVectorIndex(v VectorSink) { s.vector = v }

// AttachSearchCache wires search-result invalidation on writes. Optional.
func (s *SQLiteStore) AttachSearchCache(c SearchCache) { s.cache = c }

func (s *SQLiteStore) invalidateSearch(workspaceID string) {
	if s.cache != nil {
		s.cache.InvalidateWorkspace(workspaceID)
	}
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			embedding_json TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY(workspace_id, id)
		);`,
		`CREATE INDEX IF NOT EXISTS memories_kind_idx ON memories(workspace_id, kind, updated_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS relationships (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			relation TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 1,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS relationships_unique ON relationships(workspace_id, from_id, to_id, relation);`,
		`CREATE INDEX IF NOT EXISTS relationships_from_idx ON relationships(workspace_id, from_id);`,
		`CREATE INDEX IF NOT EXISTS relationships_to_idx ON relationships(workspace_id, to_id);`,
		`CREATE TABLE IF NOT EXISTS commands (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS commands_workspace_idx ON commands(workspace_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			command_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			params_json TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'success',
			executed_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS actions_command_idx ON actions(command_id);`,
		`CREATE TABLE IF NOT EXISTS command_memories (
			command_id TEXT NOT NULL,
			memory_id TEXT NOT NULL,
			score REAL NOT NULL DEFAULT 0,
			PRIMARY KEY(command_id, memory_id)
		);`,
		`CREATE TABLE IF NOT EXISTS file_index (
			workspace_id TEXT NOT NULL,
			path TEXT NOT NULL,
			memory_id TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			modified_ms INTEGER NOT NULL DEFAULT 0,
			fingerprint TEXT NOT NULL DEFAULT '',
			indexed_at_ms INTEGER NOT NULL,
			PRIMARY KEY(workspace_id, path)
		);`,
		`CREATE INDEX IF NOT EXISTS file_index_recent_idx ON file_index(workspace_id, indexed_at_ms DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(stmt string) string {
	line := strings.TrimSpace(stmt)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

// NewMemoryID mints a time-sortable memory id.
func NewMemoryID() string {
	return "mem-" + strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.New(rand.NewSource(time.Now().UnixNano()))).String())
}

func encodeMeta(m Meta) string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMeta(raw string) Meta {
	out := Meta{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func encodeVector(vec []float32) string {
	if len(vec) == 0 {
		return ""
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeVector(raw string) []float32 {
	if raw == "" {
		return nil
	}
	out := []float32{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeParams(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeParams(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// EnsureWorkspace lazily upserts the workspace/user row on first write.
func (s *SQLiteStore) EnsureWorkspace(ctx context.Context, workspaceID, userID string) error {
	if err := ensureWorkspaceExec(ctx, s.db, workspaceID, userID); err != nil {
		return fmt.Errorf("ensure workspace: %w", errors.Join(ErrStorage, err))
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureWorkspaceExec(ctx context.Context, db execer, workspaceID, userID string) error {
	now := nowMS()
	_, err := db.ExecContext(ctx, `
INSERT INTO workspaces(id, user_id, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	user_id = CASE WHEN workspaces.user_id = '' THEN excluded.user_id ELSE workspaces.user_id END,
	updated_at_ms = excluded.updated_at_ms`, workspaceID, userID, now, now)
	return err
}

// CollectionRootID is deterministic per workspace so re-ingestion never
// creates a second root.
func CollectionRootID(workspaceID string) string {
	return "col-root-" + workspaceID
}

// AddMemories upserts the batch atomically, then best-effort links each
// memory under the workspace collection root and mirrors it into the
// vector index. Edge and vector failures are logged, not fatal.
func (s *SQLiteStore) AddMemories(ctx context.Context, workspaceID string, batch []Memory) error {
	if len(batch) == 0 {
		return nil
	}
	if strings.TrimSpace(workspaceID) == "" {
		return fmt.Errorf("add memories: %w: empty workspace id", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add memories begin tx: %w", errors.Join(ErrStorage, err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureWorkspaceExec(ctx, tx, workspaceID, ""); err != nil {
		return fmt.Errorf("add memories ensure workspace: %w", errors.Join(ErrStorage, err))
	}
	for i := range batch {
		batch[i].WorkspaceID = workspaceID
		if err := upsertMemoryTx(ctx, tx, &batch[i]); err != nil {
			return fmt.Errorf("add memories upsert: %w", errors.Join(ErrStorage, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add memories commit: %w", errors.Join(ErrStorage, err))
	}

	s.linkToCollectionRoot(ctx, workspaceID, batch)
	s.mirrorToVector(ctx, workspaceID, batch)
	s.invalidateSearch(workspaceID)
	return nil
}

func (s *SQLiteStore) linkToCollectionRoot(ctx context.Context, workspaceID string, batch []Memory) {
	rootID := CollectionRootID(workspaceID)
	if err := s.ensureCollectionRoot(ctx, workspaceID); err != nil {
		logger.WarnCF("store", "collection root unavailable", map[string]interface{}{
			"workspace": workspaceID,
			"error":     err.Error(),
		})
		return
	}
	for _, m := range batch {
		if m.ID == rootID {
			continue
		}
		err := s.UpsertRelationship(ctx, Relationship{
			WorkspaceID: workspaceID,
			FromID:      rootID,
			ToID:        m.ID,
			Relation:    RelationContains,
			Confidence:  1,
		})
		if err != nil {
			logger.WarnCF("store", "contains edge failed", map[string]interface{}{
				"workspace": workspaceID,
				"memory":    m.ID,
				"error":     err.Error(),
			})
		}
	}
}

func (s *SQLiteStore) mirrorToVector(ctx context.Context, workspaceID string, batch []Memory) {
	if s.vector == nil {
		return
	}
	for _, m := range batch {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if err := s.vector.Upsert(ctx, workspaceID, m); err != nil {
			logger.WarnCF("store", "vector upsert failed", map[string]interface{}{
				"workspace": workspaceID,
				"memory":    m.ID,
				"error":     err.Error(),
			})
		}
	}
}

func (s *SQLiteStore) ensureCollectionRoot(ctx context.Context, workspaceID string) error {
	root := Memory{
		ID:          CollectionRootID(workspaceID),
		WorkspaceID: workspaceID,
		Kind:        KindCollection,
		Content:     "Workspace collection root",
		Confidence:  1,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertMemoryTx(ctx, tx, &root); err != nil {
		return err
	}
	return tx.Commit()
}

// upsertMemoryTx implements re-index semantics: same id updates content,
// confidence, metadata and embedding instead of duplicating.
func upsertMemoryTx(ctx context.Context, tx *sql.Tx, m *Memory) error {
	if m.ID == "" {
		m.ID = NewMemoryID()
	}
	now := nowMS()
	if m.CreatedAtMS == 0 {
		m.CreatedAtMS = now
	}
	m.UpdatedAtMS = now

	_, err := tx.ExecContext(ctx, `
INSERT INTO memories(id, workspace_id, conversation_id, kind, content, confidence, metadata_json, embedding_json, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(workspace_id, id) DO UPDATE SET
	conversation_id = excluded.conversation_id,
	kind = excluded.kind,
	content = excluded.content,
	confidence = excluded.confidence,
	metadata_json = excluded.metadata_json,
	embedding_json = excluded.embedding_json,
	updated_at_ms = excluded.updated_at_ms`,
		m.ID, m.WorkspaceID, m.ConversationID, string(m.Kind), m.Content,
		m.Confidence, encodeMeta(m.Meta), encodeVector(m.Embedding),
		m.CreatedAtMS, m.UpdatedAtMS)
	return err
}

func (s *SQLiteStore) UpsertRelationship(ctx context.Context, rel Relationship) error {
	if rel.ID == "" {
		rel.ID = "rel-" + uuid.NewString()
	}
	if rel.CreatedAtMS == 0 {
		rel.CreatedAtMS = nowMS()
	}
	if rel.Confidence == 0 {
		rel.Confidence = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO relationships(id, workspace_id, from_id, to_id, relation, confidence, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(workspace_id, from_id, to_id, relation) DO UPDATE SET
	confidence = excluded.confidence`,
		rel.ID, rel.WorkspaceID, rel.FromID, rel.ToID, rel.Relation, rel.Confidence, rel.CreatedAtMS)
	if err != nil {
		return fmt.Errorf("upsert relationship: %w", errors.Join(ErrStorage, err))
	}
	return nil
}

// GetRelatedMemories walks the relationship graph breadth-first from id.
// Edges are followed in both directions; a visited set guarantees
// termination on cycles. depth < 1 returns empty.
func (s *SQLiteStore) GetRelatedMemories(ctx context.Context, workspaceID, id string, depth int, kinds []Kind) ([]Memory, error) {
	if depth < 1 {
		return nil, nil
	}

	kindSet := map[Kind]struct{}{}
	for _, k := range kinds {
		kindSet[k] = struct{}{}
	}

	visited := map[string]struct{}{id: {}}
	frontier := []string{id}
	collected := []string{}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		next := []string{}
		for _, cur := range frontier {
			neighbors, err := s.neighborIDs(ctx, workspaceID, cur)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if _, ok := visited[n]; ok {
					continue
				}
				visited[n] = struct{}{}
				collected = append(collected, n)
				next = append(next, n)
			}
		}
		frontier = next
	}

	if len(collected) == 0 {
		return nil, nil
	}
	byID, err := s.GetMemories(ctx, workspaceID, collected)
	if err != nil {
		return nil, err
	}
	out := make([]Memory, 0, len(collected))
	for _, mid := range collected {
		m, ok := byID[mid]
		if !ok {
			continue
		}
		if len(kindSet) > 0 {
			if _, ok := kindSet[m.Kind]; !ok {
				continue
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *SQLiteStore) neighborIDs(ctx context.Context, workspaceID, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT to_id FROM relationships WHERE workspace_id = ? AND from_id = ?
UNION
SELECT from_id FROM relationships WHERE workspace_id = ? AND to_id = ?`,
		workspaceID, id, workspaceID, id)
	if err != nil {
		return nil, fmt.Errorf("neighbor ids: %w", errors.Join(ErrStorage, err))
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan neighbor id: %w", errors.Join(ErrStorage, err))
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbor ids: %w", errors.Join(ErrStorage, err))
	}
	return out, nil
}

// Fingerprint hashes a file's identity triple. A changed fingerprint
// means re-ingestion is necessary.
func Fingerprint(f FileInfo) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%d", f.Path, f.Size, f.ModifiedMS)))
	return hex.EncodeToString(h[:])
}

// FileMemoryID is stable per (workspace, path) so re-indexing updates the
// existing entity.file row.
func FileMemoryID(workspaceID, path string) string {
	h := sha1.Sum([]byte(workspaceID + "|" + path))
	return "file-" + hex.EncodeToString(h[:8])
}

// IndexFiles converts raw file metadata into low-confidence entity.file
// memories and records them as last indexed for recent-file recall.
func (s *SQLiteStore) IndexFiles(ctx context.Context, workspaceID string, files []FileInfo) ([]Memory, error) {
	if len(files) == 0 {
		return nil, nil
	}
	batch := make([]Memory, 0, len(files))
	for _, f := range files {
		batch = append(batch, Memory{
			ID:          FileMemoryID(workspaceID, f.Path),
			WorkspaceID: workspaceID,
			Kind:        KindFile,
			Content:     fmt.Sprintf("File %s in %s", filepath.Base(f.Path), filepath.Dir(f.Path)),
			Confidence:  fileIndexConfidence,
			Meta: Meta{File: &FileMeta{
				Path:        f.Path,
				Size:        f.Size,
				ModifiedMS:  f.ModifiedMS,
				Fingerprint: Fingerprint(f),
			}},
		})
	}
	if err := s.AddMemories(ctx, workspaceID, batch); err != nil {
		return nil, err
	}

	now := nowMS()
	for i, f := range files {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO file_index(workspace_id, path, memory_id, size, modified_ms, fingerprint, indexed_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(workspace_id, path) DO UPDATE SET
	memory_id = excluded.memory_id,
	size = excluded.size,
	modified_ms = excluded.modified_ms,
	fingerprint = excluded.fingerprint,
	indexed_at_ms = excluded.indexed_at_ms`,
			workspaceID, f.Path, batch[i].ID, f.Size, f.ModifiedMS, Fingerprint(f), now)
		if err != nil {
			return nil, fmt.Errorf("record file index: %w", errors.Join(ErrStorage, err))
		}
	}
	return batch, nil
}

// IsFileUnchanged reports whether a file matches its stored fingerprint.
// Older rows without a fingerprint are backfilled when size and mtime
// still match, so stale data heals itself on the next pass.
func (s *SQLiteStore) IsFileUnchanged(ctx context.Context, workspaceID string, f FileInfo) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT memory_id, size, modified_ms, fingerprint
FROM file_index
WHERE workspace_id = ? AND path = ?`, workspaceID, f.Path)

	var memoryID, stored string
	var size, modified int64
	if err := row.Scan(&memoryID, &size, &modified, &stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("file unchanged lookup: %w", errors.Join(ErrStorage, err))
	}

	fp := Fingerprint(f)
	if stored != "" {
		return stored == fp, nil
	}
	if size != f.Size || modified != f.ModifiedMS {
		return false, nil
	}

	// Backfill the missing fingerprint.
	if _, err := s.db.ExecContext(ctx, `
UPDATE file_index SET fingerprint = ? WHERE workspace_id = ? AND path = ?`, fp, workspaceID, f.Path); err != nil {
		return false, fmt.Errorf("backfill fingerprint: %w", errors.Join(ErrStorage, err))
	}
	if m, err := s.GetMemory(ctx, workspaceID, memoryID); err == nil {
		if m.Meta.File == nil {
			m.Meta.File = &FileMeta{Path: f.Path, Size: f.Size, ModifiedMS: f.ModifiedMS}
		}
		m.Meta.File.Fingerprint = fp
		_ = s.AddMemories(ctx, workspaceID, []Memory{m})
	}
	return true, nil
}

// RecentFiles returns the most recently indexed entity.file memories.
func (s *SQLiteStore) RecentFiles(ctx context.Context, workspaceID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT m.id, m.workspace_id, m.conversation_id, m.kind, m.content, m.confidence, m.metadata_json, m.embedding_json, m.created_at_ms, m.updated_at_ms
FROM file_index f
JOIN memories m ON m.workspace_id = f.workspace_id AND m.id = f.memory_id
WHERE f.workspace_id = ?
ORDER BY f.indexed_at_ms DESC
LIMIT ?`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent files: %w", errors.Join(ErrStorage, err))
	}
	defer rows.Close()
	return scanMemories(rows)
}

// SearchSubstring is the textual fallback tier: case-insensitive substring
// match of any token against content, scored by stored confidence.
func (s *SQLiteStore) SearchSubstring(ctx context.Context, workspaceID string, tokens []string, limit int) ([]ScoredMemory, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	conds := make([]string, 0, len(tokens))
	args := []any{workspaceID}
	for _, tok := range tokens {
		conds = append(conds, `lower(content) LIKE ?`)
		args = append(args, "%"+strings.ToLower(tok)+"%")
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
SELECT id, workspace_id, conversation_id, kind, content, confidence, metadata_json, embedding_json, created_at_ms, updated_at_ms
FROM memories
WHERE workspace_id = ? AND (%s)
ORDER BY confidence DESC, updated_at_ms DESC
LIMIT ?`, strings.Join(conds, " OR "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("substring search: %w", errors.Join(ErrStorage, err))
	}
	defer rows.Close()

	items, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMemory, 0, len(items))
	for _, m := range items {
		out = append(out, ScoredMemory{Memory: m, Score: m.Confidence})
	}
	return out, nil
}

// RecentMemories is the last-resort context source, newest first, with
// optional kind exclusions.
func (s *SQLiteStore) RecentMemories(ctx context.Context, workspaceID string, limit int, excludeKinds []Kind) ([]Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
SELECT id, workspace_id, conversation_id, kind, content, confidence, metadata_json, embedding_json, created_at_ms, updated_at_ms
FROM memories
WHERE workspace_id = ?`
	args := []any{workspaceID}
	for _, k := range excludeKinds {
		query += ` AND kind <> ?`
		args = append(args, string(k))
	}
	query += `
ORDER BY updated_at_ms DESC
LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", errors.Join(ErrStorage, err))
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (s *SQLiteStore) GetMemory(ctx context.Context, workspaceID, id string) (Memory, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, workspace_id, conversation_id, kind, content, confidence, metadata_json, embedding_json, created_at_ms, updated_at_ms
FROM memories
WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	m, err := scanMemoryRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Memory{}, sql.ErrNoRows
		}
		return Memory{}, fmt.Errorf("get memory: %w", errors.Join(ErrStorage, err))
	}
	return m, nil
}

func (s *SQLiteStore) GetMemories(ctx context.Context, workspaceID string, ids []string) (map[string]Memory, error) {
	if len(ids) == 0 {
		return map[string]Memory{}, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := []any{workspaceID}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, workspace_id, conversation_id, kind, content, confidence, metadata_json, embedding_json, created_at_ms, updated_at_ms
FROM memories
WHERE workspace_id = ? AND id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", errors.Join(ErrStorage, err))
	}
	defer rows.Close()

	items, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Memory, len(items))
	for _, m := range items {
		out[m.ID] = m
	}
	return out, nil
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	out := []Memory{}
	for rows.Next() {
		m, err := scanMemoryRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", errors.Join(ErrStorage, err))
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", errors.Join(ErrStorage, err))
	}
	return out, nil
}

func scanMemoryRow(scan func(dest ...any) error) (Memory, error) {
	var m Memory
	var kind, metaRaw, vecRaw string
	if err := scan(&m.ID, &m.WorkspaceID, &m.ConversationID, &kind, &m.Content, &m.Confidence, &metaRaw, &vecRaw, &m.CreatedAtMS, &m.UpdatedAtMS); err != nil {
		return Memory{}, err
	}
	m.Kind = Kind(kind)
	m.Meta = decodeMeta(metaRaw)
	m.Embedding = decodeVector(vecRaw)
	return m, nil
}

// SaveCommand persists the command, its actions, its memory links and an
// optional synthetic screen-context memory in one transaction. Partial
// writes are never observable.
func (s *SQLiteStore) SaveCommand(ctx context.Context, cmd Command, actions []Action, used []MemoryUse, screen *ScreenMeta) error {
	if strings.TrimSpace(cmd.ID) == "" || strings.TrimSpace(cmd.WorkspaceID) == "" {
		return fmt.Errorf("save command: %w: missing command/workspace id", ErrValidation)
	}
	if cmd.CreatedAtMS == 0 {
		cmd.CreatedAtMS = nowMS()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save command begin tx: %w", errors.Join(ErrStorage, err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := ensureWorkspaceExec(ctx, tx, cmd.WorkspaceID, cmd.UserID); err != nil {
		return fmt.Errorf("save command ensure workspace: %w", errors.Join(ErrStorage, err))
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO commands(id, workspace_id, user_id, text, response, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.WorkspaceID, cmd.UserID, cmd.Text, cmd.Response, cmd.CreatedAtMS); err != nil {
		return fmt.Errorf("save command insert: %w", errors.Join(ErrStorage, err))
	}

	for _, a := range actions {
		if a.ID == "" {
			a.ID = "act-" + uuid.NewString()
		}
		if a.Status == "" {
			a.Status = ActionStatusSuccess
		}
		if a.ExecutedAtMS == 0 {
			a.ExecutedAtMS = nowMS()
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO actions(id, command_id, kind, params_json, status, executed_at_ms)
VALUES(?, ?, ?, ?, ?, ?)`,
			a.ID, cmd.ID, a.Kind, encodeParams(a.Params), a.Status, a.ExecutedAtMS); err != nil {
			return fmt.Errorf("save command action: %w", errors.Join(ErrStorage, err))
		}
	}

	for _, u := range used {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO command_memories(command_id, memory_id, score)
VALUES(?, ?, ?)
ON CONFLICT(command_id, memory_id) DO UPDATE SET score = excluded.score`,
			cmd.ID, u.MemoryID, u.Score); err != nil {
			return fmt.Errorf("save command memory link: %w", errors.Join(ErrStorage, err))
		}
	}

	if screen != nil && strings.TrimSpace(screen.Text) != "" {
		screenMem := Memory{
			ID:          "scr-" + uuid.NewString(),
			WorkspaceID: cmd.WorkspaceID,
			Kind:        KindScreen,
			Content:     screen.Text,
			Confidence:  0.5,
			Meta:        Meta{Screen: screen},
		}
		if err := upsertMemoryTx(ctx, tx, &screenMem); err != nil {
			return fmt.Errorf("save command screen memory: %w", errors.Join(ErrStorage, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save command commit: %w", errors.Join(ErrStorage, err))
	}
	s.invalidateSearch(cmd.WorkspaceID)
	return nil
}

// ListActions returns the persisted actions for a command.
func (s *SQLiteStore) ListActions(ctx context.Context, commandID string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, command_id, kind, params_json, status, executed_at_ms
FROM actions
WHERE command_id = ?
ORDER BY executed_at_ms ASC, id ASC`, commandID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", errors.Join(ErrStorage, err))
	}
	defer rows.Close()

	out := []Action{}
	for rows.Next() {
		var a Action
		var params string
		if err := rows.Scan(&a.ID, &a.CommandID, &a.Kind, &params, &a.Status, &a.ExecutedAtMS); err != nil {
			return nil, fmt.Errorf("scan action: %w", errors.Join(ErrStorage, err))
		}
		a.Params = decodeParams(params)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", errors.Join(ErrStorage, err))
	}
	return out, nil
}

// GetCommand returns one command row.
func (s *SQLiteStore) GetCommand(ctx context.Context, id string) (Command, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, workspace_id, user_id, text, response, created_at_ms
FROM commands WHERE id = ?`, id)
	var c Command
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.UserID, &c.Text, &c.Response, &c.CreatedAtMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Command{}, sql.ErrNoRows
		}
		return Command{}, fmt.Errorf("get command: %w", errors.Join(ErrStorage, err))
	}
	return c, nil
}

// CountMemories reports totals per kind for a workspace.
func (s *SQLiteStore) CountMemories(ctx context.Context, workspaceID string) (int, map[Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT kind, COUNT(*) FROM memories WHERE workspace_id = ? GROUP BY kind`, workspaceID)
	if err != nil {
		return 0, nil, fmt.Errorf("count memories: %w", errors.Join(ErrStorage, err))
	}
	defer rows.Close()

	total := 0
	byKind := map[Kind]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return 0, nil, fmt.Errorf("scan memory count: %w", errors.Join(ErrStorage, err))
		}
		byKind[Kind(kind)] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate memory counts: %w", errors.Join(ErrStorage, err))
	}
	return total, byKind, nil
}

// RepairConfidence resets out-of-domain confidence values to the
// maintenance default. Returns the number of repaired rows.
func (s *SQLiteStore) RepairConfidence(ctx context.Context, workspaceID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE memories
SET confidence = 0.82, updated_at_ms = ?
WHERE workspace_id = ? AND (confidence < 0 OR confidence > 1)`, nowMS(), workspaceID)
	if err != nil {
		return 0, fmt.Errorf("repair confidence: %w", errors.Join(ErrStorage, err))
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.invalidateSearch(workspaceID)
	}
	return int(n), nil
}
