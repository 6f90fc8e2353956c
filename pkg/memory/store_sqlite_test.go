package memory

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "quill.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAddMemoriesUpsertAndRootEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := Memory{ID: "m1", Kind: KindFact, Content: "prefers dark roast", Confidence: 0.9}
	if err := store.AddMemories(ctx, "ws", []Memory{m}); err != nil {
		t.Fatalf("AddMemories failed: %v", err)
	}

	m.Content = "prefers light roast"
	m.Confidence = 0.95
	if err := store.AddMemories(ctx, "ws", []Memory{m}); err != nil {
		t.Fatalf("AddMemories update failed: %v", err)
	}

	got, err := store.GetMemory(ctx, "ws", "m1")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if got.Content != "prefers light roast" || got.Confidence != 0.95 {
		t.Fatalf("upsert did not replace content: %+v", got)
	}

	total, _, err := store.CountMemories(ctx, "ws")
	if err != nil {
		t.Fatalf("CountMemories failed: %v", err)
	}
	// m1 plus the collection root, never a duplicate.
	if total != 2 {
		t.Fatalf("expected 2 memories after double add, got %d", total)
	}

	related, err := store.GetRelatedMemories(ctx, "ws", CollectionRootID("ws"), 1, nil)
	if err != nil {
		t.Fatalf("GetRelatedMemories failed: %v", err)
	}
	if len(related) != 1 || related[0].ID != "m1" {
		t.Fatalf("expected root to contain m1, got %+v", related)
	}
}

func TestIndexFilesIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	files := []FileInfo{
		{Path: "/docs/budget.xlsx", Size: 1024, ModifiedMS: 1000},
		{Path: "/docs/notes.md", Size: 64, ModifiedMS: 2000},
	}
	first, err := store.IndexFiles(ctx, "ws", files)
	if err != nil {
		t.Fatalf("IndexFiles failed: %v", err)
	}
	second, err := store.IndexFiles(ctx, "ws", files)
	if err != nil {
		t.Fatalf("second IndexFiles failed: %v", err)
	}
	if first[0].ID != second[0].ID {
		t.Fatalf("file memory id not stable: %q vs %q", first[0].ID, second[0].ID)
	}
	if first[0].Confidence != 0.3 {
		t.Fatalf("expected file confidence 0.3, got %v", first[0].Confidence)
	}

	total, byKind, err := store.CountMemories(ctx, "ws")
	if err != nil {
		t.Fatalf("CountMemories failed: %v", err)
	}
	if byKind[KindFile] != 2 {
		t.Fatalf("expected 2 file memories, got %d (total %d)", byKind[KindFile], total)
	}
}

func TestIsFileUnchanged(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := FileInfo{Path: "/docs/report.txt", Size: 100, ModifiedMS: 5000}
	unchanged, err := store.IsFileUnchanged(ctx, "ws", f)
	if err != nil {
		t.Fatalf("IsFileUnchanged failed: %v", err)
	}
	if unchanged {
		t.Fatal("unknown file reported as unchanged")
	}

	if _, err := store.IndexFiles(ctx, "ws", []FileInfo{f}); err != nil {
		t.Fatalf("IndexFiles failed: %v", err)
	}
	unchanged, err = store.IsFileUnchanged(ctx, "ws", f)
	if err != nil {
		t.Fatalf("IsFileUnchanged failed: %v", err)
	}
	if !unchanged {
		t.Fatal("indexed file reported as changed")
	}

	f.ModifiedMS = 6000
	unchanged, err = store.IsFileUnchanged(ctx, "ws", f)
	if err != nil {
		t.Fatalf("IsFileUnchanged failed: %v", err)
	}
	if unchanged {
		t.Fatal("modified file reported as unchanged")
	}
}

func TestIsFileUnchangedBackfillsFingerprint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := FileInfo{Path: "/docs/old.txt", Size: 42, ModifiedMS: 1234}
	if _, err := store.IndexFiles(ctx, "ws", []FileInfo{f}); err != nil {
		t.Fatalf("IndexFiles failed: %v", err)
	}
	// Simulate a row written before fingerprints existed.
	if _, err := store.db.Exec(`UPDATE file_index SET fingerprint = '' WHERE path = ?`, f.Path); err != nil {
		t.Fatalf("clear fingerprint failed: %v", err)
	}

	unchanged, err := store.IsFileUnchanged(ctx, "ws", f)
	if err != nil {
		t.Fatalf("IsFileUnchanged failed: %v", err)
	}
	if !unchanged {
		t.Fatal("size+mtime match should count as unchanged")
	}

	var fp string
	if err := store.db.QueryRow(`SELECT fingerprint FROM file_index WHERE path = ?`, f.Path).Scan(&fp); err != nil {
		t.Fatalf("read fingerprint failed: %v", err)
	}
	if fp != Fingerprint(f) {
		t.Fatalf("fingerprint not backfilled: %q", fp)
	}
}

func TestGetRelatedMemoriesTerminatesOnCycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []Memory{
		{ID: "a", Kind: KindFact, Content: "alpha", Confidence: 0.8},
		{ID: "b", Kind: KindFact, Content: "beta", Confidence: 0.8},
	}
	if err := store.AddMemories(ctx, "ws", batch); err != nil {
		t.Fatalf("AddMemories failed: %v", err)
	}
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		err := store.UpsertRelationship(ctx, Relationship{
			WorkspaceID: "ws", FromID: pair[0], ToID: pair[1], Relation: "refers_to",
		})
		if err != nil {
			t.Fatalf("UpsertRelationship failed: %v", err)
		}
	}

	related, err := store.GetRelatedMemories(ctx, "ws", "a", 10, nil)
	if err != nil {
		t.Fatalf("GetRelatedMemories failed: %v", err)
	}
	seen := map[string]bool{}
	for _, m := range related {
		if seen[m.ID] {
			t.Fatalf("memory %s visited twice", m.ID)
		}
		seen[m.ID] = true
	}
	if !seen["b"] {
		t.Fatalf("expected b in results, got %+v", related)
	}

	none, err := store.GetRelatedMemories(ctx, "ws", "a", 0, nil)
	if err != nil {
		t.Fatalf("GetRelatedMemories depth 0 failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("depth 0 must return nothing, got %d", len(none))
	}
}

func TestGetRelatedMemoriesKindFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []Memory{
		{ID: "root", Kind: KindFile, Content: "File report.txt in /docs", Confidence: 0.3},
		{ID: "c1", Kind: KindChunk, Content: "first chunk", Confidence: 0.8},
		{ID: "f1", Kind: KindFact, Content: "a fact", Confidence: 0.9},
	}
	if err := store.AddMemories(ctx, "ws", batch); err != nil {
		t.Fatalf("AddMemories failed: %v", err)
	}
	for _, to := range []string{"c1", "f1"} {
		err := store.UpsertRelationship(ctx, Relationship{
			WorkspaceID: "ws", FromID: "root", ToID: to, Relation: RelationContains,
		})
		if err != nil {
			t.Fatalf("UpsertRelationship failed: %v", err)
		}
	}

	related, err := store.GetRelatedMemories(ctx, "ws", "root", 1, []Kind{KindChunk})
	if err != nil {
		t.Fatalf("GetRelatedMemories failed: %v", err)
	}
	if len(related) != 1 || related[0].ID != "c1" {
		t.Fatalf("kind filter failed: %+v", related)
	}
}

func TestSaveCommandIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cmd := Command{ID: "cmd1", WorkspaceID: "ws", UserID: "u1", Text: "open budget", Response: "Opening budget.xlsx."}
	actions := []Action{
		{ID: "act1", Kind: ActionFileOpen, Params: map[string]string{"path": "/docs/budget.xlsx"}},
		{ID: "act1", Kind: ActionFileOpen, Params: map[string]string{"path": "/docs/budget2.xlsx"}},
	}
	if err := store.SaveCommand(ctx, cmd, actions, nil, nil); err == nil {
		t.Fatal("duplicate action id should fail the transaction")
	}

	if _, err := store.GetCommand(ctx, "cmd1"); err == nil {
		t.Fatal("command row survived a failed transaction")
	}
	left, err := store.ListActions(ctx, "cmd1")
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("actions survived a failed transaction: %+v", left)
	}
}

func TestSaveCommandPersistsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddMemories(ctx, "ws", []Memory{{ID: "m1", Kind: KindFact, Content: "x", Confidence: 0.9}}); err != nil {
		t.Fatalf("AddMemories failed: %v", err)
	}

	cmd := Command{ID: "cmd2", WorkspaceID: "ws", UserID: "u1", Text: "what is x", Response: "x is x"}
	actions := []Action{{Kind: ActionInfoRecall, Params: map[string]string{"memory_id": "m1"}}}
	used := []MemoryUse{{MemoryID: "m1", Score: 0.7}}
	screen := &ScreenMeta{App: "editor", Text: "some visible text"}

	if err := store.SaveCommand(ctx, cmd, actions, used, screen); err != nil {
		t.Fatalf("SaveCommand failed: %v", err)
	}

	saved, err := store.GetCommand(ctx, "cmd2")
	if err != nil {
		t.Fatalf("GetCommand failed: %v", err)
	}
	if saved.Response != "x is x" {
		t.Fatalf("unexpected response: %q", saved.Response)
	}

	acts, err := store.ListActions(ctx, "cmd2")
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	if len(acts) != 1 || acts[0].Kind != ActionInfoRecall || acts[0].Params["memory_id"] != "m1" {
		t.Fatalf("unexpected actions: %+v", acts)
	}

	_, byKind, err := store.CountMemories(ctx, "ws")
	if err != nil {
		t.Fatalf("CountMemories failed: %v", err)
	}
	if byKind[KindScreen] != 1 {
		t.Fatalf("screen memory not written: %+v", byKind)
	}
}

func TestSearchSubstring(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []Memory{
		{ID: "m1", Kind: KindFact, Content: "The Quarterly Budget lives in finance", Confidence: 0.9},
		{ID: "m2", Kind: KindFact, Content: "lunch is at noon", Confidence: 0.8},
	}
	if err := store.AddMemories(ctx, "ws", batch); err != nil {
		t.Fatalf("AddMemories failed: %v", err)
	}

	results, err := store.SearchSubstring(ctx, "ws", []string{"budget"}, 10)
	if err != nil {
		t.Fatalf("SearchSubstring failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "m1" {
		t.Fatalf("case-insensitive match failed: %+v", results)
	}
	if results[0].Score != 0.9 {
		t.Fatalf("substring score should equal stored confidence, got %v", results[0].Score)
	}
}

func TestRecentMemoriesExcludesKinds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []Memory{
		{ID: "m1", Kind: KindFact, Content: "a fact", Confidence: 0.9},
		{ID: "s1", Kind: KindScreen, Content: "screen text", Confidence: 0.5},
	}
	if err := store.AddMemories(ctx, "ws", batch); err != nil {
		t.Fatalf("AddMemories failed: %v", err)
	}

	recent, err := store.RecentMemories(ctx, "ws", 10, []Kind{KindScreen, KindCollection})
	if err != nil {
		t.Fatalf("RecentMemories failed: %v", err)
	}
	for _, m := range recent {
		if m.Kind == KindScreen || m.Kind == KindCollection {
			t.Fatalf("excluded kind leaked: %+v", m)
		}
	}
	if len(recent) != 1 || recent[0].ID != "m1" {
		t.Fatalf("unexpected recent set: %+v", recent)
	}
}

func TestRepairConfidence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []Memory{
		{ID: "ok", Kind: KindFact, Content: "fine", Confidence: 0.9},
		{ID: "zero", Kind: KindFact, Content: "zero is in-domain", Confidence: 0},
		{ID: "high", Kind: KindFact, Content: "too high", Confidence: 3.5},
		{ID: "neg", Kind: KindFact, Content: "negative", Confidence: -1},
	}
	if err := store.AddMemories(ctx, "ws", batch); err != nil {
		t.Fatalf("AddMemories failed: %v", err)
	}

	n, err := store.RepairConfidence(ctx, "ws")
	if err != nil {
		t.Fatalf("RepairConfidence failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 repaired rows, got %d", n)
	}
	for _, id := range []string{"high", "neg"} {
		m, err := store.GetMemory(ctx, "ws", id)
		if err != nil {
			t.Fatalf("GetMemory failed: %v", err)
		}
		if m.Confidence != 0.82 {
			t.Fatalf("memory %s not repaired: %v", id, m.Confidence)
		}
	}
	ok, err := store.GetMemory(ctx, "ws", "ok")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if ok.Confidence != 0.9 {
		t.Fatalf("valid confidence was touched: %v", ok.Confidence)
	}
	zero, err := store.GetMemory(ctx, "ws", "zero")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if zero.Confidence != 0 {
		t.Fatalf("boundary confidence 0 was repaired: %v", zero.Confidence)
	}
}
