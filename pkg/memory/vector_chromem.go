// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// VectorHit is one similarity-tier result.
type VectorHit struct {
	MemoryID   string
	Similarity float32
}

// VectorIndex stores memory embeddings in chromem with one collection per
// workspace. When dir is empty the index is in-memory only.
type VectorIndex struct {
	db       *chromem.DB
	embedder Embedder

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

func NewVectorIndex(dir string, embedder Embedder) (*VectorIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("vector index: %w: nil embedder", ErrValidation)
	}
	var db *chromem.DB
	var err error
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", errors.Join(ErrStorage, err))
		}
	}
	return &VectorIndex{
		db:          db,
		embedder:    embedder,
		collections: map[string]*chromem.Collection{},
	}, nil
}

func (v *VectorIndex) collection(workspaceID string) (*chromem.Collection, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if col, ok := v.collections[workspaceID]; ok {
		return col, nil
	}
	// Embeddings are always supplied by us, so the collection never calls
	// out to an embedding provider.
	col, err := v.db.GetOrCreateCollection("ws_"+workspaceID, map[string]string{"model": v.embedder.ModelID()}, nil)
	if err != nil {
		return nil, fmt.Errorf("vector collection: %w", errors.Join(ErrStorage, err))
	}
	v.collections[workspaceID] = col
	return col, nil
}

// Upsert writes the memory's embedding, computing one from content when the
// row carries none. Empty content is skipped.
func (v *VectorIndex) Upsert(ctx context.Context, workspaceID string, m Memory) error {
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return nil
	}
	vec := m.Embedding
	if len(vec) == 0 {
		vec = v.embedder.Embed(content)
	}
	col, err := v.collection(workspaceID)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        m.ID,
		Content:   content,
		Embedding: vec,
		Metadata:  map[string]string{"kind": string(m.Kind)},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("vector add: %w", errors.Join(ErrStorage, err))
	}
	return nil
}

// Query embeds the query text and returns up to limit nearest memories.
func (v *VectorIndex) Query(ctx context.Context, workspaceID, query string, limit int) ([]VectorHit, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}
	col, err := v.collection(workspaceID)
	if err != nil {
		return nil, err
	}
	// chromem rejects nResults above the document count.
	if n := col.Count(); n < limit {
		limit = n
	}
	if limit == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, v.embedder.Embed(query), limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", errors.Join(ErrStorage, err))
	}
	hits := make([]VectorHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, VectorHit{MemoryID: r.ID, Similarity: r.Similarity})
	}
	return hits, nil
}
