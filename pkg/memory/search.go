// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Searcher merges the similarity tier with the substring fallback tier and
// caches results briefly; repeated identical queries inside one command
// exchange hit the cache.
type Searcher struct {
	store *SQLiteStore
	index *VectorIndex
	cache *expirable.LRU[string, []ScoredMemory]
}

func NewSearcher(store *SQLiteStore, index *VectorIndex, cacheSize int, cacheTTL time.Duration) *Searcher {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}
	return &Searcher{
		store: store,
		index: index,
		cache: expirable.NewLRU[string, []ScoredMemory](cacheSize, nil, cacheTTL),
	}
}

// SearchMemories runs both tiers and returns at most limit unique memories,
// best score first. Vector similarity wins over substring confidence for the
// same memory.
func (s *Searcher) SearchMemories(ctx context.Context, workspaceID, query string, limit int) ([]ScoredMemory, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search memories: %w: empty query", ErrValidation)
	}
	if limit <= 0 {
		limit = 10
	}

	key := fmt.Sprintf("%s|%d|%s", workspaceID, limit, strings.ToLower(query))
	if cached, ok := s.cache.Get(key); ok {
		out := make([]ScoredMemory, len(cached))
		copy(out, cached)
		return out, nil
	}

	seen := map[string]struct{}{}
	merged := []ScoredMemory{}

	if s.index != nil {
		hits, err := s.index.Query(ctx, workspaceID, query, limit)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(hits))
		for _, h := range hits {
			ids = append(ids, h.MemoryID)
		}
		byID, err := s.store.GetMemories(ctx, workspaceID, ids)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			m, ok := byID[h.MemoryID]
			if !ok {
				continue
			}
			seen[m.ID] = struct{}{}
			merged = append(merged, ScoredMemory{Memory: m, Score: float64(h.Similarity)})
		}
	}

	if len(merged) < limit {
		fallback, err := s.store.SearchSubstring(ctx, workspaceID, queryTokens(query), limit)
		if err != nil {
			return nil, err
		}
		for _, sm := range fallback {
			if _, ok := seen[sm.ID]; ok {
				continue
			}
			seen[sm.ID] = struct{}{}
			merged = append(merged, sm)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > limit {
		merged = merged[:limit]
	}

	stored := make([]ScoredMemory, len(merged))
	copy(stored, merged)
	s.cache.Add(key, stored)
	return merged, nil
}

// Invalidate drops all cached results.
func (s *Searcher) Invalidate() { s.cache.Purge() }

// InvalidateWorkspace drops cached results for one workspace. The store
// calls this after every memory write so new rows are visible to the next
// query instead of waiting out the TTL.
func (s *Searcher) InvalidateWorkspace(workspaceID string) {
	prefix := workspaceID + "|"
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
}
