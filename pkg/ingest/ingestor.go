// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quillmind/quill/pkg/logger"
	"github.com/quillmind/quill/pkg/memory"
	"github.com/quillmind/quill/pkg/retry"
	"github.com/quillmind/quill/pkg/tasks"
)

// Extraction results below this confidence are discarded.
const extractionFloor = 0.7

// Confidence assigned to raw document chunks stored when semantic
// extraction yields nothing.
const fallbackChunkConfidence = 0.8

// At most this many raw chunks are kept per file on the fallback path.
const maxFallbackChunks = 10

// ExtractedMemory is one semantic memory produced by a provider from file
// content.
type ExtractedMemory struct {
	Content    string
	Kind       memory.Kind
	Confidence float64
}

// MemoryExtractor distills file sections into semantic memories. source is
// a short human label for the file, used only for prompting.
type MemoryExtractor interface {
	ExtractMemories(ctx context.Context, source string, sections []string) ([]ExtractedMemory, error)
}

// Options tunes the ingestion pipeline. Zero values fall back to defaults.
type Options struct {
	AllowedExtensions []string
	ExcludePatterns   []string
	MinFileBytes      int64
	MaxParseBytes     int64

	PriorityFileCount   int
	PriorityBatchSize   int
	BackgroundBatchSize int
	PriorityBatchDelay  time.Duration
	BackgroundDelay     time.Duration

	SubBatchSize int
	MaxAttempts  int
	BackoffBase  time.Duration
}

func (o *Options) normalize() {
	if o.MinFileBytes <= 0 {
		o.MinFileBytes = 16
	}
	if o.MaxParseBytes <= 0 {
		o.MaxParseBytes = 2 << 20
	}
	if o.PriorityFileCount <= 0 {
		o.PriorityFileCount = 5
	}
	if o.PriorityBatchSize <= 0 {
		o.PriorityBatchSize = 5
	}
	if o.BackgroundBatchSize <= 0 {
		o.BackgroundBatchSize = 3
	}
	if o.SubBatchSize <= 0 {
		o.SubBatchSize = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
}

// Ingestor feeds workspace files through extraction into the store.
// Extractor may be nil; every file then takes the raw-chunk path.
type Ingestor struct {
	store     *memory.SQLiteStore
	content   ContentExtractor
	extractor MemoryExtractor
	retryable func(error) bool
	opts      Options
}

func NewIngestor(store *memory.SQLiteStore, content ContentExtractor, extractor MemoryExtractor, retryable func(error) bool, opts Options) *Ingestor {
	opts.normalize()
	if content == nil {
		content = NewTextExtractor(opts.AllowedExtensions)
	}
	return &Ingestor{
		store:     store,
		content:   content,
		extractor: extractor,
		retryable: retryable,
		opts:      opts,
	}
}

// Result summarizes a completed ingestion pass.
type Result struct {
	Discovered int
	Skipped    int
	Ingested   int
	Failed     int
	Background *tasks.Handle
}

// IngestDirectory discovers eligible files under root, processes the most
// recently modified ones synchronously and hands the remainder to a
// background task. The returned handle observes the background phase.
func (ing *Ingestor) IngestDirectory(ctx context.Context, workspaceID, root string) (*Result, error) {
	files, err := ing.discover(root)
	if err != nil {
		return nil, err
	}
	return ing.IngestFiles(ctx, workspaceID, files)
}

// IngestFiles runs the pipeline over an explicit file list.
func (ing *Ingestor) IngestFiles(ctx context.Context, workspaceID string, files []memory.FileInfo) (*Result, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, fmt.Errorf("ingest: %w: empty workspace id", memory.ErrValidation)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModifiedMS > files[j].ModifiedMS })

	res := &Result{Discovered: len(files)}
	split := ing.opts.PriorityFileCount
	if split > len(files) {
		split = len(files)
	}
	priority, background := files[:split], files[split:]

	logger.InfoCF("ingest", "starting ingestion", map[string]interface{}{
		"workspace":  workspaceID,
		"files":      len(files),
		"priority":   len(priority),
		"background": len(background),
	})

	ing.processBatches(ctx, workspaceID, priority, ing.opts.PriorityBatchSize, ing.opts.PriorityBatchDelay, res)

	if len(background) > 0 {
		res.Background = tasks.Go("ingest-background", func() error {
			bg := &Result{}
			ing.processBatches(context.Background(), workspaceID, background, ing.opts.BackgroundBatchSize, ing.opts.BackgroundDelay, bg)
			logger.InfoCF("ingest", "background ingestion done", map[string]interface{}{
				"workspace": workspaceID,
				"ingested":  bg.Ingested,
				"skipped":   bg.Skipped,
				"failed":    bg.Failed,
			})
			if bg.Failed > 0 {
				return fmt.Errorf("%d of %d background files failed", bg.Failed, len(background))
			}
			return nil
		})
	}
	return res, nil
}

func (ing *Ingestor) processBatches(ctx context.Context, workspaceID string, files []memory.FileInfo, batchSize int, delay time.Duration, res *Result) {
	for start := 0; start < len(files); start += batchSize {
		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}
		for _, f := range files[start:end] {
			switch err := ing.processFile(ctx, workspaceID, f); {
			case errors.Is(err, errUnchanged):
				res.Skipped++
			case err != nil:
				res.Failed++
				logger.ErrorCF("ingest", "file failed", map[string]interface{}{
					"path":  f.Path,
					"error": err.Error(),
				})
			default:
				res.Ingested++
			}
		}
		if delay > 0 && end < len(files) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

var errUnchanged = errors.New("file unchanged")

func (ing *Ingestor) processFile(ctx context.Context, workspaceID string, f memory.FileInfo) error {
	unchanged, err := ing.store.IsFileUnchanged(ctx, workspaceID, f)
	if err != nil {
		return err
	}
	if unchanged {
		logger.DebugCF("ingest", "skipping unchanged file", map[string]interface{}{"path": f.Path})
		return errUnchanged
	}

	text, err := ing.content.Extract(f.Path, ing.opts.MaxParseBytes)
	if err != nil {
		// Metadata is still worth an entity.file memory.
		if _, ierr := ing.store.IndexFiles(ctx, workspaceID, []memory.FileInfo{f}); ierr != nil {
			return ierr
		}
		return err
	}

	sections := SplitSections(text)
	extracted := ing.extractAll(ctx, f, sections)

	var batch []memory.Memory
	if len(extracted) > 0 {
		batch = extracted
	} else {
		batch = fallbackChunks(workspaceID, f.Path, sections)
	}
	if len(batch) > 0 {
		if err := ing.store.AddMemories(ctx, workspaceID, batch); err != nil {
			return err
		}
	}

	// Recording the fingerprint last means a failed file is retried on
	// the next pass.
	if _, err := ing.store.IndexFiles(ctx, workspaceID, []memory.FileInfo{f}); err != nil {
		return err
	}
	return nil
}

// extractAll runs the provider over section sub-batches with retries.
// A sub-batch that keeps failing is dropped; the rest still count.
func (ing *Ingestor) extractAll(ctx context.Context, f memory.FileInfo, sections []string) []memory.Memory {
	if ing.extractor == nil || len(sections) == 0 {
		return nil
	}

	policy := retry.Policy{
		MaxAttempts: ing.opts.MaxAttempts,
		Backoff:     retry.Exponential(ing.opts.BackoffBase),
		Retryable:   ing.retryable,
	}
	label := filepath.Base(f.Path)

	out := []memory.Memory{}
	for start := 0; start < len(sections); start += ing.opts.SubBatchSize {
		end := start + ing.opts.SubBatchSize
		if end > len(sections) {
			end = len(sections)
		}
		sub := sections[start:end]

		var items []ExtractedMemory
		err := policy.Do(ctx, func(ctx context.Context) error {
			var inner error
			items, inner = ing.extractor.ExtractMemories(ctx, label, sub)
			return inner
		})
		if err != nil {
			logger.WarnCF("ingest", "extraction sub-batch failed", map[string]interface{}{
				"path":  f.Path,
				"batch": start / ing.opts.SubBatchSize,
				"error": err.Error(),
			})
			continue
		}
		for _, it := range items {
			if strings.TrimSpace(it.Content) == "" {
				continue
			}
			if it.Confidence < extractionFloor {
				logger.DebugCF("ingest", "dropping low-confidence extraction", map[string]interface{}{
					"path":       f.Path,
					"confidence": it.Confidence,
				})
				continue
			}
			kind := it.Kind
			if kind == "" {
				kind = memory.KindFact
			}
			out = append(out, memory.Memory{
				Kind:       kind,
				Content:    strings.TrimSpace(it.Content),
				Confidence: it.Confidence,
				Meta:       memory.Meta{File: &memory.FileMeta{Path: f.Path}},
			})
		}
	}
	return out
}

// fallbackChunks preserves raw content when extraction produced nothing.
// Chunk content is the section text itself; the path lives in metadata
// only, never in the content.
func fallbackChunks(workspaceID, path string, sections []string) []memory.Memory {
	if len(sections) > maxFallbackChunks {
		sections = sections[:maxFallbackChunks]
	}
	total := len(sections)
	out := make([]memory.Memory, 0, total)
	for i, sec := range sections {
		out = append(out, memory.Memory{
			Kind:       memory.KindChunk,
			Content:    sec,
			Confidence: fallbackChunkConfidence,
			Meta: memory.Meta{Chunk: &memory.ChunkMeta{
				Path:        path,
				ChunkIndex:  i,
				TotalChunks: total,
			}},
		})
	}
	return out
}

// discover walks root and keeps regular files passing the extension
// allow-list, exclusion patterns and minimum size.
func (ing *Ingestor) discover(root string) ([]memory.FileInfo, error) {
	out := []memory.FileInfo{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.WarnCF("ingest", "walk error", map[string]interface{}{"path": path, "error": err.Error()})
			return nil
		}
		if d.IsDir() {
			if ing.excluded(path + "/") {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !ing.content.Supports(filepath.Ext(path)) || ing.excluded(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() < ing.opts.MinFileBytes {
			return nil
		}
		out = append(out, memory.FileInfo{
			Path:       path,
			Size:       info.Size(),
			ModifiedMS: info.ModTime().UnixMilli(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}
	return out, nil
}

func (ing *Ingestor) excluded(path string) bool {
	for _, pat := range ing.opts.ExcludePatterns {
		if pat == "" {
			continue
		}
		if strings.Contains(path, pat) {
			return true
		}
		if ok, _ := filepath.Match(pat, filepath.Base(strings.TrimSuffix(path, "/"))); ok {
			return true
		}
	}
	return false
}

// Stat converts an os.FileInfo lookup into the pipeline's file record.
func Stat(path string) (memory.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return memory.FileInfo{}, fmt.Errorf("stat file: %w", err)
	}
	return memory.FileInfo{Path: path, Size: info.Size(), ModifiedMS: info.ModTime().UnixMilli()}, nil
}
