// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quillmind/quill/pkg/logger"
	"github.com/quillmind/quill/pkg/memory"
)

// Watcher re-ingests files as they change on disk. Events for the same
// path are debounced so a burst of editor writes triggers one pass.
type Watcher struct {
	ing         *Ingestor
	workspaceID string
	debounce    time.Duration
}

func NewWatcher(ing *Ingestor, workspaceID string) *Watcher {
	return &Watcher{ing: ing, workspaceID: workspaceID, debounce: 2 * time.Second}
}

// Watch blocks until ctx is cancelled, re-ingesting changed files under
// root.
func (w *Watcher) Watch(ctx context.Context, root string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := addRecursive(fsw, root); err != nil {
		return err
	}
	logger.InfoCF("ingest", "watching", map[string]interface{}{"root": root})

	pending := map[string]time.Time{}
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			// New directories need their own watch.
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addRecursive(fsw, ev.Name)
					continue
				}
			}
			if w.ing.content.Supports(filepath.Ext(ev.Name)) && !w.ing.excluded(ev.Name) {
				pending[ev.Name] = time.Now()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.WarnCF("ingest", "watch error", map[string]interface{}{"error": err.Error()})
		case <-ticker.C:
			now := time.Now()
			for path, at := range pending {
				if now.Sub(at) < w.debounce {
					continue
				}
				delete(pending, path)
				f, err := Stat(path)
				if err != nil {
					continue
				}
				if _, err := w.ing.IngestFiles(ctx, w.workspaceID, []memory.FileInfo{f}); err != nil {
					logger.ErrorCF("ingest", "re-ingest failed", map[string]interface{}{
						"path":  path,
						"error": err.Error(),
					})
				}
			}
		}
	}
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			logger.WarnCF("ingest", "cannot watch dir", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
		return nil
	})
}
