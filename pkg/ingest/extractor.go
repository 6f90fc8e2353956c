// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package ingest

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/quillmind/quill/pkg/logger"
	"github.com/quillmind/quill/pkg/memory"
)

// ContentExtractor turns a file on disk into plain text for chunking.
type ContentExtractor interface {
	// Supports reports whether the extractor can handle the extension
	// (lowercase, with leading dot).
	Supports(ext string) bool
	// Extract returns the file's text, reading at most maxBytes.
	Extract(path string, maxBytes int64) (string, error)
}

// TextExtractor reads plain-text formats as-is. Markdown passes through
// unchanged; the splitter handles its paragraph structure naturally.
type TextExtractor struct {
	exts map[string]struct{}
}

func NewTextExtractor(extensions []string) *TextExtractor {
	set := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		set[strings.ToLower(e)] = struct{}{}
	}
	return &TextExtractor{exts: set}
}

func (t *TextExtractor) Supports(ext string) bool {
	_, ok := t.exts[strings.ToLower(ext)]
	return ok
}

func (t *TextExtractor) Extract(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for extraction: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat for extraction: %w", err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		logger.WarnCF("ingest", "file exceeds parse ceiling, truncating", map[string]interface{}{
			"path":    path,
			"size":    info.Size(),
			"ceiling": maxBytes,
		})
	}

	var r io.Reader = f
	if maxBytes > 0 {
		r = io.LimitReader(f, maxBytes)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read for extraction: %w", err)
	}
	text := string(raw)
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: %s is not valid text", memory.ErrExtraction, path)
	}
	return strings.TrimSpace(text), nil
}
