// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package ingest

import (
	"regexp"
	"strings"
)

// Paragraphs longer than this get re-split on sentence boundaries.
const maxSectionChars = 2000

var (
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
	sentenceEnd    = regexp.MustCompile(`([.!?])\s+`)
)

// SplitSections breaks text into sections no longer than the cap. The
// primary boundary is the blank line; oversized paragraphs are re-split by
// accumulating whole sentences, so a sentence is never cut mid-way unless
// it alone exceeds the cap.
func SplitSections(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	sections := []string{}
	for _, para := range paragraphSplit.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= maxSectionChars {
			sections = append(sections, para)
			continue
		}
		sections = append(sections, splitBySentence(para)...)
	}
	return sections
}

func splitBySentence(para string) []string {
	sentences := splitSentences(para)
	out := []string{}
	var cur strings.Builder
	for _, s := range sentences {
		if cur.Len() > 0 && cur.Len()+1+len(s) > maxSectionChars {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		if len(s) > maxSectionChars {
			// A single runaway sentence: hard-wrap it.
			for len(s) > maxSectionChars {
				out = append(out, s[:maxSectionChars])
				s = s[maxSectionChars:]
			}
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(s)
	}
	if strings.TrimSpace(cur.String()) != "" {
		out = append(out, strings.TrimSpace(cur.String()))
	}
	return out
}

func splitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
