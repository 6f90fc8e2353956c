// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package agent

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/adhocore/gronx"

	"github.com/quillmind/quill/pkg/logger"
	"github.com/quillmind/quill/pkg/memory"
)

// Two file candidates closer than this are ambiguous and force a
// clarifying question instead of a guess.
const disambiguationMargin = 0.05

var (
	openPattern     = regexp.MustCompile(`(?i)^(?:please\s+)?(?:open|show me|pull up|bring up)\s+(?:the\s+)?(.+?)\s*$`)
	scrollPattern   = regexp.MustCompile(`(?i)\b(?:scroll|page)\s+(down|up)\b|\b(next page)\b|\b(previous page|go back a page)\b`)
	summaryPattern  = regexp.MustCompile(`(?i)^(?:please\s+)?(?:summar(?:ize|ise)|give me a summary of|tl;?dr(?: of)?)\s+(?:the\s+)?(.+?)\s*$`)
	searchPattern   = regexp.MustCompile(`(?i)^(?:search|find|look up|look for)\s+(?:for\s+)?(.+?)\s*$`)
	reminderPattern = regexp.MustCompile(`(?i)^remind me\s+(?:to|about)\s+(.+?)\s*$`)
	recurrenceWords = map[string]string{
		"hourly":        "@hourly",
		"every hour":    "@hourly",
		"daily":         "@daily",
		"every day":     "@daily",
		"every morning": "0 9 * * *",
		"every evening": "0 18 * * *",
		"weekly":        "@weekly",
		"every week":    "@weekly",
		"monthly":       "@monthly",
		"every month":   "@monthly",
	}
)

// intentOutcome is a fully deterministic command resolution: no provider
// round-trip happened.
type intentOutcome struct {
	Text    string
	Actions []memory.Action
}

// fileCandidate is one file the command might refer to.
type fileCandidate struct {
	Path  string
	Score float64
}

// fileCandidates collapses scored memories into per-path candidates,
// keeping the best score per path.
func fileCandidates(memories []memory.ScoredMemory) []fileCandidate {
	best := map[string]float64{}
	for _, sm := range memories {
		var path string
		switch {
		case sm.Meta.File != nil:
			path = sm.Meta.File.Path
		case sm.Meta.Chunk != nil:
			path = sm.Meta.Chunk.Path
		}
		if path == "" {
			continue
		}
		if cur, ok := best[path]; !ok || sm.Score > cur {
			best[path] = sm.Score
		}
	}
	out := make([]fileCandidate, 0, len(best))
	for path, score := range best {
		out = append(out, fileCandidate{Path: path, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// interceptIntent resolves mechanical commands without a provider call.
// It returns nil when the command needs language-level handling.
func (p *Processor) interceptIntent(text string, memories []memory.ScoredMemory, lastOpened string) *intentOutcome {
	trimmed := strings.TrimSpace(text)

	if m := scrollPattern.FindStringSubmatch(trimmed); m != nil {
		return p.scrollIntent(m, memories, lastOpened)
	}
	if m := reminderPattern.FindStringSubmatch(trimmed); m != nil {
		return reminderIntent(m[1])
	}
	if m := summaryPattern.FindStringSubmatch(trimmed); m != nil {
		return openOrSummarize(m[1], memories, true)
	}
	if m := openPattern.FindStringSubmatch(trimmed); m != nil {
		return openOrSummarize(m[1], memories, false)
	}
	if m := searchPattern.FindStringSubmatch(trimmed); m != nil {
		query := strings.TrimSpace(m[1])
		return &intentOutcome{
			Text: fmt.Sprintf("Searching your workspace for %q.", query),
			Actions: []memory.Action{{
				Kind:   memory.ActionSearchQuery,
				Params: map[string]string{"query": query},
			}},
		}
	}
	return nil
}

// scrollIntent targets the active file; without one it falls back to the
// best file candidate from context. It fails fast only when both are
// absent.
func (p *Processor) scrollIntent(m []string, memories []memory.ScoredMemory, lastOpened string) *intentOutcome {
	target := lastOpened
	if target == "" {
		candidates := fileCandidates(memories)
		if len(candidates) == 0 {
			return &intentOutcome{Text: "There is no open file to scroll. Open one first."}
		}
		if len(candidates) > 1 && candidates[0].Score-candidates[1].Score < disambiguationMargin {
			return disambiguate(candidates)
		}
		target = candidates[0].Path
	}
	direction := "down"
	switch {
	case strings.EqualFold(m[1], "up"), m[3] != "":
		direction = "up"
	}
	return &intentOutcome{
		Text: fmt.Sprintf("Scrolling %s in %s.", direction, filepath.Base(target)),
		Actions: []memory.Action{{
			Kind:   memory.ActionFileScroll,
			Params: map[string]string{"direction": direction, "path": target},
		}},
	}
}

func openOrSummarize(target string, memories []memory.ScoredMemory, summarize bool) *intentOutcome {
	candidates := matchCandidates(target, fileCandidates(memories))
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) > 1 && candidates[0].Score-candidates[1].Score < disambiguationMargin {
		return disambiguate(candidates)
	}

	best := candidates[0]
	kind := memory.ActionFileOpen
	verb := "Opening"
	if summarize {
		kind = memory.ActionInfoSummarize
		verb = "Summarizing"
	}
	return &intentOutcome{
		Text: fmt.Sprintf("%s %s.", verb, filepath.Base(best.Path)),
		Actions: []memory.Action{{
			Kind:   kind,
			Params: map[string]string{"path": best.Path},
		}},
	}
}

// matchCandidates keeps only candidates whose filename shares a token with
// the requested target. An empty result means the target is unknown.
func matchCandidates(target string, candidates []fileCandidate) []fileCandidate {
	toks := tokenSet(target)
	if len(toks) == 0 {
		return candidates
	}
	out := []fileCandidate{}
	for _, c := range candidates {
		base := strings.ToLower(filepath.Base(c.Path))
		for tok := range toks {
			if strings.Contains(base, tok) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// disambiguate returns a numbered clarification with zero actions: an
// ambiguous guess must never execute.
func disambiguate(candidates []fileCandidate) *intentOutcome {
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}
	var sb strings.Builder
	sb.WriteString("I found more than one match. Which one did you mean?\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, filepath.Base(c.Path))
	}
	return &intentOutcome{Text: strings.TrimRight(sb.String(), "\n")}
}

// reminderIntent parses trailing recurrence phrases and validates them as
// cron schedules. An unrecognized schedule degrades to a one-shot.
func reminderIntent(body string) *intentOutcome {
	body = strings.TrimSpace(body)
	recurrence := ""
	text := body

	lower := strings.ToLower(body)
	for phrase, expr := range recurrenceWords {
		if strings.HasSuffix(lower, " "+phrase) || lower == phrase {
			recurrence = expr
			text = strings.TrimSpace(body[:len(body)-len(phrase)])
			break
		}
	}
	if recurrence != "" && !gronx.New().IsValid(recurrence) {
		logger.WarnCF("agent", "invalid reminder schedule, storing one-shot", map[string]interface{}{
			"schedule": recurrence,
		})
		recurrence = ""
	}
	if text == "" {
		text = body
	}

	params := map[string]string{"text": text}
	reply := fmt.Sprintf("I'll remind you to %s.", text)
	if recurrence != "" {
		params["recurrence"] = recurrence
		reply = fmt.Sprintf("I'll remind you to %s on schedule %s.", text, recurrence)
	}
	return &intentOutcome{
		Text: reply,
		Actions: []memory.Action{{
			Kind:   memory.ActionReminderCreate,
			Params: params,
		}},
	}
}

var wordPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range wordPattern.FindAllString(strings.ToLower(s), -1) {
		if len(tok) > 2 {
			out[tok] = struct{}{}
		}
	}
	return out
}
