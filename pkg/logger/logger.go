// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level controls which log lines are emitted.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	mu    sync.Mutex
	level = INFO
	out   io.Writer = os.Stderr
)

// SetLevel changes the global minimum level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects log output (tests).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
}

// ParseLevel maps a config string to a level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return "?"
}

func DebugC(component, msg string)                                  { emit(DEBUG, component, msg, nil) }
func DebugCF(component, msg string, fields map[string]interface{})  { emit(DEBUG, component, msg, fields) }
func InfoC(component, msg string)                                   { emit(INFO, component, msg, nil) }
func InfoCF(component, msg string, fields map[string]interface{})   { emit(INFO, component, msg, fields) }
func WarnC(component, msg string)                                   { emit(WARN, component, msg, nil) }
func WarnCF(component, msg string, fields map[string]interface{})   { emit(WARN, component, msg, fields) }
func ErrorC(component, msg string)                                  { emit(ERROR, component, msg, nil) }
func ErrorCF(component, msg string, fields map[string]interface{})  { emit(ERROR, component, msg, fields) }

func emit(l Level, component, msg string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(" ")
	b.WriteString(l.String())
	b.WriteString(" [")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteString("\n")
	_, _ = io.WriteString(out, b.String())
}
