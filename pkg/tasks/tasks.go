// Quill - Memory layer for a personal command assistant
// License: MIT
//
// Copyright (c) 2026 Quill contributors

package tasks

import (
	"context"
	"sync"

	"github.com/quillmind/quill/pkg/logger"
)

// Handle tracks one detached background task. Callers may wait on Done or
// discard the handle; either way the error is observable and logged.
type Handle struct {
	name string
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Go runs fn in a goroutine and returns its handle. Task failures are
// logged even when nobody waits.
func Go(name string, fn func() error) *Handle {
	h := &Handle{name: name, done: make(chan struct{})}
	go func() {
		err := fn()
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
		if err != nil {
			logger.ErrorCF("tasks", "background task failed", map[string]interface{}{
				"task":  name,
				"error": err.Error(),
			})
		}
	}()
	return h
}

// Completed returns an already-finished handle, used when a phase ran
// synchronously and there is nothing left to wait on.
func Completed(name string, err error) *Handle {
	h := &Handle{name: name, done: make(chan struct{})}
	h.err = err
	close(h.done)
	return h
}

// Name identifies the task in logs.
func (h *Handle) Name() string { return h.name }

// Done is closed when the task finishes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is valid once Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks for completion or context cancellation.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.Err()
	}
}
