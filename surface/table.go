// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package surface

import (
	"fmt"
	"sort"
	"sync"
)

type entry[T any] struct {
	surface Surface
	value   T
}

// Table maps window handles to a typed value, usually the renderer that
// owns the window. The zero value is ready to use.
type Table[T any] struct {
	mu      sync.RWMutex
	entries map[Handle]*entry[T]
}

// Associate registers v for the window described by s.
func (t *Table[T]) Associate(h Handle, s Surface, v T) error {
	if h == 0 {
		return ErrNullHandle
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entries == nil {
		t.entries = make(map[Handle]*entry[T])
	}
	if _, ok := t.entries[h]; ok {
		return fmt.Errorf("%w: %v", ErrAlreadyAssociated, h)
	}
	s.Handle = h
	t.entries[h] = &entry[T]{surface: s, value: v}
	return nil
}

// Lookup returns the value registered for h.
func (t *Table[T]) Lookup(h Handle) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[h]
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Surface returns the surface registered for h.
func (t *Table[T]) Surface(h Handle) (Surface, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[h]
	if !ok {
		return Surface{}, false
	}
	return e.surface, true
}

// Resize records a new client-area size for h.
func (t *Table[T]) Resize(h Handle, width, height uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[h]
	if ok {
		e.surface.Width, e.surface.Height = width, height
	}
	return ok
}

// Dissociate removes h and returns the value it held.
func (t *Table[T]) Dissociate(h Handle) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[h]
	if !ok {
		var zero T
		return zero, false
	}
	delete(t.entries, h)
	return e.value, true
}

// Len returns the number of associated windows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Handles returns the associated handles in ascending order.
func (t *Table[T]) Handles() []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hs := make([]Handle, 0, len(t.entries))
	for h := range t.entries {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// Dispatch routes e to the renderer registered for h. Paint renders a
// frame; Destroy removes the entry. It reports whether h was known.
func Dispatch[T Renderer](t *Table[T], h Handle, e Event) (bool, error) {
	switch e {
	case Destroy:
		_, ok := t.Dissociate(h)
		return ok, nil
	case Paint:
		r, ok := t.Lookup(h)
		if !ok {
			return false, nil
		}
		if err := r.Render(); err != nil {
			return true, fmt.Errorf("surface: render %v: %w", h, err)
		}
		return true, nil
	default:
		_, ok := t.Lookup(h)
		return ok, nil
	}
}
