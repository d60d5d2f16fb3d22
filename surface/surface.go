// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package surface

import (
	"errors"
	"fmt"
)

// Handle is an opaque platform window handle.
type Handle uintptr

// String formats the handle in hex.
func (h Handle) String() string { return fmt.Sprintf("0x%x", uintptr(h)) }

// Surface describes a window's client area.
type Surface struct {
	Handle Handle
	Width  uint32
	Height uint32
}

// Event is a window notification routed through Dispatch.
type Event int

const (
	// Paint asks the window's renderer for a frame.
	Paint Event = iota

	// Resize reports a new client-area size.
	Resize

	// Destroy reports the window is going away.
	Destroy
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case Paint:
		return "Paint"
	case Resize:
		return "Resize"
	case Destroy:
		return "Destroy"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Renderer is anything that can produce a frame on request.
type Renderer interface {
	Render() error
}

// Errors.
var (
	// ErrNullHandle is returned when associating the zero handle.
	ErrNullHandle = errors.New("surface: null window handle")

	// ErrAlreadyAssociated is returned when a handle already has an entry.
	ErrAlreadyAssociated = errors.New("surface: handle already associated")
)
