// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package surface associates native window handles with the renderers
// drawing into them.
//
// The windowing layer owns the message loop. When it creates a window it
// registers the renderer for that window in a Table, and its paint
// callback looks the renderer up again by handle:
//
//	var windows surface.Table[*raytrace.Renderer]
//
//	r, err := raytrace.New(dev, uintptr(hwnd))
//	...
//	windows.Associate(surface.Handle(hwnd), surface.Surface{...}, r)
//
//	// in the window procedure
//	handled, err := surface.Dispatch(&windows, surface.Handle(hwnd), surface.Paint)
//
// Entries are removed with Dissociate when the window is destroyed.
// A Table is safe for concurrent use.
package surface
