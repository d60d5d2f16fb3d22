// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package d3d12

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/raytrace/hal"
)

func TestTextureFormat(t *testing.T) {
	tests := []struct {
		in   gputypes.TextureFormat
		want uint32
	}{
		{gputypes.TextureFormatRGBA8Unorm, 28},
		{gputypes.TextureFormatBGRA8Unorm, 87},
		{gputypes.TextureFormatRGBA16Float, 10},
		{gputypes.TextureFormatUndefined, 0},
		{gputypes.TextureFormatDepth24PlusStencil8, 0},
	}
	for _, tt := range tests {
		if got := TextureFormat(tt.in); got != tt.want {
			t.Errorf("TextureFormat(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestVertexFormat(t *testing.T) {
	if got := VertexFormat(gputypes.VertexFormatFloat32x3); got != 6 {
		t.Errorf("VertexFormat(Float32x3) = %d, want 6", got)
	}
	if got := VertexFormat(gputypes.VertexFormatUint32); got != 0 {
		t.Errorf("VertexFormat(Uint32) = %d, want 0", got)
	}
}

func TestResourceFormat(t *testing.T) {
	buf := hal.BufferDesc("b", 256, hal.ResourceFlagNone)
	if resourceFormat(&buf) != 0 || resourceLayout(buf.Dimension) != textureLayoutRowMajor {
		t.Errorf("buffer format/layout = %d/%d", resourceFormat(&buf), resourceLayout(buf.Dimension))
	}
	tex := hal.Texture2DDesc("t", gputypes.TextureFormatBGRA8Unorm, 4, 4, hal.ResourceFlagAllowUnorderedAccess)
	if resourceFormat(&tex) != 87 || resourceLayout(tex.Dimension) != textureLayoutUnknown {
		t.Errorf("texture format/layout = %d/%d", resourceFormat(&tex), resourceLayout(tex.Dimension))
	}
}
