// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package d3d12

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/raytrace/hal"
)

// DXGI_FORMAT values.
const (
	dxgiFormatUnknown         uint32 = 0
	dxgiFormatR32G32B32Float  uint32 = 6
	dxgiFormatR32G32Float     uint32 = 16
	dxgiFormatR8G8B8A8Unorm   uint32 = 28
	dxgiFormatR16G16B16A16Flt uint32 = 10
	dxgiFormatB8G8R8A8Unorm   uint32 = 87
)

// TextureFormat maps a texture format to its DXGI_FORMAT, or zero when
// the backend does not support it.
func TextureFormat(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return dxgiFormatR8G8B8A8Unorm
	case gputypes.TextureFormatBGRA8Unorm:
		return dxgiFormatB8G8R8A8Unorm
	case gputypes.TextureFormatRGBA16Float:
		return dxgiFormatR16G16B16A16Flt
	default:
		return dxgiFormatUnknown
	}
}

// VertexFormat maps a vertex position format to its DXGI_FORMAT, or zero
// when acceleration-structure builds cannot consume it.
func VertexFormat(f gputypes.VertexFormat) uint32 {
	switch f {
	case gputypes.VertexFormatFloat32x3:
		return dxgiFormatR32G32B32Float
	case gputypes.VertexFormatFloat32x2:
		return dxgiFormatR32G32Float
	default:
		return dxgiFormatUnknown
	}
}

// Descriptor heap flags and resource dimensions used by the bindings.
const (
	descriptorHeapFlagShaderVisible = 0x1

	srvDimensionRaytracingAccelerationStructure = 11
	uavDimensionTexture2D                       = 4
	defaultShader4ComponentMapping              = 0x1688

	textureLayoutUnknown  = 0
	textureLayoutRowMajor = 1
)

// resourceLayout returns the D3D12_TEXTURE_LAYOUT of a resource.
func resourceLayout(d hal.Dimension) uint32 {
	if d == hal.DimensionBuffer {
		return textureLayoutRowMajor
	}
	return textureLayoutUnknown
}

// resourceFormat returns the DXGI_FORMAT of a resource description.
func resourceFormat(desc *hal.ResourceDesc) uint32 {
	if desc.Dimension == hal.DimensionBuffer {
		return dxgiFormatUnknown
	}
	return TextureFormat(desc.Format)
}
