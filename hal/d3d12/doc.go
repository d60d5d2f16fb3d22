// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package d3d12 implements the HAL on Direct3D 12 with DirectX Raytracing.
//
// The backend binds d3d12.dll and dxgi.dll at run time through
// golang.org/x/sys/windows and calls COM methods by vtable slot, so no cgo
// toolchain is needed. It registers itself under hal.BackendD3D12 when the
// package is imported on Windows:
//
//	import _ "github.com/gogpu/raytrace/hal/d3d12"
//
// Devices are created at feature level 12.0 on the default adapter and
// report the ray-tracing tier from D3D12_FEATURE_D3D12_OPTIONS5. Command
// lists are ID3D12GraphicsCommandList4, swap chains are flip-discard
// IDXGISwapChain3 objects.
//
// On other platforms the package only exports the format tables.
package d3d12
