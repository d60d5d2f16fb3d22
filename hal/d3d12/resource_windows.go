// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build windows

package d3d12

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/raytrace/hal"
)

// Resource is an ID3D12Resource.
type Resource struct {
	res    com
	desc   hal.ResourceDesc
	heap   hal.HeapType
	mapped []byte
	// borrowed is set on swap-chain buffers, which the swap chain releases.
	borrowed bool
}

// Desc returns the creation description.
func (r *Resource) Desc() hal.ResourceDesc { return r.desc }

// Heap returns the heap type.
func (r *Resource) Heap() hal.HeapType { return r.heap }

// GPUVirtualAddress returns the buffer address, or zero for textures.
func (r *Resource) GPUVirtualAddress() hal.GPUAddress {
	if r.desc.Dimension != hal.DimensionBuffer {
		return 0
	}
	return hal.GPUAddress(r.res.call(slotResourceGetGPUVirtualAddress))
}

// Map maps subresource 0 of an UPLOAD or READBACK buffer.
func (r *Resource) Map() ([]byte, error) {
	if !r.heap.Mappable() {
		return nil, fmt.Errorf("%w: %s heap", hal.ErrNotMappable, r.heap)
	}
	if r.mapped != nil {
		return r.mapped, nil
	}
	var p uintptr
	if err := r.res.hr("Map", slotResourceMap, 0, 0, uintptr(unsafe.Pointer(&p))); err != nil {
		return nil, err
	}
	r.mapped = unsafe.Slice((*byte)(unsafe.Pointer(p)), r.desc.Width)
	return r.mapped, nil
}

// Unmap releases the mapping.
func (r *Resource) Unmap() {
	if r.mapped == nil {
		return
	}
	r.res.call(slotResourceUnmap, 0, 0)
	r.mapped = nil
}

// SetName sets the debug name.
func (r *Resource) SetName(name string) {
	r.desc.Label = name
	r.res.setName(name)
}

// Destroy releases the resource.
func (r *Resource) Destroy() {
	if r.res == 0 || r.borrowed {
		return
	}
	r.Unmap()
	r.res.release()
	r.res = 0
}

// DescriptorHeap is an ID3D12DescriptorHeap.
type DescriptorHeap struct {
	h         com
	desc      hal.DescriptorHeapDesc
	cpu       hal.CPUDescriptorHandle
	gpu       hal.GPUDescriptorHandle
	increment uint32
}

// Desc returns the creation description.
func (h *DescriptorHeap) Desc() hal.DescriptorHeapDesc { return h.desc }

// CPUStart returns the CPU handle of descriptor 0.
func (h *DescriptorHeap) CPUStart() hal.CPUDescriptorHandle { return h.cpu }

// GPUStart returns the GPU handle of descriptor 0, or zero.
func (h *DescriptorHeap) GPUStart() hal.GPUDescriptorHandle { return h.gpu }

// Increment returns the descriptor size.
func (h *DescriptorHeap) Increment() uint32 { return h.increment }

// Destroy releases the heap.
func (h *DescriptorHeap) Destroy() {
	h.h.release()
	h.h = 0
}
