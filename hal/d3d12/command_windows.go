// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build windows

package d3d12

import (
	"fmt"
	"math"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/gogpu/raytrace/hal"
)

// Queue is an ID3D12CommandQueue.
type Queue struct {
	q com
}

// ExecuteCommandLists submits lists in order.
func (q *Queue) ExecuteCommandLists(lists ...hal.CommandList) {
	if len(lists) == 0 {
		return
	}
	ptrs := make([]uintptr, len(lists))
	for i, l := range lists {
		ptrs[i] = uintptr(l.(*CommandList).cl)
	}
	q.q.call(slotQueueExecuteCommandLists, uintptr(len(ptrs)), uintptr(unsafe.Pointer(&ptrs[0])))
	runtime.KeepAlive(ptrs)
}

// Signal enqueues a fence update.
func (q *Queue) Signal(f hal.Fence, value uint64) error {
	return q.q.hr("Signal", slotQueueSignal, uintptr(f.(*Fence).f), uintptr(value))
}

// Destroy releases the queue.
func (q *Queue) Destroy() {
	q.q.release()
	q.q = 0
}

// CommandAllocator is an ID3D12CommandAllocator.
type CommandAllocator struct {
	a com
}

// Reset reclaims the allocator memory.
func (a *CommandAllocator) Reset() error {
	return a.a.hr("Reset", slotAllocatorReset)
}

// Destroy releases the allocator.
func (a *CommandAllocator) Destroy() {
	a.a.release()
	a.a = 0
}

// Fence is an ID3D12Fence.
type Fence struct {
	f com
}

// CompletedValue returns the fence value; MaxUint64 after device removal.
func (f *Fence) CompletedValue() uint64 {
	return uint64(f.f.call(slotFenceGetCompletedValue))
}

// SetEventOnCompletion fires e when the fence reaches value.
func (f *Fence) SetEventOnCompletion(value uint64, e hal.Event) error {
	return f.f.hr("SetEventOnCompletion", slotFenceSetEventOnCompletion, uintptr(value), uintptr(e.(*Event).h))
}

// Destroy releases the fence.
func (f *Fence) Destroy() {
	f.f.release()
	f.f = 0
}

// Event is an auto-reset Win32 event.
type Event struct {
	h windows.Handle
}

func newEvent() (*Event, error) {
	h, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("d3d12: CreateEvent: %w", err)
	}
	return &Event{h: h}, nil
}

const (
	waitObject0 = 0x0
	waitTimeout = 0x102
	infinite    = math.MaxUint32
)

// Wait blocks until the event is signaled or timeout elapses.
func (e *Event) Wait(timeout time.Duration) error {
	ms := uint32(infinite)
	if timeout >= 0 {
		ms = uint32(min(timeout.Milliseconds(), infinite-1))
	}
	r, err := windows.WaitForSingleObject(e.h, ms)
	switch {
	case err != nil:
		return fmt.Errorf("d3d12: WaitForSingleObject: %w", err)
	case r == waitTimeout:
		return fmt.Errorf("%w after %v", hal.ErrTimeout, timeout)
	case r != waitObject0:
		return fmt.Errorf("d3d12: WaitForSingleObject returned 0x%x", r)
	}
	return nil
}

// Destroy closes the event handle.
func (e *Event) Destroy() {
	if e.h != 0 {
		windows.CloseHandle(e.h)
		e.h = 0
	}
}

// CommandList is an ID3D12GraphicsCommandList4.
type CommandList struct {
	cl com
}

// Reset reopens the list on alloc.
func (l *CommandList) Reset(alloc hal.CommandAllocator) error {
	return l.cl.hr("Reset", slotListReset, uintptr(alloc.(*CommandAllocator).a), 0)
}

// Close ends recording.
func (l *CommandList) Close() error {
	return l.cl.hr("Close", slotListClose)
}

// ResourceBarrier records transition and UAV barriers.
func (l *CommandList) ResourceBarrier(barriers ...hal.Barrier) {
	if len(barriers) == 0 {
		return
	}
	nb := make([]resourceBarrier, len(barriers))
	for i, b := range barriers {
		var res uintptr
		if b.Resource != nil {
			res = uintptr(b.Resource.(*Resource).res)
		}
		nb[i] = resourceBarrier{Type: uint32(b.Type), Resource: res}
		if b.Type == hal.BarrierTransition {
			nb[i].Subresource = barrierAllSubresources
			nb[i].StateBefore = uint32(b.Before)
			nb[i].StateAfter = uint32(b.After)
		}
	}
	l.cl.call(slotListResourceBarrier, uintptr(len(nb)), uintptr(unsafe.Pointer(&nb[0])))
	runtime.KeepAlive(nb)
}

// BuildRaytracingAccelerationStructure records a build.
func (l *CommandList) BuildRaytracingAccelerationStructure(desc *hal.BuildDesc) {
	in, geoms := encodeBuildInputs(&desc.Inputs)
	nd := buildDesc{
		DestAccelerationStructureData:    uint64(desc.DestAddress),
		Inputs:                           in,
		SourceAccelerationStructureData:  uint64(desc.SourceAddress),
		ScratchAccelerationStructureData: uint64(desc.ScratchAddress),
	}
	l.cl.call(slotListBuildRaytracingAS, uintptr(unsafe.Pointer(&nd)), 0, 0)
	runtime.KeepAlive(geoms)
}

// SetDescriptorHeaps binds shader-visible heaps.
func (l *CommandList) SetDescriptorHeaps(heaps ...hal.DescriptorHeap) {
	if len(heaps) == 0 {
		return
	}
	ptrs := make([]uintptr, len(heaps))
	for i, h := range heaps {
		ptrs[i] = uintptr(h.(*DescriptorHeap).h)
	}
	l.cl.call(slotListSetDescriptorHeaps, uintptr(len(ptrs)), uintptr(unsafe.Pointer(&ptrs[0])))
	runtime.KeepAlive(ptrs)
}

// SetComputeRootSignature binds rs.
func (l *CommandList) SetComputeRootSignature(rs hal.RootSignature) {
	l.cl.call(slotListSetComputeRootSignature, uintptr(rs.(*RootSignature).rs))
}

// SetComputeRootDescriptorTable binds a descriptor table.
func (l *CommandList) SetComputeRootDescriptorTable(index uint32, base hal.GPUDescriptorHandle) {
	l.cl.call(slotListSetComputeRootDescriptorTable, uintptr(index), uintptr(base))
}

// SetComputeRootShaderResourceView binds a root SRV.
func (l *CommandList) SetComputeRootShaderResourceView(index uint32, location hal.GPUAddress) {
	l.cl.call(slotListSetComputeRootShaderResourceView, uintptr(index), uintptr(location))
}

// SetPipelineState1 binds a state object.
func (l *CommandList) SetPipelineState1(so hal.StateObject) {
	l.cl.call(slotListSetPipelineState1, uintptr(so.(*StateObject).so))
}

// DispatchRays launches a ray grid.
func (l *CommandList) DispatchRays(desc *hal.DispatchRaysDesc) {
	nd := dispatchRaysDesc{
		RayGenerationShaderRecord: addressRange{
			StartAddress: uint64(desc.RayGenerationShaderRecord.StartAddress),
			SizeInBytes:  desc.RayGenerationShaderRecord.SizeInBytes,
		},
		MissShaderTable:     stridedRange(desc.MissShaderTable),
		HitGroupTable:       stridedRange(desc.HitGroupTable),
		CallableShaderTable: stridedRange(desc.CallableShaderTable),
		Width:               desc.Width,
		Height:              desc.Height,
		Depth:               desc.Depth,
	}
	l.cl.call(slotListDispatchRays, uintptr(unsafe.Pointer(&nd)))
}

func stridedRange(r hal.GPUAddressRangeAndStride) addressRangeAndStride {
	return addressRangeAndStride{
		StartAddress:  uint64(r.StartAddress),
		SizeInBytes:   r.SizeInBytes,
		StrideInBytes: r.StrideInBytes,
	}
}

// CopyResource copies src into dst.
func (l *CommandList) CopyResource(dst, src hal.Resource) {
	l.cl.call(slotListCopyResource, uintptr(dst.(*Resource).res), uintptr(src.(*Resource).res))
}

// Destroy releases the list.
func (l *CommandList) Destroy() {
	l.cl.release()
	l.cl = 0
}
