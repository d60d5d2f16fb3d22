// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build windows

package d3d12

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/gogpu/raytrace/hal"
)

var (
	d3d12dll = windows.NewLazySystemDLL("d3d12.dll")
	dxgidll  = windows.NewLazySystemDLL("dxgi.dll")

	procD3D12CreateDevice           = d3d12dll.NewProc("D3D12CreateDevice")
	procD3D12GetDebugInterface      = d3d12dll.NewProc("D3D12GetDebugInterface")
	procD3D12SerializeRootSignature = d3d12dll.NewProc("D3D12SerializeRootSignature")
	procCreateDXGIFactory2          = dxgidll.NewProc("CreateDXGIFactory2")
)

// loadLibraries reports hal.ErrNotInstalled when a required entry point is
// missing.
func loadLibraries() error {
	for _, p := range []*windows.LazyProc{
		procD3D12CreateDevice,
		procD3D12GetDebugInterface,
		procD3D12SerializeRootSignature,
		procCreateDXGIFactory2,
	} {
		if err := p.Find(); err != nil {
			return fmt.Errorf("%w: %s: %w", hal.ErrNotInstalled, p.Name, err)
		}
	}
	return nil
}

// GUID is a COM interface identifier.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

var (
	iidID3D12Device5               = GUID{0x8b4f173b, 0x2fea, 0x4b80, [8]byte{0x8f, 0x58, 0x43, 0x07, 0x19, 0x1a, 0xb9, 0x5d}}
	iidID3D12Debug                 = GUID{0x344488b7, 0x6846, 0x474b, [8]byte{0xb9, 0x89, 0xf0, 0x27, 0x44, 0x82, 0x45, 0xe0}}
	iidID3D12CommandQueue          = GUID{0x0ec870a6, 0x5d7e, 0x4c22, [8]byte{0x8c, 0xfc, 0x5b, 0xaa, 0xe0, 0x76, 0x16, 0xed}}
	iidID3D12CommandAllocator      = GUID{0x6102dee4, 0xaf59, 0x4b09, [8]byte{0xb9, 0x99, 0xb4, 0x4d, 0x73, 0xf0, 0x9b, 0x24}}
	iidID3D12GraphicsCommandList4  = GUID{0x8754318e, 0xd3a9, 0x4541, [8]byte{0x98, 0xcf, 0x64, 0x5b, 0x50, 0xdc, 0x48, 0x74}}
	iidID3D12Fence                 = GUID{0x0a753dcf, 0xc4d8, 0x4b91, [8]byte{0xad, 0xf6, 0xbe, 0x5a, 0x60, 0xd9, 0x5a, 0x76}}
	iidID3D12Resource              = GUID{0x696442be, 0xa72e, 0x4059, [8]byte{0xbc, 0x79, 0x5b, 0x5c, 0x98, 0x04, 0x0f, 0xad}}
	iidID3D12DescriptorHeap        = GUID{0x8efb471d, 0x616c, 0x4f49, [8]byte{0x90, 0xf7, 0x12, 0x7b, 0xb7, 0x63, 0xfa, 0x51}}
	iidID3D12RootSignature         = GUID{0xc54a6b66, 0x72df, 0x4ee8, [8]byte{0x8b, 0xe5, 0xa9, 0x46, 0xa1, 0x42, 0x92, 0x14}}
	iidID3D12StateObject           = GUID{0x47016943, 0xfca8, 0x4594, [8]byte{0x93, 0xea, 0xaf, 0x25, 0x8b, 0x55, 0x34, 0x6d}}
	iidID3D12StateObjectProperties = GUID{0xde5fa827, 0x9bf9, 0x4f26, [8]byte{0x89, 0xff, 0xd7, 0xf5, 0x6f, 0xde, 0x38, 0x60}}
	iidIDXGIFactory4               = GUID{0x1bc6ea02, 0xef36, 0x464f, [8]byte{0xbf, 0x0c, 0x21, 0xca, 0x39, 0xe5, 0x16, 0x8a}}
	iidIDXGISwapChain3             = GUID{0x94d99bdb, 0xf1f8, 0x4ab0, [8]byte{0xb2, 0x36, 0x7d, 0xa0, 0x17, 0x0e, 0xda, 0xb1}}
)

// Vtable slots. Each interface continues the slots of its base.
const (
	slotQueryInterface = 0
	slotRelease        = 2

	// ID3D12Object
	slotSetName = 6

	// ID3D12Device .. ID3D12Device5
	slotDeviceCreateCommandQueue        = 8
	slotDeviceCreateCommandAllocator    = 9
	slotDeviceCreateCommandList         = 12
	slotDeviceCheckFeatureSupport       = 13
	slotDeviceCreateDescriptorHeap      = 14
	slotDeviceGetDescriptorIncrement    = 15
	slotDeviceCreateRootSignature       = 16
	slotDeviceCreateShaderResourceView  = 18
	slotDeviceCreateUnorderedAccessView = 19
	slotDeviceCreateCommittedResource   = 27
	slotDeviceCreateFence               = 36
	slotDeviceGetDeviceRemovedReason    = 37
	slotDeviceCreateStateObject         = 62
	slotDeviceGetRaytracingPrebuildInfo = 63

	// ID3D12Resource
	slotResourceMap                  = 8
	slotResourceUnmap                = 9
	slotResourceGetGPUVirtualAddress = 11

	// ID3D12CommandAllocator
	slotAllocatorReset = 8

	// ID3D12Fence
	slotFenceGetCompletedValue    = 8
	slotFenceSetEventOnCompletion = 9

	// ID3D12DescriptorHeap
	slotHeapGetCPUStart = 9
	slotHeapGetGPUStart = 10

	// ID3D12CommandQueue
	slotQueueExecuteCommandLists = 10
	slotQueueSignal              = 14

	// ID3D12GraphicsCommandList .. ID3D12GraphicsCommandList4
	slotListClose                            = 9
	slotListReset                            = 10
	slotListCopyResource                     = 17
	slotListResourceBarrier                  = 26
	slotListSetDescriptorHeaps               = 28
	slotListSetComputeRootSignature          = 29
	slotListSetComputeRootDescriptorTable    = 31
	slotListSetComputeRootShaderResourceView = 39
	slotListBuildRaytracingAS                = 72
	slotListSetPipelineState1                = 75
	slotListDispatchRays                     = 76

	// ID3D12StateObjectProperties
	slotPropsGetShaderIdentifier = 3

	// ID3D12Debug
	slotDebugEnableDebugLayer = 3

	// ID3DBlob
	slotBlobGetBufferPointer = 3
	slotBlobGetBufferSize    = 4

	// IDXGIFactory2
	slotFactoryCreateSwapChainForHwnd = 15

	// IDXGISwapChain .. IDXGISwapChain3
	slotSwapChainPresent                   = 8
	slotSwapChainGetBuffer                 = 9
	slotSwapChainGetCurrentBackBufferIndex = 36
)

// com is a pointer to a COM object.
type com uintptr

// call invokes vtable slot of c with c as the implicit first argument.
func (c com) call(slot int, args ...uintptr) uintptr {
	vtbl := *(*uintptr)(unsafe.Pointer(c))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(slot)*unsafe.Sizeof(uintptr(0))))
	r, _, _ := syscall.SyscallN(fn, append([]uintptr{uintptr(c)}, args...)...)
	return r
}

// hr invokes slot and converts a failing HRESULT into hal.HRESULTError.
func (c com) hr(name string, slot int, args ...uintptr) error {
	return check(name, c.call(slot, args...))
}

// release drops one reference. Zero is ignored.
func (c com) release() {
	if c != 0 {
		c.call(slotRelease)
	}
}

// query returns the interface iid of c.
func (c com) query(iid *GUID) (com, error) {
	var out com
	err := c.hr("QueryInterface", slotQueryInterface, uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&out)))
	return out, err
}

// setName calls ID3D12Object::SetName.
func (c com) setName(name string) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return
	}
	c.call(slotSetName, uintptr(unsafe.Pointer(p)))
}

// HRESULT codes the bindings treat specially.
const (
	hresultDeviceRemoved = 0x887A0005
	hresultDeviceHung    = 0x887A0006
	hresultDeviceReset   = 0x887A0007
	hresultOutOfMemory   = 0x8007000E
	hresultInvalidArg    = 0x80070057
)

// check converts a failing HRESULT into an error wrapping the matching hal
// sentinel when one exists.
func check(name string, r uintptr) error {
	code := uint32(r)
	if int32(code) >= 0 {
		return nil
	}
	err := hal.HRESULTError{Call: name, Code: code}
	switch code {
	case hresultDeviceRemoved, hresultDeviceHung, hresultDeviceReset:
		return fmt.Errorf("%w: %w", hal.ErrDeviceRemoved, err)
	case hresultOutOfMemory:
		return fmt.Errorf("%w: %w", hal.ErrOutOfMemory, err)
	case hresultInvalidArg:
		return fmt.Errorf("%w: %w", hal.ErrInvalidCall, err)
	default:
		return err
	}
}

// blob is an ID3DBlob.
type blob com

func (b blob) bytes() []byte {
	p := com(b).call(slotBlobGetBufferPointer)
	n := com(b).call(slotBlobGetBufferSize)
	if p == 0 || n == 0 {
		return nil
	}
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(p)), n)...)
}

func utf16(s string) *uint16 {
	if s == "" {
		return nil
	}
	p, err := windows.UTF16PtrFromString(s)
	if err != nil {
		return nil
	}
	return p
}
