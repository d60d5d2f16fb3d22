// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build windows

package d3d12

import (
	"fmt"
	"log/slog"
	"runtime"
	"unsafe"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/rtlog"
)

func init() {
	hal.Register(hal.BackendD3D12, func() hal.Backend { return Backend{} })
}

func slogger() *slog.Logger { return rtlog.Logger() }

// Backend opens Direct3D 12 devices.
type Backend struct{}

// Name returns hal.BackendD3D12.
func (Backend) Name() string { return hal.BackendD3D12 }

// Open creates a device on the default adapter. Adapter selection by index
// is not supported yet.
func (Backend) Open(o hal.OpenOptions) (hal.Device, error) {
	if err := loadLibraries(); err != nil {
		return nil, err
	}
	if o.Adapter != 0 {
		return nil, fmt.Errorf("%w: adapter %d", hal.ErrNoDevice, o.Adapter)
	}
	if o.Debug {
		if err := enableDebugLayer(); err != nil {
			slogger().Warn("d3d12: debug layer unavailable", "err", err)
		}
	}

	var factory com
	r, _, _ := procCreateDXGIFactory2.Call(0, uintptr(unsafe.Pointer(&iidIDXGIFactory4)), uintptr(unsafe.Pointer(&factory)))
	if err := check("CreateDXGIFactory2", r); err != nil {
		return nil, err
	}

	var dev com
	r, _, _ = procD3D12CreateDevice.Call(0, d3dFeatureLevel12_0,
		uintptr(unsafe.Pointer(&iidID3D12Device5)), uintptr(unsafe.Pointer(&dev)))
	if err := check("D3D12CreateDevice", r); err != nil {
		factory.release()
		return nil, fmt.Errorf("%w: %w", hal.ErrNoDevice, err)
	}

	d := &Device{dev: dev, factory: factory, debug: o.Debug}
	var opts featureOptions5
	err := dev.hr("CheckFeatureSupport", slotDeviceCheckFeatureSupport,
		featureD3D12Options5, uintptr(unsafe.Pointer(&opts)), unsafe.Sizeof(opts))
	if err == nil {
		d.tier = hal.RaytracingTier(opts.RaytracingTier)
	}
	slogger().Info("d3d12: device created", "tier", d.tier.String(), "debug", o.Debug)
	return d, nil
}

func enableDebugLayer() error {
	var dbg com
	r, _, _ := procD3D12GetDebugInterface.Call(uintptr(unsafe.Pointer(&iidID3D12Debug)), uintptr(unsafe.Pointer(&dbg)))
	if err := check("D3D12GetDebugInterface", r); err != nil {
		return err
	}
	dbg.call(slotDebugEnableDebugLayer)
	dbg.release()
	return nil
}

// Device is an ID3D12Device5.
type Device struct {
	dev     com
	factory com
	debug   bool
	tier    hal.RaytracingTier
}

// Features reports the adapter and its ray-tracing tier.
func (d *Device) Features() hal.Features {
	return hal.Features{AdapterName: "Direct3D 12 default adapter", RaytracingTier: d.tier}
}

// CreateCommandQueue creates a command queue of type t.
func (d *Device) CreateCommandQueue(t hal.CommandListType) (hal.Queue, error) {
	desc := commandQueueDesc{Type: uint32(t)}
	var q com
	err := d.dev.hr("CreateCommandQueue", slotDeviceCreateCommandQueue,
		uintptr(unsafe.Pointer(&desc)), uintptr(unsafe.Pointer(&iidID3D12CommandQueue)), uintptr(unsafe.Pointer(&q)))
	if err != nil {
		return nil, err
	}
	return &Queue{q: q}, nil
}

// CreateCommandAllocator creates a command allocator of type t.
func (d *Device) CreateCommandAllocator(t hal.CommandListType) (hal.CommandAllocator, error) {
	var a com
	err := d.dev.hr("CreateCommandAllocator", slotDeviceCreateCommandAllocator,
		uintptr(t), uintptr(unsafe.Pointer(&iidID3D12CommandAllocator)), uintptr(unsafe.Pointer(&a)))
	if err != nil {
		return nil, err
	}
	return &CommandAllocator{a: a}, nil
}

// CreateCommandList creates an ID3D12GraphicsCommandList4 recording on alloc.
func (d *Device) CreateCommandList(t hal.CommandListType, alloc hal.CommandAllocator) (hal.CommandList, error) {
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return nil, fmt.Errorf("%w: foreign command allocator %T", hal.ErrInvalidCall, alloc)
	}
	var cl com
	err := d.dev.hr("CreateCommandList", slotDeviceCreateCommandList,
		0, uintptr(t), uintptr(a.a), 0,
		uintptr(unsafe.Pointer(&iidID3D12GraphicsCommandList4)), uintptr(unsafe.Pointer(&cl)))
	if err != nil {
		return nil, err
	}
	return &CommandList{cl: cl}, nil
}

// CreateFence creates a fence starting at initial.
func (d *Device) CreateFence(initial uint64) (hal.Fence, error) {
	var f com
	err := d.dev.hr("CreateFence", slotDeviceCreateFence,
		uintptr(initial), 0, uintptr(unsafe.Pointer(&iidID3D12Fence)), uintptr(unsafe.Pointer(&f)))
	if err != nil {
		return nil, err
	}
	return &Fence{f: f}, nil
}

// CreateEvent creates an auto-reset Win32 event.
func (d *Device) CreateEvent() (hal.Event, error) {
	return newEvent()
}

// CreateCommittedResource creates a resource with an implicit heap.
func (d *Device) CreateCommittedResource(heap hal.HeapType, desc *hal.ResourceDesc, initial hal.ResourceState) (hal.Resource, error) {
	props := heapProperties{Type: uint32(heap), CreationNodeMask: 1, VisibleNodeMask: 1}
	nd := resourceDesc{
		Dimension:        uint32(desc.Dimension),
		Width:            desc.Width,
		Height:           max(desc.Height, 1),
		DepthOrArraySize: 1,
		MipLevels:        1,
		Format:           resourceFormat(desc),
		SampleDesc:       sampleDesc{Count: 1},
		Layout:           resourceLayout(desc.Dimension),
		Flags:            uint32(desc.Flags),
	}
	if desc.Dimension == hal.DimensionTexture2D && nd.Format == dxgiFormatUnknown {
		return nil, fmt.Errorf("%w: unsupported texture format %v", hal.ErrInvalidCall, desc.Format)
	}
	var res com
	err := d.dev.hr("CreateCommittedResource", slotDeviceCreateCommittedResource,
		uintptr(unsafe.Pointer(&props)), 0, uintptr(unsafe.Pointer(&nd)), uintptr(initial), 0,
		uintptr(unsafe.Pointer(&iidID3D12Resource)), uintptr(unsafe.Pointer(&res)))
	if err != nil {
		return nil, err
	}
	r := &Resource{res: res, desc: *desc, heap: heap}
	if desc.Label != "" {
		r.SetName(desc.Label)
	}
	return r, nil
}

// CreateDescriptorHeap creates a descriptor heap.
func (d *Device) CreateDescriptorHeap(desc *hal.DescriptorHeapDesc) (hal.DescriptorHeap, error) {
	nd := descriptorHeapDesc{Type: uint32(desc.Type), NumDescriptors: desc.NumDescriptors}
	if desc.ShaderVisible {
		nd.Flags = descriptorHeapFlagShaderVisible
	}
	var h com
	err := d.dev.hr("CreateDescriptorHeap", slotDeviceCreateDescriptorHeap,
		uintptr(unsafe.Pointer(&nd)), uintptr(unsafe.Pointer(&iidID3D12DescriptorHeap)), uintptr(unsafe.Pointer(&h)))
	if err != nil {
		return nil, err
	}
	heap := &DescriptorHeap{h: h, desc: *desc}
	heap.increment = uint32(d.dev.call(slotDeviceGetDescriptorIncrement, uintptr(desc.Type)))
	h.call(slotHeapGetCPUStart, uintptr(unsafe.Pointer(&heap.cpu)))
	if desc.ShaderVisible {
		h.call(slotHeapGetGPUStart, uintptr(unsafe.Pointer(&heap.gpu)))
	}
	if desc.Label != "" {
		h.setName(desc.Label)
	}
	return heap, nil
}

// CreateShaderResourceView writes an acceleration-structure SRV to dst.
func (d *Device) CreateShaderResourceView(location hal.GPUAddress, dst hal.CPUDescriptorHandle) {
	desc := srvDescAccelerationStructure{
		ViewDimension:           srvDimensionRaytracingAccelerationStructure,
		Shader4ComponentMapping: defaultShader4ComponentMapping,
		Location:                uint64(location),
	}
	d.dev.call(slotDeviceCreateShaderResourceView, 0, uintptr(unsafe.Pointer(&desc)), uintptr(dst))
}

// CreateUnorderedAccessView writes a 2D texture UAV for r to dst.
func (d *Device) CreateUnorderedAccessView(r hal.Resource, dst hal.CPUDescriptorHandle) {
	res := r.(*Resource)
	desc := uavDescTexture2D{
		Format:        TextureFormat(res.desc.Format),
		ViewDimension: uavDimensionTexture2D,
	}
	d.dev.call(slotDeviceCreateUnorderedAccessView, uintptr(res.res), 0, uintptr(unsafe.Pointer(&desc)), uintptr(dst))
}

// CreateRootSignature serializes desc and creates the root signature.
func (d *Device) CreateRootSignature(desc *hal.RootSignatureDesc) (hal.RootSignature, error) {
	serialized, err := serializeRootSignature(desc)
	if err != nil {
		return nil, err
	}
	var rs com
	err = d.dev.hr("CreateRootSignature", slotDeviceCreateRootSignature,
		0, uintptr(unsafe.Pointer(&serialized[0])), uintptr(len(serialized)),
		uintptr(unsafe.Pointer(&iidID3D12RootSignature)), uintptr(unsafe.Pointer(&rs)))
	if err != nil {
		return nil, err
	}
	if desc.Label != "" {
		rs.setName(desc.Label)
	}
	return &RootSignature{rs: rs, desc: *desc, blob: serialized}, nil
}

// CreateStateObject creates a ray-tracing pipeline.
func (d *Device) CreateStateObject(desc *hal.StateObjectDesc) (hal.StateObject, error) {
	enc, err := encodeStateObject(desc)
	if err != nil {
		return nil, err
	}
	var so com
	err = d.dev.hr("CreateStateObject", slotDeviceCreateStateObject,
		uintptr(unsafe.Pointer(&enc.desc)), uintptr(unsafe.Pointer(&iidID3D12StateObject)), uintptr(unsafe.Pointer(&so)))
	runtime.KeepAlive(enc)
	if err != nil {
		return nil, err
	}
	props, err := so.query(&iidID3D12StateObjectProperties)
	if err != nil {
		so.release()
		return nil, err
	}
	return &StateObject{so: so, props: props}, nil
}

// AccelerationStructurePrebuildInfo queries the sizes a build needs.
func (d *Device) AccelerationStructurePrebuildInfo(inputs *hal.BuildInputs) hal.PrebuildInfo {
	in, geoms := encodeBuildInputs(inputs)
	var info prebuildInfo
	d.dev.call(slotDeviceGetRaytracingPrebuildInfo, uintptr(unsafe.Pointer(&in)), uintptr(unsafe.Pointer(&info)))
	runtime.KeepAlive(geoms)
	return hal.PrebuildInfo{
		ResultDataMaxSizeInBytes:     info.ResultDataMaxSizeInBytes,
		ScratchDataSizeInBytes:       info.ScratchDataSizeInBytes,
		UpdateScratchDataSizeInBytes: info.UpdateScratchDataSizeInBytes,
	}
}

// CreateSwapChain creates a flip-discard swap chain for desc.Window on q.
func (d *Device) CreateSwapChain(q hal.Queue, desc *hal.SwapChainDesc) (hal.SwapChain, error) {
	return newSwapChain(d, q.(*Queue), desc)
}

// RemovedReason returns nil while the device is healthy.
func (d *Device) RemovedReason() error {
	return check("GetDeviceRemovedReason", d.dev.call(slotDeviceGetDeviceRemovedReason))
}

// Destroy releases the device and its DXGI factory.
func (d *Device) Destroy() {
	d.dev.release()
	d.factory.release()
	d.dev, d.factory = 0, 0
}
