package soft

import (
	"fmt"
	"sync"

	"github.com/gogpu/raytrace/hal"
)

// descriptorIncrement is the handle distance between two descriptors.
const descriptorIncrement = 32

// heapSpan is the handle space reserved per heap.
const heapSpan = 1 << 24

type descriptorKind uint8

const (
	descriptorEmpty descriptorKind = iota
	descriptorAccelerationStructure
	descriptorTextureUAV
)

type descriptor struct {
	kind     descriptorKind
	location hal.GPUAddress
	texture  *Resource
}

// DescriptorHeap is an array of descriptors.
type DescriptorHeap struct {
	dev  *Device
	desc hal.DescriptorHeapDesc
	cpu  hal.CPUDescriptorHandle
	gpu  hal.GPUDescriptorHandle

	mu    sync.Mutex
	slots []descriptor
}

// CreateDescriptorHeap creates a heap with its own handle range.
func (d *Device) CreateDescriptorHeap(desc *hal.DescriptorHeapDesc) (hal.DescriptorHeap, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc == nil || desc.NumDescriptors == 0 {
		return nil, fmt.Errorf("%w: empty descriptor heap", hal.ErrInvalidCall)
	}
	if uint64(desc.NumDescriptors)*descriptorIncrement > heapSpan {
		return nil, fmt.Errorf("%w: %d descriptors", hal.ErrOutOfMemory, desc.NumDescriptors)
	}
	if desc.ShaderVisible && (desc.Type == hal.DescriptorHeapRTV || desc.Type == hal.DescriptorHeapDSV) {
		return nil, fmt.Errorf("%w: RTV and DSV heaps cannot be shader visible", hal.ErrInvalidCall)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	n := uint64(len(d.heaps) + 1)
	h := &DescriptorHeap{
		dev:   d,
		desc:  *desc,
		cpu:   hal.CPUDescriptorHandle(n * heapSpan),
		slots: make([]descriptor, desc.NumDescriptors),
	}
	if desc.ShaderVisible {
		h.gpu = hal.GPUDescriptorHandle(d.id<<48 | n*heapSpan)
	}
	d.heaps = append(d.heaps, h)
	return h, nil
}

// Desc returns the creation description.
func (h *DescriptorHeap) Desc() hal.DescriptorHeapDesc { return h.desc }

// CPUStart returns the first CPU handle.
func (h *DescriptorHeap) CPUStart() hal.CPUDescriptorHandle { return h.cpu }

// GPUStart returns the first GPU handle, or zero for CPU-only heaps.
func (h *DescriptorHeap) GPUStart() hal.GPUDescriptorHandle { return h.gpu }

// Increment returns the handle distance between descriptors.
func (h *DescriptorHeap) Increment() uint32 { return descriptorIncrement }

// Destroy is a no-op.
func (h *DescriptorHeap) Destroy() {}

func (d *Device) heapForCPU(dst hal.CPUDescriptorHandle) (*DescriptorHeap, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.heaps {
		if dst < h.cpu || dst >= h.cpu+heapSpan {
			continue
		}
		off := uint64(dst - h.cpu)
		i := off / descriptorIncrement
		if off%descriptorIncrement != 0 || i >= uint64(len(h.slots)) {
			return nil, 0, fmt.Errorf("handle %#x outside heap %q", uint64(dst), h.desc.Label)
		}
		return h, int(i), nil
	}
	return nil, 0, fmt.Errorf("handle %#x does not belong to any heap", uint64(dst))
}

func (d *Device) writeDescriptor(dst hal.CPUDescriptorHandle, v descriptor, use string) {
	h, i, err := d.heapForCPU(dst)
	if err != nil {
		d.remove(fmt.Errorf("%s: %w", use, err))
		return
	}
	if h.desc.Type != hal.DescriptorHeapCBVSRVUAV {
		d.remove(fmt.Errorf("%s: heap %q is not a CBV/SRV/UAV heap", use, h.desc.Label))
		return
	}
	h.mu.Lock()
	h.slots[i] = v
	h.mu.Unlock()
}

// CreateShaderResourceView writes an acceleration-structure SRV.
func (d *Device) CreateShaderResourceView(location hal.GPUAddress, dst hal.CPUDescriptorHandle) {
	if location%hal.AccelerationStructureAlignment != 0 {
		d.remove(fmt.Errorf("CreateShaderResourceView: location %#x is not %d-byte aligned", uint64(location), hal.AccelerationStructureAlignment))
		return
	}
	d.writeDescriptor(dst, descriptor{kind: descriptorAccelerationStructure, location: location}, "CreateShaderResourceView")
}

// CreateUnorderedAccessView writes a 2D texture UAV.
func (d *Device) CreateUnorderedAccessView(r hal.Resource, dst hal.CPUDescriptorHandle) {
	sr, err := d.own(r)
	if err != nil {
		d.remove(fmt.Errorf("CreateUnorderedAccessView: %w", err))
		return
	}
	if sr.desc.Dimension != hal.DimensionTexture2D || sr.desc.Flags&hal.ResourceFlagAllowUnorderedAccess == 0 {
		d.remove(fmt.Errorf("CreateUnorderedAccessView: %q is not a texture with unordered access", sr.Name()))
		return
	}
	d.writeDescriptor(dst, descriptor{kind: descriptorTextureUAV, texture: sr}, "CreateUnorderedAccessView")
}

// lookupDescriptor resolves a GPU handle against the bound heaps.
func (x *executor) lookupDescriptor(h hal.GPUDescriptorHandle) (*DescriptorHeap, int, error) {
	for _, heap := range x.heaps {
		if h < heap.gpu || h >= heap.gpu+heapSpan {
			continue
		}
		off := uint64(h - heap.gpu)
		i := off / descriptorIncrement
		if off%descriptorIncrement != 0 || i >= uint64(len(heap.slots)) {
			return nil, 0, fmt.Errorf("GPU handle %#x outside heap %q", uint64(h), heap.desc.Label)
		}
		return heap, int(i), nil
	}
	return nil, 0, fmt.Errorf("GPU handle %#x is not in a bound descriptor heap", uint64(h))
}

func (x *executor) descriptorAt(table hal.GPUDescriptorHandle, index uint32) (descriptor, error) {
	heap, i, err := x.lookupDescriptor(table)
	if err != nil {
		return descriptor{}, err
	}
	j := i + int(index)
	if j >= len(heap.slots) {
		return descriptor{}, fmt.Errorf("descriptor %d past the end of heap %q", j, heap.desc.Label)
	}
	heap.mu.Lock()
	defer heap.mu.Unlock()
	return heap.slots[j], nil
}
