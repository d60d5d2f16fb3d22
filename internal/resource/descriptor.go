package resource

import (
	"errors"
	"fmt"

	"github.com/gogpu/raytrace/hal"
)

// ErrHeapFull is returned when a descriptor heap has no free slot.
var ErrHeapFull = errors.New("resource: descriptor heap full")

// Descriptor is one allocated slot.
type Descriptor struct {
	Index uint32
	CPU   hal.CPUDescriptorHandle
	GPU   hal.GPUDescriptorHandle
}

// DescriptorAllocator hands out slots of one heap linearly.
type DescriptorAllocator struct {
	heap      hal.DescriptorHeap
	increment uint32
	capacity  uint32
	next      uint32
}

// NewDescriptorAllocator creates a heap of capacity descriptors.
func NewDescriptorAllocator(dev hal.Device, label string, t hal.DescriptorHeapType, capacity uint32, shaderVisible bool) (*DescriptorAllocator, error) {
	heap, err := dev.CreateDescriptorHeap(&hal.DescriptorHeapDesc{
		Label:          label,
		Type:           t,
		NumDescriptors: capacity,
		ShaderVisible:  shaderVisible,
	})
	if err != nil {
		return nil, fmt.Errorf("resource: create descriptor heap %q: %w", label, err)
	}
	return &DescriptorAllocator{heap: heap, increment: heap.Increment(), capacity: capacity}, nil
}

// Allocate returns the next free slot.
func (a *DescriptorAllocator) Allocate() (Descriptor, error) {
	if a.next >= a.capacity {
		return Descriptor{}, fmt.Errorf("%w: %d of %d used", ErrHeapFull, a.next, a.capacity)
	}
	d := a.At(a.next)
	a.next++
	return d, nil
}

// At returns the handles of slot i.
func (a *DescriptorAllocator) At(i uint32) Descriptor {
	d := Descriptor{Index: i, CPU: a.heap.CPUStart().Offset(i, a.increment)}
	if gpu := a.heap.GPUStart(); gpu != 0 {
		d.GPU = gpu.Offset(i, a.increment)
	}
	return d
}

// Heap returns the underlying heap.
func (a *DescriptorAllocator) Heap() hal.DescriptorHeap { return a.heap }

// Used returns the number of allocated slots.
func (a *DescriptorAllocator) Used() uint32 { return a.next }

// Destroy releases the heap.
func (a *DescriptorAllocator) Destroy() { a.heap.Destroy() }
