package soft

import (
	"fmt"
	"sync"

	"github.com/gogpu/raytrace/hal"
)

// Resource is a committed resource in host memory.
type Resource struct {
	dev  *Device
	desc hal.ResourceDesc
	heap hal.HeapType
	addr hal.GPUAddress
	data []byte

	// state is the state on the queue timeline.
	state hal.ResourceState

	mu        sync.Mutex
	name      string
	mapped    bool
	destroyed bool
}

// CreateCommittedResource allocates zeroed memory for a buffer or texture.
func (d *Device) CreateCommittedResource(heap hal.HeapType, desc *hal.ResourceDesc, initial hal.ResourceState) (hal.Resource, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, fmt.Errorf("%w: nil resource description", hal.ErrInvalidCall)
	}
	switch heap {
	case hal.HeapDefault:
	case hal.HeapUpload:
		if initial != hal.StateGenericRead {
			return nil, fmt.Errorf("%w: UPLOAD resources must start in GENERIC_READ, got %v", hal.ErrInvalidCall, initial)
		}
	case hal.HeapReadback:
		if initial != hal.StateCopyDest {
			return nil, fmt.Errorf("%w: READBACK resources must start in COPY_DEST, got %v", hal.ErrInvalidCall, initial)
		}
	default:
		return nil, fmt.Errorf("%w: unknown heap %v", hal.ErrInvalidCall, heap)
	}

	var size uint64
	switch desc.Dimension {
	case hal.DimensionBuffer:
		if desc.Width == 0 {
			return nil, fmt.Errorf("%w: zero-sized buffer %q", hal.ErrInvalidCall, desc.Label)
		}
		size = desc.Width
	case hal.DimensionTexture2D:
		if heap != hal.HeapDefault {
			return nil, fmt.Errorf("%w: textures must live in the DEFAULT heap", hal.ErrInvalidCall)
		}
		bpp := hal.BytesPerPixel(desc.Format)
		if bpp == 0 {
			return nil, fmt.Errorf("%w: unsupported texture format %v", hal.ErrInvalidCall, desc.Format)
		}
		if desc.Width == 0 || desc.Height == 0 {
			return nil, fmt.Errorf("%w: zero-sized texture %q", hal.ErrInvalidCall, desc.Label)
		}
		size = desc.Width * uint64(desc.Height) * uint64(bpp)
	default:
		return nil, fmt.Errorf("%w: unsupported dimension %d", hal.ErrInvalidCall, desc.Dimension)
	}
	if size > maxAllocation {
		return nil, fmt.Errorf("%w: %d bytes requested for %q", hal.ErrOutOfMemory, size, desc.Label)
	}

	r := &Resource{
		dev:   d,
		desc:  *desc,
		heap:  heap,
		data:  make([]byte, size),
		state: initial,
		name:  desc.Label,
	}
	if desc.Dimension == hal.DimensionBuffer {
		d.allocate(r)
	}
	return r, nil
}

// maxAllocation bounds a single committed resource.
const maxAllocation = 1 << 30

// Desc returns the creation description.
func (r *Resource) Desc() hal.ResourceDesc { return r.desc }

// Heap returns the heap type.
func (r *Resource) Heap() hal.HeapType { return r.heap }

// GPUVirtualAddress returns the buffer address, or zero for textures.
func (r *Resource) GPUVirtualAddress() hal.GPUAddress { return r.addr }

// Map returns the backing memory of UPLOAD and READBACK resources.
func (r *Resource) Map() ([]byte, error) {
	if !r.heap.Mappable() {
		return nil, fmt.Errorf("%w: %q lives in the %v heap", hal.ErrNotMappable, r.Name(), r.heap)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil, fmt.Errorf("%w: map of destroyed resource %q", hal.ErrInvalidCall, r.name)
	}
	r.mapped = true
	return r.data, nil
}

// Unmap ends CPU access.
func (r *Resource) Unmap() {
	r.mu.Lock()
	r.mapped = false
	r.mu.Unlock()
}

// SetName sets the debug name.
func (r *Resource) SetName(name string) {
	r.mu.Lock()
	r.name = name
	r.mu.Unlock()
}

// Name returns the debug name.
func (r *Resource) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// Destroy releases the address range.
func (r *Resource) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.mu.Unlock()
	if r.desc.Dimension == hal.DimensionBuffer {
		r.dev.release(r)
	}
}

func (r *Resource) isDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// requireState fails unless the queue-timeline state contains want.
func (r *Resource) requireState(want hal.ResourceState, use string) error {
	if want == hal.StateCommon {
		if r.state != hal.StateCommon {
			return fmt.Errorf("%s: %q is in %v, want %v", use, r.Name(), r.state, want)
		}
		return nil
	}
	if !r.state.Has(want) {
		return fmt.Errorf("%s: %q is in %v, want %v", use, r.Name(), r.state, want)
	}
	return nil
}
