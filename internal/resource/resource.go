// Package resource creates GPU resources and tracks their states.
//
// Every barrier the renderer records goes through a tracked Resource, so a
// transition whose before-state does not match the recorded state fails at
// the call site with ErrStateMismatch instead of corrupting the GPU.
package resource

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/rtlog"
)

// Resource errors.
var (
	// ErrStateMismatch is returned when a resource is used in a state other
	// than the one it was last transitioned to.
	ErrStateMismatch = errors.New("resource: state mismatch")

	// ErrReleased is returned when using a released resource.
	ErrReleased = errors.New("resource: released")

	// ErrInvalidInitialState is returned when a heap requires a specific
	// initial state.
	ErrInvalidInitialState = errors.New("resource: invalid initial state")
)

func slogger() *slog.Logger { return rtlog.Logger() }

// Resource is a native resource plus its last recorded state.
type Resource struct {
	native   hal.Resource
	state    hal.ResourceState
	name     string
	released bool
}

// Wrap tracks a resource created elsewhere, such as a swap-chain buffer.
func Wrap(native hal.Resource, state hal.ResourceState, name string) *Resource {
	if name != "" {
		native.SetName(name)
	}
	return &Resource{native: native, state: state, name: name}
}

// Native returns the underlying resource.
func (r *Resource) Native() hal.Resource { return r.native }

// State returns the last recorded state.
func (r *Resource) State() hal.ResourceState { return r.state }

// Name returns the debug name.
func (r *Resource) Name() string { return r.name }

// Desc returns the creation description.
func (r *Resource) Desc() hal.ResourceDesc { return r.native.Desc() }

// Size returns the byte size of a buffer.
func (r *Resource) Size() uint64 { return r.native.Desc().Width }

// GPUAddress returns the buffer's virtual address.
func (r *Resource) GPUAddress() hal.GPUAddress { return r.native.GPUVirtualAddress() }

// Expect fails unless the recorded state is want.
func (r *Resource) Expect(want hal.ResourceState) error {
	if r.released {
		return fmt.Errorf("%w: %q", ErrReleased, r.name)
	}
	if r.state != want {
		return fmt.Errorf("%w: %q is %v, want %v", ErrStateMismatch, r.name, r.state, want)
	}
	return nil
}

// Transition returns the barrier moving r from from to to and records the
// new state. It fails if r is not in from.
func (r *Resource) Transition(from, to hal.ResourceState) (hal.Barrier, error) {
	if err := r.Expect(from); err != nil {
		return hal.Barrier{}, err
	}
	if from == to {
		return hal.Barrier{}, fmt.Errorf("%w: %q transition to its own state %v", ErrStateMismatch, r.name, to)
	}
	r.state = to
	return hal.TransitionBarrier(r.native, from, to), nil
}

// UAVBarrier returns a barrier ordering unordered-access writes to r.
func (r *Resource) UAVBarrier() hal.Barrier { return hal.UAVBarrier(r.native) }

// Write copies data into a mappable buffer at offset.
func (r *Resource) Write(offset uint64, data []byte) error {
	if r.released {
		return fmt.Errorf("%w: %q", ErrReleased, r.name)
	}
	mem, err := r.native.Map()
	if err != nil {
		return fmt.Errorf("resource: map %q: %w", r.name, err)
	}
	defer r.native.Unmap()
	if offset+uint64(len(data)) > uint64(len(mem)) {
		return fmt.Errorf("resource: write of %d bytes at %d overruns %q (%d bytes)", len(data), offset, r.name, len(mem))
	}
	copy(mem[offset:], data)
	return nil
}

// Release destroys the native resource. It is safe to call twice.
func (r *Resource) Release() {
	if r == nil || r.released {
		return
	}
	r.released = true
	r.native.Destroy()
}

// Change is one transition of a batch.
type Change struct {
	Resource *Resource
	From     hal.ResourceState
	To       hal.ResourceState
}

// Move returns a Change moving r from one state to another.
func Move(r *Resource, from, to hal.ResourceState) Change {
	return Change{Resource: r, From: from, To: to}
}

// Transition records the changes as one barrier batch on cl. Every
// resource must be in its change's From state. Nothing is recorded and no
// state is updated unless every change is valid.
func Transition(cl hal.CommandList, changes ...Change) error {
	seen := make(map[*Resource]bool, len(changes))
	for _, c := range changes {
		if err := c.Resource.Expect(c.From); err != nil {
			return err
		}
		if seen[c.Resource] {
			return fmt.Errorf("resource: %q appears twice in one barrier batch", c.Resource.name)
		}
		seen[c.Resource] = true
		if c.From == c.To {
			return fmt.Errorf("%w: %q transition to its own state %v", ErrStateMismatch, c.Resource.name, c.To)
		}
	}
	barriers := make([]hal.Barrier, 0, len(changes))
	for _, c := range changes {
		c.Resource.state = c.To
		barriers = append(barriers, hal.TransitionBarrier(c.Resource.native, c.From, c.To))
	}
	cl.ResourceBarrier(barriers...)
	return nil
}

// Factory creates committed resources.
type Factory struct {
	dev hal.Device
}

// NewFactory returns a factory for dev.
func NewFactory(dev hal.Device) *Factory {
	return &Factory{dev: dev}
}

// CreateBuffer creates a zero-initialized buffer.
func (f *Factory) CreateBuffer(name string, heap hal.HeapType, size uint64, initial hal.ResourceState, flags hal.ResourceFlags) (*Resource, error) {
	if err := checkInitialState(heap, initial); err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}
	desc := hal.BufferDesc(name, size, flags)
	native, err := f.dev.CreateCommittedResource(heap, &desc, initial)
	if err != nil {
		return nil, fmt.Errorf("resource: create buffer %q (%d bytes, %v): %w", name, size, heap, err)
	}
	slogger().Debug("resource: buffer created", "name", name, "heap", heap.String(), "size", size, "state", initial.String())
	return Wrap(native, initial, name), nil
}

// CreateTexture creates a 2D texture in the DEFAULT heap.
func (f *Factory) CreateTexture(name string, format gputypes.TextureFormat, width, height uint32, initial hal.ResourceState, flags hal.ResourceFlags) (*Resource, error) {
	desc := hal.Texture2DDesc(name, format, width, height, flags)
	native, err := f.dev.CreateCommittedResource(hal.HeapDefault, &desc, initial)
	if err != nil {
		return nil, fmt.Errorf("resource: create texture %q (%dx%d): %w", name, width, height, err)
	}
	slogger().Debug("resource: texture created", "name", name, "width", width, "height", height, "state", initial.String())
	return Wrap(native, initial, name), nil
}

// CreateUploadBuffer creates an UPLOAD buffer holding data.
func (f *Factory) CreateUploadBuffer(name string, data []byte) (*Resource, error) {
	r, err := f.CreateBuffer(name, hal.HeapUpload, uint64(len(data)), hal.StateGenericRead, hal.ResourceFlagNone)
	if err != nil {
		return nil, err
	}
	if err := r.Write(0, data); err != nil {
		r.Release()
		return nil, err
	}
	return r, nil
}

func checkInitialState(heap hal.HeapType, initial hal.ResourceState) error {
	switch heap {
	case hal.HeapUpload:
		if initial != hal.StateGenericRead {
			return fmt.Errorf("%w: UPLOAD heap needs GENERIC_READ, got %v", ErrInvalidInitialState, initial)
		}
	case hal.HeapReadback:
		if initial != hal.StateCopyDest {
			return fmt.Errorf("%w: READBACK heap needs COPY_DEST, got %v", ErrInvalidInitialState, initial)
		}
	}
	return nil
}
