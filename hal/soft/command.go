package soft

import (
	"errors"
	"fmt"

	"github.com/gogpu/raytrace/hal"
)

// op is one recorded command, run on the queue goroutine.
type op func(x *executor) error

// rootArg is the value bound to one root parameter.
type rootArg struct {
	set     bool
	table   hal.GPUDescriptorHandle
	address hal.GPUAddress
}

// executor is the pipeline state of one executing command list.
type executor struct {
	dev      *Device
	heaps    []*DescriptorHeap
	rootSig  *RootSignature
	rootArgs []rootArg
	pipeline *StateObject
}

func newExecutor(d *Device) *executor { return &executor{dev: d} }

// CommandList records ops for the queue goroutine.
type CommandList struct {
	dev       *Device
	typ       hal.CommandListType
	alloc     *CommandAllocator
	label     string
	ops       []op
	recording bool
	err       error
}

// CreateCommandList creates a list in the recording state.
func (d *Device) CreateCommandList(t hal.CommandListType, alloc hal.CommandAllocator) (hal.CommandList, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	a, ok := alloc.(*CommandAllocator)
	if !ok || a.dev != d {
		return nil, fmt.Errorf("%w: foreign allocator %T", hal.ErrInvalidCall, alloc)
	}
	if a.typ != t {
		return nil, fmt.Errorf("%w: allocator type %d for list type %d", hal.ErrInvalidCall, a.typ, t)
	}
	cl := &CommandList{dev: d, typ: t, label: fmt.Sprintf("list-%d", d.objectID())}
	if err := cl.Reset(a); err != nil {
		return nil, err
	}
	return cl, nil
}

// SetName labels the list in validation messages.
func (cl *CommandList) SetName(name string) { cl.label = name }

// Reset discards recorded commands and reopens the list on alloc.
func (cl *CommandList) Reset(alloc hal.CommandAllocator) error {
	a, ok := alloc.(*CommandAllocator)
	if !ok || a.dev != cl.dev {
		return fmt.Errorf("%w: foreign allocator %T", hal.ErrInvalidCall, alloc)
	}
	if cl.recording {
		return fmt.Errorf("%w: reset of recording list %q", hal.ErrInvalidCall, cl.label)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open != nil && a.open != cl && a.open.recording {
		return fmt.Errorf("%w: allocator already used by recording list %q", hal.ErrInvalidCall, a.open.label)
	}
	a.open = cl
	cl.alloc = a
	cl.ops = cl.ops[:0]
	cl.err = nil
	cl.recording = true
	return nil
}

// Close ends recording and reports the first recording error.
func (cl *CommandList) Close() error {
	if !cl.recording {
		return fmt.Errorf("%w: close of closed list %q", hal.ErrInvalidCall, cl.label)
	}
	cl.recording = false
	if cl.err != nil {
		return fmt.Errorf("%w: %w", hal.ErrInvalidCall, cl.err)
	}
	return nil
}

// Destroy is a no-op.
func (cl *CommandList) Destroy() {}

func (cl *CommandList) record(name string, o op) {
	if !cl.recording {
		if cl.err == nil {
			cl.err = fmt.Errorf("%s recorded on closed list %q", name, cl.label)
		}
		return
	}
	if cl.dev.debug {
		inner := o
		o = func(x *executor) error {
			slogger().Debug("soft: execute", "list", cl.label, "cmd", name)
			return inner(x)
		}
	}
	cl.ops = append(cl.ops, o)
}

func (cl *CommandList) fail(err error) {
	if cl.err == nil {
		cl.err = err
	}
}

// ResourceBarrier records transition and UAV barriers.
func (cl *CommandList) ResourceBarrier(barriers ...hal.Barrier) {
	bs := make([]hal.Barrier, len(barriers))
	copy(bs, barriers)
	for _, b := range bs {
		if _, err := cl.dev.own(b.Resource); err != nil {
			cl.fail(fmt.Errorf("ResourceBarrier: %w", err))
			return
		}
		if b.Type == hal.BarrierTransition && b.Before == b.After {
			cl.fail(fmt.Errorf("ResourceBarrier: transition of %q to its own state %v", b.Resource.(*Resource).Name(), b.Before))
			return
		}
	}
	cl.record("ResourceBarrier", func(x *executor) error {
		for _, b := range bs {
			r := b.Resource.(*Resource)
			if r.isDestroyed() {
				return fmt.Errorf("ResourceBarrier: %q was destroyed", r.Name())
			}
			switch b.Type {
			case hal.BarrierTransition:
				if r.state != b.Before {
					return fmt.Errorf("ResourceBarrier: %q before-state %v does not match actual state %v", r.Name(), b.Before, r.state)
				}
				r.state = b.After
				if fn := x.dev.opts.observer; fn != nil {
					fn(BarrierEvent{Resource: r.Name(), Before: b.Before, After: b.After})
				}
			case hal.BarrierUAV:
				if r.desc.Flags&hal.ResourceFlagAllowUnorderedAccess == 0 {
					return fmt.Errorf("ResourceBarrier: UAV barrier on %q without unordered access", r.Name())
				}
			default:
				return fmt.Errorf("ResourceBarrier: unsupported barrier type %d", b.Type)
			}
		}
		return nil
	})
}

// SetDescriptorHeaps binds shader-visible heaps.
func (cl *CommandList) SetDescriptorHeaps(heaps ...hal.DescriptorHeap) {
	hs := make([]*DescriptorHeap, 0, len(heaps))
	var kinds [4]bool
	for _, h := range heaps {
		sh, ok := h.(*DescriptorHeap)
		if !ok || sh.dev != cl.dev {
			cl.fail(fmt.Errorf("SetDescriptorHeaps: foreign heap %T", h))
			return
		}
		if !sh.desc.ShaderVisible {
			cl.fail(fmt.Errorf("SetDescriptorHeaps: heap %q is not shader visible", sh.desc.Label))
			return
		}
		if t := sh.desc.Type; int(t) < len(kinds) {
			if kinds[t] {
				cl.fail(errors.New("SetDescriptorHeaps: at most one heap per type may be bound"))
				return
			}
			kinds[t] = true
		}
		hs = append(hs, sh)
	}
	cl.record("SetDescriptorHeaps", func(x *executor) error {
		x.heaps = hs
		return nil
	})
}

// SetComputeRootSignature binds rs and clears every root argument.
func (cl *CommandList) SetComputeRootSignature(rs hal.RootSignature) {
	srs, ok := rs.(*RootSignature)
	if !ok || srs.dev != cl.dev {
		cl.fail(fmt.Errorf("SetComputeRootSignature: foreign root signature %T", rs))
		return
	}
	cl.record("SetComputeRootSignature", func(x *executor) error {
		x.rootSig = srs
		x.rootArgs = make([]rootArg, len(srs.desc.Parameters))
		return nil
	})
}

func (x *executor) rootParameter(index uint32, want hal.RootParameterType, use string) error {
	if x.rootSig == nil {
		return fmt.Errorf("%s: no root signature bound", use)
	}
	if int(index) >= len(x.rootSig.desc.Parameters) {
		return fmt.Errorf("%s: root parameter %d out of range (%d parameters)", use, index, len(x.rootSig.desc.Parameters))
	}
	if got := x.rootSig.desc.Parameters[index].Type; got != want {
		return fmt.Errorf("%s: root parameter %d has type %d, want %d", use, index, got, want)
	}
	return nil
}

// SetComputeRootDescriptorTable binds a table in a bound heap.
func (cl *CommandList) SetComputeRootDescriptorTable(index uint32, base hal.GPUDescriptorHandle) {
	cl.record("SetComputeRootDescriptorTable", func(x *executor) error {
		const use = "SetComputeRootDescriptorTable"
		if err := x.rootParameter(index, hal.RootParameterDescriptorTable, use); err != nil {
			return err
		}
		if _, _, err := x.lookupDescriptor(base); err != nil {
			return fmt.Errorf("%s: %w", use, err)
		}
		x.rootArgs[index] = rootArg{set: true, table: base}
		return nil
	})
}

// SetComputeRootShaderResourceView binds a root SRV address.
func (cl *CommandList) SetComputeRootShaderResourceView(index uint32, location hal.GPUAddress) {
	cl.record("SetComputeRootShaderResourceView", func(x *executor) error {
		if err := x.rootParameter(index, hal.RootParameterSRV, "SetComputeRootShaderResourceView"); err != nil {
			return err
		}
		x.rootArgs[index] = rootArg{set: true, address: location}
		return nil
	})
}

// SetPipelineState1 binds a ray-tracing state object.
func (cl *CommandList) SetPipelineState1(so hal.StateObject) {
	sso, ok := so.(*StateObject)
	if !ok || sso.dev != cl.dev {
		cl.fail(fmt.Errorf("SetPipelineState1: foreign state object %T", so))
		return
	}
	cl.record("SetPipelineState1", func(x *executor) error {
		x.pipeline = sso
		return nil
	})
}

// CopyResource copies a whole resource.
func (cl *CommandList) CopyResource(dst, src hal.Resource) {
	d, err := cl.dev.own(dst)
	if err != nil {
		cl.fail(fmt.Errorf("CopyResource: %w", err))
		return
	}
	s, err := cl.dev.own(src)
	if err != nil {
		cl.fail(fmt.Errorf("CopyResource: %w", err))
		return
	}
	if d == s {
		cl.fail(errors.New("CopyResource: source and destination are the same resource"))
		return
	}
	dd, sd := d.desc, s.desc
	if dd.Dimension != sd.Dimension || dd.Width != sd.Width || dd.Height != sd.Height || dd.Format != sd.Format {
		cl.fail(fmt.Errorf("CopyResource: %q and %q have mismatched descriptions", dd.Label, sd.Label))
		return
	}
	cl.record("CopyResource", func(x *executor) error {
		if err := d.requireState(hal.StateCopyDest, "CopyResource destination"); err != nil {
			return err
		}
		if err := s.requireState(hal.StateCopySource, "CopyResource source"); err != nil {
			return err
		}
		copy(d.data, s.data)
		return nil
	})
}
