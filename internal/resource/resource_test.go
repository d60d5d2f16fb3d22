package resource

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/hal/soft"
)

func newFactory(t *testing.T) (*Factory, *soft.Device) {
	t.Helper()
	dev := soft.NewDevice(false)
	t.Cleanup(dev.Destroy)
	return NewFactory(dev), dev
}

func TestCreateBufferHeaps(t *testing.T) {
	f, _ := newFactory(t)

	tests := []struct {
		name    string
		heap    hal.HeapType
		state   hal.ResourceState
		flags   hal.ResourceFlags
		wantErr error
	}{
		{"upload", hal.HeapUpload, hal.StateGenericRead, hal.ResourceFlagNone, nil},
		{"readback", hal.HeapReadback, hal.StateCopyDest, hal.ResourceFlagNone, nil},
		{"scratch", hal.HeapDefault, hal.StateUnorderedAccess, hal.ResourceFlagAllowUnorderedAccess, nil},
		{"upload wrong state", hal.HeapUpload, hal.StateCopyDest, hal.ResourceFlagNone, ErrInvalidInitialState},
		{"readback wrong state", hal.HeapReadback, hal.StateGenericRead, hal.ResourceFlagNone, ErrInvalidInitialState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := f.CreateBuffer(tt.name, tt.heap, 1024, tt.state, tt.flags)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CreateBuffer() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateBuffer() error = %v", err)
			}
			defer r.Release()
			if r.State() != tt.state {
				t.Errorf("State() = %v, want %v", r.State(), tt.state)
			}
			if r.Size() != 1024 {
				t.Errorf("Size() = %d, want 1024", r.Size())
			}
			if r.GPUAddress() == 0 {
				t.Error("GPUAddress() = 0")
			}
			if r.Name() != tt.name {
				t.Errorf("Name() = %q, want %q", r.Name(), tt.name)
			}
		})
	}
}

func TestCreateBufferOutOfMemory(t *testing.T) {
	f, _ := newFactory(t)
	_, err := f.CreateBuffer("huge", hal.HeapDefault, 1<<40, hal.StateCommon, hal.ResourceFlagNone)
	if !errors.Is(err, hal.ErrOutOfMemory) {
		t.Errorf("CreateBuffer() error = %v, want ErrOutOfMemory", err)
	}
}

func TestUploadBufferIsZeroedThenWritten(t *testing.T) {
	f, _ := newFactory(t)
	r, err := f.CreateBuffer("vb", hal.HeapUpload, 16, hal.StateGenericRead, hal.ResourceFlagNone)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := r.Native().Map()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(mem, make([]byte, 16)) {
		t.Errorf("new buffer not zeroed: %v", mem)
	}
	r.Native().Unmap()

	if err := r.Write(4, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	mem, _ = r.Native().Map()
	if !bytes.Equal(mem[4:7], []byte{1, 2, 3}) {
		t.Errorf("Write() did not land: %v", mem)
	}
	r.Native().Unmap()

	if err := r.Write(14, []byte{1, 2, 3}); err == nil {
		t.Error("Write() past the end should fail")
	}

	up, err := f.CreateUploadBuffer("data", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	mem, _ = up.Native().Map()
	if string(mem) != "hello" {
		t.Errorf("CreateUploadBuffer() contents = %q", mem)
	}
	up.Native().Unmap()
}

func TestWriteDefaultHeapFails(t *testing.T) {
	f, _ := newFactory(t)
	r, err := f.CreateBuffer("gpu", hal.HeapDefault, 64, hal.StateCommon, hal.ResourceFlagNone)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Write(0, []byte{1}); !errors.Is(err, hal.ErrNotMappable) {
		t.Errorf("Write() error = %v, want ErrNotMappable", err)
	}
}

func TestTransitionTracksState(t *testing.T) {
	f, _ := newFactory(t)
	tex, err := f.CreateTexture("output", gputypes.TextureFormatRGBA8Unorm, 8, 8, hal.StateCopySource, hal.ResourceFlagAllowUnorderedAccess)
	if err != nil {
		t.Fatal(err)
	}

	b, err := tex.Transition(hal.StateCopySource, hal.StateUnorderedAccess)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if b.Before != hal.StateCopySource || b.After != hal.StateUnorderedAccess || b.Resource != tex.Native() {
		t.Errorf("Transition() barrier = %+v", b)
	}
	if tex.State() != hal.StateUnorderedAccess {
		t.Errorf("State() = %v, want UNORDERED_ACCESS", tex.State())
	}

	if _, err := tex.Transition(hal.StateCopySource, hal.StateCopyDest); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("Transition() from stale state error = %v, want ErrStateMismatch", err)
	}
	if tex.State() != hal.StateUnorderedAccess {
		t.Errorf("failed Transition() changed state to %v", tex.State())
	}
	if _, err := tex.Transition(hal.StateUnorderedAccess, hal.StateUnorderedAccess); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("Transition() to same state error = %v, want ErrStateMismatch", err)
	}
	if err := tex.Expect(hal.StateUnorderedAccess); err != nil {
		t.Errorf("Expect() error = %v", err)
	}

	tex.Release()
	tex.Release()
	if err := tex.Expect(hal.StateUnorderedAccess); !errors.Is(err, ErrReleased) {
		t.Errorf("Expect() after Release error = %v, want ErrReleased", err)
	}
}

// listRecorder captures barrier batches.
type listRecorder struct {
	hal.CommandList
	batches [][]hal.Barrier
}

func (l *listRecorder) ResourceBarrier(b ...hal.Barrier) {
	l.batches = append(l.batches, append([]hal.Barrier(nil), b...))
}

func TestBatchTransition(t *testing.T) {
	f, dev := newFactory(t)
	tex, _ := f.CreateTexture("output", gputypes.TextureFormatRGBA8Unorm, 4, 4, hal.StateCopySource, hal.ResourceFlagAllowUnorderedAccess)
	sc, err := dev.CreateSwapChain(mustQueue(t, dev), &hal.SwapChainDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm, BufferCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	native, _ := sc.Buffer(0)
	bb := Wrap(native, hal.StatePresent, "backbuffer")

	cl := &listRecorder{}
	if err := Transition(cl, Move(tex, hal.StateCopySource, hal.StateUnorderedAccess), Move(bb, hal.StatePresent, hal.StateCopyDest)); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if len(cl.batches) != 1 || len(cl.batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch of two", cl.batches)
	}

	b := cl.batches[0]
	if b[0].Before != hal.StateCopySource || b[1].Before != hal.StatePresent {
		t.Errorf("before-states = %v, %v", b[0].Before, b[1].Before)
	}

	// bb is no longer in PRESENT, so the whole batch is rejected.
	err = Transition(cl, Move(tex, hal.StateUnorderedAccess, hal.StateCopySource), Move(bb, hal.StatePresent, hal.StateCopyDest))
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("Transition() error = %v, want ErrStateMismatch", err)
	}
	if tex.State() != hal.StateUnorderedAccess {
		t.Errorf("tex state = %v after rejected batch", tex.State())
	}
	if len(cl.batches) != 1 {
		t.Errorf("rejected batch was recorded")
	}
	if err := Transition(cl, Move(tex, hal.StateUnorderedAccess, hal.StateCopySource), Move(tex, hal.StateUnorderedAccess, hal.StateCopyDest)); err == nil {
		t.Error("duplicate resource in one batch should fail")
	}
	if err := Transition(cl, Move(bb, hal.StateCopyDest, hal.StateCopyDest)); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("transition to own state error = %v, want ErrStateMismatch", err)
	}
	if len(cl.batches) != 1 {
		t.Errorf("recorded %d batches, want 1", len(cl.batches))
	}
}

func mustQueue(t *testing.T, dev hal.Device) hal.Queue {
	t.Helper()
	q, err := dev.CreateCommandQueue(hal.CommandListDirect)
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func TestDescriptorAllocator(t *testing.T) {
	_, dev := newFactory(t)
	a, err := NewDescriptorAllocator(dev, "srv-uav", hal.DescriptorHeapCBVSRVUAV, 2, true)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Destroy()

	d0, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	d1, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	inc := a.Heap().Increment()
	if d0.Index != 0 || d1.Index != 1 {
		t.Errorf("indices = %d, %d", d0.Index, d1.Index)
	}
	if d1.CPU-d0.CPU != hal.CPUDescriptorHandle(inc) {
		t.Errorf("CPU stride = %d, want %d", d1.CPU-d0.CPU, inc)
	}
	if d0.GPU == 0 || d1.GPU-d0.GPU != hal.GPUDescriptorHandle(inc) {
		t.Errorf("GPU handles = %#x, %#x", d0.GPU, d1.GPU)
	}
	if _, err := a.Allocate(); !errors.Is(err, ErrHeapFull) {
		t.Errorf("Allocate() on full heap error = %v, want ErrHeapFull", err)
	}
	if a.Used() != 2 {
		t.Errorf("Used() = %d, want 2", a.Used())
	}

	cpuOnly, err := NewDescriptorAllocator(dev, "staging", hal.DescriptorHeapCBVSRVUAV, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if d, _ := cpuOnly.Allocate(); d.GPU != 0 {
		t.Errorf("non-shader-visible GPU handle = %#x, want 0", d.GPU)
	}
}
