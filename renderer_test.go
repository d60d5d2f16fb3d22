package raytrace

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/hal/soft"
)

// barrierLog collects the transitions executed by a soft device.
type barrierLog struct {
	mu     sync.Mutex
	events []soft.BarrierEvent
}

func (l *barrierLog) observe(e soft.BarrierEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *barrierLog) since(n int) []soft.BarrierEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]soft.BarrierEvent(nil), l.events[n:]...)
}

func (l *barrierLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func newRenderer(t *testing.T, opts ...Option) (*Renderer, *barrierLog, *soft.Recorder) {
	t.Helper()
	log := &barrierLog{}
	rec := &soft.Recorder{}
	dev := soft.NewDevice(false, soft.WithSink(rec), soft.WithBarrierObserver(log.observe))
	t.Cleanup(dev.Destroy)

	opts = append([]Option{WithShaderLibrary(soft.DefaultLibrary().Encode())}, opts...)
	r, err := New(dev, 0, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return r, log, rec
}

func TestFirstRenderTransitionsOnce(t *testing.T) {
	r, log, _ := newRenderer(t)
	if r.builder.TopLevel() == nil {
		t.Fatal("no top-level structure after New")
	}
	if err := r.builder.TopLevel().Result.Expect(hal.StateRaytracingAccelerationStructure); err != nil {
		t.Errorf("TLAS state: %v", err)
	}
	if b, tl := r.builder.BottomLevel().Checkpoint, r.builder.TopLevel().Checkpoint; b >= tl {
		t.Errorf("BLAS checkpoint %d not before TLAS checkpoint %d", b, tl)
	}

	start := log.len()
	if err := r.Render(); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	counts := map[soft.BarrierEvent]int{}
	for _, e := range log.since(start) {
		counts[e]++
	}
	want := []soft.BarrierEvent{
		{Resource: "output", Before: hal.StateCopySource, After: hal.StateUnorderedAccess},
		{Resource: "output", Before: hal.StateUnorderedAccess, After: hal.StateCopySource},
		{Resource: "backbuffer[0]", Before: hal.StatePresent, After: hal.StateCopyDest},
		{Resource: "backbuffer[0]", Before: hal.StateCopyDest, After: hal.StatePresent},
	}
	for _, e := range want {
		if counts[e] != 1 {
			t.Errorf("%s %v->%v executed %d times, want 1", e.Resource, e.Before, e.After, counts[e])
		}
	}
	if len(counts) != len(want) {
		t.Errorf("unexpected transitions: %v", counts)
	}
	if i := r.FrameIndex(); i < 0 || i >= r.Config().FrameCount {
		t.Errorf("FrameIndex() = %d outside [0, %d)", i, r.Config().FrameCount)
	}
}

func TestRenderIsIdempotent(t *testing.T) {
	r, _, rec := newRenderer(t)

	blas, tlas := r.builder.BottomLevel(), r.builder.TopLevel()
	so, rs, table := r.state.StateObject, r.state.RootSignature, r.table
	tableData := func() []byte {
		mem, err := table.Buffer.Native().Map()
		if err != nil {
			t.Fatal(err)
		}
		defer table.Buffer.Native().Unmap()
		return bytes.Clone(mem)
	}
	before := tableData()
	fence := r.FenceValue()

	const n = 6
	var first []byte
	for i := range n {
		if err := r.Render(); err != nil {
			t.Fatalf("Render() #%d error = %v", i, err)
		}
		if i == 0 {
			if err := r.WaitIdle(); err != nil {
				t.Fatal(err)
			}
			first = bytes.Clone(rec.Last().Pix)
		}
	}
	if err := r.WaitIdle(); err != nil {
		t.Fatal(err)
	}

	if r.builder.BottomLevel() != blas || r.builder.TopLevel() != tlas {
		t.Error("acceleration structures changed")
	}
	if r.state.StateObject != so || r.state.RootSignature != rs || r.table != table {
		t.Error("pipeline state or shader table changed")
	}
	if !bytes.Equal(tableData(), before) {
		t.Error("shader table contents changed")
	}
	if !bytes.Equal(rec.Last().Pix, first) {
		t.Error("frames of a static scene differ")
	}
	if r.FenceValue() <= fence {
		t.Errorf("FenceValue() = %d did not advance from %d", r.FenceValue(), fence)
	}
	s := r.Stats()
	if s.Frames != n {
		t.Errorf("Stats().Frames = %d, want %d", s.Frames, n)
	}
	if got := rec.Indices(); len(got) < n {
		t.Errorf("presented %d frames, want at least %d", len(got), n)
	}
}

func TestRenderInFlight(t *testing.T) {
	r, _, rec := newRenderer(t, WithFrameCount(3), WithInFlightFrames(2), WithSyncInterval(0))
	for i := range 7 {
		if err := r.Render(); err != nil {
			t.Fatalf("Render() #%d error = %v", i, err)
		}
	}
	if err := r.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	idx := rec.Indices()
	if len(idx) != 7 {
		t.Fatalf("presented %d frames, want 7", len(idx))
	}
	for i, v := range idx {
		if v != uint32(i%3) {
			t.Errorf("present %d used buffer %d, want %d", i, v, i%3)
		}
	}
}

func TestNewRaytracingNotSupported(t *testing.T) {
	dev := soft.NewDevice(false, soft.WithRaytracingTier(hal.RaytracingNotSupported))
	defer dev.Destroy()
	_, err := New(dev, 0, WithShaderLibrary(soft.DefaultLibrary().Encode()))
	if !errors.Is(err, ErrRaytracingNotSupported) {
		t.Errorf("New() error = %v, want ErrRaytracingNotSupported", err)
	}
}

func TestNewErrorClasses(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want error
	}{
		{"bad config", []Option{WithFrameCount(1)}, ErrInit},
		{"missing shader file", []Option{WithShaderLibrary(nil), WithShaderPath(filepath.Join(t.TempDir(), "none.cso"))}, ErrInit},
		{"bad symbols", []Option{WithSymbols(Symbols{RayGen: "A", Miss: "B", ClosestHit: "C", HitGroup: "D"})}, ErrInit},
		{"huge viewport", []Option{WithViewport(1<<15, 1<<15)}, ErrInit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := soft.NewDevice(false)
			defer dev.Destroy()
			opts := append([]Option{WithShaderLibrary(soft.DefaultLibrary().Encode())}, tt.opts...)
			r, err := New(dev, 0, opts...)
			if err == nil {
				r.Close()
				t.Fatal("New() should fail")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadShaderLibrary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ray_shader.cso")
	lib := soft.DefaultLibrary().Encode()
	if err := os.WriteFile(path, lib, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadShaderLibrary(path)
	if err != nil || !bytes.Equal(got, lib) {
		t.Fatalf("LoadShaderLibrary() = %d bytes, %v", len(got), err)
	}

	empty := filepath.Join(dir, "empty.cso")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadShaderLibrary(empty); !errors.Is(err, ErrInit) {
		t.Errorf("LoadShaderLibrary(empty) error = %v, want ErrInit", err)
	}

	dev := soft.NewDevice(false)
	defer dev.Destroy()
	r, err := New(dev, 0, WithShaderPath(path), WithViewport(8, 8))
	if err != nil {
		t.Fatalf("New() from shader path error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Error(err)
	}
}

func TestRenderAfterClose(t *testing.T) {
	r, _, _ := newRenderer(t, WithViewport(16, 16))
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Render(); !errors.Is(err, ErrClosed) {
		t.Errorf("Render() after Close error = %v, want ErrClosed", err)
	}
	if err := r.WaitIdle(); !errors.Is(err, ErrClosed) {
		t.Errorf("WaitIdle() after Close error = %v, want ErrClosed", err)
	}
}

func TestFatalAfterDeviceLoss(t *testing.T) {
	r, _, _ := newRenderer(t, WithViewport(16, 16), WithFenceTimeout(5*time.Second))
	// Desynchronize the tracked state of the output image from the device.
	cl, err := r.ctx.Begin()
	if err != nil {
		t.Fatal(err)
	}
	cl.ResourceBarrier(hal.TransitionBarrier(r.output.Native(), hal.StateCopySource, hal.StateCopyDest))
	if _, err := r.ctx.SubmitAndWait(); err != nil {
		t.Fatal(err)
	}

	err = r.Render()
	if !errors.Is(err, ErrFatal) || !errors.Is(err, hal.ErrDeviceRemoved) {
		t.Fatalf("Render() error = %v, want ErrFatal wrapping ErrDeviceRemoved", err)
	}
	if err := r.Render(); !errors.Is(err, ErrFatal) {
		t.Errorf("second Render() error = %v, want ErrFatal", err)
	}
	if r.Err() == nil {
		t.Error("Err() = nil after a fatal frame")
	}
}

func TestOpenDevice(t *testing.T) {
	dev, err := OpenDevice(hal.BackendSoft)
	if err != nil {
		t.Fatalf("OpenDevice(soft) error = %v", err)
	}
	if dev.Features().RaytracingTier < hal.RaytracingTier1_0 {
		t.Errorf("soft tier = %v", dev.Features().RaytracingTier)
	}
	dev.Destroy()

	if _, err := OpenDevice("vulkan"); !errors.Is(err, hal.ErrNotInstalled) {
		t.Errorf("OpenDevice(vulkan) error = %v, want ErrNotInstalled", err)
	}
}

func TestImageIndependentOfWorkers(t *testing.T) {
	render := func(workers int) []byte {
		rec := &soft.Recorder{}
		dev := soft.NewDevice(false, soft.WithSink(rec), soft.WithWorkers(workers))
		defer dev.Destroy()
		r, err := New(dev, 0, WithShaderLibrary(soft.DefaultLibrary().Encode()), WithViewport(37, 23))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer r.Close()
		if err := r.Render(); err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if err := r.WaitIdle(); err != nil {
			t.Fatal(err)
		}
		return bytes.Clone(rec.Last().Pix)
	}
	if one, many := render(1), render(5); !bytes.Equal(one, many) {
		t.Error("image traced by one worker differs from five workers")
	}
}

// captureBackend records the options it was opened with.
type captureBackend struct {
	got []hal.OpenOptions
}

func (*captureBackend) Name() string { return "capture" }

func (b *captureBackend) Open(o hal.OpenOptions) (hal.Device, error) {
	b.got = append(b.got, o)
	return soft.NewDevice(o.Debug), nil
}

func TestOpenDeviceDebugLayer(t *testing.T) {
	b := &captureBackend{}
	hal.Register("capture", func() hal.Backend { return b })
	t.Cleanup(func() { hal.Unregister("capture") })

	for _, opts := range [][]Option{nil, {WithDebugLayer(true), WithViewport(8, 8)}} {
		dev, err := OpenDevice("capture", opts...)
		if err != nil {
			t.Fatalf("OpenDevice() error = %v", err)
		}
		dev.Destroy()
	}
	if len(b.got) != 2 || b.got[0].Debug || !b.got[1].Debug {
		t.Errorf("OpenOptions = %+v, want Debug false then true", b.got)
	}
}
