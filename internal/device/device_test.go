package device

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/hal/soft"
	"github.com/gogpu/raytrace/internal/fence"
)

func openContext(t *testing.T, frames int, opts ...Option) (*Context, *soft.Device) {
	t.Helper()
	dev := soft.NewDevice(false)
	t.Cleanup(dev.Destroy)
	c, err := Open(dev, frames, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, dev
}

func TestOpenRejectsMissingRaytracing(t *testing.T) {
	dev := soft.NewDevice(false, soft.WithRaytracingTier(hal.RaytracingNotSupported))
	defer dev.Destroy()
	_, err := Open(dev, 2)
	if !errors.Is(err, ErrRaytracingNotSupported) {
		t.Errorf("Open() error = %v, want ErrRaytracingNotSupported", err)
	}
}

func TestOpenValidatesCounts(t *testing.T) {
	dev := soft.NewDevice(false)
	defer dev.Destroy()
	tests := []struct {
		name   string
		frames int
		opts   []Option
	}{
		{"zero frames", 0, nil},
		{"zero in flight", 2, []Option{WithInFlightFrames(0)}},
		{"more in flight than frames", 2, []Option{WithInFlightFrames(3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if c, err := Open(dev, tt.frames, tt.opts...); err == nil {
				c.Close()
				t.Error("Open() should fail")
			}
		})
	}
}

func TestFrameResources(t *testing.T) {
	c, _ := openContext(t, 3)
	if c.FrameCount() != 3 {
		t.Fatalf("FrameCount() = %d, want 3", c.FrameCount())
	}
	for i := range 3 {
		f := c.Frame(i)
		if f.Allocator == nil || f.List == nil {
			t.Errorf("frame %d missing allocator or list", i)
		}
		if f.BackBuffer != nil {
			t.Errorf("frame %d has a back buffer before AttachSwapChain", i)
		}
	}
	if c.FenceValue() != 1 {
		t.Errorf("FenceValue() = %d, want 1", c.FenceValue())
	}
}

func TestSubmitAndWaitResetsBetweenUses(t *testing.T) {
	c, _ := openContext(t, 2)
	for want := uint64(1); want <= 3; want++ {
		cl, err := c.Begin()
		if err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		if cl != c.Current().List {
			t.Error("Begin() returned a list other than the current frame's")
		}
		v, err := c.SubmitAndWait()
		if err != nil {
			t.Fatalf("SubmitAndWait() error = %v", err)
		}
		if v != want {
			t.Errorf("SubmitAndWait() = %d, want %d", v, want)
		}
		if c.Completed() < v {
			t.Errorf("Completed() = %d < %d", c.Completed(), v)
		}
	}
	if _, err := c.SubmitAndWait(); err == nil {
		t.Error("SubmitAndWait() without Begin() should fail")
	}
}

func TestSwapChainIndexAdvances(t *testing.T) {
	c, _ := openContext(t, 2)
	err := c.AttachSwapChain(SwapChainConfig{Width: 16, Height: 16, Format: gputypes.TextureFormatRGBA8Unorm})
	if err != nil {
		t.Fatalf("AttachSwapChain() error = %v", err)
	}
	for i := range 2 {
		bb := c.Frame(i).BackBuffer
		if bb == nil || bb.State() != hal.StatePresent {
			t.Fatalf("frame %d back buffer = %v", i, bb)
		}
	}
	if err := c.AttachSwapChain(SwapChainConfig{Width: 16, Height: 16, Format: gputypes.TextureFormatRGBA8Unorm}); err == nil {
		t.Error("second AttachSwapChain() should fail")
	}

	seen := []int{c.FrameIndex()}
	for range 4 {
		if _, err := c.Begin(); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Submit(); err != nil {
			t.Fatal(err)
		}
		if err := c.Present(1); err != nil {
			t.Fatalf("Present() error = %v", err)
		}
		if i := c.FrameIndex(); i < 0 || i >= c.FrameCount() {
			t.Fatalf("FrameIndex() = %d outside [0, %d)", i, c.FrameCount())
		}
		seen = append(seen, c.FrameIndex())
	}
	want := []int{0, 1, 0, 1, 0}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("frame indices = %v, want %v", seen, want)
			break
		}
	}
}

func TestRingInFlight(t *testing.T) {
	c, _ := openContext(t, 2, WithInFlightFrames(2))
	if err := c.AttachSwapChain(SwapChainConfig{Width: 4, Height: 4, Format: gputypes.TextureFormatRGBA8Unorm}); err != nil {
		t.Fatal(err)
	}
	var last uint64
	for range 5 {
		if _, err := c.Begin(); err != nil {
			t.Fatal(err)
		}
		v, err := c.Submit()
		if err != nil {
			t.Fatal(err)
		}
		if v != last+1 {
			t.Errorf("Submit() = %d, want %d", v, last+1)
		}
		last = v
		if err := c.Present(0); err != nil {
			t.Fatal(err)
		}
	}
	v, err := c.Flush()
	if err != nil {
		t.Fatal(err)
	}
	if c.Completed() < v {
		t.Errorf("Completed() = %d after Flush() = %d", c.Completed(), v)
	}
}

func TestDeviceLossIsSticky(t *testing.T) {
	c, dev := openContext(t, 2, WithFenceTimeout(5*time.Second))
	desc := hal.BufferDesc("victim", 256, hal.ResourceFlagNone)
	buf, err := dev.CreateCommittedResource(hal.HeapDefault, &desc, hal.StateCopyDest)
	if err != nil {
		t.Fatal(err)
	}
	cl, err := c.Begin()
	if err != nil {
		t.Fatal(err)
	}
	cl.ResourceBarrier(hal.TransitionBarrier(buf, hal.StateCopySource, hal.StateCopyDest))
	_, err = c.SubmitAndWait()
	if !errors.Is(err, fence.ErrDeviceLost) {
		t.Fatalf("SubmitAndWait() error = %v, want ErrDeviceLost", err)
	}
	if !c.Lost() {
		t.Error("Lost() = false after device removal")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() after loss error = %v", err)
	}
	if _, err := c.Begin(); !errors.Is(err, ErrClosed) {
		t.Errorf("Begin() after Close error = %v, want ErrClosed", err)
	}
}
