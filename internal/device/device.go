// Package device owns the device-level objects shared by every stage: the
// direct queue, one allocator and command list per frame, the swap chain
// and the fence pacer.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/fence"
	"github.com/gogpu/raytrace/internal/resource"
	"github.com/gogpu/raytrace/internal/rtlog"
)

// ErrRaytracingNotSupported is returned by Open when the device reports no
// ray-tracing tier.
var ErrRaytracingNotSupported = errors.New("device: ray tracing not supported")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("device: context closed")

func slogger() *slog.Logger { return rtlog.Logger() }

// Option configures a Context.
type Option func(*options)

type options struct {
	timeout  time.Duration
	inFlight int
}

// WithFenceTimeout bounds every fence wait. Negative waits forever.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithInFlightFrames lets up to n frames run on the GPU at once.
// Values above 1 select a ring of per-frame checkpoints.
func WithInFlightFrames(n int) Option {
	return func(o *options) { o.inFlight = n }
}

// Frame holds the per-frame recording objects.
type Frame struct {
	Allocator  hal.CommandAllocator
	List       hal.CommandList
	BackBuffer *resource.Resource

	recording bool
}

// Context is the device, its direct queue and the per-frame resources.
type Context struct {
	dev    hal.Device
	queue  hal.Queue
	frames []*Frame
	index  int
	pacer  fence.Pacer
	swap   hal.SwapChain
	lost   bool
	closed bool
}

// Open checks the ray-tracing tier of dev and creates a direct queue plus
// frameCount allocator/list pairs. Each list starts recording.
func Open(dev hal.Device, frameCount int, opts ...Option) (*Context, error) {
	o := options{timeout: hal.Infinite, inFlight: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if frameCount < 1 {
		return nil, fmt.Errorf("device: frame count must be positive, got %d", frameCount)
	}
	if o.inFlight < 1 || o.inFlight > frameCount {
		return nil, fmt.Errorf("device: %d frames in flight with %d frames", o.inFlight, frameCount)
	}

	feat := dev.Features()
	if feat.RaytracingTier < hal.RaytracingTier1_0 {
		return nil, fmt.Errorf("%w: %s reports tier %v", ErrRaytracingNotSupported, feat.AdapterName, feat.RaytracingTier)
	}

	c := &Context{dev: dev}
	ok := false
	defer func() {
		if !ok {
			c.release()
		}
	}()

	q, err := dev.CreateCommandQueue(hal.CommandListDirect)
	if err != nil {
		return nil, fmt.Errorf("device: create command queue: %w", err)
	}
	c.queue = q

	for i := range frameCount {
		alloc, err := dev.CreateCommandAllocator(hal.CommandListDirect)
		if err != nil {
			return nil, fmt.Errorf("device: create allocator %d: %w", i, err)
		}
		f := &Frame{Allocator: alloc}
		c.frames = append(c.frames, f)
		cl, err := dev.CreateCommandList(hal.CommandListDirect, alloc)
		if err != nil {
			return nil, fmt.Errorf("device: create command list %d: %w", i, err)
		}
		f.List = cl
		f.recording = true
	}

	sync, err := fence.NewBlocking(dev, o.timeout)
	if err != nil {
		return nil, err
	}
	if o.inFlight > 1 {
		ring, err := fence.NewRing(sync, frameCount, o.inFlight)
		if err != nil {
			sync.Destroy()
			return nil, err
		}
		c.pacer = ring
	} else {
		c.pacer = fence.NewSerial(sync)
	}

	ok = true
	slogger().Info("device: opened",
		"adapter", feat.AdapterName,
		"raytracing_tier", feat.RaytracingTier.String(),
		"frames", frameCount,
		"in_flight", o.inFlight)
	return c, nil
}

// Device returns the HAL device.
func (c *Context) Device() hal.Device { return c.dev }

// Queue returns the direct queue.
func (c *Context) Queue() hal.Queue { return c.queue }

// FrameCount returns the number of frames.
func (c *Context) FrameCount() int { return len(c.frames) }

// FrameIndex returns the current frame index.
func (c *Context) FrameIndex() int { return c.index }

// Frame returns frame i.
func (c *Context) Frame(i int) *Frame { return c.frames[i] }

// Current returns the frame at the current index.
func (c *Context) Current() *Frame { return c.frames[c.index] }

// FenceValue returns the value the next signal will use.
func (c *Context) FenceValue() uint64 { return c.pacer.Next() }

// Completed returns the fence's completed value.
func (c *Context) Completed() uint64 { return c.pacer.Completed() }

// Begin waits until the current frame's previous work completed and
// returns its command list ready for recording.
func (c *Context) Begin() (hal.CommandList, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if err := c.pacer.BeginFrame(c.index); err != nil {
		return nil, c.syncErr(err)
	}
	f := c.frames[c.index]
	if !f.recording {
		if err := f.Allocator.Reset(); err != nil {
			return nil, fmt.Errorf("device: reset allocator %d: %w", c.index, err)
		}
		if err := f.List.Reset(f.Allocator); err != nil {
			return nil, fmt.Errorf("device: reset command list %d: %w", c.index, err)
		}
		f.recording = true
	}
	return f.List, nil
}

// Submit closes and executes the current frame's list, then signals the
// frame checkpoint. With one frame in flight it also waits for it.
func (c *Context) Submit() (uint64, error) {
	if err := c.execute(); err != nil {
		return 0, err
	}
	v, err := c.pacer.EndFrame(c.queue, c.index)
	if err != nil {
		return v, c.syncErr(err)
	}
	return v, nil
}

// SubmitAndWait closes and executes the current frame's list and blocks
// until the GPU finished it.
func (c *Context) SubmitAndWait() (uint64, error) {
	if err := c.execute(); err != nil {
		return 0, err
	}
	return c.Flush()
}

func (c *Context) execute() error {
	if c.closed {
		return ErrClosed
	}
	f := c.frames[c.index]
	if !f.recording {
		return fmt.Errorf("device: frame %d is not recording", c.index)
	}
	f.recording = false
	if err := f.List.Close(); err != nil {
		return fmt.Errorf("device: close command list %d: %w", c.index, err)
	}
	c.queue.ExecuteCommandLists(f.List)
	return nil
}

// Flush blocks until all submitted work has completed.
func (c *Context) Flush() (uint64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	v, err := c.pacer.Flush(c.queue)
	if err != nil {
		return v, c.syncErr(err)
	}
	return v, nil
}

func (c *Context) syncErr(err error) error {
	if errors.Is(err, fence.ErrDeviceLost) || errors.Is(err, hal.ErrDeviceRemoved) {
		c.lost = true
	}
	return err
}

// Lost reports whether a fence wait observed device removal.
func (c *Context) Lost() bool { return c.lost }

// SwapChainConfig describes the presentation target.
type SwapChainConfig struct {
	Window uintptr
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
}

// AttachSwapChain creates a swap chain with one buffer per frame and
// adopts its current back-buffer index.
func (c *Context) AttachSwapChain(cfg SwapChainConfig) error {
	if c.swap != nil {
		return errors.New("device: swap chain already attached")
	}
	sc, err := c.dev.CreateSwapChain(c.queue, &hal.SwapChainDesc{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Format:      cfg.Format,
		BufferCount: uint32(len(c.frames)),
		Window:      cfg.Window,
	})
	if err != nil {
		return fmt.Errorf("device: create swap chain: %w", err)
	}
	for i, f := range c.frames {
		buf, err := sc.Buffer(uint32(i))
		if err != nil {
			sc.Destroy()
			return fmt.Errorf("device: swap chain buffer %d: %w", i, err)
		}
		f.BackBuffer = resource.Wrap(buf, hal.StatePresent, fmt.Sprintf("backbuffer[%d]", i))
	}
	c.swap = sc
	return c.adoptIndex()
}

// SwapChain returns the attached swap chain or nil.
func (c *Context) SwapChain() hal.SwapChain { return c.swap }

// Present presents the current back buffer and adopts the index the swap
// chain reports next.
func (c *Context) Present(syncInterval uint32) error {
	if c.swap == nil {
		return errors.New("device: no swap chain attached")
	}
	if err := c.swap.Present(syncInterval); err != nil {
		return fmt.Errorf("device: present: %w", err)
	}
	return c.adoptIndex()
}

func (c *Context) adoptIndex() error {
	i := int(c.swap.CurrentBackBufferIndex())
	if i >= len(c.frames) {
		return fmt.Errorf("device: swap chain reported back buffer %d of %d", i, len(c.frames))
	}
	c.index = i
	return nil
}

// Close waits for outstanding work unless the device was lost, then
// releases everything. Close is idempotent.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	var err error
	if !c.lost {
		if _, ferr := c.pacer.Flush(c.queue); ferr != nil {
			err = fmt.Errorf("device: final flush: %w", ferr)
		}
	}
	c.release()
	c.closed = true
	return err
}

func (c *Context) release() {
	if c.swap != nil {
		c.swap.Destroy()
	}
	for _, f := range c.frames {
		if f.List != nil {
			f.List.Destroy()
		}
		f.Allocator.Destroy()
	}
	if c.pacer != nil {
		c.pacer.Destroy()
	}
	if c.queue != nil {
		c.queue.Destroy()
	}
}
