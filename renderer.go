package raytrace

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/accel"
	"github.com/gogpu/raytrace/internal/device"
	"github.com/gogpu/raytrace/internal/frame"
	"github.com/gogpu/raytrace/internal/pipeline"
	"github.com/gogpu/raytrace/internal/resource"
	"github.com/gogpu/raytrace/internal/shadertable"
)

// Stats describes the frames rendered so far.
type Stats struct {
	Frames     uint64
	LastFrame  time.Duration
	FenceValue uint64
	FrameIndex int
}

// Renderer renders the static scene into a swap chain.
// It must be used from a single goroutine.
type Renderer struct {
	cfg Config
	dev hal.Device

	ctx      *device.Context
	factory  *resource.Factory
	vertices *resource.Resource
	builder  *accel.Builder
	state    *pipeline.State
	table    *shadertable.Table
	output   *resource.Resource
	heap     *resource.DescriptorAllocator
	driver   *frame.Driver

	closed bool
}

// OpenDevice opens a device from the hal registry. An empty name picks
// the highest-priority registered backend. Of opts only WithDebugLayer
// applies; passing the renderer's options is fine.
func OpenDevice(name string, opts ...Option) (hal.Device, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	var b hal.Backend
	if name == "" {
		b = hal.Default()
	} else {
		b = hal.Get(name)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %w: %q", ErrInit, hal.ErrNotInstalled, name)
	}
	dev, err := b.Open(hal.OpenOptions{Debug: o.cfg.DebugLayer})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s device: %w", ErrInit, b.Name(), err)
	}
	return dev, nil
}

// LoadShaderLibrary reads a compiled shader library from path.
func LoadShaderLibrary(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: shader library: %w", ErrInit, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: shader library %s is empty", ErrInit, path)
	}
	return b, nil
}

// New builds every GPU object needed to render into the surface identified
// by window. The device is borrowed: Close does not destroy it.
func New(dev hal.Device, window uintptr, opts ...Option) (*Renderer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	lib := o.library
	if lib == nil {
		var err error
		if lib, err = LoadShaderLibrary(o.cfg.ShaderPath); err != nil {
			return nil, err
		}
	}
	r := &Renderer{cfg: o.cfg, dev: dev}
	r.cfg.Geometry = append([]Vertex(nil), o.cfg.Geometry...)
	if err := r.init(window, lib); err != nil {
		r.release()
		return nil, err
	}
	Logger().Info("raytrace: renderer ready",
		"width", r.cfg.Width,
		"height", r.cfg.Height,
		"frames", r.cfg.FrameCount)
	return r, nil
}

func (r *Renderer) init(window uintptr, lib []byte) error {
	cfg := &r.cfg
	var err error

	r.ctx, err = device.Open(r.dev, cfg.FrameCount,
		device.WithFenceTimeout(cfg.FenceTimeout),
		device.WithInFlightFrames(cfg.InFlightFrames))
	if err != nil {
		return classify(ErrInit, "device", err)
	}
	err = r.ctx.AttachSwapChain(device.SwapChainConfig{
		Window: window,
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: cfg.Format,
	})
	if err != nil {
		return classify(ErrInit, "swap chain", err)
	}
	r.factory = resource.NewFactory(r.dev)

	r.vertices, err = r.factory.CreateUploadBuffer("vertices", EncodeVertices(cfg.Geometry))
	if err != nil {
		return classify(ErrResource, "vertex buffer", err)
	}

	r.builder = accel.NewBuilder(r.ctx, r.factory)
	_, err = r.builder.BuildBottomLevel(accel.Geometry{
		VertexBuffer: r.vertices,
		VertexCount:  uint32(len(cfg.Geometry)),
		Stride:       VertexStride,
		Format:       gputypes.VertexFormatFloat32x3,
		Flags:        hal.GeometryFlagOpaque,
	})
	if err != nil {
		return classify(ErrResource, "bottom-level build", err)
	}
	tlas, err := r.builder.BuildTopLevel()
	if err != nil {
		return classify(ErrResource, "top-level build", err)
	}

	rs, err := pipeline.BuildRootSignature(r.dev, pipeline.DefaultBindings())
	if err != nil {
		return classify(ErrInit, "root signature", err)
	}
	r.state, err = pipeline.BuildStateObject(r.dev, rs, &pipeline.Config{
		Library:       lib,
		Symbols:       cfg.Symbols.toPipeline(),
		PayloadSize:   cfg.PayloadSize,
		AttributeSize: cfg.AttributeSize,
		MaxRecursion:  cfg.MaxRecursion,
	})
	if err != nil {
		rs.Destroy()
		return classify(ErrInit, "state object", err)
	}

	r.table, err = shadertable.Build(r.factory, r.state.StateObject, shadertable.FromSymbols(r.state.Symbols))
	if err != nil {
		return classify(ErrResource, "shader table", err)
	}

	r.output, err = r.factory.CreateTexture("output", cfg.Format, cfg.Width, cfg.Height,
		hal.StateCopySource, hal.ResourceFlagAllowUnorderedAccess)
	if err != nil {
		return classify(ErrResource, "output image", err)
	}
	r.heap, err = resource.NewDescriptorAllocator(r.dev, "srv-uav", hal.DescriptorHeapCBVSRVUAV, 2, true)
	if err != nil {
		return classify(ErrResource, "descriptor heap", err)
	}
	scene, err := r.heap.Allocate()
	if err != nil {
		return classify(ErrResource, "scene descriptor", err)
	}
	out, err := r.heap.Allocate()
	if err != nil {
		return classify(ErrResource, "output descriptor", err)
	}
	r.dev.CreateShaderResourceView(tlas.Address(), scene.CPU)
	r.dev.CreateUnorderedAccessView(r.output.Native(), out.CPU)

	r.driver, err = frame.NewDriver(r.ctx, frame.Bindings{
		Heap:   r.heap.Heap(),
		Scene:  scene.GPU,
		Output: out.GPU,
		Image:  r.output,
		State:  r.state,
		Table:  r.table,
	}, cfg.Width, cfg.Height, cfg.SyncInterval)
	if err != nil {
		return classify(ErrInit, "frame driver", err)
	}
	return nil
}

// Render records, submits and presents one frame, then adopts the swap
// chain's next back-buffer index. After a failure every call returns an
// error wrapping ErrFatal.
func (r *Renderer) Render() error {
	if r.closed {
		return ErrClosed
	}
	if err := r.driver.Render(); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	return nil
}

// WaitIdle blocks until the GPU has finished all submitted work,
// including queued presents.
func (r *Renderer) WaitIdle() error {
	if r.closed {
		return ErrClosed
	}
	if _, err := r.ctx.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrSync, err)
	}
	return nil
}

// Close waits for the GPU and releases everything New created.
// Close is idempotent.
func (r *Renderer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var err error
	if !r.ctx.Lost() {
		if _, ferr := r.ctx.Flush(); ferr != nil {
			err = fmt.Errorf("%w: %w", ErrSync, ferr)
		}
	}
	r.release()
	return err
}

func (r *Renderer) release() {
	if r.heap != nil {
		r.heap.Destroy()
	}
	r.output.Release()
	if r.table != nil {
		r.table.Release()
	}
	if r.state != nil {
		r.state.Destroy()
	}
	if r.builder != nil {
		r.builder.Release()
	}
	r.vertices.Release()
	if r.ctx != nil {
		if err := r.ctx.Close(); err != nil {
			Logger().Warn("raytrace: device context close", "err", err)
		}
	}
}

// Config returns the resolved configuration.
func (r *Renderer) Config() Config {
	c := r.cfg
	c.Geometry = append([]Vertex(nil), r.cfg.Geometry...)
	return c
}

// FrameIndex returns the back buffer the next frame renders into.
func (r *Renderer) FrameIndex() int { return r.ctx.FrameIndex() }

// FenceValue returns the value the next fence signal will use.
func (r *Renderer) FenceValue() uint64 { return r.ctx.FenceValue() }

// Stats returns the frame statistics.
func (r *Renderer) Stats() Stats {
	s := r.driver.Stats()
	return Stats{
		Frames:     s.Frames,
		LastFrame:  s.LastFrame,
		FenceValue: s.FenceValue,
		FrameIndex: r.ctx.FrameIndex(),
	}
}

// Err returns the failure that stopped rendering, or nil.
func (r *Renderer) Err() error {
	if err := r.driver.Err(); err != nil {
		return errors.Join(ErrFatal, err)
	}
	return nil
}
