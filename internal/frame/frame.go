// Package frame records and submits one ray-traced frame.
package frame

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/device"
	"github.com/gogpu/raytrace/internal/pipeline"
	"github.com/gogpu/raytrace/internal/resource"
	"github.com/gogpu/raytrace/internal/rtlog"
	"github.com/gogpu/raytrace/internal/shadertable"
)

// ErrAborted is returned by every Render after one failed.
var ErrAborted = errors.New("frame: driver aborted by an earlier failure")

func slogger() *slog.Logger { return rtlog.Logger() }

// Bindings are the resources every frame binds.
type Bindings struct {
	Heap   hal.DescriptorHeap
	Scene  hal.GPUDescriptorHandle
	Output hal.GPUDescriptorHandle
	Image  *resource.Resource
	State  *pipeline.State
	Table  *shadertable.Table
}

// Stats describes the frames rendered so far.
type Stats struct {
	Frames     uint64
	LastFrame  time.Duration
	FenceValue uint64
}

// Driver renders frames into the swap chain of a device.Context.
type Driver struct {
	ctx          *device.Context
	b            Bindings
	dispatch     hal.DispatchRaysDesc
	syncInterval uint32

	stats Stats
	err   error
}

// NewDriver returns a driver dispatching width x height rays per frame.
// ctx must have a swap chain attached.
func NewDriver(ctx *device.Context, b Bindings, width, height, syncInterval uint32) (*Driver, error) {
	if ctx.SwapChain() == nil {
		return nil, errors.New("frame: context has no swap chain")
	}
	if err := b.Image.Expect(hal.StateCopySource); err != nil {
		return nil, fmt.Errorf("frame: output image: %w", err)
	}
	if b.State.GlobalRootSignature() != b.State.RootSignature {
		return nil, errors.New("frame: state object was built against another root signature")
	}
	return &Driver{
		ctx:          ctx,
		b:            b,
		dispatch:     b.Table.DispatchDesc(width, height),
		syncInterval: syncInterval,
	}, nil
}

// Render records, submits and presents one frame. A failure aborts the
// driver.
func (d *Driver) Render() error {
	if d.err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, d.err)
	}
	start := time.Now()
	if err := d.render(); err != nil {
		d.err = err
		slogger().Error("frame: render failed", "frame", d.stats.Frames, "err", err)
		return err
	}
	d.stats.Frames++
	d.stats.LastFrame = time.Since(start)
	return nil
}

func (d *Driver) render() error {
	index := d.ctx.FrameIndex()
	cl, err := d.ctx.Begin()
	if err != nil {
		return err
	}
	back := d.ctx.Current().BackBuffer
	img := d.b.Image

	cl.SetDescriptorHeaps(d.b.Heap)
	cl.SetComputeRootSignature(d.b.State.RootSignature)
	cl.SetComputeRootDescriptorTable(pipeline.SceneParameter, d.b.Scene)
	cl.SetComputeRootDescriptorTable(pipeline.OutputParameter, d.b.Output)

	if err := resource.Transition(cl, resource.Move(img, hal.StateCopySource, hal.StateUnorderedAccess)); err != nil {
		return err
	}
	cl.SetPipelineState1(d.b.State.StateObject)
	cl.DispatchRays(&d.dispatch)

	if err := resource.Transition(cl,
		resource.Move(img, hal.StateUnorderedAccess, hal.StateCopySource),
		resource.Move(back, hal.StatePresent, hal.StateCopyDest),
	); err != nil {
		return err
	}
	cl.CopyResource(back.Native(), img.Native())
	if err := resource.Transition(cl, resource.Move(back, hal.StateCopyDest, hal.StatePresent)); err != nil {
		return err
	}

	v, err := d.ctx.Submit()
	if err != nil {
		return err
	}
	d.stats.FenceValue = v
	if err := d.ctx.Present(d.syncInterval); err != nil {
		return err
	}
	slogger().Debug("frame: presented", "frame", d.stats.Frames, "back_buffer", index, "fence", v, "next", d.ctx.FrameIndex())
	return nil
}

// Stats returns the frame statistics.
func (d *Driver) Stats() Stats { return d.stats }

// Err returns the failure that aborted the driver, or nil.
func (d *Driver) Err() error { return d.err }
