// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package accel builds the bottom- and top-level acceleration structures.
//
// The Builder is a state machine: a bottom-level structure must be built and
// its completion observed on the fence before the top-level build that
// references it is recorded. Each stage queries prebuild sizes, allocates a
// scratch and a result buffer, records one build plus a UAV barrier on the
// result, then submits and waits.
package accel

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/device"
	"github.com/gogpu/raytrace/internal/resource"
	"github.com/gogpu/raytrace/internal/rtlog"
)

// ErrOutOfOrder is returned when a stage is requested out of sequence.
var ErrOutOfOrder = errors.New("accel: build out of order")

func slogger() *slog.Logger { return rtlog.Logger() }

// Stage is the builder's progress.
type Stage int

// Builder stages.
const (
	StageNone Stage = iota
	StageBottomLevelBuilt
	StageTopLevelBuilt
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageBottomLevelBuilt:
		return "BLAS built"
	case StageTopLevelBuilt:
		return "TLAS built"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Structure is a built acceleration structure.
type Structure struct {
	Type     hal.AccelerationStructureType
	Result   *resource.Resource
	Scratch  *resource.Resource
	Prebuild hal.PrebuildInfo

	// Checkpoint is the fence value observed complete after the build.
	Checkpoint uint64
}

// Address returns the result buffer's GPU address.
func (s *Structure) Address() hal.GPUAddress { return s.Result.GPUAddress() }

// Release frees the result and scratch buffers.
func (s *Structure) Release() {
	if s == nil {
		return
	}
	s.Result.Release()
	s.Scratch.Release()
}

// Geometry is the triangle list of the bottom-level structure.
type Geometry struct {
	VertexBuffer *resource.Resource
	VertexCount  uint32
	Stride       uint64
	Format       gputypes.VertexFormat
	Flags        hal.GeometryFlags
}

// Builder records and submits the two build stages.
type Builder struct {
	ctx     *device.Context
	factory *resource.Factory

	stage     Stage
	bottom    *Structure
	top       *Structure
	instances *resource.Resource
}

// NewBuilder returns a builder submitting on ctx.
func NewBuilder(ctx *device.Context, factory *resource.Factory) *Builder {
	return &Builder{ctx: ctx, factory: factory}
}

// Stage returns the current stage.
func (b *Builder) Stage() Stage { return b.stage }

// BottomLevel returns the bottom-level structure or nil.
func (b *Builder) BottomLevel() *Structure { return b.bottom }

// TopLevel returns the top-level structure or nil.
func (b *Builder) TopLevel() *Structure { return b.top }

// BuildBottomLevel builds the bottom-level structure over one triangle
// geometry and waits for it.
func (b *Builder) BuildBottomLevel(g Geometry) (*Structure, error) {
	if b.stage != StageNone {
		return nil, fmt.Errorf("%w: bottom level requested at stage %v", ErrOutOfOrder, b.stage)
	}
	if g.VertexBuffer == nil || g.VertexCount == 0 || g.VertexCount%3 != 0 {
		return nil, fmt.Errorf("accel: geometry needs a vertex buffer and a multiple of 3 vertices, got %d", g.VertexCount)
	}
	if g.Stride == 0 || uint64(g.VertexCount)*g.Stride > g.VertexBuffer.Size() {
		return nil, fmt.Errorf("accel: %d vertices of stride %d overrun %d-byte buffer", g.VertexCount, g.Stride, g.VertexBuffer.Size())
	}
	inputs := hal.BuildInputs{
		Type:  hal.BottomLevel,
		Flags: hal.BuildFlagPreferFastTrace,
		Geometries: []hal.GeometryDesc{{
			Flags: g.Flags,
			Triangles: hal.TrianglesDesc{
				VertexFormat: g.Format,
				VertexCount:  g.VertexCount,
				VertexBuffer: hal.StridedAddress{
					StartAddress:  g.VertexBuffer.GPUAddress(),
					StrideInBytes: g.Stride,
				},
			},
		}},
	}
	s, err := b.build("blas", &inputs)
	if err != nil {
		return nil, err
	}
	b.bottom = s
	b.stage = StageBottomLevelBuilt
	return s, nil
}

// BuildTopLevel builds the top-level structure with one identity instance
// of the bottom-level structure and waits for it.
func (b *Builder) BuildTopLevel() (*Structure, error) {
	if b.stage != StageBottomLevelBuilt {
		return nil, fmt.Errorf("%w: top level requested at stage %v", ErrOutOfOrder, b.stage)
	}
	if done := b.ctx.Completed(); done < b.bottom.Checkpoint {
		return nil, fmt.Errorf("%w: bottom level checkpoint %d not complete (fence at %d)", ErrOutOfOrder, b.bottom.Checkpoint, done)
	}

	inst := hal.InstanceDesc{
		Transform:             hal.IdentityTransform,
		InstanceMask:          0xFF,
		AccelerationStructure: b.bottom.Address(),
	}
	buf, err := b.factory.CreateUploadBuffer("tlas-instances", inst.AppendEncoded(make([]byte, 0, hal.InstanceDescSize)))
	if err != nil {
		return nil, err
	}
	b.instances = buf

	inputs := hal.BuildInputs{
		Type:          hal.TopLevel,
		Flags:         hal.BuildFlagPreferFastTrace,
		NumInstances:  1,
		InstanceDescs: buf.GPUAddress(),
	}
	s, err := b.build("tlas", &inputs)
	if err != nil {
		return nil, err
	}
	b.top = s
	b.stage = StageTopLevelBuilt
	return s, nil
}

func (b *Builder) build(name string, inputs *hal.BuildInputs) (s *Structure, err error) {
	info := b.ctx.Device().AccelerationStructurePrebuildInfo(inputs)
	if info.ResultDataMaxSizeInBytes == 0 {
		return nil, fmt.Errorf("accel: %s prebuild reported an empty result", name)
	}
	slogger().Debug("accel: prebuild",
		"type", inputs.Type.String(),
		"result", info.ResultDataMaxSizeInBytes,
		"scratch", info.ScratchDataSizeInBytes)

	scratchSize := hal.AlignUp(max(info.ScratchDataSizeInBytes, 1), hal.AccelerationStructureAlignment)
	resultSize := hal.AlignUp(info.ResultDataMaxSizeInBytes, hal.AccelerationStructureAlignment)

	s = &Structure{Type: inputs.Type, Prebuild: info}
	defer func() {
		if err != nil {
			s.Release()
		}
	}()
	s.Scratch, err = b.factory.CreateBuffer(name+"-scratch", hal.HeapDefault, scratchSize,
		hal.StateUnorderedAccess, hal.ResourceFlagAllowUnorderedAccess)
	if err != nil {
		return nil, err
	}
	s.Result, err = b.factory.CreateBuffer(name+"-result", hal.HeapDefault, resultSize,
		hal.StateRaytracingAccelerationStructure, hal.ResourceFlagAllowUnorderedAccess)
	if err != nil {
		return nil, err
	}

	cl, err := b.ctx.Begin()
	if err != nil {
		return nil, fmt.Errorf("accel: %s: %w", name, err)
	}
	cl.BuildRaytracingAccelerationStructure(&hal.BuildDesc{
		DestAddress:    s.Result.GPUAddress(),
		Inputs:         *inputs,
		ScratchAddress: s.Scratch.GPUAddress(),
	})
	cl.ResourceBarrier(s.Result.UAVBarrier())

	s.Checkpoint, err = b.ctx.SubmitAndWait()
	if err != nil {
		return nil, fmt.Errorf("accel: %s: %w", name, err)
	}
	slogger().Info("accel: built",
		"type", inputs.Type.String(),
		"size", resultSize,
		"checkpoint", s.Checkpoint)
	return s, nil
}

// Release frees every buffer the builder allocated and returns it to
// StageNone.
func (b *Builder) Release() {
	b.top.Release()
	b.bottom.Release()
	b.instances.Release()
	b.top, b.bottom, b.instances = nil, nil, nil
	b.stage = StageNone
}
