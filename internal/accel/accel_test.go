// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package accel

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/hal/soft"
	"github.com/gogpu/raytrace/internal/device"
	"github.com/gogpu/raytrace/internal/resource"
)

func newBuilder(t *testing.T) (*Builder, *resource.Factory) {
	t.Helper()
	dev := soft.NewDevice(false)
	t.Cleanup(dev.Destroy)
	ctx, err := device.Open(dev, 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ctx.Close() })
	f := resource.NewFactory(dev)
	b := NewBuilder(ctx, f)
	t.Cleanup(b.Release)
	return b, f
}

func triangle(t *testing.T, f *resource.Factory) Geometry {
	t.Helper()
	var data []byte
	for _, v := range [][3]float32{{-0.5, -0.5, 0}, {0.5, -0.5, 0}, {0, 0.75, 0}} {
		for _, c := range v {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(c))
		}
	}
	vb, err := f.CreateUploadBuffer("vertices", data)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(vb.Release)
	return Geometry{
		VertexBuffer: vb,
		VertexCount:  3,
		Stride:       12,
		Format:       gputypes.VertexFormatFloat32x3,
		Flags:        hal.GeometryFlagOpaque,
	}
}

func TestBuildBottomThenTop(t *testing.T) {
	b, f := newBuilder(t)
	if b.Stage() != StageNone {
		t.Fatalf("Stage() = %v, want none", b.Stage())
	}

	blas, err := b.BuildBottomLevel(triangle(t, f))
	if err != nil {
		t.Fatalf("BuildBottomLevel() error = %v", err)
	}
	if b.Stage() != StageBottomLevelBuilt {
		t.Errorf("Stage() = %v, want BLAS built", b.Stage())
	}
	tlas, err := b.BuildTopLevel()
	if err != nil {
		t.Fatalf("BuildTopLevel() error = %v", err)
	}
	if b.Stage() != StageTopLevelBuilt {
		t.Errorf("Stage() = %v, want TLAS built", b.Stage())
	}

	if tlas.Result == nil {
		t.Fatal("TLAS result is nil")
	}
	if err := tlas.Result.Expect(hal.StateRaytracingAccelerationStructure); err != nil {
		t.Errorf("TLAS result state: %v", err)
	}
	if blas.Checkpoint >= tlas.Checkpoint {
		t.Errorf("BLAS checkpoint %d not before TLAS checkpoint %d", blas.Checkpoint, tlas.Checkpoint)
	}
	for _, s := range []*Structure{blas, tlas} {
		if s.Address()%hal.AccelerationStructureAlignment != 0 {
			t.Errorf("%v address %#x not aligned", s.Type, uint64(s.Address()))
		}
		if s.Result.Size() < s.Prebuild.ResultDataMaxSizeInBytes {
			t.Errorf("%v result %d < prebuild %d", s.Type, s.Result.Size(), s.Prebuild.ResultDataMaxSizeInBytes)
		}
		if s.Scratch.Size() < s.Prebuild.ScratchDataSizeInBytes {
			t.Errorf("%v scratch %d < prebuild %d", s.Type, s.Scratch.Size(), s.Prebuild.ScratchDataSizeInBytes)
		}
	}
	if b.TopLevel() != tlas || b.BottomLevel() != blas {
		t.Error("accessors do not return the built structures")
	}
}

func TestOutOfOrder(t *testing.T) {
	b, f := newBuilder(t)
	if _, err := b.BuildTopLevel(); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("BuildTopLevel() before BLAS error = %v, want ErrOutOfOrder", err)
	}
	g := triangle(t, f)
	if _, err := b.BuildBottomLevel(g); err != nil {
		t.Fatal(err)
	}
	if _, err := b.BuildBottomLevel(g); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("second BuildBottomLevel() error = %v, want ErrOutOfOrder", err)
	}
	if _, err := b.BuildTopLevel(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.BuildTopLevel(); !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("second BuildTopLevel() error = %v, want ErrOutOfOrder", err)
	}
}

func TestBadGeometry(t *testing.T) {
	b, f := newBuilder(t)
	g := triangle(t, f)

	tests := []struct {
		name   string
		modify func(*Geometry)
	}{
		{"no buffer", func(g *Geometry) { g.VertexBuffer = nil }},
		{"no vertices", func(g *Geometry) { g.VertexCount = 0 }},
		{"partial triangle", func(g *Geometry) { g.VertexCount = 2 }},
		{"zero stride", func(g *Geometry) { g.Stride = 0 }},
		{"overrun", func(g *Geometry) { g.VertexCount = 6 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := g
			tt.modify(&bad)
			if _, err := b.BuildBottomLevel(bad); err == nil {
				t.Error("BuildBottomLevel() should fail")
			}
			if b.Stage() != StageNone {
				t.Errorf("Stage() = %v after failure", b.Stage())
			}
		})
	}
}

func TestReleaseResetsStage(t *testing.T) {
	b, f := newBuilder(t)
	if _, err := b.BuildBottomLevel(triangle(t, f)); err != nil {
		t.Fatal(err)
	}
	b.Release()
	if b.Stage() != StageNone || b.BottomLevel() != nil {
		t.Errorf("after Release: stage %v, bottom %v", b.Stage(), b.BottomLevel())
	}
}
