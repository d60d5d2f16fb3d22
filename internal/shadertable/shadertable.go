// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package shadertable lays out and fills the shader table.
//
// The table is one UPLOAD buffer with three contiguous regions in the order
// ray generation, miss, hit group. Each record is a shader identifier
// followed by an optional local root argument block; records are aligned to
// hal.ShaderRecordAlignment and regions to hal.ShaderTableAlignment.
package shadertable

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/pipeline"
	"github.com/gogpu/raytrace/internal/resource"
	"github.com/gogpu/raytrace/internal/rtlog"
)

// ErrUnknownExport is returned when the state object has no identifier for
// a record's export.
var ErrUnknownExport = errors.New("shadertable: unknown export")

func slogger() *slog.Logger { return rtlog.Logger() }

// Region is one contiguous range of records.
type Region struct {
	Offset uint64
	Size   uint64
	Stride uint64
	Count  uint32
}

// RecordOffset returns the offset of record i from the start of the table.
func (r Region) RecordOffset(i uint32) uint64 {
	return r.Offset + uint64(i)*r.Stride
}

// Layout is the placement of every region.
type Layout struct {
	RecordSize uint64
	RayGen     Region
	Miss       Region
	HitGroup   Region
}

// Size returns the total byte size of the table.
func (l Layout) Size() uint64 {
	return l.HitGroup.Offset + l.HitGroup.Size
}

// ComputeLayout places rayGen, miss and hitGroup records carrying
// localArgs bytes of local root arguments each.
func ComputeLayout(rayGen, miss, hitGroup uint32, localArgs uint64) (Layout, error) {
	if rayGen != 1 {
		return Layout{}, fmt.Errorf("shadertable: need exactly one ray generation record, got %d", rayGen)
	}
	if miss == 0 || hitGroup == 0 {
		return Layout{}, fmt.Errorf("shadertable: need at least one miss and one hit group record, got %d and %d", miss, hitGroup)
	}
	record := hal.AlignUp(hal.ShaderIdentifierSize+localArgs, hal.ShaderRecordAlignment)
	region := func(offset uint64, n uint32) Region {
		return Region{
			Offset: offset,
			Size:   hal.AlignUp(uint64(n)*record, hal.ShaderTableAlignment),
			Stride: record,
			Count:  n,
		}
	}
	l := Layout{RecordSize: record}
	l.RayGen = region(0, rayGen)
	l.Miss = region(l.RayGen.Offset+l.RayGen.Size, miss)
	l.HitGroup = region(l.Miss.Offset+l.Miss.Size, hitGroup)
	return l, nil
}

// Records names the exports of each region, in order.
type Records struct {
	RayGen   []string
	Miss     []string
	HitGroup []string
}

// FromSymbols returns one record per region.
func FromSymbols(s pipeline.Symbols) Records {
	return Records{
		RayGen:   []string{s.RayGen},
		Miss:     []string{s.Miss},
		HitGroup: []string{s.HitGroup},
	}
}

// Table is a filled shader table.
type Table struct {
	Buffer *resource.Resource
	Layout Layout
}

// Build lays out records, allocates the table and copies each export's
// identifier to the start of its record. Local argument blocks are zero.
func Build(f *resource.Factory, so hal.StateObject, recs Records) (*Table, error) {
	l, err := ComputeLayout(uint32(len(recs.RayGen)), uint32(len(recs.Miss)), uint32(len(recs.HitGroup)), 0)
	if err != nil {
		return nil, err
	}
	data := make([]byte, l.Size())
	for _, g := range []struct {
		region Region
		names  []string
	}{
		{l.RayGen, recs.RayGen},
		{l.Miss, recs.Miss},
		{l.HitGroup, recs.HitGroup},
	} {
		for i, name := range g.names {
			id := so.ShaderIdentifier(name)
			if id == nil {
				return nil, fmt.Errorf("%w: %q", ErrUnknownExport, name)
			}
			copy(data[g.region.RecordOffset(uint32(i)):], id)
		}
	}
	buf, err := f.CreateUploadBuffer("shader-table", data)
	if err != nil {
		return nil, err
	}
	if buf.GPUAddress()%hal.ShaderTableAlignment != 0 {
		buf.Release()
		return nil, fmt.Errorf("shadertable: buffer address %#x is not %d-byte aligned", uint64(buf.GPUAddress()), hal.ShaderTableAlignment)
	}
	slogger().Debug("shadertable: built",
		"record", l.RecordSize,
		"raygen", l.RayGen.Size,
		"miss", l.Miss.Size,
		"hitgroup", l.HitGroup.Size,
		"size", l.Size())
	return &Table{Buffer: buf, Layout: l}, nil
}

// DispatchDesc returns a width x height x 1 dispatch over the table.
func (t *Table) DispatchDesc(width, height uint32) hal.DispatchRaysDesc {
	base := t.Buffer.GPUAddress()
	l := t.Layout
	return hal.DispatchRaysDesc{
		RayGenerationShaderRecord: hal.GPUAddressRange{
			StartAddress: base + hal.GPUAddress(l.RayGen.Offset),
			SizeInBytes:  l.RecordSize,
		},
		MissShaderTable: hal.GPUAddressRangeAndStride{
			StartAddress:  base + hal.GPUAddress(l.Miss.Offset),
			SizeInBytes:   l.Miss.Size,
			StrideInBytes: l.Miss.Stride,
		},
		HitGroupTable: hal.GPUAddressRangeAndStride{
			StartAddress:  base + hal.GPUAddress(l.HitGroup.Offset),
			SizeInBytes:   l.HitGroup.Size,
			StrideInBytes: l.HitGroup.Stride,
		},
		Width:  width,
		Height: height,
		Depth:  1,
	}
}

// Release frees the table buffer.
func (t *Table) Release() { t.Buffer.Release() }
