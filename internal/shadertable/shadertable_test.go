// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package shadertable

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/hal/soft"
	"github.com/gogpu/raytrace/internal/pipeline"
	"github.com/gogpu/raytrace/internal/resource"
)

func TestComputeLayoutAlignment(t *testing.T) {
	for _, args := range []uint64{0, 8, 32, 100} {
		for miss := uint32(1); miss <= 5; miss++ {
			for hit := uint32(1); hit <= 5; hit++ {
				l, err := ComputeLayout(1, miss, hit, args)
				if err != nil {
					t.Fatalf("ComputeLayout(1, %d, %d, %d) error = %v", miss, hit, args, err)
				}
				if l.RecordSize%hal.ShaderRecordAlignment != 0 || l.RecordSize < hal.ShaderIdentifierSize+args {
					t.Errorf("record size %d for %d argument bytes", l.RecordSize, args)
				}
				for name, r := range map[string]Region{"raygen": l.RayGen, "miss": l.Miss, "hitgroup": l.HitGroup} {
					if r.Size%hal.ShaderTableAlignment != 0 {
						t.Errorf("%s size %d not a multiple of %d", name, r.Size, hal.ShaderTableAlignment)
					}
					if r.Offset%hal.ShaderTableAlignment != 0 {
						t.Errorf("%s offset %d not a multiple of %d", name, r.Offset, hal.ShaderTableAlignment)
					}
					if r.Size < uint64(r.Count)*r.Stride {
						t.Errorf("%s size %d cannot hold %d records", name, r.Size, r.Count)
					}
					for i := range r.Count {
						if r.RecordOffset(i)%hal.ShaderRecordAlignment != 0 {
							t.Errorf("%s record %d at %d not aligned", name, i, r.RecordOffset(i))
						}
					}
				}
				if l.Miss.Offset != l.RayGen.Offset+l.RayGen.Size || l.HitGroup.Offset != l.Miss.Offset+l.Miss.Size {
					t.Errorf("regions not contiguous: %+v", l)
				}
			}
		}
	}
}

func TestComputeLayoutReference(t *testing.T) {
	l, err := ComputeLayout(1, 1, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := Layout{
		RecordSize: 32,
		RayGen:     Region{Offset: 0, Size: 64, Stride: 32, Count: 1},
		Miss:       Region{Offset: 64, Size: 64, Stride: 32, Count: 1},
		HitGroup:   Region{Offset: 128, Size: 64, Stride: 32, Count: 1},
	}
	if l != want {
		t.Errorf("ComputeLayout() = %+v, want %+v", l, want)
	}
	if l.Size() != 192 {
		t.Errorf("Size() = %d, want 192", l.Size())
	}
}

func TestComputeLayoutRejects(t *testing.T) {
	tests := []struct {
		name                string
		rayGen, miss, hitGr uint32
	}{
		{"no raygen", 0, 1, 1},
		{"two raygen", 2, 1, 1},
		{"no miss", 1, 0, 1},
		{"no hit group", 1, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ComputeLayout(tt.rayGen, tt.miss, tt.hitGr, 0); err == nil {
				t.Error("ComputeLayout() should fail")
			}
		})
	}
}

func newStateObject(t *testing.T) (*resource.Factory, hal.StateObject) {
	t.Helper()
	dev := soft.NewDevice(false)
	t.Cleanup(dev.Destroy)
	rs, err := pipeline.BuildRootSignature(dev, pipeline.DefaultBindings())
	if err != nil {
		t.Fatal(err)
	}
	st, err := pipeline.BuildStateObject(dev, rs, &pipeline.Config{
		Library:       soft.DefaultLibrary().Encode(),
		Symbols:       pipeline.DefaultSymbols(),
		PayloadSize:   12,
		AttributeSize: 8,
		MaxRecursion:  1,
	})
	if err != nil {
		t.Fatal(err)
	}
	return resource.NewFactory(dev), st.StateObject
}

func TestBuildCopiesIdentifiers(t *testing.T) {
	f, so := newStateObject(t)
	sym := pipeline.DefaultSymbols()
	table, err := Build(f, so, FromSymbols(sym))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer table.Release()

	mem, err := table.Buffer.Native().Map()
	if err != nil {
		t.Fatal(err)
	}
	defer table.Buffer.Native().Unmap()
	l := table.Layout
	for name, off := range map[string]uint64{
		sym.RayGen:   l.RayGen.Offset,
		sym.Miss:     l.Miss.Offset,
		sym.HitGroup: l.HitGroup.Offset,
	} {
		if got := mem[off : off+hal.ShaderIdentifierSize]; !bytes.Equal(got, so.ShaderIdentifier(name)) {
			t.Errorf("record for %q does not hold its identifier", name)
		}
	}

	d := table.DispatchDesc(640, 480)
	base := table.Buffer.GPUAddress()
	if d.RayGenerationShaderRecord.StartAddress != base || d.RayGenerationShaderRecord.SizeInBytes != l.RecordSize {
		t.Errorf("raygen range = %+v", d.RayGenerationShaderRecord)
	}
	if d.MissShaderTable.StartAddress != base+64 || d.MissShaderTable.StrideInBytes != 32 {
		t.Errorf("miss table = %+v", d.MissShaderTable)
	}
	if d.HitGroupTable.StartAddress != base+128 || d.HitGroupTable.StrideInBytes != 32 {
		t.Errorf("hit group table = %+v", d.HitGroupTable)
	}
	if d.Width != 640 || d.Height != 480 || d.Depth != 1 {
		t.Errorf("dispatch = %dx%dx%d", d.Width, d.Height, d.Depth)
	}
}

func TestBuildUnknownExport(t *testing.T) {
	f, so := newStateObject(t)
	recs := FromSymbols(pipeline.DefaultSymbols())
	recs.Miss = []string{"MainClosestHit"}
	if _, err := Build(f, so, recs); !errors.Is(err, ErrUnknownExport) {
		t.Errorf("Build() error = %v, want ErrUnknownExport", err)
	}
}
