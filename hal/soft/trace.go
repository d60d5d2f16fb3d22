package soft

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/f32"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/parallel"
)

// Ray interval and mask used by the ray-generation program.
const (
	rayTMin = 0.001
	rayTMax = 10000
	rayMask = 0xFF
)

// DispatchRays records a ray dispatch.
func (cl *CommandList) DispatchRays(desc *hal.DispatchRaysDesc) {
	if desc == nil {
		cl.fail(errors.New("DispatchRays: nil description"))
		return
	}
	dd := *desc
	cl.record("DispatchRays", func(x *executor) error {
		if err := x.dispatch(&dd); err != nil {
			return fmt.Errorf("DispatchRays: %w", err)
		}
		return nil
	})
}

// bindings are the resources a dispatch reads and writes.
type bindings struct {
	scene  []instanceView
	output *Resource
}

func (x *executor) dispatch(desc *hal.DispatchRaysDesc) error {
	so := x.pipeline
	if so == nil {
		return errors.New("no state object bound")
	}
	if x.rootSig == nil {
		return errors.New("no root signature bound")
	}
	if so.global != nil && so.global != x.rootSig && !bytes.Equal(so.global.blob, x.rootSig.blob) {
		return errors.New("bound root signature differs from the pipeline's global root signature")
	}
	if desc.Width == 0 || desc.Height == 0 || desc.Depth == 0 {
		return fmt.Errorf("empty dispatch %dx%dx%d", desc.Width, desc.Height, desc.Depth)
	}

	raygen, err := x.shaderRecord(so, desc.RayGenerationShaderRecord.StartAddress, desc.RayGenerationShaderRecord.SizeInBytes, 0, "ray generation")
	if err != nil {
		return err
	}
	if raygen.kind != KindRayGeneration {
		return fmt.Errorf("ray generation record names %q, a %v shader", raygen.name, raygen.kind)
	}
	miss, err := x.tableRecord(so, desc.MissShaderTable, "miss")
	if err != nil {
		return err
	}
	if miss.kind != KindMiss {
		return fmt.Errorf("miss record names %q, which is not a miss shader", miss.name)
	}
	hitGroup, err := x.tableRecord(so, desc.HitGroupTable, "hit group")
	if err != nil {
		return err
	}
	if hitGroup.hitGroup == nil {
		return fmt.Errorf("hit group record names %q, which is not a hit group", hitGroup.name)
	}

	b, err := x.resolveBindings()
	if err != nil {
		return err
	}
	out := b.output
	if uint64(desc.Width) > out.desc.Width || desc.Height > out.desc.Height {
		return fmt.Errorf("dispatch %dx%d exceeds output %dx%d", desc.Width, desc.Height, out.desc.Width, out.desc.Height)
	}

	trace(x.dev.pool, b.scene, out, desc.Width, desc.Height, miss.entry.Color, hitGroup.closest.Color)
	return nil
}

// shaderRecord resolves the shader identifier at addr.
func (x *executor) shaderRecord(so *StateObject, addr hal.GPUAddress, size, stride uint64, table string) (*export, error) {
	if addr%hal.ShaderTableAlignment != 0 {
		return nil, fmt.Errorf("%s table at %#x is not %d-byte aligned", table, uint64(addr), hal.ShaderTableAlignment)
	}
	if size < hal.ShaderIdentifierSize {
		return nil, fmt.Errorf("%s table of %d bytes cannot hold an identifier", table, size)
	}
	if stride != 0 && (stride%hal.ShaderRecordAlignment != 0 || stride < hal.ShaderIdentifierSize) {
		return nil, fmt.Errorf("%s table stride %d", table, stride)
	}
	_, mem, err := x.dev.resolve(addr, size)
	if err != nil {
		return nil, fmt.Errorf("%s table: %w", table, err)
	}
	e, err := so.lookupRecord(mem)
	if err != nil {
		return nil, fmt.Errorf("%s table: %w", table, err)
	}
	return e, nil
}

func (x *executor) tableRecord(so *StateObject, r hal.GPUAddressRangeAndStride, table string) (*export, error) {
	if r.StrideInBytes == 0 {
		return nil, fmt.Errorf("%s table has zero stride", table)
	}
	return x.shaderRecord(so, r.StartAddress, r.SizeInBytes, r.StrideInBytes, table)
}

// resolveBindings reads t0 and u0 through the bound root arguments.
func (x *executor) resolveBindings() (bindings, error) {
	var (
		b       bindings
		sceneAt hal.GPUAddress
		haveT0  bool
	)
	for i, p := range x.rootSig.desc.Parameters {
		arg := x.rootArgs[i]
		if !arg.set {
			return b, fmt.Errorf("root parameter %d is not bound", i)
		}
		switch p.Type {
		case hal.RootParameterSRV:
			if p.ShaderRegister == 0 && p.RegisterSpace == 0 {
				sceneAt, haveT0 = arg.address, true
			}
		case hal.RootParameterDescriptorTable:
			for _, rg := range p.Ranges {
				for k := range rg.NumDescriptors {
					desc, err := x.descriptorAt(arg.table, rg.Offset+k)
					if err != nil {
						return b, fmt.Errorf("root parameter %d: %w", i, err)
					}
					reg := rg.BaseShaderRegister + k
					switch rg.Type {
					case hal.RangeSRV:
						if desc.kind != descriptorAccelerationStructure {
							return b, fmt.Errorf("root parameter %d: t%d is not an acceleration structure view", i, reg)
						}
						if reg == 0 && rg.RegisterSpace == 0 {
							sceneAt, haveT0 = desc.location, true
						}
					case hal.RangeUAV:
						if desc.kind != descriptorTextureUAV {
							return b, fmt.Errorf("root parameter %d: u%d is not a texture view", i, reg)
						}
						if reg == 0 && rg.RegisterSpace == 0 {
							b.output = desc.texture
						}
					}
				}
			}
		}
	}
	if !haveT0 {
		return b, errors.New("no acceleration structure bound to t0")
	}
	if b.output == nil {
		return b, errors.New("no output texture bound to u0")
	}
	if err := b.output.requireState(hal.StateUnorderedAccess, "output"); err != nil {
		return b, err
	}
	scene, err := x.dev.topLevel(sceneAt)
	if err != nil {
		return b, fmt.Errorf("t0: %w", err)
	}
	b.scene = scene
	return b, nil
}

// trace runs the ray-generation program for every pixel, one band of
// rows per work item.
func trace(pool *parallel.Pool, scene []instanceView, out *Resource, width, height uint32, missColor, hitTint [4]float32) {
	pitch := int(out.desc.Width) * 4
	bgra := out.desc.Format == gputypes.TextureFormatBGRA8Unorm

	pool.Rows(height, 0, func(lo, hi uint32) {
		for y := lo; y < hi; y++ {
			for px := range width {
				c := shade(scene, px, y, width, height, missColor, hitTint)
				if bgra {
					c[0], c[2] = c[2], c[0]
				}
				off := int(y)*pitch + int(px)*4
				copy(out.data[off:off+4], c[:])
			}
		}
	})
}

// shade traces the ray of pixel (px, y) and returns its RGBA8 colour.
func shade(scene []instanceView, px, y, width, height uint32, missColor, hitTint [4]float32) [4]byte {
	nx := (float32(px)+0.5)/float32(width)*2 - 1
	ny := 1 - (float32(y)+0.5)/float32(height)*2
	origin := f32.Vec3{nx, ny, -1}
	dir := f32.Vec3{0, 0, 1}

	tmax := float32(rayTMax)
	var u, v float32
	hit := false
	for i := range scene {
		inst := &scene[i]
		if inst.desc.InstanceMask&rayMask == 0 {
			continue
		}
		o := inst.toObject.point(origin)
		d := inst.toObject.vector(dir)
		if t, hu, hv, ok := inst.blas.closestHit(o, d, rayTMin, tmax); ok {
			tmax, u, v, hit = t, hu, hv, true
		}
	}
	if !hit {
		return toRGBA8(missColor)
	}
	return toRGBA8([4]float32{(1 - u - v) * hitTint[0], u * hitTint[1], v * hitTint[2], hitTint[3]})
}

func toRGBA8(c [4]float32) [4]byte {
	var out [4]byte
	for i, v := range c {
		v = min(max(v, 0), 1)
		out[i] = byte(v*255 + 0.5)
	}
	return out
}
