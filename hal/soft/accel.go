package soft

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/f32"

	"github.com/gogpu/raytrace/hal"
)

// Acceleration structure layout:
//
//	header   magic u32 | count u32 | nodes u32 | reserved u32
//	BLAS     nodes x 32 bytes, then count triangles x 36 bytes
//	TLAS     count encoded instance descriptors
const (
	blasMagic    = 0x53414C42 // "BLAS"
	tlasMagic    = 0x53414C54 // "TLAS"
	headerSize   = 16
	nodeSize     = 32
	triangleSize = 36

	leafBit     = 1 << 31
	maxLeafSize = 2
)

type triangle [3]f32.Vec3

type bvhNode struct {
	lo, hi f32.Vec3
	// a is the left child, or the first triangle of a leaf.
	a uint32
	// b is the right child, or the triangle count of a leaf with leafBit set.
	b uint32
}

func blasSizes(tris uint64) (result, scratch uint64) {
	var nodes uint64
	if tris > 0 {
		nodes = 2*tris - 1
	}
	result = hal.AlignUp(headerSize+nodes*nodeSize+tris*triangleSize, hal.AccelerationStructureAlignment)
	scratch = hal.AlignUp(max(tris*16, 1), hal.AccelerationStructureAlignment)
	return result, scratch
}

func tlasSizes(instances uint64) (result, scratch uint64) {
	result = hal.AlignUp(headerSize+instances*hal.InstanceDescSize, hal.AccelerationStructureAlignment)
	scratch = hal.AlignUp(max(instances*8, 1), hal.AccelerationStructureAlignment)
	return result, scratch
}

// AccelerationStructurePrebuildInfo reports result and scratch sizes.
func (d *Device) AccelerationStructurePrebuildInfo(in *hal.BuildInputs) hal.PrebuildInfo {
	var result, scratch uint64
	switch in.Type {
	case hal.BottomLevel:
		var tris uint64
		for _, g := range in.Geometries {
			tris += uint64(g.Triangles.VertexCount / 3)
		}
		result, scratch = blasSizes(tris)
	case hal.TopLevel:
		result, scratch = tlasSizes(uint64(in.NumInstances))
	}
	info := hal.PrebuildInfo{ResultDataMaxSizeInBytes: result, ScratchDataSizeInBytes: scratch}
	if in.Flags&hal.BuildFlagAllowUpdate != 0 {
		info.UpdateScratchDataSizeInBytes = scratch
	}
	return info
}

// BuildRaytracingAccelerationStructure records a build.
func (cl *CommandList) BuildRaytracingAccelerationStructure(desc *hal.BuildDesc) {
	if desc == nil {
		cl.fail(errors.New("BuildRaytracingAccelerationStructure: nil description"))
		return
	}
	bd := *desc
	bd.Inputs.Geometries = append([]hal.GeometryDesc(nil), desc.Inputs.Geometries...)
	cl.record("BuildRaytracingAccelerationStructure", func(x *executor) error {
		if err := x.build(&bd); err != nil {
			return fmt.Errorf("BuildRaytracingAccelerationStructure(%v): %w", bd.Inputs.Type, err)
		}
		return nil
	})
}

func (x *executor) build(bd *hal.BuildDesc) error {
	if bd.Inputs.Flags&hal.BuildFlagPerformUpdate != 0 {
		return errors.New("in-place updates are not supported")
	}
	if bd.DestAddress%hal.AccelerationStructureAlignment != 0 || bd.ScratchAddress%hal.AccelerationStructureAlignment != 0 {
		return fmt.Errorf("destination %#x and scratch %#x must be %d-byte aligned",
			uint64(bd.DestAddress), uint64(bd.ScratchAddress), hal.AccelerationStructureAlignment)
	}
	info := x.dev.AccelerationStructurePrebuildInfo(&bd.Inputs)

	dst, dstMem, err := x.dev.resolve(bd.DestAddress, info.ResultDataMaxSizeInBytes)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if err := dst.requireState(hal.StateRaytracingAccelerationStructure, "destination"); err != nil {
		return err
	}
	scr, scrMem, err := x.dev.resolve(bd.ScratchAddress, info.ScratchDataSizeInBytes)
	if err != nil {
		return fmt.Errorf("scratch: %w", err)
	}
	if err := scr.requireState(hal.StateUnorderedAccess, "scratch"); err != nil {
		return err
	}
	if scr.desc.Flags&hal.ResourceFlagAllowUnorderedAccess == 0 {
		return fmt.Errorf("scratch %q lacks unordered access", scr.Name())
	}
	if dst == scr {
		return errors.New("destination and scratch share a buffer")
	}
	dstMem = dstMem[:info.ResultDataMaxSizeInBytes]
	scrMem = scrMem[:info.ScratchDataSizeInBytes]

	switch bd.Inputs.Type {
	case hal.BottomLevel:
		return x.buildBottomLevel(&bd.Inputs, dstMem, scrMem)
	case hal.TopLevel:
		return x.buildTopLevel(&bd.Inputs, dstMem, scrMem)
	default:
		return fmt.Errorf("unknown structure type %d", bd.Inputs.Type)
	}
}

func (x *executor) buildBottomLevel(in *hal.BuildInputs, dst, scratch []byte) error {
	var tris []triangle
	for gi, g := range in.Geometries {
		t := g.Triangles
		if t.VertexFormat != gputypes.VertexFormatFloat32x3 {
			return fmt.Errorf("geometry %d: vertex format %v is not float32x3", gi, t.VertexFormat)
		}
		if t.VertexCount%3 != 0 {
			return fmt.Errorf("geometry %d: %d vertices do not form whole triangles", gi, t.VertexCount)
		}
		stride := t.VertexBuffer.StrideInBytes
		if stride < 12 || stride%4 != 0 {
			return fmt.Errorf("geometry %d: vertex stride %d", gi, stride)
		}
		if t.VertexCount == 0 {
			continue
		}
		_, mem, err := x.dev.resolve(t.VertexBuffer.StartAddress, uint64(t.VertexCount-1)*stride+12)
		if err != nil {
			return fmt.Errorf("geometry %d vertices: %w", gi, err)
		}
		var xf *affine
		if t.Transform3x4 != 0 {
			_, tm, err := x.dev.resolve(t.Transform3x4, 48)
			if err != nil {
				return fmt.Errorf("geometry %d transform: %w", gi, err)
			}
			var m affine
			for i := range 12 {
				m[i/4][i%4] = readFloat(tm[i*4:])
			}
			xf = &m
		}
		for v := uint64(0); v < uint64(t.VertexCount); v += 3 {
			var tri triangle
			for k := range 3 {
				off := (v + uint64(k)) * stride
				p := f32.Vec3{readFloat(mem[off:]), readFloat(mem[off+4:]), readFloat(mem[off+8:])}
				if xf != nil {
					p = xf.point(p)
				}
				tri[k] = p
			}
			tris = append(tris, tri)
		}
	}

	nodes, order := buildBVH(tris)
	for i, idx := range order {
		binary.LittleEndian.PutUint32(scratch[i*4:], idx)
	}
	clear(dst)
	binary.LittleEndian.PutUint32(dst, blasMagic)
	binary.LittleEndian.PutUint32(dst[4:], uint32(len(tris)))
	binary.LittleEndian.PutUint32(dst[8:], uint32(len(nodes)))
	p := dst[headerSize:]
	for _, n := range nodes {
		putVec(p, n.lo)
		binary.LittleEndian.PutUint32(p[12:], n.a)
		putVec(p[16:], n.hi)
		binary.LittleEndian.PutUint32(p[28:], n.b)
		p = p[nodeSize:]
	}
	for _, idx := range order {
		for k := range 3 {
			putVec(p[k*12:], tris[idx][k])
		}
		p = p[triangleSize:]
	}
	slogger().Debug("soft: BLAS built", "triangles", len(tris), "nodes", len(nodes))
	return nil
}

func (x *executor) buildTopLevel(in *hal.BuildInputs, dst, scratch []byte) error {
	n := uint64(in.NumInstances)
	var src []byte
	if n > 0 {
		if in.InstanceDescs%hal.InstanceDescAlignment != 0 {
			return fmt.Errorf("instance descriptors at %#x are not %d-byte aligned", uint64(in.InstanceDescs), hal.InstanceDescAlignment)
		}
		_, mem, err := x.dev.resolve(in.InstanceDescs, n*hal.InstanceDescSize)
		if err != nil {
			return fmt.Errorf("instance descriptors: %w", err)
		}
		src = mem[:n*hal.InstanceDescSize]
	}
	for i := range n {
		d, err := hal.DecodeInstanceDesc(src[i*hal.InstanceDescSize:])
		if err != nil {
			return err
		}
		if _, err := x.dev.bottomLevel(d.AccelerationStructure); err != nil {
			return fmt.Errorf("instance %d: %w", i, err)
		}
		binary.LittleEndian.PutUint64(scratch[i*8:], uint64(d.AccelerationStructure))
	}
	clear(dst)
	binary.LittleEndian.PutUint32(dst, tlasMagic)
	binary.LittleEndian.PutUint32(dst[4:], uint32(n))
	copy(dst[headerSize:], src)
	slogger().Debug("soft: TLAS built", "instances", n)
	return nil
}

// buildBVH returns the nodes and the triangle order of a median-split BVH.
func buildBVH(tris []triangle) ([]bvhNode, []uint32) {
	n := len(tris)
	if n == 0 {
		return nil, nil
	}
	order := make([]uint32, n)
	centroids := make([]f32.Vec3, n)
	for i, t := range tris {
		order[i] = uint32(i)
		for k := range 3 {
			centroids[i][k] = (t[0][k] + t[1][k] + t[2][k]) / 3
		}
	}
	nodes := make([]bvhNode, 0, 2*n-1)

	var split func(first, count int) uint32
	split = func(first, count int) uint32 {
		idx := len(nodes)
		nodes = append(nodes, bvhNode{})
		lo := f32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
		hi := f32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
		clo, chi := lo, hi
		for _, o := range order[first : first+count] {
			for _, v := range tris[o] {
				lo, hi = vmin(lo, v), vmax(hi, v)
			}
			clo, chi = vmin(clo, centroids[o]), vmax(chi, centroids[o])
		}
		if count <= maxLeafSize {
			nodes[idx] = bvhNode{lo: lo, hi: hi, a: uint32(first), b: uint32(count) | leafBit}
			return uint32(idx)
		}
		axis := 0
		ext := sub(chi, clo)
		if ext[1] > ext[axis] {
			axis = 1
		}
		if ext[2] > ext[axis] {
			axis = 2
		}
		span := order[first : first+count]
		sort.SliceStable(span, func(i, j int) bool {
			return centroids[span[i]][axis] < centroids[span[j]][axis]
		})
		mid := count / 2
		left := split(first, mid)
		right := split(first+mid, count-mid)
		nodes[idx] = bvhNode{lo: lo, hi: hi, a: left, b: right}
		return uint32(idx)
	}
	split(0, n)
	return nodes, order
}

// blasView is a decoded bottom-level structure.
type blasView struct {
	nodes []bvhNode
	tris  []triangle
}

// bottomLevel decodes the structure at addr.
func (d *Device) bottomLevel(addr hal.GPUAddress) (*blasView, error) {
	r, mem, err := d.resolve(addr, headerSize)
	if err != nil {
		return nil, err
	}
	if err := r.requireState(hal.StateRaytracingAccelerationStructure, "bottom-level structure"); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(mem) != blasMagic {
		return nil, fmt.Errorf("%#x does not hold a built bottom-level structure", uint64(addr))
	}
	tris := int(binary.LittleEndian.Uint32(mem[4:]))
	nodes := int(binary.LittleEndian.Uint32(mem[8:]))
	need := headerSize + nodes*nodeSize + tris*triangleSize
	if len(mem) < need {
		return nil, fmt.Errorf("bottom-level structure at %#x is truncated", uint64(addr))
	}
	v := &blasView{nodes: make([]bvhNode, nodes), tris: make([]triangle, tris)}
	p := mem[headerSize:]
	for i := range v.nodes {
		v.nodes[i] = bvhNode{
			lo: readVec(p),
			a:  binary.LittleEndian.Uint32(p[12:]),
			hi: readVec(p[16:]),
			b:  binary.LittleEndian.Uint32(p[28:]),
		}
		p = p[nodeSize:]
	}
	for i := range v.tris {
		for k := range 3 {
			v.tris[i][k] = readVec(p[k*12:])
		}
		p = p[triangleSize:]
	}
	return v, nil
}

// closestHit traverses the BVH and returns the nearest intersection.
func (v *blasView) closestHit(o, d f32.Vec3, tmin, tmax float32) (t, u, w float32, ok bool) {
	if len(v.nodes) == 0 {
		return 0, 0, 0, false
	}
	inv := reciprocal(d)
	var stack [64]uint32
	sp := 0
	stack[sp] = 0
	sp++
	for sp > 0 {
		sp--
		n := &v.nodes[stack[sp]]
		if !intersectBox(o, inv, n.lo, n.hi, tmin, tmax) {
			continue
		}
		if n.b&leafBit != 0 {
			first, count := int(n.a), int(n.b&^leafBit)
			for i := first; i < first+count; i++ {
				if ht, hu, hv, hit := intersectTriangle(o, d, &v.tris[i], tmin, tmax); hit {
					t, u, w, ok = ht, hu, hv, true
					tmax = ht
				}
			}
			continue
		}
		if sp+2 > len(stack) {
			break
		}
		stack[sp] = n.a
		stack[sp+1] = n.b
		sp += 2
	}
	return t, u, w, ok
}

// instanceView is a decoded top-level instance.
type instanceView struct {
	desc     hal.InstanceDesc
	toObject affine
	blas     *blasView
}

// topLevel decodes the structure at addr with every referenced BLAS.
func (d *Device) topLevel(addr hal.GPUAddress) ([]instanceView, error) {
	r, mem, err := d.resolve(addr, headerSize)
	if err != nil {
		return nil, err
	}
	if err := r.requireState(hal.StateRaytracingAccelerationStructure, "top-level structure"); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(mem) != tlasMagic {
		return nil, fmt.Errorf("%#x does not hold a built top-level structure", uint64(addr))
	}
	n := int(binary.LittleEndian.Uint32(mem[4:]))
	if len(mem) < headerSize+n*hal.InstanceDescSize {
		return nil, fmt.Errorf("top-level structure at %#x is truncated", uint64(addr))
	}
	cache := make(map[hal.GPUAddress]*blasView)
	out := make([]instanceView, 0, n)
	for i := range n {
		desc, err := hal.DecodeInstanceDesc(mem[headerSize+i*hal.InstanceDescSize:])
		if err != nil {
			return nil, err
		}
		toWorld := affine(desc.Transform)
		toObject, ok := toWorld.inverse()
		if !ok {
			continue
		}
		b, seen := cache[desc.AccelerationStructure]
		if !seen {
			if b, err = d.bottomLevel(desc.AccelerationStructure); err != nil {
				return nil, fmt.Errorf("instance %d: %w", i, err)
			}
			cache[desc.AccelerationStructure] = b
		}
		out = append(out, instanceView{desc: desc, toObject: toObject, blas: b})
	}
	return out, nil
}

func readFloat(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }

func readVec(b []byte) f32.Vec3 { return f32.Vec3{readFloat(b), readFloat(b[4:]), readFloat(b[8:])} }

func putVec(b []byte, v f32.Vec3) {
	for i, c := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(c))
	}
}
