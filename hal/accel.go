package hal

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
)

// Hardware constants of the ray-tracing tier.
const (
	// ShaderIdentifierSize is the size of an opaque shader identifier.
	ShaderIdentifierSize = 32

	// ShaderRecordAlignment is the alignment of every shader record.
	ShaderRecordAlignment = 32

	// ShaderTableAlignment is the alignment of the start of each shader table.
	ShaderTableAlignment = 64

	// AccelerationStructureAlignment is the alignment of acceleration
	// structure result and scratch addresses.
	AccelerationStructureAlignment = 256

	// InstanceDescSize is the encoded size of one InstanceDesc.
	InstanceDescSize = 64

	// InstanceDescAlignment is the alignment of the instance array.
	InstanceDescAlignment = 16
)

// AccelerationStructureType selects the level of a build.
type AccelerationStructureType uint32

// Acceleration structure levels.
const (
	TopLevel    AccelerationStructureType = 0
	BottomLevel AccelerationStructureType = 1
)

func (t AccelerationStructureType) String() string {
	switch t {
	case TopLevel:
		return "TLAS"
	case BottomLevel:
		return "BLAS"
	default:
		return fmt.Sprintf("AccelerationStructureType(%d)", uint32(t))
	}
}

// BuildFlags tune a build.
type BuildFlags uint32

// Build flags. Values match D3D12_RAYTRACING_ACCELERATION_STRUCTURE_BUILD_FLAGS.
const (
	BuildFlagNone            BuildFlags = 0
	BuildFlagAllowUpdate     BuildFlags = 0x1
	BuildFlagAllowCompaction BuildFlags = 0x2
	BuildFlagPreferFastTrace BuildFlags = 0x4
	BuildFlagPreferFastBuild BuildFlags = 0x8
	BuildFlagMinimizeMemory  BuildFlags = 0x10
	BuildFlagPerformUpdate   BuildFlags = 0x20
)

// GeometryFlags qualify one geometry.
type GeometryFlags uint32

// Geometry flags.
const (
	GeometryFlagNone              GeometryFlags = 0
	GeometryFlagOpaque            GeometryFlags = 0x1
	GeometryFlagNoDuplicateAnyHit GeometryFlags = 0x2
)

// StridedAddress is a strided range of device memory.
type StridedAddress struct {
	StartAddress  GPUAddress
	StrideInBytes uint64
}

// TrianglesDesc describes non-indexed triangle geometry.
type TrianglesDesc struct {
	// Transform3x4 is the address of an optional row-major 3x4 matrix.
	Transform3x4 GPUAddress
	VertexFormat gputypes.VertexFormat
	VertexCount  uint32
	VertexBuffer StridedAddress
}

// GeometryDesc is one geometry of a bottom-level build.
type GeometryDesc struct {
	Flags     GeometryFlags
	Triangles TrianglesDesc
}

// BuildInputs are the inputs of a prebuild query and a build.
type BuildInputs struct {
	Type  AccelerationStructureType
	Flags BuildFlags

	// Geometries is used by bottom-level builds.
	Geometries []GeometryDesc

	// NumInstances and InstanceDescs are used by top-level builds.
	// InstanceDescs points to NumInstances encoded InstanceDesc values.
	NumInstances  uint32
	InstanceDescs GPUAddress
}

// NumDescs returns the number of geometries or instances.
func (in *BuildInputs) NumDescs() uint32 {
	if in.Type == TopLevel {
		return in.NumInstances
	}
	return uint32(len(in.Geometries))
}

// PrebuildInfo reports the memory a build needs.
type PrebuildInfo struct {
	ResultDataMaxSizeInBytes     uint64
	ScratchDataSizeInBytes       uint64
	UpdateScratchDataSizeInBytes uint64
}

// BuildDesc describes one acceleration structure build.
type BuildDesc struct {
	DestAddress    GPUAddress
	Inputs         BuildInputs
	SourceAddress  GPUAddress
	ScratchAddress GPUAddress
}

// InstanceFlags qualify one instance.
type InstanceFlags uint8

// Instance flags.
const (
	InstanceFlagNone                          InstanceFlags = 0
	InstanceFlagTriangleCullDisable           InstanceFlags = 0x1
	InstanceFlagTriangleFrontCounterclockwise InstanceFlags = 0x2
	InstanceFlagForceOpaque                   InstanceFlags = 0x4
	InstanceFlagForceNonOpaque                InstanceFlags = 0x8
)

// InstanceDesc places a bottom-level structure in a top-level structure.
type InstanceDesc struct {
	// Transform is a row-major 3x4 object-to-world matrix.
	Transform [3][4]float32
	// InstanceID is limited to 24 bits.
	InstanceID   uint32
	InstanceMask uint8
	// HitGroupIndexContribution is limited to 24 bits.
	HitGroupIndexContribution uint32
	Flags                     InstanceFlags
	AccelerationStructure     GPUAddress
}

// IdentityTransform is the 3x4 identity matrix.
var IdentityTransform = [3][4]float32{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
}

// AppendEncoded appends the 64-byte native encoding of d to b.
func (d *InstanceDesc) AppendEncoded(b []byte) []byte {
	for _, row := range d.Transform {
		for _, v := range row {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
		}
	}
	b = binary.LittleEndian.AppendUint32(b, d.InstanceID&0xFFFFFF|uint32(d.InstanceMask)<<24)
	b = binary.LittleEndian.AppendUint32(b, d.HitGroupIndexContribution&0xFFFFFF|uint32(d.Flags)<<24)
	return binary.LittleEndian.AppendUint64(b, uint64(d.AccelerationStructure))
}

// DecodeInstanceDesc decodes the first InstanceDescSize bytes of b.
func DecodeInstanceDesc(b []byte) (InstanceDesc, error) {
	var d InstanceDesc
	if len(b) < InstanceDescSize {
		return d, fmt.Errorf("%w: instance descriptor needs %d bytes, have %d", ErrInvalidCall, InstanceDescSize, len(b))
	}
	for r := range 3 {
		for c := range 4 {
			off := (r*4 + c) * 4
			d.Transform[r][c] = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
		}
	}
	w := binary.LittleEndian.Uint32(b[48:])
	d.InstanceID = w & 0xFFFFFF
	d.InstanceMask = uint8(w >> 24)
	w = binary.LittleEndian.Uint32(b[52:])
	d.HitGroupIndexContribution = w & 0xFFFFFF
	d.Flags = InstanceFlags(w >> 24)
	d.AccelerationStructure = GPUAddress(binary.LittleEndian.Uint64(b[56:]))
	return d, nil
}

// AlignUp rounds v up to a multiple of align, which must be a power of two.
func AlignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// GPUAddressRange is a range of device memory.
type GPUAddressRange struct {
	StartAddress GPUAddress
	SizeInBytes  uint64
}

// GPUAddressRangeAndStride is a strided range of device memory.
type GPUAddressRangeAndStride struct {
	StartAddress  GPUAddress
	SizeInBytes   uint64
	StrideInBytes uint64
}

// DispatchRaysDesc describes a ray dispatch.
type DispatchRaysDesc struct {
	RayGenerationShaderRecord GPUAddressRange
	MissShaderTable           GPUAddressRangeAndStride
	HitGroupTable             GPUAddressRangeAndStride
	CallableShaderTable       GPUAddressRangeAndStride
	Width                     uint32
	Height                    uint32
	Depth                     uint32
}
