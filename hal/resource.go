package hal

import (
	"strconv"
	"strings"

	"github.com/gogpu/gputypes"
)

// GPUAddress is a virtual address in the device's address space.
type GPUAddress uint64

// HeapType selects the memory pool of a committed resource.
type HeapType uint32

// Heap types. Values match D3D12_HEAP_TYPE.
const (
	HeapDefault  HeapType = 1
	HeapUpload   HeapType = 2
	HeapReadback HeapType = 3
)

// String returns the heap type name.
func (h HeapType) String() string {
	switch h {
	case HeapDefault:
		return "DEFAULT"
	case HeapUpload:
		return "UPLOAD"
	case HeapReadback:
		return "READBACK"
	default:
		return "HeapType(" + strconv.Itoa(int(h)) + ")"
	}
}

// Mappable reports whether resources in the heap can be mapped by the CPU.
func (h HeapType) Mappable() bool {
	return h == HeapUpload || h == HeapReadback
}

// ResourceState is a bit set of usages a resource is prepared for.
// Values match D3D12_RESOURCE_STATES.
type ResourceState uint32

// Resource states.
const (
	StateCommon                          ResourceState = 0
	StatePresent                         ResourceState = 0
	StateVertexAndConstantBuffer         ResourceState = 0x1
	StateIndexBuffer                     ResourceState = 0x2
	StateRenderTarget                    ResourceState = 0x4
	StateUnorderedAccess                 ResourceState = 0x8
	StateNonPixelShaderResource          ResourceState = 0x40
	StatePixelShaderResource             ResourceState = 0x80
	StateIndirectArgument                ResourceState = 0x200
	StateCopyDest                        ResourceState = 0x400
	StateCopySource                      ResourceState = 0x800
	StateRaytracingAccelerationStructure ResourceState = 0x400000

	StateGenericRead = StateVertexAndConstantBuffer | StateIndexBuffer |
		StateNonPixelShaderResource | StatePixelShaderResource |
		StateIndirectArgument | StateCopySource
)

var stateNames = []struct {
	s    ResourceState
	name string
}{
	{StateVertexAndConstantBuffer, "VERTEX_AND_CONSTANT_BUFFER"},
	{StateIndexBuffer, "INDEX_BUFFER"},
	{StateRenderTarget, "RENDER_TARGET"},
	{StateUnorderedAccess, "UNORDERED_ACCESS"},
	{StateNonPixelShaderResource, "NON_PIXEL_SHADER_RESOURCE"},
	{StatePixelShaderResource, "PIXEL_SHADER_RESOURCE"},
	{StateIndirectArgument, "INDIRECT_ARGUMENT"},
	{StateCopyDest, "COPY_DEST"},
	{StateCopySource, "COPY_SOURCE"},
	{StateRaytracingAccelerationStructure, "RAYTRACING_ACCELERATION_STRUCTURE"},
}

// String returns the state flags joined with '|'.
func (s ResourceState) String() string {
	if s == StateCommon {
		return "COMMON"
	}
	if s == StateGenericRead {
		return "GENERIC_READ"
	}
	var parts []string
	rest := s
	for _, n := range stateNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
			rest &^= n.s
		}
	}
	if rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, "|")
}

// Has reports whether every bit of other is set in s.
func (s ResourceState) Has(other ResourceState) bool {
	return s&other == other
}

// ResourceFlags are creation flags. Values match D3D12_RESOURCE_FLAGS.
type ResourceFlags uint32

// Resource flags.
const (
	ResourceFlagNone                    ResourceFlags = 0
	ResourceFlagAllowRenderTarget       ResourceFlags = 0x1
	ResourceFlagAllowUnorderedAccess    ResourceFlags = 0x4
	ResourceFlagDenyShaderResource      ResourceFlags = 0x8
	ResourceFlagAllowSimultaneousAccess ResourceFlags = 0x20
)

// Dimension is the resource dimension. Values match D3D12_RESOURCE_DIMENSION.
type Dimension uint32

// Resource dimensions.
const (
	DimensionBuffer    Dimension = 1
	DimensionTexture2D Dimension = 3
)

// ResourceDesc describes a committed resource.
type ResourceDesc struct {
	Label     string
	Dimension Dimension
	// Width is the byte size for buffers and the pixel width for textures.
	Width  uint64
	Height uint32
	Format gputypes.TextureFormat
	Flags  ResourceFlags
}

// BufferDesc returns a buffer description.
func BufferDesc(label string, size uint64, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Label:     label,
		Dimension: DimensionBuffer,
		Width:     size,
		Height:    1,
		Format:    gputypes.TextureFormatUndefined,
		Flags:     flags,
	}
}

// Texture2DDesc returns a single-mip 2D texture description.
func Texture2DDesc(label string, format gputypes.TextureFormat, width, height uint32, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Label:     label,
		Dimension: DimensionTexture2D,
		Width:     uint64(width),
		Height:    height,
		Format:    format,
		Flags:     flags,
	}
}

// Resource is a committed GPU resource.
type Resource interface {
	// Desc returns the creation description.
	Desc() ResourceDesc

	// Heap returns the heap the resource was committed to.
	Heap() HeapType

	// GPUVirtualAddress returns the base address of a buffer.
	// Textures return zero.
	GPUVirtualAddress() GPUAddress

	// Map returns the CPU view of an UPLOAD or READBACK buffer.
	// It returns ErrNotMappable for DEFAULT resources.
	Map() ([]byte, error)

	// Unmap releases the CPU view returned by Map.
	Unmap()

	// SetName sets the debug name.
	SetName(name string)

	// Destroy releases the resource.
	Destroy()
}

// BarrierType distinguishes barrier kinds.
type BarrierType uint32

// Barrier types. Values match D3D12_RESOURCE_BARRIER_TYPE.
const (
	BarrierTransition BarrierType = 0
	BarrierUAV        BarrierType = 2
)

// Barrier is a resource barrier.
type Barrier struct {
	Type     BarrierType
	Resource Resource
	// Before and After are used by transition barriers only.
	Before ResourceState
	After  ResourceState
}

// TransitionBarrier returns a state transition barrier.
func TransitionBarrier(r Resource, before, after ResourceState) Barrier {
	return Barrier{Type: BarrierTransition, Resource: r, Before: before, After: after}
}

// UAVBarrier returns a barrier ordering unordered-access writes to r.
func UAVBarrier(r Resource) Barrier {
	return Barrier{Type: BarrierUAV, Resource: r}
}

// BytesPerPixel returns the texel size of the formats used for output images
// and back buffers, or zero for unsupported formats.
func BytesPerPixel(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		return 4
	default:
		return 0
	}
}
