package hal

// DescriptorRangeType is the kind of descriptors in a range.
// Values match D3D12_DESCRIPTOR_RANGE_TYPE.
type DescriptorRangeType uint32

// Descriptor range types.
const (
	RangeSRV     DescriptorRangeType = 0
	RangeUAV     DescriptorRangeType = 1
	RangeCBV     DescriptorRangeType = 2
	RangeSampler DescriptorRangeType = 3
)

func (t DescriptorRangeType) String() string {
	switch t {
	case RangeSRV:
		return "SRV"
	case RangeUAV:
		return "UAV"
	case RangeCBV:
		return "CBV"
	case RangeSampler:
		return "SAMPLER"
	default:
		return "DescriptorRangeType(?)"
	}
}

// DescriptorRange is a range of a descriptor table.
type DescriptorRange struct {
	Type               DescriptorRangeType
	NumDescriptors     uint32
	BaseShaderRegister uint32
	RegisterSpace      uint32
	// Offset from the start of the table, in descriptors.
	Offset uint32
}

// RootParameterType is the kind of a root parameter.
// Values match D3D12_ROOT_PARAMETER_TYPE.
type RootParameterType uint32

// Root parameter types.
const (
	RootParameterDescriptorTable RootParameterType = 0
	RootParameterConstants       RootParameterType = 1
	RootParameterCBV             RootParameterType = 2
	RootParameterSRV             RootParameterType = 3
	RootParameterUAV             RootParameterType = 4
)

// RootParameter is one slot of a root signature.
type RootParameter struct {
	Type RootParameterType

	// Ranges is used by descriptor tables.
	Ranges []DescriptorRange

	// ShaderRegister and RegisterSpace are used by root descriptors.
	ShaderRegister uint32
	RegisterSpace  uint32
}

// RootSignatureDesc describes a root signature.
type RootSignatureDesc struct {
	Label      string
	Parameters []RootParameter
	Flags      uint32
}

// RootSignature is a created root signature.
type RootSignature interface {
	// Desc returns the creation description.
	Desc() RootSignatureDesc

	// Blob returns the serialized signature.
	Blob() []byte

	Destroy()
}

// StateObjectType is the kind of a state object.
type StateObjectType uint32

// State object types. Values match D3D12_STATE_OBJECT_TYPE.
const (
	StateObjectCollection         StateObjectType = 0
	StateObjectRaytracingPipeline StateObjectType = 3
)

// SubObjectType identifies a state sub-object.
// Values match D3D12_STATE_SUBOBJECT_TYPE.
type SubObjectType uint32

// Sub-object types.
const (
	SubObjectGlobalRootSignature SubObjectType = 1
	SubObjectLocalRootSignature  SubObjectType = 2
	SubObjectDXILLibrary         SubObjectType = 5
	SubObjectShaderConfig        SubObjectType = 9
	SubObjectPipelineConfig      SubObjectType = 10
	SubObjectHitGroup            SubObjectType = 11
)

func (t SubObjectType) String() string {
	switch t {
	case SubObjectGlobalRootSignature:
		return "GLOBAL_ROOT_SIGNATURE"
	case SubObjectLocalRootSignature:
		return "LOCAL_ROOT_SIGNATURE"
	case SubObjectDXILLibrary:
		return "DXIL_LIBRARY"
	case SubObjectShaderConfig:
		return "RAYTRACING_SHADER_CONFIG"
	case SubObjectPipelineConfig:
		return "RAYTRACING_PIPELINE_CONFIG"
	case SubObjectHitGroup:
		return "HIT_GROUP"
	default:
		return "SubObjectType(?)"
	}
}

// SubObject is one element of a state object description.
// The set of implementations is closed: DXILLibrary, HitGroup,
// GlobalRootSignature, ShaderConfig and PipelineConfig.
type SubObject interface {
	SubObjectType() SubObjectType
	subObject()
}

// ExportDesc names one export of a library.
type ExportDesc struct {
	Name string
	// ExportToRename is the name inside the library, or empty if equal to Name.
	ExportToRename string
}

// DXILLibrary carries compiled shader bytecode.
type DXILLibrary struct {
	Bytecode []byte
	// Exports lists the exported symbols; empty exports everything.
	Exports []ExportDesc
}

// HitGroupType is the primitive kind of a hit group.
type HitGroupType uint32

// Hit group types.
const (
	HitGroupTriangles           HitGroupType = 0
	HitGroupProceduralPrimitive HitGroupType = 1
)

// HitGroup groups intersection, any-hit and closest-hit shaders.
type HitGroup struct {
	Export             string
	Type               HitGroupType
	AnyHitImport       string
	ClosestHitImport   string
	IntersectionImport string
}

// GlobalRootSignature sets the root signature shared by all shaders.
type GlobalRootSignature struct {
	RootSignature RootSignature
}

// ShaderConfig bounds the ray payload and hit attribute sizes.
type ShaderConfig struct {
	MaxPayloadSizeInBytes   uint32
	MaxAttributeSizeInBytes uint32
}

// PipelineConfig bounds the recursion depth of TraceRay.
type PipelineConfig struct {
	MaxTraceRecursionDepth uint32
}

func (*DXILLibrary) SubObjectType() SubObjectType         { return SubObjectDXILLibrary }
func (*HitGroup) SubObjectType() SubObjectType            { return SubObjectHitGroup }
func (*GlobalRootSignature) SubObjectType() SubObjectType { return SubObjectGlobalRootSignature }
func (*ShaderConfig) SubObjectType() SubObjectType        { return SubObjectShaderConfig }
func (*PipelineConfig) SubObjectType() SubObjectType      { return SubObjectPipelineConfig }

func (*DXILLibrary) subObject()         {}
func (*HitGroup) subObject()            {}
func (*GlobalRootSignature) subObject() {}
func (*ShaderConfig) subObject()        {}
func (*PipelineConfig) subObject()      {}

// StateObjectDesc describes a state object.
type StateObjectDesc struct {
	Type       StateObjectType
	SubObjects []SubObject
}

// StateObject is a created ray-tracing pipeline.
type StateObject interface {
	// ShaderIdentifier returns the identifier of an exported shader or hit
	// group, or nil if the name is unknown.
	ShaderIdentifier(export string) []byte

	Destroy()
}

// DescriptorHeapType is the kind of descriptors in a heap.
// Values match D3D12_DESCRIPTOR_HEAP_TYPE.
type DescriptorHeapType uint32

// Descriptor heap types.
const (
	DescriptorHeapCBVSRVUAV DescriptorHeapType = 0
	DescriptorHeapSampler   DescriptorHeapType = 1
	DescriptorHeapRTV       DescriptorHeapType = 2
	DescriptorHeapDSV       DescriptorHeapType = 3
)

// DescriptorHeapDesc describes a descriptor heap.
type DescriptorHeapDesc struct {
	Label          string
	Type           DescriptorHeapType
	NumDescriptors uint32
	ShaderVisible  bool
}

// CPUDescriptorHandle addresses a descriptor for CPU writes.
type CPUDescriptorHandle uintptr

// Offset returns the handle n descriptors after h.
func (h CPUDescriptorHandle) Offset(n, increment uint32) CPUDescriptorHandle {
	return h + CPUDescriptorHandle(uint64(n)*uint64(increment))
}

// GPUDescriptorHandle addresses a descriptor for shader access.
type GPUDescriptorHandle uint64

// Offset returns the handle n descriptors after h.
func (h GPUDescriptorHandle) Offset(n, increment uint32) GPUDescriptorHandle {
	return h + GPUDescriptorHandle(uint64(n)*uint64(increment))
}

// DescriptorHeap is a created descriptor heap.
type DescriptorHeap interface {
	Desc() DescriptorHeapDesc
	CPUStart() CPUDescriptorHandle
	// GPUStart returns zero for heaps that are not shader visible.
	GPUStart() GPUDescriptorHandle
	// Increment is the byte distance between two descriptors.
	Increment() uint32
	Destroy()
}
