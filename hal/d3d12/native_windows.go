// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build windows

package d3d12

// Native structures, laid out as the 64-bit C headers declare them.

type commandQueueDesc struct {
	Type     uint32
	Priority int32
	Flags    uint32
	NodeMask uint32
}

type heapProperties struct {
	Type                 uint32
	CPUPageProperty      uint32
	MemoryPoolPreference uint32
	CreationNodeMask     uint32
	VisibleNodeMask      uint32
}

type sampleDesc struct {
	Count   uint32
	Quality uint32
}

type resourceDesc struct {
	Dimension        uint32
	Alignment        uint64
	Width            uint64
	Height           uint32
	DepthOrArraySize uint16
	MipLevels        uint16
	Format           uint32
	SampleDesc       sampleDesc
	Layout           uint32
	Flags            uint32
}

type descriptorHeapDesc struct {
	Type           uint32
	NumDescriptors uint32
	Flags          uint32
	NodeMask       uint32
}

// resourceBarrier covers the transition and UAV variants of the union.
type resourceBarrier struct {
	Type        uint32
	Flags       uint32
	Resource    uintptr
	Subresource uint32
	StateBefore uint32
	StateAfter  uint32
	_           uint32
}

const barrierAllSubresources = 0xFFFFFFFF

type srvDescAccelerationStructure struct {
	Format                  uint32
	ViewDimension           uint32
	Shader4ComponentMapping uint32
	_                       uint32
	Location                uint64
	_                       [2]uint64
}

type uavDescTexture2D struct {
	Format        uint32
	ViewDimension uint32
	MipSlice      uint32
	PlaneSlice    uint32
	_             [3]uint64
}

type descriptorRange struct {
	RangeType                         uint32
	NumDescriptors                    uint32
	BaseShaderRegister                uint32
	RegisterSpace                     uint32
	OffsetInDescriptorsFromTableStart uint32
}

// rootParameter covers the descriptor-table and root-descriptor variants.
// Tables use Word0 and Ranges, root descriptors use Word0 and Word1.
type rootParameter struct {
	ParameterType    uint32
	_                uint32
	Word0            uint32
	Word1            uint32
	Ranges           uintptr
	ShaderVisibility uint32
}

type rootSignatureDesc struct {
	NumParameters     uint32
	Parameters        uintptr
	NumStaticSamplers uint32
	StaticSamplers    uintptr
	Flags             uint32
}

const rootSignatureVersion1 = 1

type shaderBytecode struct {
	Bytecode uintptr
	Length   uintptr
}

type exportDesc struct {
	Name           *uint16
	ExportToRename *uint16
	Flags          uint32
}

type dxilLibraryDesc struct {
	Library    shaderBytecode
	NumExports uint32
	Exports    uintptr
}

type hitGroupDesc struct {
	HitGroupExport           *uint16
	Type                     uint32
	AnyHitShaderImport       *uint16
	ClosestHitShaderImport   *uint16
	IntersectionShaderImport *uint16
}

type globalRootSignature struct {
	RootSignature uintptr
}

type shaderConfig struct {
	MaxPayloadSizeInBytes   uint32
	MaxAttributeSizeInBytes uint32
}

type pipelineConfig struct {
	MaxTraceRecursionDepth uint32
}

type stateSubobject struct {
	Type uint32
	Desc uintptr
}

type stateObjectDesc struct {
	Type          uint32
	NumSubobjects uint32
	Subobjects    uintptr
}

type geometryDesc struct {
	Type         uint32
	Flags        uint32
	Transform3x4 uint64
	IndexFormat  uint32
	VertexFormat uint32
	IndexCount   uint32
	VertexCount  uint32
	IndexBuffer  uint64
	VertexStart  uint64
	VertexStride uint64
}

type buildInputs struct {
	Type        uint32
	Flags       uint32
	NumDescs    uint32
	DescsLayout uint32
	// InstanceDescs for top level, pGeometryDescs for bottom level.
	Descs uint64
}

const elementsLayoutArray = 0

type prebuildInfo struct {
	ResultDataMaxSizeInBytes     uint64
	ScratchDataSizeInBytes       uint64
	UpdateScratchDataSizeInBytes uint64
}

type buildDesc struct {
	DestAccelerationStructureData    uint64
	Inputs                           buildInputs
	SourceAccelerationStructureData  uint64
	ScratchAccelerationStructureData uint64
}

type addressRange struct {
	StartAddress uint64
	SizeInBytes  uint64
}

type addressRangeAndStride struct {
	StartAddress  uint64
	SizeInBytes   uint64
	StrideInBytes uint64
}

type dispatchRaysDesc struct {
	RayGenerationShaderRecord addressRange
	MissShaderTable           addressRangeAndStride
	HitGroupTable             addressRangeAndStride
	CallableShaderTable       addressRangeAndStride
	Width                     uint32
	Height                    uint32
	Depth                     uint32
}

const featureD3D12Options5 = 27

type featureOptions5 struct {
	SRVOnlyTiledResourceTier3 int32
	RenderPassesTier          uint32
	RaytracingTier            uint32
}

type swapChainDesc1 struct {
	Width       uint32
	Height      uint32
	Format      uint32
	Stereo      int32
	SampleDesc  sampleDesc
	BufferUsage uint32
	BufferCount uint32
	Scaling     uint32
	SwapEffect  uint32
	AlphaMode   uint32
	Flags       uint32
}

const (
	dxgiUsageRenderTargetOutput = 0x20
	dxgiSwapEffectFlipDiscard   = 4
	d3dFeatureLevel12_0         = 0xc000
)
