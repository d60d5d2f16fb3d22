package hal

import (
	"time"

	"github.com/gogpu/gputypes"
)

// RaytracingTier is the ray-tracing capability of a device.
// Values match D3D12_RAYTRACING_TIER.
type RaytracingTier uint32

// Ray-tracing tiers.
const (
	RaytracingNotSupported RaytracingTier = 0
	RaytracingTier1_0      RaytracingTier = 10
	RaytracingTier1_1      RaytracingTier = 11
)

func (t RaytracingTier) String() string {
	switch t {
	case RaytracingNotSupported:
		return "not supported"
	case RaytracingTier1_0:
		return "1.0"
	case RaytracingTier1_1:
		return "1.1"
	default:
		return "unknown"
	}
}

// Features reports device capabilities.
type Features struct {
	AdapterName    string
	RaytracingTier RaytracingTier
}

// CommandListType is the kind of a queue and its command lists.
// Values match D3D12_COMMAND_LIST_TYPE.
type CommandListType uint32

// Command list types.
const (
	CommandListDirect  CommandListType = 0
	CommandListCompute CommandListType = 2
	CommandListCopy    CommandListType = 3
)

// Infinite makes Event.Wait block until the event fires.
const Infinite time.Duration = -1

// Device is a logical GPU device.
type Device interface {
	// Features reports the device capabilities.
	Features() Features

	CreateCommandQueue(t CommandListType) (Queue, error)
	CreateCommandAllocator(t CommandListType) (CommandAllocator, error)

	// CreateCommandList creates a command list in the recording state.
	CreateCommandList(t CommandListType, alloc CommandAllocator) (CommandList, error)

	CreateFence(initial uint64) (Fence, error)
	CreateEvent() (Event, error)

	// CreateCommittedResource creates a resource with its own heap.
	// Buffers are zero-initialized.
	CreateCommittedResource(heap HeapType, desc *ResourceDesc, initial ResourceState) (Resource, error)

	CreateDescriptorHeap(desc *DescriptorHeapDesc) (DescriptorHeap, error)

	// CreateShaderResourceView writes an acceleration-structure SRV
	// into dst.
	CreateShaderResourceView(location GPUAddress, dst CPUDescriptorHandle)

	// CreateUnorderedAccessView writes a 2D texture UAV into dst.
	CreateUnorderedAccessView(r Resource, dst CPUDescriptorHandle)

	CreateRootSignature(desc *RootSignatureDesc) (RootSignature, error)
	CreateStateObject(desc *StateObjectDesc) (StateObject, error)

	// AccelerationStructurePrebuildInfo reports the sizes a build needs.
	AccelerationStructurePrebuildInfo(inputs *BuildInputs) PrebuildInfo

	CreateSwapChain(q Queue, desc *SwapChainDesc) (SwapChain, error)

	// RemovedReason returns nil while the device is healthy, and an error
	// wrapping ErrDeviceRemoved afterwards.
	RemovedReason() error

	Destroy()
}

// Queue submits command lists.
type Queue interface {
	// ExecuteCommandLists submits closed lists in order.
	ExecuteCommandLists(lists ...CommandList)

	// Signal sets f to value once all previously submitted work completes.
	Signal(f Fence, value uint64) error

	Destroy()
}

// Fence is a monotonically increasing GPU counter.
type Fence interface {
	// CompletedValue returns the last value reached by the fence.
	// A removed device reports math.MaxUint64.
	CompletedValue() uint64

	// SetEventOnCompletion fires e when the fence reaches value.
	SetEventOnCompletion(value uint64, e Event) error

	Destroy()
}

// Event is an auto-reset waitable event.
type Event interface {
	// Wait blocks until the event fires or timeout elapses.
	// A negative timeout waits forever.
	Wait(timeout time.Duration) error

	Destroy()
}

// CommandAllocator backs the memory of command lists.
type CommandAllocator interface {
	// Reset reclaims memory. The GPU must have finished every list
	// recorded from the allocator.
	Reset() error

	Destroy()
}

// CommandList records GPU commands.
type CommandList interface {
	// Reset reopens a closed list for recording on alloc.
	Reset(alloc CommandAllocator) error

	// Close ends recording. It reports errors recorded since Reset.
	Close() error

	ResourceBarrier(barriers ...Barrier)
	BuildRaytracingAccelerationStructure(desc *BuildDesc)
	SetDescriptorHeaps(heaps ...DescriptorHeap)
	SetComputeRootSignature(rs RootSignature)
	SetComputeRootDescriptorTable(index uint32, base GPUDescriptorHandle)
	SetComputeRootShaderResourceView(index uint32, location GPUAddress)
	SetPipelineState1(so StateObject)
	DispatchRays(desc *DispatchRaysDesc)
	CopyResource(dst, src Resource)

	Destroy()
}

// SwapChainDesc describes a swap chain.
type SwapChainDesc struct {
	Width       uint32
	Height      uint32
	Format      gputypes.TextureFormat
	BufferCount uint32
	// Window is the platform window handle.
	Window uintptr
}

// SwapChain is a ring of presentable back buffers.
type SwapChain interface {
	Desc() SwapChainDesc

	// Buffer returns back buffer i. Buffers start in StatePresent.
	Buffer(i uint32) (Resource, error)

	// CurrentBackBufferIndex returns the buffer to render next.
	CurrentBackBufferIndex() uint32

	// Present queues the current back buffer for display.
	Present(syncInterval uint32) error

	Destroy()
}
