package hal

import (
	"errors"
	"testing"
)

type stubBackend struct{ name string }

func (b stubBackend) Name() string { return b.name }

func (b stubBackend) Open(OpenOptions) (Device, error) { return nil, ErrNoDevice }

func TestRegistryRegisterAndGet(t *testing.T) {
	Register("stub", func() Backend { return stubBackend{"stub"} })
	t.Cleanup(func() { Unregister("stub") })

	if !IsRegistered("stub") {
		t.Fatal("stub backend should be registered")
	}
	b := Get("stub")
	if b == nil {
		t.Fatal("Get(stub) returned nil")
	}
	if b.Name() != "stub" {
		t.Errorf("Get(stub).Name() = %q, want %q", b.Name(), "stub")
	}
	if _, err := b.Open(OpenOptions{}); !errors.Is(err, ErrNoDevice) {
		t.Errorf("Open() error = %v, want ErrNoDevice", err)
	}
}

func TestRegistryGetUnregistered(t *testing.T) {
	if b := Get("nonexistent"); b != nil {
		t.Error("Get(nonexistent) should return nil")
	}
}

func TestRegistryUnregister(t *testing.T) {
	Register("temp", func() Backend { return stubBackend{"temp"} })
	Unregister("temp")
	if IsRegistered("temp") {
		t.Error("temp should not be registered after Unregister")
	}
}

func TestRegistryPriority(t *testing.T) {
	Register(BackendSoft, func() Backend { return stubBackend{BackendSoft} })
	Register(BackendD3D12, func() Backend { return stubBackend{BackendD3D12} })
	Register("zzz", func() Backend { return stubBackend{"zzz"} })
	t.Cleanup(func() {
		Unregister(BackendSoft)
		Unregister(BackendD3D12)
		Unregister("zzz")
	})

	names := Available()
	if len(names) < 3 {
		t.Fatalf("Available() = %v, want at least 3 names", names)
	}
	if names[0] != BackendD3D12 || names[1] != BackendSoft {
		t.Errorf("Available() = %v, want d3d12 then soft first", names)
	}
	if b := Default(); b == nil || b.Name() != BackendD3D12 {
		t.Errorf("Default() = %v, want d3d12", b)
	}
}

func TestHRESULTError(t *testing.T) {
	err := HRESULTError{Call: "CreateFence", Code: 0x887A0005}
	want := "hal: CreateFence failed: HRESULT 0x887A0005"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestResourceStateString(t *testing.T) {
	tests := []struct {
		state ResourceState
		want  string
	}{
		{StateCommon, "COMMON"},
		{StateCopySource, "COPY_SOURCE"},
		{StateUnorderedAccess, "UNORDERED_ACCESS"},
		{StateGenericRead, "GENERIC_READ"},
		{StateCopyDest | StateCopySource, "COPY_DEST|COPY_SOURCE"},
		{StateRaytracingAccelerationStructure, "RAYTRACING_ACCELERATION_STRUCTURE"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("ResourceState(%#x).String() = %q, want %q", uint32(tt.state), got, tt.want)
		}
	}
}

func TestHeapTypeMappable(t *testing.T) {
	if HeapDefault.Mappable() {
		t.Error("DEFAULT heap should not be mappable")
	}
	if !HeapUpload.Mappable() || !HeapReadback.Mappable() {
		t.Error("UPLOAD and READBACK heaps should be mappable")
	}
}

func TestInstanceDescEncoding(t *testing.T) {
	d := InstanceDesc{
		Transform:                 IdentityTransform,
		InstanceID:                0x123456,
		InstanceMask:              0xFF,
		HitGroupIndexContribution: 7,
		Flags:                     InstanceFlagForceOpaque,
		AccelerationStructure:     0x10000,
	}
	b := d.AppendEncoded(nil)
	if len(b) != InstanceDescSize {
		t.Fatalf("encoded size = %d, want %d", len(b), InstanceDescSize)
	}
	if b[48] != 0x56 || b[51] != 0xFF {
		t.Errorf("id/mask word = % x, want 56 34 12 ff", b[48:52])
	}
	got, err := DecodeInstanceDesc(b)
	if err != nil {
		t.Fatalf("DecodeInstanceDesc() error = %v", err)
	}
	if got != d {
		t.Errorf("DecodeInstanceDesc() = %+v, want %+v", got, d)
	}
}

func TestInstanceDescTruncatesWideFields(t *testing.T) {
	d := InstanceDesc{InstanceID: 0xABCDEF01, InstanceMask: 1}
	got, err := DecodeInstanceDesc(d.AppendEncoded(nil))
	if err != nil {
		t.Fatal(err)
	}
	if got.InstanceID != 0xCDEF01 || got.InstanceMask != 1 {
		t.Errorf("InstanceID = %#x mask = %#x, want 0xcdef01 and 1", got.InstanceID, got.InstanceMask)
	}
}

func TestDecodeInstanceDescShort(t *testing.T) {
	if _, err := DecodeInstanceDesc(make([]byte, 10)); !errors.Is(err, ErrInvalidCall) {
		t.Errorf("DecodeInstanceDesc(short) error = %v, want ErrInvalidCall", err)
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct{ v, align, want uint64 }{
		{0, 64, 0},
		{1, 64, 64},
		{32, 32, 32},
		{33, 32, 64},
		{257, 256, 512},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.v, tt.align); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.v, tt.align, got, tt.want)
		}
	}
}

func TestDescriptorHandleOffset(t *testing.T) {
	if got := CPUDescriptorHandle(100).Offset(2, 32); got != 164 {
		t.Errorf("CPU Offset = %d, want 164", got)
	}
	if got := GPUDescriptorHandle(1 << 40).Offset(1, 32); got != 1<<40+32 {
		t.Errorf("GPU Offset = %d, want %d", got, uint64(1<<40+32))
	}
}

func TestSubObjectTypes(t *testing.T) {
	objs := []SubObject{
		&DXILLibrary{},
		&HitGroup{},
		&GlobalRootSignature{},
		&ShaderConfig{},
		&PipelineConfig{},
	}
	want := []SubObjectType{
		SubObjectDXILLibrary,
		SubObjectHitGroup,
		SubObjectGlobalRootSignature,
		SubObjectShaderConfig,
		SubObjectPipelineConfig,
	}
	for i, o := range objs {
		if o.SubObjectType() != want[i] {
			t.Errorf("objs[%d].SubObjectType() = %v, want %v", i, o.SubObjectType(), want[i])
		}
	}
}
