package pipeline

import (
	"errors"
	"testing"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/hal/soft"
)

func newDevice(t *testing.T) *soft.Device {
	t.Helper()
	dev := soft.NewDevice(false)
	t.Cleanup(dev.Destroy)
	return dev
}

func defaultConfig() *Config {
	return &Config{
		Library:       soft.DefaultLibrary().Encode(),
		Symbols:       DefaultSymbols(),
		PayloadSize:   12,
		AttributeSize: 8,
		MaxRecursion:  1,
	}
}

func TestBuildRootSignature(t *testing.T) {
	dev := newDevice(t)
	rs, err := BuildRootSignature(dev, DefaultBindings())
	if err != nil {
		t.Fatalf("BuildRootSignature() error = %v", err)
	}
	desc := rs.Desc()
	if len(desc.Parameters) != 2 {
		t.Fatalf("parameters = %d, want 2", len(desc.Parameters))
	}
	want := []hal.DescriptorRangeType{hal.RangeSRV, hal.RangeUAV}
	for i, p := range desc.Parameters {
		if p.Type != hal.RootParameterDescriptorTable {
			t.Errorf("parameter %d type = %v, want descriptor table", i, p.Type)
		}
		if len(p.Ranges) != 1 || p.Ranges[0].Type != want[i] || p.Ranges[0].BaseShaderRegister != 0 || p.Ranges[0].NumDescriptors != 1 {
			t.Errorf("parameter %d ranges = %+v", i, p.Ranges)
		}
	}
}

func TestBuildRootSignatureRejects(t *testing.T) {
	dev := newDevice(t)
	tests := []struct {
		name     string
		bindings []Binding
	}{
		{"empty", nil},
		{"sampler", []Binding{{Name: "s", Type: hal.RangeSampler}}},
		{"duplicate register", []Binding{
			{Name: "a", Type: hal.RangeSRV, Register: 1},
			{Name: "b", Type: hal.RangeSRV, Register: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildRootSignature(dev, tt.bindings); err == nil {
				t.Error("BuildRootSignature() should fail")
			}
		})
	}
}

func TestSubObjects(t *testing.T) {
	dev := newDevice(t)
	rs, _ := BuildRootSignature(dev, DefaultBindings())
	subs := SubObjects(defaultConfig(), rs)

	want := []hal.SubObjectType{
		hal.SubObjectDXILLibrary,
		hal.SubObjectHitGroup,
		hal.SubObjectGlobalRootSignature,
		hal.SubObjectShaderConfig,
		hal.SubObjectPipelineConfig,
	}
	if len(subs) != len(want) {
		t.Fatalf("len(SubObjects) = %d, want %d", len(subs), len(want))
	}
	for i, s := range subs {
		if s.SubObjectType() != want[i] {
			t.Errorf("sub-object %d = %v, want %v", i, s.SubObjectType(), want[i])
		}
	}
	hg := subs[1].(*hal.HitGroup)
	if hg.Export != "DefaultHitGroup" || hg.ClosestHitImport != "MainClosestHit" || hg.Type != hal.HitGroupTriangles {
		t.Errorf("hit group = %+v", hg)
	}
	if pc := subs[4].(*hal.PipelineConfig); pc.MaxTraceRecursionDepth != 1 {
		t.Errorf("recursion = %d, want 1", pc.MaxTraceRecursionDepth)
	}
}

func TestBuildStateObject(t *testing.T) {
	dev := newDevice(t)
	rs, err := BuildRootSignature(dev, DefaultBindings())
	if err != nil {
		t.Fatal(err)
	}
	st, err := BuildStateObject(dev, rs, defaultConfig())
	if err != nil {
		t.Fatalf("BuildStateObject() error = %v", err)
	}
	defer st.Destroy()

	if st.GlobalRootSignature() != rs {
		t.Error("global root signature sub-object does not reference the root signature")
	}
	sym := DefaultSymbols()
	ids := map[string]bool{}
	for _, name := range []string{sym.RayGen, sym.Miss, sym.HitGroup} {
		id := st.StateObject.ShaderIdentifier(name)
		if len(id) != hal.ShaderIdentifierSize {
			t.Errorf("ShaderIdentifier(%q) has %d bytes", name, len(id))
		}
		ids[string(id)] = true
	}
	if len(ids) != 3 {
		t.Error("shader identifiers are not distinct")
	}
}

func TestBuildStateObjectErrors(t *testing.T) {
	dev := newDevice(t)
	rs, _ := BuildRootSignature(dev, DefaultBindings())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty library", func(c *Config) { c.Library = nil }},
		{"corrupt library", func(c *Config) { c.Library = []byte("not a library") }},
		{"unknown symbol", func(c *Config) { c.Symbols.Miss = "Nope" }},
		{"duplicate symbols", func(c *Config) { c.Symbols.Miss = c.Symbols.RayGen }},
		{"empty symbol", func(c *Config) { c.Symbols.HitGroup = "" }},
		{"payload too small", func(c *Config) { c.PayloadSize = 4 }},
		{"zero recursion", func(c *Config) { c.MaxRecursion = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)
			if st, err := BuildStateObject(dev, rs, cfg); err == nil {
				st.Destroy()
				t.Error("BuildStateObject() should fail")
			}
		})
	}
}

func TestSymbolsValidate(t *testing.T) {
	if err := DefaultSymbols().Validate(); err != nil {
		t.Errorf("DefaultSymbols().Validate() = %v", err)
	}
	s := DefaultSymbols()
	s.ClosestHit = s.HitGroup
	if err := s.Validate(); err == nil {
		t.Error("Validate() accepted duplicate names")
	}
}

func TestBuildStateObjectMissingIdentifier(t *testing.T) {
	dev := newDevice(t)
	rs, _ := BuildRootSignature(dev, DefaultBindings())
	lib := &soft.Library{
		PayloadSize:   12,
		AttributeSize: 8,
		Entries: []soft.Entry{
			{Name: "MainRayGen", Kind: soft.KindRayGeneration},
			{Name: "MainMiss", Kind: soft.KindClosestHit},
			{Name: "MainClosestHit", Kind: soft.KindClosestHit},
		},
	}
	cfg := defaultConfig()
	cfg.Library = lib.Encode()
	if _, err := BuildStateObject(dev, rs, cfg); !errors.Is(err, ErrMissingExport) {
		t.Errorf("BuildStateObject() error = %v, want ErrMissingExport", err)
	}
}
