// Package pipeline assembles the global root signature and the ray-tracing
// state object.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/rtlog"
)

// ErrMissingExport is returned when a symbol has no shader identifier in
// the created state object.
var ErrMissingExport = errors.New("pipeline: export missing from state object")

func slogger() *slog.Logger { return rtlog.Logger() }

// Binding is one descriptor-table root parameter holding a single
// descriptor.
type Binding struct {
	Name     string
	Type     hal.DescriptorRangeType
	Register uint32
	Space    uint32
}

// Root parameter indices of DefaultBindings.
const (
	SceneParameter  = 0
	OutputParameter = 1
)

// DefaultBindings returns the scene SRV at t0 and the output UAV at u0.
func DefaultBindings() []Binding {
	return []Binding{
		{Name: "scene", Type: hal.RangeSRV, Register: 0},
		{Name: "output", Type: hal.RangeUAV, Register: 0},
	}
}

// BuildRootSignature creates a root signature with one descriptor table per
// binding, in order.
func BuildRootSignature(dev hal.Device, bindings []Binding) (hal.RootSignature, error) {
	if len(bindings) == 0 {
		return nil, errors.New("pipeline: root signature needs at least one binding")
	}
	params := make([]hal.RootParameter, 0, len(bindings))
	seen := make(map[[3]uint32]string, len(bindings))
	for _, b := range bindings {
		if b.Type != hal.RangeSRV && b.Type != hal.RangeUAV && b.Type != hal.RangeCBV {
			return nil, fmt.Errorf("pipeline: binding %q has unsupported type %v", b.Name, b.Type)
		}
		key := [3]uint32{uint32(b.Type), b.Register, b.Space}
		if other, dup := seen[key]; dup {
			return nil, fmt.Errorf("pipeline: bindings %q and %q share %v register %d space %d", other, b.Name, b.Type, b.Register, b.Space)
		}
		seen[key] = b.Name
		params = append(params, hal.RootParameter{
			Type: hal.RootParameterDescriptorTable,
			Ranges: []hal.DescriptorRange{{
				Type:               b.Type,
				NumDescriptors:     1,
				BaseShaderRegister: b.Register,
				RegisterSpace:      b.Space,
			}},
		})
	}
	rs, err := dev.CreateRootSignature(&hal.RootSignatureDesc{Label: "global", Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create root signature: %w", err)
	}
	return rs, nil
}

// Symbols are the export names shared by the shader library, the state
// object and the shader table.
type Symbols struct {
	RayGen     string
	Miss       string
	ClosestHit string
	HitGroup   string
}

// DefaultSymbols returns the names exported by the reference shader library.
func DefaultSymbols() Symbols {
	return Symbols{
		RayGen:     "MainRayGen",
		Miss:       "MainMiss",
		ClosestHit: "MainClosestHit",
		HitGroup:   "DefaultHitGroup",
	}
}

// Validate reports empty or duplicate names.
func (s Symbols) Validate() error {
	names := map[string]string{}
	for _, kv := range [...][2]string{
		{"ray generation", s.RayGen},
		{"miss", s.Miss},
		{"closest hit", s.ClosestHit},
		{"hit group", s.HitGroup},
	} {
		if kv[1] == "" {
			return fmt.Errorf("pipeline: empty %s symbol", kv[0])
		}
		if other, dup := names[kv[1]]; dup {
			return fmt.Errorf("pipeline: %s and %s symbols are both %q", other, kv[0], kv[1])
		}
		names[kv[1]] = kv[0]
	}
	return nil
}

// Config describes the state object.
type Config struct {
	Library       []byte
	Symbols       Symbols
	PayloadSize   uint32
	AttributeSize uint32
	MaxRecursion  uint32
}

// SubObjects returns the sub-object list of a ray-tracing pipeline using rs
// as its global root signature.
func SubObjects(cfg *Config, rs hal.RootSignature) []hal.SubObject {
	sym := cfg.Symbols
	return []hal.SubObject{
		&hal.DXILLibrary{
			Bytecode: cfg.Library,
			Exports: []hal.ExportDesc{
				{Name: sym.RayGen},
				{Name: sym.Miss},
				{Name: sym.ClosestHit},
			},
		},
		&hal.HitGroup{
			Export:           sym.HitGroup,
			Type:             hal.HitGroupTriangles,
			ClosestHitImport: sym.ClosestHit,
		},
		&hal.GlobalRootSignature{RootSignature: rs},
		&hal.ShaderConfig{
			MaxPayloadSizeInBytes:   cfg.PayloadSize,
			MaxAttributeSizeInBytes: cfg.AttributeSize,
		},
		&hal.PipelineConfig{MaxTraceRecursionDepth: cfg.MaxRecursion},
	}
}

// State is the root signature plus the state object built against it.
type State struct {
	RootSignature hal.RootSignature
	StateObject   hal.StateObject
	SubObjects    []hal.SubObject
	Symbols       Symbols
}

// GlobalRootSignature returns the root signature referenced by the state
// object's global-root-signature sub-object, or nil.
func (s *State) GlobalRootSignature() hal.RootSignature {
	for _, sub := range s.SubObjects {
		if g, ok := sub.(*hal.GlobalRootSignature); ok {
			return g.RootSignature
		}
	}
	return nil
}

// Destroy releases the state object and the root signature.
func (s *State) Destroy() {
	s.StateObject.Destroy()
	s.RootSignature.Destroy()
}

// BuildStateObject creates the ray-tracing pipeline and checks that every
// symbol the shader table needs has an identifier.
func BuildStateObject(dev hal.Device, rs hal.RootSignature, cfg *Config) (*State, error) {
	if len(cfg.Library) == 0 {
		return nil, errors.New("pipeline: empty shader library")
	}
	if err := cfg.Symbols.Validate(); err != nil {
		return nil, err
	}
	subs := SubObjects(cfg, rs)
	so, err := dev.CreateStateObject(&hal.StateObjectDesc{
		Type:       hal.StateObjectRaytracingPipeline,
		SubObjects: subs,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create state object: %w", err)
	}
	for _, name := range []string{cfg.Symbols.RayGen, cfg.Symbols.Miss, cfg.Symbols.HitGroup} {
		if so.ShaderIdentifier(name) == nil {
			so.Destroy()
			return nil, fmt.Errorf("%w: %q", ErrMissingExport, name)
		}
	}
	slogger().Info("pipeline: state object created",
		"raygen", cfg.Symbols.RayGen,
		"miss", cfg.Symbols.Miss,
		"hitgroup", cfg.Symbols.HitGroup,
		"payload", cfg.PayloadSize,
		"attributes", cfg.AttributeSize,
		"recursion", cfg.MaxRecursion)
	return &State{RootSignature: rs, StateObject: so, SubObjects: subs, Symbols: cfg.Symbols}, nil
}
