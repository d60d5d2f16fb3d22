package soft

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/raytrace/hal"
)

// RootSignature is a validated root signature with a deterministic blob.
type RootSignature struct {
	dev  *Device
	desc hal.RootSignatureDesc
	blob []byte
}

// CreateRootSignature validates and serializes desc.
func (d *Device) CreateRootSignature(desc *hal.RootSignatureDesc) (hal.RootSignature, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, fmt.Errorf("%w: nil root signature description", hal.ErrInvalidCall)
	}
	blob, err := serializeRootSignature(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", hal.ErrInvalidCall, err)
	}
	cp := *desc
	cp.Parameters = make([]hal.RootParameter, len(desc.Parameters))
	for i, p := range desc.Parameters {
		p.Ranges = append([]hal.DescriptorRange(nil), p.Ranges...)
		cp.Parameters[i] = p
	}
	return &RootSignature{dev: d, desc: cp, blob: blob}, nil
}

func serializeRootSignature(desc *hal.RootSignatureDesc) ([]byte, error) {
	b := []byte("SRS1")
	b = binary.LittleEndian.AppendUint32(b, desc.Flags)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(desc.Parameters)))
	for i, p := range desc.Parameters {
		b = binary.LittleEndian.AppendUint32(b, uint32(p.Type))
		switch p.Type {
		case hal.RootParameterDescriptorTable:
			if len(p.Ranges) == 0 {
				return nil, fmt.Errorf("root parameter %d: descriptor table without ranges", i)
			}
			b = binary.LittleEndian.AppendUint32(b, uint32(len(p.Ranges)))
			for j, r := range p.Ranges {
				if r.NumDescriptors == 0 {
					return nil, fmt.Errorf("root parameter %d range %d: zero descriptors", i, j)
				}
				if r.Type > hal.RangeSampler {
					return nil, fmt.Errorf("root parameter %d range %d: unknown range type %d", i, j, r.Type)
				}
				b = binary.LittleEndian.AppendUint32(b, uint32(r.Type))
				b = binary.LittleEndian.AppendUint32(b, r.NumDescriptors)
				b = binary.LittleEndian.AppendUint32(b, r.BaseShaderRegister)
				b = binary.LittleEndian.AppendUint32(b, r.RegisterSpace)
				b = binary.LittleEndian.AppendUint32(b, r.Offset)
			}
		case hal.RootParameterCBV, hal.RootParameterSRV, hal.RootParameterUAV:
			b = binary.LittleEndian.AppendUint32(b, p.ShaderRegister)
			b = binary.LittleEndian.AppendUint32(b, p.RegisterSpace)
		default:
			return nil, fmt.Errorf("root parameter %d: unsupported type %d", i, p.Type)
		}
	}
	return b, nil
}

// Desc returns the creation description.
func (rs *RootSignature) Desc() hal.RootSignatureDesc { return rs.desc }

// Blob returns the serialized signature.
func (rs *RootSignature) Blob() []byte { return rs.blob }

// Destroy is a no-op.
func (rs *RootSignature) Destroy() {}

// export is one callable shader or hit group of a state object.
type export struct {
	name     string
	kind     ShaderKind // zero for hit groups
	entry    Entry
	hitGroup *hal.HitGroup
	closest  Entry
}

// StateObject is a linked ray-tracing pipeline.
type StateObject struct {
	dev            *Device
	id             uint64
	global         *RootSignature
	payloadSize    uint32
	attributeSize  uint32
	maxRecursion   uint32
	exports        map[string]*export
	byIdentifier   map[[hal.ShaderIdentifierSize]byte]*export
	identifierByID map[string][]byte
}

// CreateStateObject links the sub-objects of desc.
func (d *Device) CreateStateObject(desc *hal.StateObjectDesc) (hal.StateObject, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	so, err := d.link(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: CreateStateObject: %w", hal.ErrInvalidCall, err)
	}
	return so, nil
}

func (d *Device) link(desc *hal.StateObjectDesc) (*StateObject, error) {
	if desc == nil {
		return nil, errors.New("nil description")
	}
	if desc.Type != hal.StateObjectRaytracingPipeline {
		return nil, fmt.Errorf("unsupported state object type %d", desc.Type)
	}
	so := &StateObject{
		dev:            d,
		id:             d.objectID(),
		exports:        make(map[string]*export),
		byIdentifier:   make(map[[hal.ShaderIdentifierSize]byte]*export),
		identifierByID: make(map[string][]byte),
	}

	var (
		shaderConfig   *hal.ShaderConfig
		pipelineConfig *hal.PipelineConfig
		hitGroups      []*hal.HitGroup
		libraries      int
		payload, attr  uint32
	)
	for i, sub := range desc.SubObjects {
		switch s := sub.(type) {
		case *hal.DXILLibrary:
			lib, err := DecodeLibrary(s.Bytecode)
			if err != nil {
				return nil, fmt.Errorf("sub-object %d: %w", i, err)
			}
			if err := so.addLibrary(lib, s.Exports); err != nil {
				return nil, fmt.Errorf("sub-object %d: %w", i, err)
			}
			payload = max(payload, lib.PayloadSize)
			attr = max(attr, lib.AttributeSize)
			libraries++
		case *hal.HitGroup:
			hitGroups = append(hitGroups, s)
		case *hal.GlobalRootSignature:
			if so.global != nil {
				return nil, fmt.Errorf("sub-object %d: second global root signature", i)
			}
			rs, ok := s.RootSignature.(*RootSignature)
			if !ok || rs.dev != d {
				return nil, fmt.Errorf("sub-object %d: foreign root signature %T", i, s.RootSignature)
			}
			so.global = rs
		case *hal.ShaderConfig:
			if shaderConfig != nil {
				return nil, fmt.Errorf("sub-object %d: second shader config", i)
			}
			shaderConfig = s
		case *hal.PipelineConfig:
			if pipelineConfig != nil {
				return nil, fmt.Errorf("sub-object %d: second pipeline config", i)
			}
			pipelineConfig = s
		default:
			return nil, fmt.Errorf("sub-object %d: unsupported %T", i, sub)
		}
	}
	if libraries == 0 {
		return nil, errors.New("no DXIL library")
	}
	if shaderConfig == nil {
		return nil, errors.New("no shader config")
	}
	if pipelineConfig == nil {
		return nil, errors.New("no pipeline config")
	}
	if shaderConfig.MaxPayloadSizeInBytes < payload {
		return nil, fmt.Errorf("payload size %d is smaller than the %d bytes the shaders use", shaderConfig.MaxPayloadSizeInBytes, payload)
	}
	if shaderConfig.MaxAttributeSizeInBytes < attr || shaderConfig.MaxAttributeSizeInBytes > 32 {
		return nil, fmt.Errorf("attribute size %d outside [%d, 32]", shaderConfig.MaxAttributeSizeInBytes, attr)
	}
	if pipelineConfig.MaxTraceRecursionDepth > 31 {
		return nil, fmt.Errorf("recursion depth %d exceeds 31", pipelineConfig.MaxTraceRecursionDepth)
	}
	so.payloadSize = shaderConfig.MaxPayloadSizeInBytes
	so.attributeSize = shaderConfig.MaxAttributeSizeInBytes
	so.maxRecursion = pipelineConfig.MaxTraceRecursionDepth

	for _, hg := range hitGroups {
		if err := so.addHitGroup(hg); err != nil {
			return nil, err
		}
	}
	for _, e := range so.exports {
		if e.kind == KindRayGeneration && so.maxRecursion < 1 {
			return nil, fmt.Errorf("ray generation shader %q traces rays but recursion depth is 0", e.name)
		}
	}
	return so, nil
}

func (so *StateObject) addLibrary(lib *Library, exports []hal.ExportDesc) error {
	if len(exports) == 0 {
		for _, e := range lib.Entries {
			if err := so.addExport(&export{name: e.Name, kind: e.Kind, entry: e}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, x := range exports {
		internal := x.Name
		if x.ExportToRename != "" {
			internal = x.ExportToRename
		}
		e, ok := lib.Lookup(internal)
		if !ok {
			return fmt.Errorf("export %q not found in library", internal)
		}
		if err := so.addExport(&export{name: x.Name, kind: e.Kind, entry: e}); err != nil {
			return err
		}
	}
	return nil
}

func (so *StateObject) addHitGroup(hg *hal.HitGroup) error {
	if hg.Export == "" {
		return errors.New("hit group without export name")
	}
	if hg.Type != hal.HitGroupTriangles {
		return fmt.Errorf("hit group %q: only triangle hit groups are supported", hg.Export)
	}
	if hg.IntersectionImport != "" {
		return fmt.Errorf("hit group %q: triangle hit groups take no intersection shader", hg.Export)
	}
	e := &export{name: hg.Export, hitGroup: hg}
	if hg.ClosestHitImport != "" {
		ch, ok := so.exports[hg.ClosestHitImport]
		if !ok || ch.kind != KindClosestHit {
			return fmt.Errorf("hit group %q: %q is not an exported closest-hit shader", hg.Export, hg.ClosestHitImport)
		}
		e.closest = ch.entry
	}
	if hg.AnyHitImport != "" {
		ah, ok := so.exports[hg.AnyHitImport]
		if !ok || ah.kind != KindAnyHit {
			return fmt.Errorf("hit group %q: %q is not an exported any-hit shader", hg.Export, hg.AnyHitImport)
		}
	}
	return so.addExport(e)
}

func (so *StateObject) addExport(e *export) error {
	if _, dup := so.exports[e.name]; dup {
		return fmt.Errorf("duplicate export %q", e.name)
	}
	so.exports[e.name] = e
	id := so.identifier(e.name)
	so.byIdentifier[id] = e
	so.identifierByID[e.name] = id[:]
	return nil
}

// identifier derives a 32-byte identifier unique to the pipeline and name.
func (so *StateObject) identifier(name string) [hal.ShaderIdentifierSize]byte {
	h := sha256.New()
	var seed [16]byte
	binary.LittleEndian.PutUint64(seed[:], so.dev.id)
	binary.LittleEndian.PutUint64(seed[8:], so.id)
	h.Write(seed[:])
	h.Write([]byte(name))
	var id [hal.ShaderIdentifierSize]byte
	copy(id[:], h.Sum(nil))
	return id
}

// ShaderIdentifier returns the identifier of an export, or nil.
func (so *StateObject) ShaderIdentifier(name string) []byte {
	e, ok := so.exports[name]
	if !ok || (e.hitGroup == nil && e.kind != KindRayGeneration && e.kind != KindMiss) {
		return nil
	}
	return bytes.Clone(so.identifierByID[name])
}

// Destroy is a no-op.
func (so *StateObject) Destroy() {}

// lookupRecord resolves the identifier at the start of a shader record.
func (so *StateObject) lookupRecord(record []byte) (*export, error) {
	if len(record) < hal.ShaderIdentifierSize {
		return nil, errors.New("shader record shorter than an identifier")
	}
	var id [hal.ShaderIdentifierSize]byte
	copy(id[:], record)
	e, ok := so.byIdentifier[id]
	if !ok {
		return nil, fmt.Errorf("unknown shader identifier %x", id[:8])
	}
	return e, nil
}
