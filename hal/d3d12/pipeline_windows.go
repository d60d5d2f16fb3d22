// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build windows

package d3d12

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/gogpu/raytrace/hal"
)

// RootSignature is an ID3D12RootSignature.
type RootSignature struct {
	rs   com
	desc hal.RootSignatureDesc
	blob []byte
}

// Desc returns the creation description.
func (r *RootSignature) Desc() hal.RootSignatureDesc { return r.desc }

// Blob returns the serialized signature.
func (r *RootSignature) Blob() []byte { return r.blob }

// Destroy releases the root signature.
func (r *RootSignature) Destroy() {
	r.rs.release()
	r.rs = 0
}

// serializeRootSignature calls D3D12SerializeRootSignature on desc.
func serializeRootSignature(desc *hal.RootSignatureDesc) ([]byte, error) {
	params := make([]rootParameter, len(desc.Parameters))
	ranges := make([][]descriptorRange, len(desc.Parameters))
	for i, p := range desc.Parameters {
		params[i].ParameterType = uint32(p.Type)
		switch p.Type {
		case hal.RootParameterDescriptorTable:
			if len(p.Ranges) == 0 {
				return nil, fmt.Errorf("%w: root parameter %d has no ranges", hal.ErrInvalidCall, i)
			}
			rs := make([]descriptorRange, len(p.Ranges))
			for j, r := range p.Ranges {
				rs[j] = descriptorRange{
					RangeType:                         uint32(r.Type),
					NumDescriptors:                    r.NumDescriptors,
					BaseShaderRegister:                r.BaseShaderRegister,
					RegisterSpace:                     r.RegisterSpace,
					OffsetInDescriptorsFromTableStart: r.Offset,
				}
			}
			ranges[i] = rs
			params[i].Word0 = uint32(len(rs))
			params[i].Ranges = uintptr(unsafe.Pointer(&rs[0]))
		case hal.RootParameterCBV, hal.RootParameterSRV, hal.RootParameterUAV:
			params[i].Word0 = p.ShaderRegister
			params[i].Word1 = p.RegisterSpace
		default:
			return nil, fmt.Errorf("%w: root parameter type %d", hal.ErrInvalidCall, p.Type)
		}
	}
	nd := rootSignatureDesc{NumParameters: uint32(len(params)), Flags: desc.Flags}
	if len(params) > 0 {
		nd.Parameters = uintptr(unsafe.Pointer(&params[0]))
	}

	var out, errBlob com
	r, _, _ := procD3D12SerializeRootSignature.Call(uintptr(unsafe.Pointer(&nd)), rootSignatureVersion1,
		uintptr(unsafe.Pointer(&out)), uintptr(unsafe.Pointer(&errBlob)))
	runtime.KeepAlive(params)
	runtime.KeepAlive(ranges)
	if err := check("D3D12SerializeRootSignature", r); err != nil {
		if errBlob != 0 {
			msg := blob(errBlob).bytes()
			errBlob.release()
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	defer out.release()
	return blob(out).bytes(), nil
}

// StateObject is an ID3D12StateObject with its properties interface.
type StateObject struct {
	so    com
	props com
}

// ShaderIdentifier returns the 32-byte identifier of export, or nil.
func (s *StateObject) ShaderIdentifier(export string) []byte {
	name := utf16(export)
	if name == nil {
		return nil
	}
	p := s.props.call(slotPropsGetShaderIdentifier, uintptr(unsafe.Pointer(name)))
	runtime.KeepAlive(name)
	if p == 0 {
		return nil
	}
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(p)), hal.ShaderIdentifierSize)...)
}

// Destroy releases the state object.
func (s *StateObject) Destroy() {
	s.props.release()
	s.so.release()
	s.props, s.so = 0, 0
}

// encodedStateObject keeps every native allocation reachable until the
// state object is created.
type encodedStateObject struct {
	desc    stateObjectDesc
	subs    []stateSubobject
	payload []any
}

func (e *encodedStateObject) add(t hal.SubObjectType, p unsafe.Pointer, keep any) {
	e.subs = append(e.subs, stateSubobject{Type: uint32(t), Desc: uintptr(p)})
	e.payload = append(e.payload, keep)
}

// encodeStateObject converts the sub-object variants to native structs.
func encodeStateObject(desc *hal.StateObjectDesc) (*encodedStateObject, error) {
	e := &encodedStateObject{}
	for i, sub := range desc.SubObjects {
		switch s := sub.(type) {
		case *hal.DXILLibrary:
			if len(s.Bytecode) == 0 {
				return nil, fmt.Errorf("%w: sub-object %d: empty DXIL library", hal.ErrInvalidCall, i)
			}
			exports := make([]exportDesc, len(s.Exports))
			for j, x := range s.Exports {
				exports[j] = exportDesc{Name: utf16(x.Name), ExportToRename: utf16(x.ExportToRename)}
			}
			lib := &dxilLibraryDesc{
				Library:    shaderBytecode{Bytecode: uintptr(unsafe.Pointer(&s.Bytecode[0])), Length: uintptr(len(s.Bytecode))},
				NumExports: uint32(len(exports)),
			}
			if len(exports) > 0 {
				lib.Exports = uintptr(unsafe.Pointer(&exports[0]))
			}
			e.add(s.SubObjectType(), unsafe.Pointer(lib), []any{lib, exports, s.Bytecode})
		case *hal.HitGroup:
			hg := &hitGroupDesc{
				HitGroupExport:           utf16(s.Export),
				Type:                     uint32(s.Type),
				AnyHitShaderImport:       utf16(s.AnyHitImport),
				ClosestHitShaderImport:   utf16(s.ClosestHitImport),
				IntersectionShaderImport: utf16(s.IntersectionImport),
			}
			e.add(s.SubObjectType(), unsafe.Pointer(hg), hg)
		case *hal.GlobalRootSignature:
			rs, ok := s.RootSignature.(*RootSignature)
			if !ok {
				return nil, fmt.Errorf("%w: sub-object %d: foreign root signature %T", hal.ErrInvalidCall, i, s.RootSignature)
			}
			g := &globalRootSignature{RootSignature: uintptr(rs.rs)}
			e.add(s.SubObjectType(), unsafe.Pointer(g), g)
		case *hal.ShaderConfig:
			c := &shaderConfig{MaxPayloadSizeInBytes: s.MaxPayloadSizeInBytes, MaxAttributeSizeInBytes: s.MaxAttributeSizeInBytes}
			e.add(s.SubObjectType(), unsafe.Pointer(c), c)
		case *hal.PipelineConfig:
			c := &pipelineConfig{MaxTraceRecursionDepth: s.MaxTraceRecursionDepth}
			e.add(s.SubObjectType(), unsafe.Pointer(c), c)
		default:
			return nil, fmt.Errorf("%w: sub-object %d: unsupported type %T", hal.ErrInvalidCall, i, sub)
		}
	}
	e.desc = stateObjectDesc{Type: uint32(desc.Type), NumSubobjects: uint32(len(e.subs))}
	if len(e.subs) > 0 {
		e.desc.Subobjects = uintptr(unsafe.Pointer(&e.subs[0]))
	}
	return e, nil
}

// encodeBuildInputs converts build inputs. The returned slice backs the
// geometry pointer and must stay alive for the call.
func encodeBuildInputs(in *hal.BuildInputs) (buildInputs, []geometryDesc) {
	out := buildInputs{
		Type:        uint32(in.Type),
		Flags:       uint32(in.Flags),
		NumDescs:    in.NumDescs(),
		DescsLayout: elementsLayoutArray,
	}
	if in.Type == hal.TopLevel {
		out.Descs = uint64(in.InstanceDescs)
		return out, nil
	}
	geoms := make([]geometryDesc, len(in.Geometries))
	for i, g := range in.Geometries {
		geoms[i] = geometryDesc{
			Type:         0,
			Flags:        uint32(g.Flags),
			Transform3x4: uint64(g.Triangles.Transform3x4),
			VertexFormat: VertexFormat(g.Triangles.VertexFormat),
			VertexCount:  g.Triangles.VertexCount,
			VertexStart:  uint64(g.Triangles.VertexBuffer.StartAddress),
			VertexStride: g.Triangles.VertexBuffer.StrideInBytes,
		}
	}
	if len(geoms) > 0 {
		out.Descs = uint64(uintptr(unsafe.Pointer(&geoms[0])))
	}
	return out, geoms
}
