package soft

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ShaderKind is the role of a library entry.
type ShaderKind uint8

// Shader kinds.
const (
	KindRayGeneration ShaderKind = iota + 1
	KindMiss
	KindClosestHit
	KindAnyHit
	KindIntersection
)

func (k ShaderKind) String() string {
	switch k {
	case KindRayGeneration:
		return "raygeneration"
	case KindMiss:
		return "miss"
	case KindClosestHit:
		return "closesthit"
	case KindAnyHit:
		return "anyhit"
	case KindIntersection:
		return "intersection"
	default:
		return fmt.Sprintf("ShaderKind(%d)", uint8(k))
	}
}

// Entry is one shader of a Library.
//
// The programs are fixed. A ray-generation shader casts one orthographic
// ray per pixel along +Z from z = -1 and stores the payload colour. A miss
// shader returns Color. A closest-hit shader returns the barycentrics of the
// hit scaled by Color.
type Entry struct {
	Name  string
	Kind  ShaderKind
	Color [4]float32
}

// Library is the shader container understood by the software device.
// It takes the place of a compiled DXIL library.
type Library struct {
	// PayloadSize and AttributeSize are the sizes the shaders use.
	PayloadSize   uint32
	AttributeSize uint32
	Entries       []Entry
}

// libraryMagic starts every encoded library.
const libraryMagic = "SRTL"

const libraryVersion = 1

// ErrBadLibrary is returned for malformed shader libraries.
var ErrBadLibrary = errors.New("soft: malformed shader library")

// DefaultLibrary returns the library of the reference scene: MainRayGen,
// MainMiss and MainClosestHit with a 12-byte payload and 8-byte attributes.
func DefaultLibrary() *Library {
	return &Library{
		PayloadSize:   12,
		AttributeSize: 8,
		Entries: []Entry{
			{Name: "MainRayGen", Kind: KindRayGeneration},
			{Name: "MainMiss", Kind: KindMiss, Color: [4]float32{0, 0.2, 0.4, 1}},
			{Name: "MainClosestHit", Kind: KindClosestHit, Color: [4]float32{1, 1, 1, 1}},
		},
	}
}

// Lookup returns the entry named name.
func (l *Library) Lookup(name string) (Entry, bool) {
	for _, e := range l.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Encode returns the binary form of l.
func (l *Library) Encode() []byte {
	b := make([]byte, 0, 16+len(l.Entries)*32)
	b = append(b, libraryMagic...)
	b = binary.LittleEndian.AppendUint16(b, libraryVersion)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(l.Entries)))
	b = binary.LittleEndian.AppendUint32(b, l.PayloadSize)
	b = binary.LittleEndian.AppendUint32(b, l.AttributeSize)
	for _, e := range l.Entries {
		b = append(b, byte(e.Kind), byte(len(e.Name)))
		b = append(b, e.Name...)
		for _, c := range e.Color {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(c))
		}
	}
	return b
}

// DecodeLibrary parses an encoded library.
func DecodeLibrary(b []byte) (*Library, error) {
	if len(b) < 16 || string(b[:4]) != libraryMagic {
		return nil, fmt.Errorf("%w: bad header", ErrBadLibrary)
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != libraryVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadLibrary, v)
	}
	n := int(binary.LittleEndian.Uint16(b[6:]))
	l := &Library{
		PayloadSize:   binary.LittleEndian.Uint32(b[8:]),
		AttributeSize: binary.LittleEndian.Uint32(b[12:]),
		Entries:       make([]Entry, 0, n),
	}
	p := b[16:]
	for i := range n {
		if len(p) < 2 {
			return nil, fmt.Errorf("%w: entry %d truncated", ErrBadLibrary, i)
		}
		kind, nameLen := ShaderKind(p[0]), int(p[1])
		if kind < KindRayGeneration || kind > KindIntersection {
			return nil, fmt.Errorf("%w: entry %d has kind %d", ErrBadLibrary, i, kind)
		}
		if nameLen == 0 || len(p) < 2+nameLen+16 {
			return nil, fmt.Errorf("%w: entry %d truncated", ErrBadLibrary, i)
		}
		e := Entry{Name: string(p[2 : 2+nameLen]), Kind: kind}
		p = p[2+nameLen:]
		for c := range e.Color {
			e.Color[c] = math.Float32frombits(binary.LittleEndian.Uint32(p[c*4:]))
		}
		p = p[16:]
		if _, dup := l.Lookup(e.Name); dup {
			return nil, fmt.Errorf("%w: duplicate entry %q", ErrBadLibrary, e.Name)
		}
		l.Entries = append(l.Entries, e)
	}
	if len(p) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadLibrary, len(p))
	}
	return l, nil
}
