package raytrace

import (
	"encoding/binary"
	"math"

	"golang.org/x/image/math/f32"
)

// VertexStride is the byte size of an encoded Vertex.
const VertexStride = 28

// Vertex is one record of the vertex buffer. Only Position is read by the
// acceleration structure build.
type Vertex struct {
	Position f32.Vec3
	Color    f32.Vec4
}

// DefaultTriangle returns the reference triangle with red, green and blue
// corners.
func DefaultTriangle() []Vertex {
	return []Vertex{
		{Position: f32.Vec3{-0.5, -0.5, 0}, Color: f32.Vec4{1, 0, 0, 1}},
		{Position: f32.Vec3{0.5, -0.5, 0}, Color: f32.Vec4{0, 1, 0, 1}},
		{Position: f32.Vec3{0, 0.75, 0}, Color: f32.Vec4{0, 0, 1, 1}},
	}
}

// EncodeVertices packs vs as little-endian float32 records of VertexStride
// bytes.
func EncodeVertices(vs []Vertex) []byte {
	b := make([]byte, 0, len(vs)*VertexStride)
	for _, v := range vs {
		for _, c := range v.Position {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(c))
		}
		for _, c := range v.Color {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(c))
		}
	}
	return b
}
