package soft

import (
	"math"

	"golang.org/x/image/math/f32"
)

func sub(a, b f32.Vec3) f32.Vec3 { return f32.Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func dot(a, b f32.Vec3) float32 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func cross(a, b f32.Vec3) f32.Vec3 {
	return f32.Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func vmin(a, b f32.Vec3) f32.Vec3 {
	return f32.Vec3{min(a[0], b[0]), min(a[1], b[1]), min(a[2], b[2])}
}

func vmax(a, b f32.Vec3) f32.Vec3 {
	return f32.Vec3{max(a[0], b[0]), max(a[1], b[1]), max(a[2], b[2])}
}

// affine is a row-major 3x4 transform.
type affine [3][4]float32

func (m *affine) point(p f32.Vec3) f32.Vec3 {
	var r f32.Vec3
	for i := range 3 {
		r[i] = m[i][0]*p[0] + m[i][1]*p[1] + m[i][2]*p[2] + m[i][3]
	}
	return r
}

func (m *affine) vector(v f32.Vec3) f32.Vec3 {
	var r f32.Vec3
	for i := range 3 {
		r[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return r
}

// inverse returns the inverse transform, or false for singular matrices.
func (m *affine) inverse() (affine, bool) {
	a, b, c := m[0][0], m[0][1], m[0][2]
	d, e, f := m[1][0], m[1][1], m[1][2]
	g, h, i := m[2][0], m[2][1], m[2][2]
	det := a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
	if math.Abs(float64(det)) < 1e-12 {
		return affine{}, false
	}
	inv := 1 / det
	var r affine
	r[0][0] = (e*i - f*h) * inv
	r[0][1] = (c*h - b*i) * inv
	r[0][2] = (b*f - c*e) * inv
	r[1][0] = (f*g - d*i) * inv
	r[1][1] = (a*i - c*g) * inv
	r[1][2] = (c*d - a*f) * inv
	r[2][0] = (d*h - e*g) * inv
	r[2][1] = (b*g - a*h) * inv
	r[2][2] = (a*e - b*d) * inv
	t := f32.Vec3{m[0][3], m[1][3], m[2][3]}
	for row := range 3 {
		r[row][3] = -(r[row][0]*t[0] + r[row][1]*t[1] + r[row][2]*t[2])
	}
	return r, true
}

// intersectTriangle is the Möller-Trumbore test without culling.
func intersectTriangle(o, d f32.Vec3, tri *triangle, tmin, tmax float32) (t, u, v float32, ok bool) {
	e1 := sub(tri[1], tri[0])
	e2 := sub(tri[2], tri[0])
	p := cross(d, e2)
	det := dot(e1, p)
	if det > -1e-9 && det < 1e-9 {
		return 0, 0, 0, false
	}
	inv := 1 / det
	s := sub(o, tri[0])
	u = dot(s, p) * inv
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}
	q := cross(s, e1)
	v = dot(d, q) * inv
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}
	t = dot(e2, q) * inv
	if t < tmin || t > tmax {
		return 0, 0, 0, false
	}
	return t, u, v, true
}

// intersectBox is the slab test against [lo, hi].
func intersectBox(o, invDir, lo, hi f32.Vec3, tmin, tmax float32) bool {
	for i := range 3 {
		t0 := (lo[i] - o[i]) * invDir[i]
		t1 := (hi[i] - o[i]) * invDir[i]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		// NaN from 0*Inf leaves the interval unchanged.
		if t0 == t0 && t0 > tmin {
			tmin = t0
		}
		if t1 == t1 && t1 < tmax {
			tmax = t1
		}
		if tmin > tmax {
			return false
		}
	}
	return true
}

func reciprocal(d f32.Vec3) f32.Vec3 {
	var r f32.Vec3
	for i := range 3 {
		r[i] = float32(1 / float64(d[i]))
	}
	return r
}
