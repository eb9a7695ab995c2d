package types

import "math"

// Vec3 三维向量
type Vec3 struct {
	X, Y, Z float64
}

// Add 向量加
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub 向量减
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale 数乘
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Len 向量长度
func (v Vec3) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Distance 两点距离
func (v Vec3) Distance(o Vec3) float64 {
	return v.Sub(o).Len()
}

// Lerp 线性插值，t 取 [0,1]
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	return v.Add(o.Sub(v).Scale(t))
}

// ClampLen 将向量长度限制在 limit 以内
func (v Vec3) ClampLen(limit float64) Vec3 {
	l := v.Len()
	if l <= limit || l == 0 {
		return v
	}
	return v.Scale(limit / l)
}

// IsFinite 所有分量均为有限值
func (v Vec3) IsFinite() bool {
	for _, c := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Quat 四元数旋转
type Quat struct {
	X, Y, Z, W float64
}

// IdentityQuat 单位旋转
func IdentityQuat() Quat {
	return Quat{W: 1}
}

func (q Quat) dot(o Quat) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// Normalize 归一化，零四元数返回单位旋转
func (q Quat) Normalize() Quat {
	n := math.Sqrt(q.dot(q))
	if n == 0 {
		return IdentityQuat()
	}
	return Quat{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

// Nlerp 归一化线性插值，沿最短弧
func (q Quat) Nlerp(o Quat, t float64) Quat {
	if q.dot(o) < 0 {
		o = Quat{-o.X, -o.Y, -o.Z, -o.W}
	}
	return Quat{
		X: q.X + (o.X-q.X)*t,
		Y: q.Y + (o.Y-q.Y)*t,
		Z: q.Z + (o.Z-q.Z)*t,
		W: q.W + (o.W-q.W)*t,
	}.Normalize()
}
