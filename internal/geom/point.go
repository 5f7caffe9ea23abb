package geom

import (
	"math"
)

// Point is a vector of coordinates in k-dimensional space.
type Point []float64

func NewPoint(vec []float64) Point {
	return vec
}

func (v Point) Dimensions() int {
	return len(v)
}

func (v Point) Dim(idx int) float64 {
	return v[idx]
}

func (v Point) Points() []float64 {
	return v
}

func (v Point) Copy() Point {
	var v1 = make(Point, len(v))
	copy(v1, v)
	return v1
}

func (v Point) Sum() float64 {
	var s float64
	for i := range v {
		s += v[i]
	}
	return s
}

func (v Point) SizeEqual(vec Point) bool {
	return len(v) == len(vec)
}

func (v Point) Equal(vec Point) bool {
	if len(v) != len(vec) {
		return false
	}
	for i, value := range v {
		if vec[i] != value {
			return false
		}
	}
	return true
}

func (v Point) Max() float64 {
	if len(v) == 0 {
		return 0
	}
	max := v[0]
	for i := range v {
		if v[i] > max {
			max = v[i]
		}
	}
	return max
}

func (v Point) Min() float64 {
	if len(v) == 0 {
		return 0
	}
	min := math.MaxFloat64
	for i := range v {
		if v[i] < min {
			min = v[i]
		}
	}
	return min
}

func (v Point) Mean() float64 {
	return v.Sum() / float64(len(v))
}
