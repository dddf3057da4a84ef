// Package embedding defines the fixed-length face feature vector and the
// similarity engine used to compare two vectors against a decision policy.
package embedding

import "math"

// Vector is an ordered, fixed-length sequence of model outputs. It has no
// inherent identity; it is only meaningful in comparison with another
// vector of equal length.
type Vector []float32

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Magnitude returns the L2 norm of v.
func (v Vector) Magnitude() float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Confidence derives a diagnostic confidence in [0,1] from the vector
// magnitude. It is reported and logged but never gates an accept/reject
// decision.
func Confidence(v Vector) float64 {
	return math.Min(v.Magnitude()/10, 1.0)
}
