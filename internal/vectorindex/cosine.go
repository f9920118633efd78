package vectorindex

import "math"

// IsZero reports whether v is the "no embedding" sentinel.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either has zero norm or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func squaredDistance(a []float32, b []float64) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - b[i]
		sum += d * d
	}
	return sum
}
