package vectorindex

import (
	"math"
	"math/rand"
)

const (
	kmeansMaxIterations = 100
	kmeansTolerance     = 1e-6
)

// KMeans partitions vectors into at most n clusters and returns the member
// ids per cluster index. ids[i] names vectors[i]. With fewer than two points,
// or fewer points than n, everything lands in cluster 0.
//
// Centroids start at n distinct points drawn from rng. Points go to the
// nearest centroid by Euclidean distance (lowest index on ties). A cluster
// that loses all its points keeps its previous centroid.
func KMeans(ids []string, vectors [][]float32, n int, rng *rand.Rand) map[int][]string {
	out := make(map[int][]string)
	if len(ids) == 0 {
		return out
	}
	if n <= 1 || len(ids) < 2 || len(ids) < n {
		out[0] = append([]string(nil), ids...)
		return out
	}

	dim := len(vectors[0])
	centroids := make([][]float64, n)
	for c, idx := range rng.Perm(len(vectors))[:n] {
		centroids[c] = make([]float64, dim)
		for d, x := range vectors[idx] {
			centroids[c][d] = float64(x)
		}
	}

	assign := make([]int, len(vectors))
	for iter := 0; iter < kmeansMaxIterations; iter++ {
		for i, v := range vectors {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := squaredDistance(v, centroid); d < bestDist {
					best, bestDist = c, d
				}
			}
			assign[i] = best
		}

		sums := make([][]float64, n)
		counts := make([]int, n)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assign[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += float64(x)
			}
		}

		var maxShift float64
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			var shift float64
			for d := range sums[c] {
				next := sums[c][d] / float64(counts[c])
				delta := next - centroids[c][d]
				shift += delta * delta
				centroids[c][d] = next
			}
			maxShift = math.Max(maxShift, math.Sqrt(shift))
		}
		if maxShift < kmeansTolerance {
			break
		}
	}

	for i, c := range assign {
		out[c] = append(out[c], ids[i])
	}
	return out
}
