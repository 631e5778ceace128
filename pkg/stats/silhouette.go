package stats

import (
	"errors"
	"sort"
)

// ErrSingleCluster is returned by Silhouette when the labels do not form at
// least two non-empty clusters, or when there are fewer samples than clusters
// plus one.
var ErrSingleCluster = errors.New("silhouette needs two clusters")

// DegenerateSilhouette is the score used in place of a silhouette that
// cannot be computed.
const DegenerateSilhouette = -1.0

// Silhouette returns the mean silhouette coefficient of values split into two
// clusters by labels, using absolute distance on the single feature.
// A sample alone in its cluster contributes 0. Two samples split one and one
// have no defined score.
func Silhouette(values []float64, labels []bool) (float64, error) {
	if len(values) != len(labels) {
		return 0, ErrInsufficientData
	}

	var in, out []float64
	for i, v := range values {
		if labels[i] {
			in = append(in, v)
		} else {
			out = append(out, v)
		}
	}
	if len(in) == 0 || len(out) == 0 || len(values) < 3 {
		return 0, ErrSingleCluster
	}

	clusters := [2]*cluster{newCluster(out), newCluster(in)}

	var total float64
	for i, v := range values {
		own, other := clusters[0], clusters[1]
		if labels[i] {
			own, other = other, own
		}
		if own.size() == 1 {
			continue
		}

		// the sample itself is at distance zero and excluded from the count
		a := own.distanceSum(v) / float64(own.size()-1)
		b := other.distanceSum(v) / float64(other.size())

		denom := a
		if b > denom {
			denom = b
		}
		if denom > 0 {
			total += (b - a) / denom
		}
	}

	return total / float64(len(values)), nil
}

// SilhouetteOrDegenerate is Silhouette with single-cluster failures mapped
// to DegenerateSilhouette.
func SilhouetteOrDegenerate(values []float64, labels []bool) float64 {
	s, err := Silhouette(values, labels)
	if err != nil {
		return DegenerateSilhouette
	}
	return s
}

// cluster keeps sorted members and their prefix sums so the sum of absolute
// distances to any point costs one binary search.
type cluster struct {
	sorted []float64
	prefix []float64
}

func newCluster(values []float64) *cluster {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	prefix := make([]float64, len(sorted)+1)
	for i, v := range sorted {
		prefix[i+1] = prefix[i] + v
	}
	return &cluster{sorted: sorted, prefix: prefix}
}

func (c *cluster) size() int {
	return len(c.sorted)
}

func (c *cluster) distanceSum(v float64) float64 {
	n := len(c.sorted)
	k := sort.SearchFloat64s(c.sorted, v)
	below := v*float64(k) - c.prefix[k]
	above := (c.prefix[n] - c.prefix[k]) - v*float64(n-k)
	return below + above
}
