package drowsiness

import "math"

const (
	// DegenerateEpsilon is the smallest corner-to-corner eye width that is
	// still divided by.
	DegenerateEpsilon = 1e-6

	// SentinelOpenness is reported for degenerate eye geometry. It is above
	// any sane threshold so the frame counts as open.
	SentinelOpenness = 1.0
)

// distance calculates the Euclidean distance between two points.
func distance(a, b Point2D) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Openness computes the eye aspect ratio of a contour:
//
//	(|p1-p5| + |p2-p4|) / (2 * |p0-p3|)
//
// Near-zero eye width yields SentinelOpenness instead of dividing.
func Openness(c EyeContour) float64 {
	a := distance(c[UpperOuterLid], c[LowerOuterLid])
	b := distance(c[UpperInnerLid], c[LowerInnerLid])
	w := distance(c[OuterCorner], c[InnerCorner])

	if w < DegenerateEpsilon || math.IsNaN(w) {
		return SentinelOpenness
	}

	ratio := (a + b) / (2 * w)
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return SentinelOpenness
	}
	return ratio
}

// MeanOpenness averages the openness of both eyes.
func MeanOpenness(left, right EyeContour) float64 {
	return (Openness(left) + Openness(right)) / 2
}
