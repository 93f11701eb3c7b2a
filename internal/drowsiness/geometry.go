// Package drowsiness turns facial landmarks into a debounced drowsy/alert
// decision with rate-limited alerts.
package drowsiness

import (
	"errors"
	"fmt"
)

// Eye contour positions following the 6-point eye aspect ratio convention.
const (
	OuterCorner   = 0
	UpperOuterLid = 1
	UpperInnerLid = 2
	InnerCorner   = 3
	LowerInnerLid = 4
	LowerOuterLid = 5
	NumEyePoints  = 6
)

var (
	// ErrNoFace is returned when a frame carries no landmarks at all.
	ErrNoFace = errors.New("no face detected")

	// ErrMalformedInput is returned when landmarks are present but cannot
	// produce both eye contours.
	ErrMalformedInput = errors.New("malformed landmark frame")
)

// Point2D is a landmark position. The unit is chosen by the caller but must
// be consistent within one frame.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EyeContour is an ordered set of 6 eye points. Order is load-bearing.
type EyeContour [NumEyePoints]Point2D

// LandmarkFrame holds every landmark of the primary face for one frame.
// A nil frame means no face was found.
type LandmarkFrame []Point2D

// EyeIndices maps each eye contour position to a landmark index.
type EyeIndices struct {
	Left  [NumEyePoints]int `json:"left"`
	Right [NumEyePoints]int `json:"right"`
}

// DefaultEyeIndices returns the MediaPipe FaceMesh eye mapping.
func DefaultEyeIndices() EyeIndices {
	return EyeIndices{
		Left:  [NumEyePoints]int{33, 160, 158, 133, 153, 144},
		Right: [NumEyePoints]int{362, 385, 387, 263, 373, 380},
	}
}

// MaxIndex returns the highest landmark index referenced by either eye.
func (e EyeIndices) MaxIndex() int {
	max := -1
	for i := 0; i < NumEyePoints; i++ {
		if e.Left[i] > max {
			max = e.Left[i]
		}
		if e.Right[i] > max {
			max = e.Right[i]
		}
	}
	return max
}

func (e EyeIndices) validate() error {
	for i := 0; i < NumEyePoints; i++ {
		if e.Left[i] < 0 || e.Right[i] < 0 {
			return fmt.Errorf("negative eye landmark index at position %d", i)
		}
	}
	return nil
}

// ExtractEyes builds the left and right eye contours from a landmark frame.
func ExtractEyes(frame LandmarkFrame, idx EyeIndices) (left, right EyeContour, err error) {
	if frame == nil {
		return left, right, ErrNoFace
	}
	if err := idx.validate(); err != nil {
		return left, right, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if need := idx.MaxIndex() + 1; len(frame) < need {
		return left, right, fmt.Errorf("%w: got %d points, need %d", ErrMalformedInput, len(frame), need)
	}

	for i := 0; i < NumEyePoints; i++ {
		left[i] = frame[idx.Left[i]]
		right[i] = frame[idx.Right[i]]
	}
	return left, right, nil
}
