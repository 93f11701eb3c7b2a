package detector

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/drowsyguard/internal/drowsiness"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu    sync.Mutex
	faces []FaceLandmarks
	err   error
	calls int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetFaces sets the faces that will be returned by Detect.
func (m *MockDetector) SetFaces(faces []FaceLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces = faces
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured faces or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]FaceLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.faces, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// OpenEyesLandmarks returns a preset face whose eyes have an openness of about 0.30.
func OpenEyesLandmarks() FaceLandmarks {
	return syntheticFace(0.30)
}

// ClosedEyesLandmarks returns a preset face whose eyes have an openness of about 0.08.
func ClosedEyesLandmarks() FaceLandmarks {
	return syntheticFace(0.08)
}

// syntheticFace lays out a 478-point mesh in normalized image coordinates.
// Only the eye landmarks are meaningful; every other point sits at the face center.
func syntheticFace(openness float64) FaceLandmarks {
	face := FaceLandmarks{
		Points: make([]drowsiness.Point2D, NumRefinedFaceMeshLandmarks),
		Score:  0.97,
	}
	for i := range face.Points {
		face.Points[i] = drowsiness.Point2D{X: 0.5, Y: 0.5}
	}

	// Eyes are 0.08 wide; lid separation scales with openness.
	const width = 0.08
	half := openness * width / 2
	idx := drowsiness.DefaultEyeIndices()

	place := func(eye [drowsiness.NumEyePoints]int, outerX, dir float64) {
		y := 0.42
		face.Points[eye[drowsiness.OuterCorner]] = drowsiness.Point2D{X: outerX, Y: y}
		face.Points[eye[drowsiness.UpperOuterLid]] = drowsiness.Point2D{X: outerX + dir*width/3, Y: y - half}
		face.Points[eye[drowsiness.UpperInnerLid]] = drowsiness.Point2D{X: outerX + dir*2*width/3, Y: y - half}
		face.Points[eye[drowsiness.InnerCorner]] = drowsiness.Point2D{X: outerX + dir*width, Y: y}
		face.Points[eye[drowsiness.LowerInnerLid]] = drowsiness.Point2D{X: outerX + dir*2*width/3, Y: y + half}
		face.Points[eye[drowsiness.LowerOuterLid]] = drowsiness.Point2D{X: outerX + dir*width/3, Y: y + half}
	}
	place(idx.Left, 0.34, 1)
	place(idx.Right, 0.66, -1)

	return face
}
