// Package detector provides face landmark detection for drowsiness monitoring.
package detector

import "github.com/ayusman/drowsyguard/internal/drowsiness"

// Landmark counts of the MediaPipe FaceMesh model.
const (
	NumFaceMeshLandmarks        = 468
	NumRefinedFaceMeshLandmarks = 478
)

// FaceLandmarks holds the normalized landmarks of one detected face.
type FaceLandmarks struct {
	Points []drowsiness.Point2D `json:"points"`
	Score  float64              `json:"score"`
}

// Frame returns the landmarks as a frame for the drowsiness pipeline.
func (f *FaceLandmarks) Frame() drowsiness.LandmarkFrame {
	if f == nil || f.Points == nil {
		return nil
	}
	frame := make(drowsiness.LandmarkFrame, len(f.Points))
	copy(frame, f.Points)
	return frame
}

// Primary returns the frame of the first detected face, or nil when there is none.
// Only the primary face is monitored.
func Primary(faces []FaceLandmarks) drowsiness.LandmarkFrame {
	if len(faces) == 0 {
		return nil
	}
	return faces[0].Frame()
}
