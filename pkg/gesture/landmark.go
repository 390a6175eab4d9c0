// Package gesture turns per-frame hand landmarks into discrete gesture
// events.
//
// A [Classifier] maps one [LandmarkSet] to a [Label] using a fixed, ordered
// rule set. A [Debouncer] filters the raw label stream with a re-affirmation
// interval and an emission cooldown so that downstream reactions (avatar
// speech, server notifications) fire at most once per cooldown window.
//
// Coordinates follow the hand-tracking convention of normalized image space:
// x grows to the right and y grows downward, so a point "above" the wrist has
// a smaller y than the wrist.
package gesture

import "math"

// NumLandmarks is the number of tracked points per detected hand.
const NumLandmarks = 21

// Landmark indices used by the classifier.
const (
	Wrist     = 0
	ThumbTip  = 4
	IndexTip  = 8
	MiddleTip = 12
	RingTip   = 16
	PinkyTip  = 20
)

// Point is a single normalized 3D landmark.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	dx, dy, dz := p.X-q.X, p.Y-q.Y, p.Z-q.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// LandmarkSet holds the landmarks of one hand for one video frame. It is
// produced and consumed within a single classification cycle.
type LandmarkSet [NumLandmarks]Point
