package gesture_test

import (
	"testing"

	"github.com/MrWong99/avatarlive/pkg/gesture"
)

// hand builds a landmark set with the wrist at y=0.8 and every fingertip
// parked on the wrist line, then applies the given tip overrides.
func hand(tips map[int]gesture.Point) *gesture.LandmarkSet {
	var ls gesture.LandmarkSet
	for i := range ls {
		ls[i] = gesture.Point{X: 0.5, Y: 0.8}
	}
	for idx, p := range tips {
		ls[idx] = p
	}
	return &ls
}

func TestClassify_Rules(t *testing.T) {
	t.Parallel()
	c := gesture.NewClassifier(gesture.DefaultThresholds())

	tests := []struct {
		name string
		tips map[int]gesture.Point
		want gesture.Label
	}{
		{
			name: "thumbs up: thumb 0.3 above wrist, index below middle",
			tips: map[int]gesture.Point{
				gesture.ThumbTip:  {X: 0.4, Y: 0.5},
				gesture.IndexTip:  {X: 0.5, Y: 0.75},
				gesture.MiddleTip: {X: 0.5, Y: 0.7},
			},
			want: gesture.LabelThumbsUp,
		},
		{
			name: "thumbs down: thumb 0.3 below wrist, index above wrist",
			tips: map[int]gesture.Point{
				gesture.ThumbTip: {X: 0.4, Y: 1.1},
				gesture.IndexTip: {X: 0.5, Y: 0.7},
			},
			want: gesture.LabelThumbsDown,
		},
		{
			name: "open palm: all fingertips above wrist, thumb within margin",
			tips: map[int]gesture.Point{
				gesture.ThumbTip:  {X: 0.3, Y: 0.7},
				gesture.IndexTip:  {X: 0.4, Y: 0.4},
				gesture.MiddleTip: {X: 0.5, Y: 0.35},
				gesture.RingTip:   {X: 0.6, Y: 0.4},
				gesture.PinkyTip:  {X: 0.7, Y: 0.5},
			},
			want: gesture.LabelOpenPalm,
		},
		{
			name: "pointing: index well above, middle and ring at wrist",
			tips: map[int]gesture.Point{
				gesture.ThumbTip: {X: 0.3, Y: 0.85},
				gesture.IndexTip: {X: 0.5, Y: 0.5},
				gesture.PinkyTip: {X: 0.7, Y: 0.9},
			},
			want: gesture.LabelPointing,
		},
		{
			name: "peace sign: index and middle above, ring and pinky below",
			tips: map[int]gesture.Point{
				gesture.ThumbTip:  {X: 0.3, Y: 0.85},
				gesture.IndexTip:  {X: 0.45, Y: 0.5},
				gesture.MiddleTip: {X: 0.55, Y: 0.45},
				gesture.RingTip:   {X: 0.6, Y: 0.9},
				gesture.PinkyTip:  {X: 0.7, Y: 0.9},
			},
			want: gesture.LabelPeaceSign,
		},
		{
			name: "ok sign: thumb touches index, middle above wrist",
			tips: map[int]gesture.Point{
				gesture.ThumbTip:  {X: 0.5, Y: 0.82},
				gesture.IndexTip:  {X: 0.51, Y: 0.83},
				gesture.MiddleTip: {X: 0.5, Y: 0.5},
				gesture.RingTip:   {X: 0.6, Y: 0.5},
				gesture.PinkyTip:  {X: 0.7, Y: 0.85},
			},
			want: gesture.LabelOKSign,
		},
		{
			name: "none: relaxed fist on the wrist line",
			tips: map[int]gesture.Point{
				gesture.ThumbTip: {X: 0.2, Y: 0.9},
			},
			want: gesture.LabelNone,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := c.Classify(hand(tc.tips)); got != tc.want {
				t.Errorf("Classify = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassify_PriorityOrder(t *testing.T) {
	t.Parallel()
	c := gesture.NewClassifier(gesture.DefaultThresholds())

	// Satisfies both thumbs up and open palm; thumbs up is evaluated first.
	ls := hand(map[int]gesture.Point{
		gesture.ThumbTip:  {Y: 0.4},
		gesture.IndexTip:  {Y: 0.5},
		gesture.MiddleTip: {Y: 0.45},
		gesture.RingTip:   {Y: 0.5},
		gesture.PinkyTip:  {Y: 0.6},
	})
	if got := c.Classify(ls); got != gesture.LabelThumbsUp {
		t.Errorf("Classify = %q, want %q", got, gesture.LabelThumbsUp)
	}
}

func TestClassify_ThumbMarginIsStrict(t *testing.T) {
	t.Parallel()
	c := gesture.NewClassifier(gesture.Thresholds{ThumbMargin: 0.25})

	ls := hand(map[int]gesture.Point{
		gesture.ThumbTip:  {Y: 0.6}, // 0.2 above wrist, inside the 0.25 margin
		gesture.IndexTip:  {Y: 0.75},
		gesture.MiddleTip: {Y: 0.7},
	})
	if got := c.Classify(ls); got == gesture.LabelThumbsUp {
		t.Errorf("Classify = %q with thumb inside the margin", got)
	}
}

func TestClassify_Nil(t *testing.T) {
	t.Parallel()
	var c gesture.Classifier
	if got := c.Classify(nil); got != gesture.LabelNone {
		t.Errorf("Classify(nil) = %q, want none", got)
	}
}

func TestLabel_Emotion(t *testing.T) {
	t.Parallel()
	tests := map[gesture.Label]gesture.Emotion{
		gesture.LabelThumbsUp:   gesture.EmotionExcited,
		gesture.LabelThumbsDown: gesture.EmotionDisappointed,
		gesture.LabelOpenPalm:   gesture.EmotionReceptive,
		gesture.LabelPointing:   gesture.EmotionIndicating,
		gesture.LabelPeaceSign:  gesture.EmotionHappy,
		gesture.LabelOKSign:     gesture.EmotionConfirming,
		gesture.LabelNone:       gesture.EmotionNeutral,
		gesture.Label("wave"):   gesture.EmotionNeutral,
	}
	for label, want := range tests {
		if got := label.Emotion(); got != want {
			t.Errorf("%q.Emotion() = %q, want %q", label, got, want)
		}
	}
	if gesture.LabelOKSign.Description() == "" {
		t.Error("ok_sign has no description")
	}
	if gesture.Label("wave").IsValid() {
		t.Error("unknown label reported valid")
	}
}

func TestPoint_Distance(t *testing.T) {
	t.Parallel()
	d := gesture.Point{X: 0, Y: 0, Z: 0}.Distance(gesture.Point{X: 3, Y: 4, Z: 12})
	if d != 13 {
		t.Errorf("Distance = %v, want 13", d)
	}
}
