package gesture

// Label identifies a recognised hand gesture.
type Label string

const (
	LabelNone       Label = "none"
	LabelThumbsUp   Label = "thumbs_up"
	LabelThumbsDown Label = "thumbs_down"
	LabelOpenPalm   Label = "open_palm"
	LabelPointing   Label = "pointing"
	LabelPeaceSign  Label = "peace_sign"
	LabelOKSign     Label = "ok_sign"
)

// Emotion is the avatar reaction tag derived from a gesture.
type Emotion string

const (
	EmotionNeutral      Emotion = "neutral"
	EmotionExcited      Emotion = "excited"
	EmotionDisappointed Emotion = "disappointed"
	EmotionReceptive    Emotion = "receptive"
	EmotionIndicating   Emotion = "indicating"
	EmotionHappy        Emotion = "happy"
	EmotionConfirming   Emotion = "confirming"
)

type labelInfo struct {
	emotion     Emotion
	description string
}

var labels = map[Label]labelInfo{
	LabelThumbsUp:   {EmotionExcited, "Thumb extended upward"},
	LabelThumbsDown: {EmotionDisappointed, "Thumb extended downward"},
	LabelOpenPalm:   {EmotionReceptive, "All fingers extended"},
	LabelPointing:   {EmotionIndicating, "Index finger extended"},
	LabelPeaceSign:  {EmotionHappy, "Index and middle extended"},
	LabelOKSign:     {EmotionConfirming, "Thumb and index touching"},
}

// Emotion returns the emotion tag mapped to l. Unrecognised labels, including
// [LabelNone], map to [EmotionNeutral].
func (l Label) Emotion() Emotion {
	if info, ok := labels[l]; ok {
		return info.emotion
	}
	return EmotionNeutral
}

// Description returns a short human-readable description of the hand shape,
// or the empty string for unrecognised labels.
func (l Label) Description() string {
	return labels[l].description
}

// IsValid reports whether l is part of the fixed gesture vocabulary.
func (l Label) IsValid() bool {
	if l == LabelNone {
		return true
	}
	_, ok := labels[l]
	return ok
}

// Thresholds holds the tunable margins of the classification rules, in
// normalized image units.
type Thresholds struct {
	// ThumbMargin is how far the thumb tip must sit above (thumbs up) or below
	// (thumbs down) the wrist.
	ThumbMargin float64 `yaml:"thumb_margin"`

	// PointMargin is how far the index tip must sit above the wrist for
	// pointing.
	PointMargin float64 `yaml:"point_margin"`

	// OKDistance is the maximum thumb-to-index tip distance for the OK sign.
	OKDistance float64 `yaml:"ok_distance"`
}

// DefaultThresholds returns the stock rule margins.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ThumbMargin: 0.2,
		PointMargin: 0.15,
		OKDistance:  0.05,
	}
}

// Classifier maps landmark sets to gesture labels. The zero value uses
// all-zero thresholds; use [NewClassifier] for the stock margins.
type Classifier struct {
	Thresholds Thresholds
}

// NewClassifier returns a Classifier with the given thresholds.
func NewClassifier(th Thresholds) *Classifier {
	return &Classifier{Thresholds: th}
}

// Classify evaluates the rules in priority order and returns the first
// matching label, or [LabelNone]. It is a pure function of its inputs.
func (c *Classifier) Classify(ls *LandmarkSet) Label {
	if ls == nil {
		return LabelNone
	}
	th := c.Thresholds
	wrist := ls[Wrist].Y
	thumb, index, middle, ring, pinky := ls[ThumbTip], ls[IndexTip], ls[MiddleTip], ls[RingTip], ls[PinkyTip]

	above := func(p Point) bool { return p.Y < wrist }
	atOrBelow := func(p Point) bool { return p.Y >= wrist }

	switch {
	case thumb.Y < wrist-th.ThumbMargin && index.Y > middle.Y:
		return LabelThumbsUp
	case thumb.Y > wrist+th.ThumbMargin && above(index):
		return LabelThumbsDown
	case above(index) && above(middle) && above(ring) && above(pinky):
		return LabelOpenPalm
	case index.Y < wrist-th.PointMargin && atOrBelow(middle) && atOrBelow(ring):
		return LabelPointing
	case above(index) && above(middle) && atOrBelow(ring) && atOrBelow(pinky):
		return LabelPeaceSign
	case thumb.Distance(index) < th.OKDistance && above(middle):
		return LabelOKSign
	}
	return LabelNone
}
