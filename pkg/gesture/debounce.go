package gesture

import (
	"sync"
	"time"
)

// Default debounce timings.
const (
	DefaultReaffirmInterval = 3 * time.Second
	DefaultCooldown         = 5 * time.Second
)

// Event is a gesture that survived debouncing and cooldown. It is delivered
// once to the event sink and not retained.
type Event struct {
	Label     Label
	Emotion   Emotion
	Timestamp time.Time
}

// Decision reports what the [Debouncer] did with one classification.
type Decision int

const (
	// Ignored means the classification carried no gesture.
	Ignored Decision = iota

	// Suppressed means the label repeated the last accepted label within the
	// re-affirmation interval.
	Suppressed

	// Accepted means the label was recorded but the cooldown window was still
	// open, so nothing was emitted.
	Accepted

	// Emitted means the label was accepted and an [Event] was produced.
	Emitted
)

// String returns the human-readable name of the decision.
func (d Decision) String() string {
	switch d {
	case Ignored:
		return "ignored"
	case Suppressed:
		return "suppressed"
	case Accepted:
		return "accepted"
	case Emitted:
		return "emitted"
	default:
		return "unknown"
	}
}

// Timing holds the debounce durations.
type Timing struct {
	// ReaffirmInterval is how long the same label must persist before it is
	// accepted again.
	ReaffirmInterval time.Duration `yaml:"reaffirm_interval"`

	// Cooldown is the minimum spacing between two emissions.
	Cooldown time.Duration `yaml:"cooldown"`
}

// DefaultTiming returns the stock debounce durations.
func DefaultTiming() Timing {
	return Timing{ReaffirmInterval: DefaultReaffirmInterval, Cooldown: DefaultCooldown}
}

// Debouncer applies hysteresis and an emission cooldown to raw
// classifications. It only changes state through [Debouncer.Observe]; the
// cooldown expires by the passage of time alone.
//
// Observe is called from the landmark loop; SetTiming may be called
// concurrently from a config reload.
type Debouncer struct {
	mu            sync.Mutex
	timing        Timing
	lastLabel     Label
	lastLabelTime time.Time
	cooldownUntil time.Time
}

// NewDebouncer returns a Debouncer with the given timings.
func NewDebouncer(t Timing) *Debouncer {
	return &Debouncer{timing: t}
}

// SetTiming replaces the debounce durations. The open cooldown window keeps
// its original deadline.
func (d *Debouncer) SetTiming(t Timing) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timing = t
}

// Timing returns the current debounce durations.
func (d *Debouncer) Timing() Timing {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timing
}

// Observe feeds one classification taken at now. The returned Event is only
// meaningful when the Decision is [Emitted].
func (d *Debouncer) Observe(label Label, now time.Time) (Event, Decision) {
	if label == "" || label == LabelNone {
		return Event{}, Ignored
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	repeat := label == d.lastLabel && now.Sub(d.lastLabelTime) < d.timing.ReaffirmInterval
	if repeat {
		return Event{}, Suppressed
	}
	d.lastLabel = label
	d.lastLabelTime = now

	if now.Before(d.cooldownUntil) {
		return Event{}, Accepted
	}
	d.cooldownUntil = now.Add(d.timing.Cooldown)

	return Event{Label: label, Emotion: label.Emotion(), Timestamp: now}, Emitted
}

// Speakable reports whether an accepted label observed at now would be
// emitted.
func (d *Debouncer) Speakable(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !now.Before(d.cooldownUntil)
}
