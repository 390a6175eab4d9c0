package app

import (
	"log/slog"

	"github.com/MrWong99/avatarlive/pkg/gesture"
)

// EventSink receives the user-facing output of a running pipeline: text
// replies and transcriptions, and debounced gesture events. Methods are
// called from the orchestrator's loops and must not block for long.
type EventSink interface {
	// Transcript delivers one text reply. sender is [live.SenderModel] or
	// [live.SenderUser].
	Transcript(sender, text string)

	// Gesture delivers one emitted gesture event.
	Gesture(ev gesture.Event)
}

// LogSink is an [EventSink] that writes everything to a structured logger.
type LogSink struct {
	// Logger receives the events. Nil means [slog.Default].
	Logger *slog.Logger
}

var _ EventSink = (*LogSink)(nil)

func (s *LogSink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Transcript implements [EventSink].
func (s *LogSink) Transcript(sender, text string) {
	s.logger().Info("transcript", "sender", sender, "text", text)
}

// Gesture implements [EventSink].
func (s *LogSink) Gesture(ev gesture.Event) {
	s.logger().Info("gesture",
		"label", ev.Label,
		"emotion", ev.Emotion,
		"description", ev.Label.Description(),
		"at", ev.Timestamp,
	)
}
