package config

import "github.com/MrWong99/avatarlive/pkg/gesture"

// ConfigDiff describes what changed between two configs. Only the log level
// and the gesture tuning are applied live; any other change is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	GestureChanged bool
	NewThresholds  gesture.Thresholds
	NewTiming      gesture.Timing

	// RestartRequired names the sections whose changes only take effect on
	// the next start.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.GestureChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	og, ng := old.Gesture, new.Gesture
	if og.Thresholds != ng.Thresholds || og.Timing != ng.Timing {
		d.GestureChanged = true
		d.NewThresholds = ng.Thresholds
		d.NewTiming = ng.Timing
	}

	oldSrv, newSrv := old.Server, new.Server
	if oldSrv.ListenAddr != newSrv.ListenAddr || oldSrv.MDNS != newSrv.MDNS || oldSrv.MDNSName != newSrv.MDNSName || !sameTLS(oldSrv.TLS, newSrv.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameLive(old.Live, new.Live) {
		d.RestartRequired = append(d.RestartRequired, "live")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if og.Landmarks != ng.Landmarks || og.FrameInterval != ng.FrameInterval || og.SpeakGestures != ng.SpeakGestures {
		d.RestartRequired = append(d.RestartRequired, "gesture")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameLive(a, b LiveConfig) bool {
	if a.SetupAck() != b.SetupAck() {
		return false
	}
	a.AwaitSetupAck, b.AwaitSetupAck = nil, nil
	return a == b
}
