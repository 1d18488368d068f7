package config

import "maps"

// ConfigDiff describes what changed between two configs. Volume and log
// level are applied at runtime; every other change is only reported.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VolumeChanged bool
	NewVolume     int

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VolumeChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed. Both are
// expected to have defaults applied.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if ov, nv := volumeOf(old), volumeOf(new); ov != nv {
		d.VolumeChanged = true
		d.NewVolume = nv
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !equalTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Device != new.Device {
		d.RestartRequired = append(d.RestartRequired, "device")
	}
	if !equalTransport(old.Transport, new.Transport) {
		d.RestartRequired = append(d.RestartRequired, "transport")
	}
	if !equalVAD(old.VAD, new.VAD) {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if !equalSession(old.Session, new.Session) {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	op, np := old.Playback, new.Playback
	op.Volume, np.Volume = nil, nil
	if op != np {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}

	return d
}

func volumeOf(c *Config) int {
	if c.Playback.Volume == nil {
		return DefaultVolume
	}
	return *c.Playback.Volume
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTransport(a, b TransportConfig) bool {
	if a.URL != b.URL || a.AuthToken != b.AuthToken ||
		a.DialTimeout != b.DialTimeout || a.SendTimeout != b.SendTimeout ||
		a.PingInterval != b.PingInterval || a.ConnectPolls != b.ConnectPolls ||
		a.Reconnect != b.Reconnect || !equalPtr(a.MaxRetries, b.MaxRetries) {
		return false
	}
	return maps.Equal(a.Headers, b.Headers)
}

func equalVAD(a, b VADConfig) bool {
	if !equalPtr(a.IgnoreFrames, b.IgnoreFrames) || !equalPtr(a.PrerollFrames, b.PrerollFrames) {
		return false
	}
	a.IgnoreFrames, b.IgnoreFrames = nil, nil
	a.PrerollFrames, b.PrerollFrames = nil, nil
	return a == b
}

func equalSession(a, b SessionConfig) bool {
	if !equalPtr(a.Tone, b.Tone) {
		return false
	}
	a.Tone, b.Tone = nil, nil
	return a == b
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
