// Package audio converts between the telephony carrier's audio shape and the
// speech agent's expected format, and provides the bounded buffers the
// real-time path is built on.
package audio

// Encoding identifies a wire audio encoding.
type Encoding string

const (
	// EncodingMulaw is G.711 µ-law, 8-bit samples. The usual carrier format.
	EncodingMulaw Encoding = "mulaw"
	// EncodingPCM16 is 16-bit signed little-endian PCM.
	EncodingPCM16 Encoding = "pcm16"
)

// Format specifies audio format parameters for one side of the bridge.
type Format struct {
	Encoding     Encoding `json:"encoding" yaml:"encoding"`
	SampleRateHz int      `json:"sample_rate_hz" yaml:"sample_rate_hz"`
	Channels     int      `json:"channels" yaml:"channels"`
}

// CarrierDefault is the telephony-standard format: µ-law mono at 8kHz.
func CarrierDefault() Format {
	return Format{Encoding: EncodingMulaw, SampleRateHz: 8000, Channels: 1}
}

// AgentDefault is the speech agent's expected format: PCM16 mono at 16kHz.
func AgentDefault() Format {
	return Format{Encoding: EncodingPCM16, SampleRateHz: 16000, Channels: 1}
}

// BytesPerSample returns the size of one sample in bytes.
func (f Format) BytesPerSample() int {
	if f.Encoding == EncodingMulaw {
		return 1
	}
	return 2
}

// BytesPerSecond returns the audio byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRateHz * f.Channels * f.BytesPerSample()
}

// DurationMs returns the duration in milliseconds of the given byte count.
func (f Format) DurationMs(bytes int) int {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return (bytes * 1000) / bps
}

// BytesForDurationMs returns the byte count for the given duration.
func (f Format) BytesForDurationMs(ms int) int {
	return (f.BytesPerSecond() * ms) / 1000
}

// Valid reports whether the format is usable by the bridge.
func (f Format) Valid() bool {
	switch f.Encoding {
	case EncodingMulaw, EncodingPCM16:
	default:
		return false
	}
	return f.SampleRateHz > 0 && f.Channels == 1
}
