package audio

import "fmt"

// Format describes a PCM stream. Capture is always 16-bit signed little endian.
type Format struct {
	// SampleRate in Hz, as reported by the device.
	SampleRate int `json:"sample_rate"`

	// Channels: capture is mono.
	Channels int `json:"channels"`

	// BitsPerSample: 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// MonoPCM16 returns the capture format at the given rate.
func MonoPCM16(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
}

// BytesPerSecond returns the audio byte rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * (f.BitsPerSample / 8)
}

// BytesPerSample returns the size of one sample across all channels.
func (f Format) BytesPerSample() int {
	return f.Channels * (f.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (f Format) DurationMs(bytes int) int {
	if f.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / f.BytesPerSecond()
}

// MIMEType returns the descriptor the live service expects for this stream.
func (f Format) MIMEType() string {
	return MIMEType(f.SampleRate)
}

// MIMEType returns the PCM descriptor for a sample rate, e.g. "audio/pcm;rate=48000".
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}
