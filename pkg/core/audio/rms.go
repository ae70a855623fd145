package audio

import "math"

// CalculateRMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM, normalized to [0, 1].
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(uint16(pcm[i])|uint16(pcm[i+1])<<8)) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(samples))
}

// CalculatePeakAmplitude returns the largest absolute sample, normalized to [0, 1].
func CalculatePeakAmplitude(pcm []byte) float64 {
	var peak float64
	for i := 0; i+1 < len(pcm); i += 2 {
		// float64 before Abs so -32768 does not overflow.
		abs := math.Abs(float64(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)))
		if abs > peak {
			peak = abs
		}
	}
	return peak / 32768.0
}

// EncodePCM16 converts normalized float samples to 16-bit little-endian PCM.
// Values outside [-1, 1] are clipped.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		v := int16(math.Round(s * 32767))
		out[2*i] = byte(v)
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}
