package audio

import "math"

// Energy returns the normalized RMS level of one frame in [0, 1].
// Telephony carriers stream frames continuously, silence included, so
// frame arrival alone says nothing about speech; callers gate voice
// activity on this instead.
func Energy(f Format, frame []byte) float64 {
	var (
		sum float64
		n   int
	)
	switch f.Encoding {
	case EncodingMulaw:
		for _, u := range frame {
			s := float64(DecodeMulawSample(u))
			sum += s * s
			n++
		}
	case EncodingPCM16:
		for i := 0; i+1 < len(frame); i += 2 {
			s := float64(int16(frame[i]) | int16(frame[i+1])<<8)
			sum += s * s
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum/float64(n)) / 32768
}
