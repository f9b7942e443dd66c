package audio

// G.711 µ-law codec. 8-bit companded samples at the carrier side, 16-bit
// signed little-endian PCM at the agent side.

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// EncodeMulawSample compands one 16-bit PCM sample to µ-law.
func EncodeMulawSample(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := 7
	for mask := 0x4000; exponent > 0 && s&mask == 0; exponent-- {
		mask >>= 1
	}
	mantissa := (s >> uint(exponent+3)) & 0x0F
	return byte(^(sign | exponent<<4 | mantissa))
}

// DecodeMulawSample expands one µ-law byte to a 16-bit PCM sample.
func DecodeMulawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F

	s := ((int(mantissa) << 3) + mulawBias) << exponent
	s -= mulawBias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}

// DecodeMulaw expands µ-law bytes to PCM16 little-endian.
func DecodeMulaw(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, u := range in {
		s := DecodeMulawSample(u)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// EncodeMulaw compands PCM16 little-endian to µ-law bytes.
// A trailing odd byte is ignored; callers keep PCM16 input aligned.
func EncodeMulaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = EncodeMulawSample(s)
	}
	return out
}
