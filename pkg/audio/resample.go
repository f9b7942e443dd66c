package audio

// Resample converts mono PCM16 little-endian audio between sample rates using
// linear interpolation. Telephone audio has no content above 4kHz, so a
// cheap interpolator is sufficient for the 8kHz⇄16kHz hop the bridge makes.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return pcm
	}
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}

	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	outN := int(int64(n) * int64(toRate) / int64(fromRate))
	if outN == 0 {
		return nil
	}
	out := make([]byte, outN*2)
	step := float64(fromRate) / float64(toRate)
	for i := 0; i < outN; i++ {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= n-1 {
			s := samples[n-1]
			out[i*2] = byte(s)
			out[i*2+1] = byte(s >> 8)
			continue
		}
		frac := pos - float64(idx)
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		s := int16(a + (b-a)*frac)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
