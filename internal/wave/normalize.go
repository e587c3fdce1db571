package wave

// Normalize converts int16 PCM samples to float32 amplitudes. The divisor is
// 32768 (not 32767) so that math.MinInt16 maps exactly to -1.0.
func Normalize(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
