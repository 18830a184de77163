package indicators

// SMA calculates the simple moving average over the last window values.
// ok is false until enough samples exist; callers must not treat the zero
// value as a real average.
func SMA(values []float64, window int) (float64, bool) {
	if window <= 0 || len(values) < window {
		return 0, false
	}
	sum := 0.0
	for i := len(values) - window; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(window), true
}
