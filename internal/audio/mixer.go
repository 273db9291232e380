package audio

import "math"

// Mix sums two buffers sample by sample, saturating at the int16 range.
// The result has the length of the shorter input.
func Mix(a, b []int16) []int16 {
	n := min(len(a), len(b))
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = clamp16(int32(a[i]) + int32(b[i]))
	}
	return out
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Peak returns the largest absolute sample value.
func Peak(buf []int16) int {
	peak := 0
	for _, s := range buf {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// IsSilent reports whether no sample in buf exceeds threshold. An empty
// buffer is silent.
func IsSilent(buf []int16, threshold int) bool {
	return Peak(buf) <= threshold
}
