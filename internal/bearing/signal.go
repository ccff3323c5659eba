package bearing

import "math"

// centered converts to float64 and removes the DC offset.
func centered(samples []float32) []float64 {
	var mean float64
	for _, s := range samples {
		mean += float64(s)
	}
	mean /= float64(len(samples))

	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) - mean
	}
	return out
}

func energy(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(energy(x) / float64(len(x)))
}

// crossCorrelation returns sum(l[n] * r[n+lag]) over the overlapping range.
func crossCorrelation(l, r []float64, lag int) float64 {
	start, end := 0, len(l)
	if lag > 0 {
		end = len(l) - lag
	} else {
		start = -lag
	}
	var sum float64
	for n := start; n < end; n++ {
		sum += l[n] * r[n+lag]
	}
	return sum
}

// parabolicPeak fits a parabola through three equally spaced points around a
// maximum and returns the vertex offset in (-0.5, 0.5) and its height.
func parabolicPeak(ym1, y0, yp1 float64) (offset, peak float64) {
	denom := ym1 - 2*y0 + yp1
	if denom == 0 {
		return 0, y0
	}
	offset = 0.5 * (ym1 - yp1) / denom
	offset = clamp(offset, -0.5, 0.5)
	peak = y0 - 0.25*(ym1-yp1)*offset
	return offset, peak
}

// sidelobePeak returns the highest local maximum of corr outside the lobe
// around best, or -1 when there is none. An edge sample still rising away
// from the lobe counts as a maximum since the true alias peak lies beyond it.
func sidelobePeak(corr []float64, best int) float64 {
	lo, hi := best, best
	for lo > 0 && corr[lo-1] <= corr[lo] {
		lo--
	}
	for hi < len(corr)-1 && corr[hi+1] <= corr[hi] {
		hi++
	}

	second := -1.0
	for i, v := range corr {
		if i >= lo && i <= hi {
			continue
		}
		if (i == 0 || v >= corr[i-1]) && (i == len(corr)-1 || v >= corr[i+1]) {
			second = max(second, v)
		}
	}
	return second
}

// zeroCrossingFrequency estimates the dominant frequency of a zero-mean signal.
func zeroCrossingFrequency(x []float64, sampleRate int) float64 {
	if len(x) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(x); i++ {
		if (x[i-1] < 0) != (x[i] < 0) {
			crossings++
		}
	}
	duration := float64(len(x)) / float64(sampleRate)
	return float64(crossings) / (2 * duration)
}

func identical(a, b []float32) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func radians(deg float64) float64 { return deg * math.Pi / 180 }
