package audio

import (
	"math"
	"sync"
)

const filterTaps = 31

// Resample converts samples from srcRate to dstRate by linear interpolation
// wrapped in a windowed-sinc low-pass: before interpolation when
// downsampling, after it when upsampling. Matching rates return the input.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 || srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	f := filterFor(srcRate, dstRate)
	if srcRate > dstRate {
		samples = f.apply(samples)
	}
	out := stretch(samples, float64(srcRate)/float64(dstRate))
	if dstRate > srcRate {
		out = f.apply(out)
	}
	return out
}

type ratePair struct{ src, dst int }

// filters caches one kernel per rate pair; a connection resamples every
// chunk with the same pair.
var filters sync.Map

func filterFor(src, dst int) *firFilter {
	key := ratePair{src, dst}
	if f, ok := filters.Load(key); ok {
		return f.(*firFilter)
	}
	cutoff := float64(min(src, dst)) / 2
	f, _ := filters.LoadOrStore(key, newLowPass(cutoff/float64(max(src, dst)), filterTaps))
	return f.(*firFilter)
}

type firFilter struct {
	kernel []float32
}

// newLowPass builds a unity-gain Blackman-windowed sinc kernel. fc is the
// cutoff as a fraction of the sample rate.
func newLowPass(fc float64, taps int) *firFilter {
	half := taps / 2
	kernel := make([]float32, taps)
	span := float64(taps - 1)

	var sum float64
	for i := range taps {
		n := float64(i - half)
		sinc := 1.0
		if n != 0 {
			x := 2 * math.Pi * fc * n
			sinc = math.Sin(x) / x
		}
		w := 0.42 - 0.5*math.Cos(2*math.Pi*float64(i)/span) + 0.08*math.Cos(4*math.Pi*float64(i)/span)
		kernel[i] = float32(sinc * w)
		sum += sinc * w
	}
	scale := float32(1 / sum)
	for i := range kernel {
		kernel[i] *= scale
	}
	return &firFilter{kernel: kernel}
}

// apply convolves samples with the kernel. Taps falling outside the input
// are skipped.
func (f *firFilter) apply(samples []float32) []float32 {
	taps := len(f.kernel)
	half := taps / 2
	out := make([]float32, len(samples))
	for i := range samples {
		var sum float32
		for j := max(0, half-i); j < min(taps, len(samples)-i+half); j++ {
			sum += samples[i+j-half] * f.kernel[j]
		}
		out[i] = sum
	}
	return out
}

// stretch resamples by ratio = src/dst using linear interpolation.
func stretch(samples []float32, ratio float64) []float32 {
	out := make([]float32, int(float64(len(samples))/ratio))
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}
