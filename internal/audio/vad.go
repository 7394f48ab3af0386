package audio

import (
	"math"
	"time"
)

// SpeechGate decides whether buffered audio holds enough voiced frames to be
// worth sending to a recognizer.
type SpeechGate struct {
	ThresholdDB float64
	MinSpeech   time.Duration
	FrameSize   time.Duration
}

// DefaultSpeechGate returns thresholds tuned for close-talk microphones.
func DefaultSpeechGate() SpeechGate {
	return SpeechGate{
		ThresholdDB: -45,
		MinSpeech:   150 * time.Millisecond,
		FrameSize:   20 * time.Millisecond,
	}
}

// HasSpeech reports whether at least MinSpeech worth of frames exceed ThresholdDB.
func (g SpeechGate) HasSpeech(samples []float32, sampleRate int) bool {
	frame := int(g.FrameSize.Seconds() * float64(sampleRate))
	if frame <= 0 || sampleRate <= 0 {
		return len(samples) > 0
	}
	need := int(math.Ceil(g.MinSpeech.Seconds() * float64(sampleRate) / float64(frame)))
	voiced := 0
	for start := 0; start < len(samples); start += frame {
		end := min(len(samples), start+frame)
		if computeEnergyDB(samples[start:end]) >= g.ThresholdDB {
			voiced++
		}
		if voiced >= need {
			return true
		}
	}
	return false
}

func computeEnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
