package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n, rate int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("g711_ulaw")
	require.NoError(t, err)
	assert.Equal(t, CodecG711Ulaw, c)

	_, err = ParseCodec("aac")
	assert.Error(t, err)
	assert.Contains(t, Codecs(), "pcm")
}

func TestDecodePCMUsesCallerRate(t *testing.T) {
	pcm := EncodePCM16([]float32{0, 0.5, -0.5})
	samples, rate, err := Decode(pcm, CodecPCM, 24000)
	require.NoError(t, err)
	assert.Equal(t, 24000, rate)
	require.Len(t, samples, 3)
	assert.InDelta(t, 0.5, samples[1], 0.001)
	assert.InDelta(t, -0.5, samples[2], 0.001)
}

func TestDecodeG711FixedRate(t *testing.T) {
	_, rate, err := Decode([]byte{0xff, 0x7f}, CodecG711Ulaw, 16000)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
}

func TestWAVRoundTripReadsHeaderRate(t *testing.T) {
	wav := SamplesToWAV(sine(160, 8000, 0.4), 8000)
	samples, rate, err := Decode(wav, CodecWAV, 16000)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	assert.Len(t, samples, 160)
}

func TestWAVContinuationChunkIsRawPCM(t *testing.T) {
	samples, rate, err := Decode(EncodePCM16([]float32{0.25, 0.25}), CodecWAV, 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Len(t, samples, 2)
}

func TestResampleLength(t *testing.T) {
	out := Resample(sine(8000, 8000, 0.5), 8000, 16000)
	assert.Len(t, out, 16000)
	assert.Len(t, Resample(out, 16000, 16000), 16000)
}

func TestSpeechGate(t *testing.T) {
	g := DefaultSpeechGate()
	assert.True(t, g.HasSpeech(sine(16000, 16000, 0.3), 16000))
	assert.False(t, g.HasSpeech(make([]float32, 16000), 16000))
	assert.False(t, g.HasSpeech(sine(80, 16000, 0.3), 16000))
}

func TestG711Expansion(t *testing.T) {
	assert.Equal(t, int16(0), expandUlaw(0xFF))
	assert.Equal(t, int16(-32124), expandUlaw(0x00))
	assert.Equal(t, int16(32124), expandUlaw(0x80))
	assert.Equal(t, int16(8), expandAlaw(0xD5))
	assert.Equal(t, int16(-8), expandAlaw(0x55))
}

func TestResampleDownKeepsTone(t *testing.T) {
	out := Resample(sine(4800, 48000, 0.5), 48000, 16000)
	require.Len(t, out, 1600)
	var peak float32
	for _, s := range out[100:1500] {
		peak = max(peak, s)
	}
	assert.InDelta(t, 0.5, peak, 0.05)
	assert.Empty(t, Resample(nil, 8000, 16000))
}
