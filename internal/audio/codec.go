package audio

import (
	"fmt"
	"slices"
)

type Codec string

const (
	CodecPCM      Codec = "pcm"
	CodecPCM16    Codec = "pcm16"
	CodecWAV      Codec = "wav"
	CodecFloat32  Codec = "float32"
	CodecG711Ulaw Codec = "g711_ulaw"
	CodecG711Alaw Codec = "g711_alaw"
)

// decoder holds a codec's decode function and its fixed output sample rate.
// A rate of 0 means "use the caller-supplied sampleRate". Decoders that can
// discover the rate from the payload (WAV) return it as the second value.
type decoder struct {
	fn   func([]byte) ([]float32, int)
	rate int
}

var decoders = map[Codec]decoder{
	CodecPCM:      {fn: withRate(decodePCM), rate: 0},
	CodecPCM16:    {fn: withRate(decodePCM), rate: 0},
	CodecWAV:      {fn: decodeWAV, rate: 0},
	CodecFloat32:  {fn: withRate(decodeFloat32), rate: 0},
	CodecG711Ulaw: {fn: withRate(decodeG711Ulaw), rate: 8000},
	CodecG711Alaw: {fn: withRate(decodeG711Alaw), rate: 8000},
}

func withRate(fn func([]byte) []float32) func([]byte) ([]float32, int) {
	return func(b []byte) ([]float32, int) { return fn(b), 0 }
}

// ParseCodec maps a wire format name to a known codec.
func ParseCodec(name string) (Codec, error) {
	c := Codec(name)
	if _, ok := decoders[c]; !ok {
		return "", fmt.Errorf("unsupported codec: %s", name)
	}
	return c, nil
}

// Codecs lists the supported input codec names, sorted.
func Codecs() []string {
	names := make([]string, 0, len(decoders))
	for c := range decoders {
		names = append(names, string(c))
	}
	slices.Sort(names)
	return names
}

// Decode converts encoded audio bytes to float32 PCM samples normalized to [-1, 1].
// Returns samples and the sample rate.
func Decode(data []byte, codec Codec, sampleRate int) ([]float32, int, error) {
	dec, ok := decoders[codec]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported codec: %s", codec)
	}
	samples, found := dec.fn(data)
	rate := dec.rate
	if found > 0 {
		rate = found
	}
	if rate == 0 {
		rate = sampleRate
	}
	return samples, rate, nil
}
