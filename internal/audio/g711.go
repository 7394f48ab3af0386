package audio

import (
	"math"
	"sync"
)

// g711Tables expands every 8-bit G.711 code to linear 16-bit PCM, built on first use.
var g711Tables = sync.OnceValues(func() (ulaw, alaw *[256]int16) {
	ulaw, alaw = new([256]int16), new([256]int16)
	for i := range 256 {
		ulaw[i] = expandUlaw(byte(i))
		alaw[i] = expandAlaw(byte(i))
	}
	return ulaw, alaw
})

func expandUlaw(b byte) int16 {
	b = ^b
	exponent := int16(b>>4) & 0x07
	mantissa := int16(b & 0x0F)
	magnitude := (mantissa<<3+0x84)<<exponent - 0x84
	if b&0x80 != 0 {
		return -magnitude
	}
	return magnitude
}

func expandAlaw(b byte) int16 {
	b ^= 0x55
	negative := b&0x80 == 0
	exponent := int16(b>>4) & 0x07
	mantissa := int16(b & 0x0F)

	magnitude := mantissa<<4 + 8
	if exponent > 0 {
		magnitude = (mantissa<<4 + 0x108) << (exponent - 1)
	}
	if negative {
		return -magnitude
	}
	return magnitude
}

func expandWith(table *[256]int16, data []byte) []float32 {
	samples := make([]float32, len(data))
	for i, b := range data {
		samples[i] = float32(table[b]) / math.MaxInt16
	}
	return samples
}

func decodeG711Ulaw(data []byte) []float32 {
	ulaw, _ := g711Tables()
	return expandWith(ulaw, data)
}

func decodeG711Alaw(data []byte) []float32 {
	_, alaw := g711Tables()
	return expandWith(alaw, data)
}
