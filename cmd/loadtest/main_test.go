package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	data := []float64{5, 1, 4, 2, 3}
	assert.Equal(t, 3.0, percentile(data, 50))
	assert.Equal(t, 5.0, percentile(data, 99))
	assert.Equal(t, 1.0, percentile(data, 0))
}

func TestSyntheticAudioLength(t *testing.T) {
	pcm := generateSyntheticAudio(2 * time.Second)
	assert.Len(t, pcm, 2*sampleRate*2)
}
