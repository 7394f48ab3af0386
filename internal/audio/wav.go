package audio

import (
	"bytes"
	"encoding/binary"
)

const wavHeaderLen = 44

// SamplesToWAV encodes float32 PCM samples as a WAV byte slice.
func SamplesToWAV(samples []float32, sampleRate int) []byte {
	pcm := EncodePCM16(samples)
	buf := make([]byte, wavHeaderLen, wavHeaderLen+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(wavHeaderLen+len(pcm)-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	return append(buf, pcm...)
}

// decodeWAV handles both a complete RIFF payload and the headerless
// continuation chunks a streaming client sends after the first one.
func decodeWAV(data []byte) ([]float32, int) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return decodePCM(data), 0
	}
	rate := 0
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if body+8 <= len(data) {
				rate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			}
		case "data":
			end := min(len(data), body+size)
			return decodePCM(data[body:end]), rate
		}
		pos = body + size + size%2
	}
	return nil, rate
}
