package audio

import (
	"encoding/binary"
	"math"
)

// DecodePCM16 converts little-endian 16-bit PCM bytes into samples.
// A trailing odd byte is ignored.
func DecodePCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return samples
}

// EncodePCM16 converts samples into little-endian 16-bit PCM bytes.
func EncodePCM16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(s))
	}
	return data
}

// RMS computes the root-mean-square energy of 16-bit PCM data.
// Returns 0 for buffers shorter than one sample.
func RMS(data []byte) float64 {
	if len(data) < 2 {
		return 0
	}
	var sum float64
	n := 0
	for i := 0; i+1 < len(data); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(data[i : i+2])))
		sum += v * v
		n++
	}
	return math.Sqrt(sum / float64(n))
}
