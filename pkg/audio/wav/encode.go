// Package wav encodes PCM audio as RIFF/WAVE blobs. The check-in safety
// recorder uses it to hand captured snippets to the safety logger in a
// format any downstream sink can play.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/solacehealth/voiceloop/pkg/audio"
)

// Encode wraps raw 16-bit PCM data in a complete WAV container.
func Encode(pcm []byte, sampleRate int, numChannels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if numChannels != 1 && numChannels != 2 {
		return nil, fmt.Errorf("invalid channel count %d", numChannels)
	}

	const bitsPerSample = 16
	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate) * uint32(numChannels) * bitsPerSample / 8
	blockAlign := uint16(numChannels) * bitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, dataSize+36)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// EncodeFrames concatenates frames and wraps them in a WAV container.
// All frames must share the sample rate and channel count of the first.
func EncodeFrames(frames []audio.Frame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to encode")
	}

	sampleRate := frames[0].SampleRate
	channels := frames[0].NumChannels

	total := 0
	for i, f := range frames {
		if f.SampleRate != sampleRate || f.NumChannels != channels {
			return nil, fmt.Errorf("frame %d format mismatch: %dHz/%dch vs %dHz/%dch",
				i, f.SampleRate, f.NumChannels, sampleRate, channels)
		}
		total += len(f.Data)
	}

	pcm := make([]byte, 0, total)
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
	}

	return Encode(pcm, sampleRate, channels)
}
