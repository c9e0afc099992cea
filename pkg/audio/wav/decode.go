package wav

import (
	"encoding/binary"
	"fmt"
)

// Decode parses an in-memory RIFF/WAVE blob and returns the raw 16-bit PCM
// payload with its format. Only uncompressed 16-bit PCM is supported.
func Decode(data []byte) (pcm []byte, sampleRate, numChannels int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a RIFF/WAVE blob")
	}

	var haveFmt bool
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(data) {
			// Tolerate a data chunk whose declared size overruns the blob;
			// some encoders stream and patch the header later.
			if id == "data" {
				size = len(data) - body
			} else {
				return nil, 0, 0, fmt.Errorf("truncated %q chunk", id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("unsupported audio format %d, want PCM", format)
			}
			numChannels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return nil, 0, 0, fmt.Errorf("unsupported bit depth %d, want 16", bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, 0, fmt.Errorf("data chunk before fmt chunk")
			}
			return data[body : body+size], sampleRate, numChannels, nil
		}

		// Chunks are word aligned.
		offset = body + size
		if size%2 == 1 {
			offset++
		}
	}
	return nil, 0, 0, fmt.Errorf("no data chunk found")
}
