package audio

import (
	"testing"
	"time"
)

func TestNewFrame(t *testing.T) {
	tests := []struct {
		name        string
		dataLen     int
		sampleRate  int
		numChannels int
		expectError bool
	}{
		{"valid 48k mono", 960, 48000, 1, false},
		{"valid 16k mono", 320, 16000, 1, false},
		{"valid 48k stereo", 1920, 48000, 2, false},
		{"short data", 100, 48000, 1, true},
		{"long data", 2000, 16000, 1, true},
		{"empty data", 0, 16000, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := NewFrame(make([]byte, tt.dataLen), tt.sampleRate, tt.numChannels, 0)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if frame.SamplesPerChannel != tt.sampleRate/100 {
				t.Errorf("SamplesPerChannel = %d, want %d", frame.SamplesPerChannel, tt.sampleRate/100)
			}
			if frame.Duration() != 10*time.Millisecond {
				t.Errorf("Duration = %v, want 10ms", frame.Duration())
			}
		})
	}
}

func TestFrame_Clone(t *testing.T) {
	data := make([]byte, 320)
	data[0] = 0x7F
	frame, err := NewFrame(data, 16000, 1, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	clone := frame.Clone()
	clone.Data[0] = 0x00

	if frame.Data[0] != 0x7F {
		t.Error("Clone shares underlying data with original")
	}
	if clone.Timestamp != frame.Timestamp {
		t.Errorf("Timestamp = %v, want %v", clone.Timestamp, frame.Timestamp)
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	data := EncodePCM16(samples)
	if len(data) != len(samples)*2 {
		t.Fatalf("encoded length = %d, want %d", len(data), len(samples)*2)
	}
	got := DecodePCM16(data)
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}

	silence := make([]byte, 320)
	if got := RMS(silence); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}

	loud := EncodePCM16([]int16{10000, -10000, 10000, -10000})
	if got := RMS(loud); got != 10000 {
		t.Errorf("RMS(loud) = %v, want 10000", got)
	}
}
