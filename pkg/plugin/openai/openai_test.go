package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/solacehealth/voiceloop/pkg/audio"
	"github.com/solacehealth/voiceloop/pkg/convo"
	"github.com/solacehealth/voiceloop/pkg/synth"
	"github.com/solacehealth/voiceloop/pkg/transcribe"
)

// apiStub mocks the three OpenAI endpoints the plugin touches.
type apiStub struct {
	t          *testing.T
	transcript string
	speechPCM  []byte
	reply      string

	transcriptionCalls int
}

func (s *apiStub) handler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1/audio/transcriptions":
		s.transcriptionCalls++
		json.NewEncoder(w).Encode(map[string]string{"text": s.transcript})
	case "/v1/audio/speech":
		w.Write(s.speechPCM)
	case "/v1/chat/completions":
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": s.reply}},
			},
		})
	default:
		s.t.Errorf("unexpected path %s", r.URL.Path)
		http.NotFound(w, r)
	}
}

func stubConfig(t *testing.T, stub *apiStub) Config {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	t.Cleanup(srv.Close)
	return Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"}
}

func pushAudio(t *testing.T, stream transcribe.Stream, d time.Duration) {
	t.Helper()
	frames := int(d / (10 * time.Millisecond))
	for i := 0; i < frames; i++ {
		f, err := audio.NewFrame(make([]byte, 320), 16000, 1, time.Duration(i)*10*time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		if err := stream.Push(*f); err != nil {
			t.Fatal(err)
		}
	}
}

func TestWhisperFinalCoversWholeUtterance(t *testing.T) {
	stub := &apiStub{t: t, transcript: "I feel anxious"}
	rec, err := NewWhisperRecognizer(stubConfig(t, stub))
	if err != nil {
		t.Fatal(err)
	}
	rec.BatchInterval = time.Minute // final-only in this test

	stream, err := rec.NewStream(context.Background(), transcribe.StreamConfig{SampleRate: 16000, NumChannels: 1, Lang: "en-US"})
	if err != nil {
		t.Fatal(err)
	}

	pushAudio(t, stream, 200*time.Millisecond)
	if err := stream.CloseSend(); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-stream.Events():
		if ev.Kind != transcribe.EventFinal || ev.Text != "I feel anxious" {
			t.Fatalf("event = %+v, want final transcript", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no final before deadline")
	}
	if stub.transcriptionCalls != 1 {
		t.Fatalf("transcription calls = %d, want 1", stub.transcriptionCalls)
	}
}

func TestWhisperShortAudioResolvesEmpty(t *testing.T) {
	stub := &apiStub{t: t, transcript: "should not be called"}
	rec, err := NewWhisperRecognizer(stubConfig(t, stub))
	if err != nil {
		t.Fatal(err)
	}

	stream, err := rec.NewStream(context.Background(), transcribe.StreamConfig{})
	if err != nil {
		t.Fatal(err)
	}

	pushAudio(t, stream, 50*time.Millisecond) // below the 100ms minimum
	stream.CloseSend()

	select {
	case ev := <-stream.Events():
		if ev.Kind != transcribe.EventFinal || ev.Text != "" {
			t.Fatalf("event = %+v, want empty final", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event before deadline")
	}
	if stub.transcriptionCalls != 0 {
		t.Fatal("transcription should be skipped for sub-minimum audio")
	}
}

func TestSynthesizerProducesPCMClip(t *testing.T) {
	pcm := make([]byte, 4800) // 100ms at 24kHz mono
	stub := &apiStub{t: t, speechPCM: pcm}

	s, err := NewSynthesizer(stubConfig(t, stub))
	if err != nil {
		t.Fatal(err)
	}

	clip, err := s.Synthesize(context.Background(), synth.Request{Text: "hello", Speed: 1.0})
	if err != nil {
		t.Fatal(err)
	}
	if clip.SampleRate != 24000 || clip.NumChannels != 1 {
		t.Fatalf("clip format = %d/%d, want 24000/1", clip.SampleRate, clip.NumChannels)
	}
	if clip.Duration() != 100*time.Millisecond {
		t.Fatalf("clip duration = %v, want 100ms", clip.Duration())
	}
}

func TestSynthesizerRejectsOddPayload(t *testing.T) {
	stub := &apiStub{t: t, speechPCM: []byte{0x01}}

	s, err := NewSynthesizer(stubConfig(t, stub))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Synthesize(context.Background(), synth.Request{Text: "hello"}); err == nil {
		t.Fatal("expected decode error for odd-length payload")
	}
}

func TestReplyGeneratorMapsHistory(t *testing.T) {
	stub := &apiStub{t: t, reply: "That sounds difficult. I'm here."}

	g, err := NewReplyGenerator(stubConfig(t, stub))
	if err != nil {
		t.Fatal(err)
	}

	recent := []convo.Utterance{
		convo.NewUtterance(convo.SpeakerAgent, "How are you?"),
		convo.NewUtterance(convo.SpeakerUser, "not great"),
	}
	reply, err := g.GenerateReply(context.Background(), "not great", recent)
	if err != nil {
		t.Fatal(err)
	}
	if reply != "That sounds difficult. I'm here." {
		t.Fatalf("reply = %q", reply)
	}
}

func TestConfigRequiresKey(t *testing.T) {
	if _, err := NewWhisperRecognizer(Config{}); err == nil {
		t.Fatal("expected error without API key")
	}
	if _, err := NewSynthesizer(Config{}); err == nil {
		t.Fatal("expected error without API key")
	}
	if _, err := NewReplyGenerator(Config{}); err == nil {
		t.Fatal("expected error without API key")
	}
}
