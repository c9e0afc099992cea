package synth_test

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/solacehealth/voiceloop/pkg/provider"
	"github.com/solacehealth/voiceloop/pkg/synth"
	"github.com/solacehealth/voiceloop/pkg/synth/fake"
	"github.com/solacehealth/voiceloop/pkg/unlock"
)

func TestSpeakUsesPrimary(t *testing.T) {
	is := is.New(t)

	primary := fake.NewFakeSynthesizer()
	local := fake.NewFakeSynthesizer()
	player := fake.NewFakePlayer()

	ch, err := synth.NewChannel(synth.Config{
		Primary:  primary,
		Fallback: local,
		Player:   player,
	})
	is.NoErr(err)

	is.NoErr(ch.Speak(context.Background(), "hello there"))

	is.Equal(primary.Synthesized(), []string{"hello there"})
	is.Equal(len(local.Synthesized()), 0)
	is.Equal(player.Played(), []string{"hello there"})
}

func TestSpeakFallsBackSameCall(t *testing.T) {
	is := is.New(t)

	primary := fake.NewFailing(provider.Unreachable(nil, "tts unreachable"))
	local := fake.NewFakeSynthesizer()
	player := fake.NewFakePlayer()

	ch, err := synth.NewChannel(synth.Config{
		Primary:  primary,
		Fallback: local,
		Player:   player,
	})
	is.NoErr(err)

	// The caller sees success; the fallback covered the failure.
	is.NoErr(ch.Speak(context.Background(), "good morning"))

	is.Equal(local.Synthesized(), []string{"good morning"})
	is.Equal(player.Played(), []string{"good morning"})
	is.Equal(ch.PrimaryHealth().Failures(), 1)
}

func TestCircuitBreakerSkipsPrimary(t *testing.T) {
	is := is.New(t)

	primary := fake.NewFailing(provider.Unreachable(nil, "tts unreachable"))
	local := fake.NewFakeSynthesizer()
	player := fake.NewFakePlayer()

	ch, err := synth.NewChannel(synth.Config{
		Primary:  primary,
		Fallback: local,
		Player:   player,
	})
	is.NoErr(err)

	for i := 0; i < 5; i++ {
		is.NoErr(ch.Speak(context.Background(), "line"))
	}

	// Three strikes open the breaker; the last two calls never touch it.
	is.Equal(primary.Calls(), 3)
	is.True(ch.PrimaryHealth().Disabled())
	is.Equal(len(player.Played()), 5)
}

func TestFallbackFailureSurfaces(t *testing.T) {
	is := is.New(t)

	local := fake.NewFailing(provider.ErrDeviceUnavailable)
	ch, err := synth.NewChannel(synth.Config{
		Fallback: local,
		Player:   fake.NewFakePlayer(),
	})
	is.NoErr(err)

	err = ch.Speak(context.Background(), "hello")
	is.True(err != nil)
}

func TestPlaybackFailureRetriesLocally(t *testing.T) {
	is := is.New(t)

	primary := fake.NewFakeSynthesizer()
	local := fake.NewFakeSynthesizer()
	player := fake.NewFakePlayer()
	player.Err = provider.ErrDecodeFailure

	ch, err := synth.NewChannel(synth.Config{
		Primary:  primary,
		Fallback: local,
		Player:   player,
	})
	is.NoErr(err)

	// Both the primary clip and the retry fail to play here, so the error
	// surfaces, but the local retry must have been attempted.
	err = ch.Speak(context.Background(), "hello")
	is.True(err != nil)
	is.Equal(local.Synthesized(), []string{"hello"})
	is.Equal(ch.PrimaryHealth().Failures(), 1)
}

func TestCacheServesRepeatedText(t *testing.T) {
	is := is.New(t)

	primary := fake.NewFakeSynthesizer()
	player := fake.NewFakePlayer()

	ch, err := synth.NewChannel(synth.Config{
		Primary:  primary,
		Fallback: fake.NewFakeSynthesizer(),
		Player:   player,
	})
	is.NoErr(err)

	for i := 0; i < 3; i++ {
		is.NoErr(ch.Speak(context.Background(), "time for your medication"))
	}

	is.Equal(primary.Calls(), 1)
	is.Equal(len(player.Played()), 3)
}

func TestGateDefersPlayback(t *testing.T) {
	is := is.New(t)

	prompted := 0
	gate := unlock.NewGate(func() { prompted++ })

	primary := fake.NewFakeSynthesizer()
	player := fake.NewFakePlayer()

	ch, err := synth.NewChannel(synth.Config{
		Primary:  primary,
		Fallback: fake.NewFakeSynthesizer(),
		Player:   player,
		Gate:     gate,
	})
	is.NoErr(err)

	// Speak resolves immediately; nothing plays until the unlock gesture.
	is.NoErr(ch.Speak(context.Background(), "first"))
	is.NoErr(ch.Speak(context.Background(), "second"))
	is.Equal(len(player.Played()), 0)
	is.Equal(gate.Pending(), 2)
	is.Equal(prompted, 1)

	// Synthesis already happened eagerly, only playback was held.
	is.Equal(primary.Calls(), 2)

	gate.Resume()
	is.Equal(player.Played(), []string{"first", "second"})
}

func TestGateDeferredPlaybackHonorsCancel(t *testing.T) {
	is := is.New(t)

	gate := unlock.NewGate(nil)
	player := fake.NewFakePlayer()

	ch, err := synth.NewChannel(synth.Config{
		Primary:  fake.NewFakeSynthesizer(),
		Fallback: fake.NewFakeSynthesizer(),
		Player:   player,
		Gate:     gate,
	})
	is.NoErr(err)

	ctx, cancel := context.WithCancel(context.Background())
	is.NoErr(ch.Speak(ctx, "held back"))
	is.Equal(gate.Pending(), 1)

	// Session end before the unlock gesture: the flush must not play the
	// stale clip.
	cancel()
	gate.Resume()
	is.Equal(len(player.Played()), 0)
}

func TestEmptyTextIsNoop(t *testing.T) {
	is := is.New(t)

	primary := fake.NewFakeSynthesizer()
	player := fake.NewFakePlayer()

	ch, err := synth.NewChannel(synth.Config{
		Primary:  primary,
		Fallback: fake.NewFakeSynthesizer(),
		Player:   player,
	})
	is.NoErr(err)

	is.NoErr(ch.Speak(context.Background(), ""))
	is.Equal(primary.Calls(), 0)
	is.Equal(len(player.Played()), 0)
}

func TestNewChannelValidation(t *testing.T) {
	_, err := synth.NewChannel(synth.Config{Player: fake.NewFakePlayer()})
	if err == nil {
		t.Fatal("expected error without fallback synthesizer")
	}

	_, err = synth.NewChannel(synth.Config{Fallback: fake.NewFakeSynthesizer()})
	if err == nil {
		t.Fatal("expected error without player")
	}
}
