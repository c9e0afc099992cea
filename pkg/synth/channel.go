package synth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solacehealth/voiceloop/pkg/provider"
	"github.com/solacehealth/voiceloop/pkg/unlock"
)

// Config configures a Channel.
type Config struct {
	// Primary is the cloud voice. Nil forces local-only synthesis.
	Primary Synthesizer

	// Fallback is the local synthesizer. Required.
	Fallback Synthesizer

	// Player renders clips. Required.
	Player Player

	// Gate holds playback until the platform unlock gesture. Defaults to
	// an already-unlocked gate.
	Gate *unlock.Gate

	// Voice, Language and Speed apply to every request.
	Voice    string
	Language string
	Speed    float32

	// CacheCapacity and CachePrefixLen bound the primary clip cache.
	CacheCapacity  int
	CachePrefixLen int

	// FailureThreshold configures the primary circuit breaker. Default 3.
	FailureThreshold int

	Logger *slog.Logger
}

// Channel synthesizes and plays one utterance per Speak call. Primary
// failures fall back to local synthesis within the same call so the user
// always hears something. Serialization of concurrent Speak calls belongs
// to the Queue, not this channel.
type Channel struct {
	primary  Synthesizer
	fallback Synthesizer
	player   Player
	gate     *unlock.Gate
	health   *provider.Health
	cache    *clipCache
	logger   *slog.Logger

	voice    string
	language string
	speed    float32
}

// NewChannel creates a speech synthesis channel.
func NewChannel(cfg Config) (*Channel, error) {
	if cfg.Fallback == nil {
		return nil, fmt.Errorf("fallback synthesizer is required")
	}
	if cfg.Player == nil {
		return nil, fmt.Errorf("player is required")
	}
	if cfg.Gate == nil {
		cfg.Gate = unlock.NewUnlockedGate()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1.0
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}

	return &Channel{
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		player:   cfg.Player,
		gate:     cfg.Gate,
		health:   provider.NewHealth(provider.Primary, cfg.FailureThreshold, cfg.Logger),
		cache:    newClipCache(cfg.CacheCapacity, cfg.CachePrefixLen),
		logger:   cfg.Logger,
		voice:    cfg.Voice,
		language: cfg.Language,
		speed:    cfg.Speed,
	}, nil
}

// PrimaryHealth exposes the primary circuit breaker for observers.
func (c *Channel) PrimaryHealth() *provider.Health {
	return c.health
}

// Speak synthesizes text and plays it. It returns once the audio finished,
// or immediately when playback is deferred behind the unlock gate.
func (c *Channel) Speak(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	clip, used, err := c.fetch(ctx, text)
	if err != nil {
		return err
	}

	if !c.gate.Unlocked() {
		// Queue rather than drop; the gate flushes on the user's gesture.
		// The deferred play keeps the caller's context so session end
		// still cancels a clip that never got to flush.
		c.logger.Info("playback deferred until audio unlock", slog.String("text", text))
		c.gate.Submit(func() {
			if perr := c.play(ctx, clip, used, text); perr != nil {
				c.logger.Warn("deferred playback failed", slog.String("error", perr.Error()))
			}
		})
		return nil
	}

	return c.play(ctx, clip, used, text)
}

// fetch picks a strategy and produces a clip, retrying locally on any
// primary failure within the same call.
func (c *Channel) fetch(ctx context.Context, text string) (*Clip, provider.ID, error) {
	req := Request{Text: text, Voice: c.voice, Language: c.language, Speed: c.speed}

	if c.primary != nil && !c.health.Disabled() {
		if clip, ok := c.cache.get(text); ok {
			return clip, provider.Primary, nil
		}

		clip, err := c.primary.Synthesize(ctx, req)
		if err == nil {
			c.health.RecordSuccess()
			c.cache.put(text, clip)
			return clip, provider.Primary, nil
		}
		if ctx.Err() != nil {
			return nil, provider.Primary, ctx.Err()
		}
		c.health.RecordFailure()
		c.logger.Warn("primary synthesizer failed, switching to fallback",
			slog.String("error", err.Error()))
	}

	// Local synthesis is cheap and offline; no caching.
	clip, err := c.fallback.Synthesize(ctx, req)
	if err != nil {
		return nil, provider.Fallback, fmt.Errorf("fallback synthesis failed: %w", err)
	}
	return clip, provider.Fallback, nil
}

// play renders a clip; a primary-sourced playback failure gets one local
// retry so the utterance is never silently dropped.
func (c *Channel) play(ctx context.Context, clip *Clip, used provider.ID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.player.Play(ctx, clip)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || used == provider.Fallback {
		return err
	}

	c.health.RecordFailure()
	c.logger.Warn("primary clip playback failed, retrying with local synthesis",
		slog.String("error", err.Error()))

	req := Request{Text: text, Voice: c.voice, Language: c.language, Speed: c.speed}
	local, serr := c.fallback.Synthesize(ctx, req)
	if serr != nil {
		return fmt.Errorf("fallback synthesis failed: %w", serr)
	}
	return c.player.Play(ctx, local)
}
