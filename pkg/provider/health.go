package provider

import (
	"log/slog"
	"sync"
	"time"
)

// ID identifies which strategy a channel used for a call.
type ID int

const (
	Primary ID = iota
	Fallback
)

func (id ID) String() string {
	switch id {
	case Primary:
		return "primary"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// DefaultFailureThreshold is the number of consecutive primary failures
// after which the primary is disabled for the remainder of the session.
const DefaultFailureThreshold = 3

// Health is the per-provider circuit breaker. Mutated only by the channel
// that owns the provider; read by the turn controller to pick a strategy.
// Safe for concurrent use.
type Health struct {
	mu                  sync.Mutex
	provider            ID
	threshold           int
	consecutiveFailures int
	disabledUntil       time.Time
	logger              *slog.Logger
}

// NewHealth creates breaker state for one provider. A threshold <= 0 uses
// DefaultFailureThreshold.
func NewHealth(provider ID, threshold int, logger *slog.Logger) *Health {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Health{provider: provider, threshold: threshold, logger: logger}
}

// Disabled reports whether the breaker is open. Once the failure threshold
// is reached the provider stays disabled for the rest of the session.
func (h *Health) Disabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disabledLocked()
}

func (h *Health) disabledLocked() bool {
	if h.disabledUntil.IsZero() {
		return false
	}
	return time.Now().Before(h.disabledUntil)
}

// RecordFailure counts one failed call. Reaching the threshold opens the
// breaker for the remainder of the session.
func (h *Health) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures++
	if h.consecutiveFailures >= h.threshold && !h.disabledLocked() {
		// Session-scoped disable; far enough out that it never re-closes.
		h.disabledUntil = time.Now().Add(24 * time.Hour)
		h.logger.Warn("provider disabled for session",
			slog.String("provider", h.provider.String()),
			slog.Int("consecutive_failures", h.consecutiveFailures))
	}
}

// RecordSuccess resets the consecutive-failure count. It does not re-enable
// a provider the breaker already disabled.
func (h *Health) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
}

// Failures returns the current consecutive failure count.
func (h *Health) Failures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveFailures
}
