package node

import (
	"time"

	"go.uber.org/zap"
)

const maxBackoff = 60 * time.Second

// backoff skips ticks after failures so a failing task is retried at
// growing intervals instead of on every tick.
type backoff struct {
	base        time.Duration
	failures    int
	lastFailure time.Time
	now         func() time.Time
}

func newBackoff(base time.Duration) *backoff {
	return &backoff{base: base, now: time.Now}
}

// run calls fn unless still inside the backoff window.
func (b *backoff) run(logger *zap.Logger, fn func() error) {
	if b.failures > 0 && b.now().Sub(b.lastFailure) < backoffDuration(b.base, b.failures) {
		return
	}
	if err := fn(); err != nil {
		b.failures++
		b.lastFailure = b.now()
		logger.Warn("periodic save failed",
			zap.Error(err),
			zap.Int("consecutive_failures", b.failures),
			zap.Duration("next_retry", backoffDuration(b.base, b.failures)),
		)
		return
	}
	if b.failures > 0 {
		logger.Info("periodic save recovered", zap.Int("after_failures", b.failures))
		b.failures = 0
	}
}

// backoffDuration doubles base per failure, capped at 60s or base if that
// is larger.
func backoffDuration(base time.Duration, failures int) time.Duration {
	limit := maxBackoff
	if base > limit {
		limit = base
	}
	if failures <= 0 {
		return base
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d > limit {
			return limit
		}
	}
	return d
}
