package stomp

import (
	"math"
	"sync"
	"time"
)

// ReconnectDelayStrategy decides how long a Reconnector waits before the
// next attempt against uri.
type ReconnectDelayStrategy interface {
	GetConnectWaitDuration(uri string) (time.Duration, error)
	Reset()
}

// FixedDelayStrategy waits the same delay before every attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// GetConnectWaitDuration returns Delay.
func (strategy *FixedDelayStrategy) GetConnectWaitDuration(uri string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}
	return strategy.Delay, nil
}

// Reset does nothing; a fixed delay has no state.
func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy grows the delay per URI by Factor on every
// attempt, up to MaxDelay. MaxAttempts, when positive, makes the strategy
// give up with a ConnectionError.
type ExponentialDelayStrategy struct {
	lock        sync.Mutex
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	MaxAttempts uint32
	attempts    map[string]uint32
}

// NewExponentialDelayStrategy returns a new ExponentialDelayStrategy.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
		attempts:  make(map[string]uint32),
	}
}

// SetMaxAttempts bounds the attempts per URI. Zero means unbounded.
func (strategy *ExponentialDelayStrategy) SetMaxAttempts(attempts uint32) *ExponentialDelayStrategy {
	strategy.lock.Lock()
	strategy.MaxAttempts = attempts
	strategy.lock.Unlock()
	return strategy
}

// GetConnectWaitDuration returns the delay for the next attempt on uri.
func (strategy *ExponentialDelayStrategy) GetConnectWaitDuration(uri string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}

	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	if uri == "" {
		uri = "_default"
	}

	attempt := strategy.attempts[uri]
	if strategy.MaxAttempts > 0 && attempt >= strategy.MaxAttempts {
		return 0, NewError(ConnectionError, "reconnect attempts exhausted for "+uri)
	}
	strategy.attempts[uri] = attempt + 1

	delay := strategy.BaseDelay
	if attempt > 0 && delay > 0 {
		delayFloat := float64(delay) * math.Pow(strategy.Factor, float64(attempt))
		if delayFloat > float64(strategy.MaxDelay) {
			delayFloat = float64(strategy.MaxDelay)
		}
		delay = time.Duration(delayFloat)
	}
	if delay > strategy.MaxDelay {
		delay = strategy.MaxDelay
	}
	return delay, nil
}

// Reset forgets every attempt count.
func (strategy *ExponentialDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.attempts = make(map[string]uint32)
	strategy.lock.Unlock()
}
