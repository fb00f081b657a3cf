package dispatcher

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff defaults: exponential with full jitter, bounded by a maximum
// delay.
const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = 10 * time.Minute
)

var backoffRand = struct {
	mu  sync.Mutex
	rng *rand.Rand
}{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}

// backoffDelay computes the delay before re-queuing attempt number retry
// (1-based): rand(0.5..1.0) × base × 2^(retry-1), capped at max. Jitter
// spreads retries of jobs that failed together for the same upstream reason.
func backoffDelay(retry int, base, max time.Duration) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := base
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	backoffRand.mu.Lock()
	factor := 0.5 + 0.5*backoffRand.rng.Float64()
	backoffRand.mu.Unlock()

	return time.Duration(float64(delay) * factor)
}
