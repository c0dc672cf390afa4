package retrial

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the delay applied before a rerouted message is redelivered.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64 // <= 1 keeps the delay fixed at Initial
	Jitter  bool
}

// DefaultBackoff returns the policy used when none is configured
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 5 * time.Second,
		Max:     5 * time.Minute,
		Factor:  2.0,
	}
}

// Delay returns the wait before redelivering a message whose new attempt count is attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := b.Initial
	if b.Factor > 1 {
		delay = time.Duration(float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1)))
		// overflow turns into a negative or huge value
		if delay <= 0 {
			delay = b.Max
		}
	}

	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}

	if b.Jitter && delay > 0 {
		if maxJitter := delay / 4; maxJitter > 0 {
			delay += time.Duration(rand.Int63n(int64(maxJitter)))
			if b.Max > 0 && delay > b.Max {
				delay = b.Max
			}
		}
	}

	return delay
}
