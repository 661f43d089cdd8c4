package pushclient

import (
	"math/rand"
	"time"
)

// backoff produces exponential-with-jitter retry delays: 250ms min, 10s max,
// +/-20% jitter, for the connecting state's reconnect loop. Hand-rolled
// rather than pulling in a dependency for one small algorithm.
type backoff struct {
	min, max time.Duration
	attempt  int
}

func newBackoff() *backoff {
	return &backoff{min: 250 * time.Millisecond, max: 10 * time.Second}
}

func (b *backoff) next() time.Duration {
	d := b.min << b.attempt
	if d <= 0 || d > b.max {
		d = b.max
	}
	b.attempt++

	jitter := float64(d) * 0.2
	delta := (rand.Float64()*2 - 1) * jitter
	d = time.Duration(float64(d) + delta)
	if d < b.min {
		d = b.min
	}
	return d
}

func (b *backoff) reset() {
	b.attempt = 0
}
