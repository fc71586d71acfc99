package engine

import (
	"math/rand"
	"time"
)

// Backoff computes the exponential retry delay for a given attempt
// number (1-based), with jitter, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) For(attemptNo int) time.Duration {
	if attemptNo < 1 {
		attemptNo = 1
	}
	d := b.Base
	for i := 1; i < attemptNo; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	// up to 25% jitter
	if d > 0 {
		d += time.Duration(rand.Int63n(int64(d) / 4))
	}
	return d
}
