package worker

import (
	"math"
	"time"
)

// Backoff computes release delays: Base * 2^attempts, capped at Max.
// A zero Base releases immediately; a zero Max means no cap.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the delay before the next try of a job that has already been
// released attempts times
func (b Backoff) Delay(attempts uint) time.Duration {
	if b.Base <= 0 {
		return 0
	}

	delay := b.Base
	for i := uint(0); i < attempts; i++ {
		if b.Max > 0 && delay >= b.Max {
			break
		}
		if delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}

	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}
