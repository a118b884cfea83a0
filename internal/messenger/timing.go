package messenger

// This file contains timing simulation utilities used by the Session.

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// rngPool manages synchronized random number generators.
var rngPool = sync.Pool{
	New: func() interface{} {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	},
}

func getRNG() *rand.Rand {
	return rngPool.Get().(*rand.Rand)
}

func putRNG(r *rand.Rand) {
	rngPool.Put(r)
}

// keyDelays returns n-1 inter-key pauses around mean, for typing n runes.
func keyDelays(n int, mean time.Duration) []time.Duration {
	if n <= 1 || mean <= 0 {
		return nil
	}

	rng := getRNG()
	defer putRNG(rng)

	meanMs := float64(mean) / float64(time.Millisecond)
	// Typing jitter is roughly 40% of the mean interval.
	variance := meanMs * 0.4
	floor := meanMs * 0.3

	delays := make([]time.Duration, n-1)
	for i := range delays {
		ms := rng.NormFloat64()*variance + meanMs
		if ms < floor {
			ms = floor
		}
		delays[i] = time.Duration(ms * float64(time.Millisecond))
	}
	return delays
}

// hesitate pauses execution, respecting the context cancellation.
func hesitate(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(duration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jitter picks a duration uniformly in [min, max]. Invalid bounds yield zero.
func jitter(min, max time.Duration) time.Duration {
	if min < 0 || max <= 0 || max < min {
		return 0
	}

	rng := getRNG()
	defer putRNG(rng)

	span := int64(max - min)
	if span == 0 {
		return min
	}
	return min + time.Duration(rng.Int63n(span+1))
}
