package websocket

import (
	"math"
	"math/rand"
	"time"
)

const (
	defaultMinDelayBase   = 1000 * time.Millisecond
	defaultMinDelayJitter = 4000 * time.Millisecond
)

// reconnectDelay returns how long to wait before connection attempt
// retryCount. The first attempt (0) is immediate; attempt n waits
// minDelay * growFactor^(n-1), capped at maxDelay.
func reconnectDelay(retryCount int, minDelay, maxDelay time.Duration, growFactor float64) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	if growFactor < 1 {
		growFactor = 1
	}

	delay := float64(minDelay) * math.Pow(growFactor, float64(retryCount-1))
	if delay > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(delay)
}

// jitteredMinDelay picks the minimum reconnection delay once per socket so
// that many clients restarted together do not retry in lockstep.
func jitteredMinDelay(configured int) time.Duration {
	if configured > 0 {
		return time.Duration(configured) * time.Millisecond
	}
	return defaultMinDelayBase + time.Duration(rand.Int63n(int64(defaultMinDelayJitter)))
}
