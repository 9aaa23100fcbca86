package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectDelay(t *testing.T) {
	minDelay := time.Second
	maxDelay := 10 * time.Second

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, 0},
		{0, 0},
		{1, time.Second},
		{2, 1300 * time.Millisecond},
		{3, 1690 * time.Millisecond},
		{10, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		got := reconnectDelay(tt.retry, minDelay, maxDelay, 1.3)
		assert.InDelta(t, float64(tt.want), float64(got), float64(time.Millisecond), "retry %d", tt.retry)
	}
}

func TestReconnectDelayNeverShrinks(t *testing.T) {
	assert.Equal(t, time.Second, reconnectDelay(5, time.Second, 10*time.Second, 0.5))

	prev := time.Duration(0)
	for retry := 1; retry < 30; retry++ {
		d := reconnectDelay(retry, 2*time.Second, 10*time.Second, 1.3)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 10*time.Second)
		prev = d
	}
}

func TestJitteredMinDelay(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, jitteredMinDelay(250))

	for i := 0; i < 100; i++ {
		d := jitteredMinDelay(0)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 5*time.Second)
	}
}
