package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFullJitterDelayBounded(t *testing.T) {
	base := 500 * time.Millisecond
	cap := 30 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := fullJitterDelay(base, cap, attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, cap)
		}
	}
}

func TestFullJitterDelayRespectsCapAtHighAttempt(t *testing.T) {
	base := 500 * time.Millisecond
	cap := 30 * time.Second

	// At a high attempt count, base*2^attempt vastly exceeds cap, so the
	// delay must never exceed cap regardless of jitter draw.
	for i := 0; i < 50; i++ {
		d := fullJitterDelay(base, cap, 40)
		assert.LessOrEqual(t, d, cap)
	}
}

func TestIsBookChannel(t *testing.T) {
	assert.True(t, isBookChannel("books"))
	assert.True(t, isBookChannel("books-l2-tbt"))
	assert.False(t, isBookChannel("trades"))
}
