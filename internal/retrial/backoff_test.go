package retrial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 10 * time.Second, Factor: 2}

	assert.Equal(t, time.Second, b.Delay(1))
	assert.Equal(t, 2*time.Second, b.Delay(2))
	assert.Equal(t, 4*time.Second, b.Delay(3))
	assert.Equal(t, 8*time.Second, b.Delay(4))
	assert.Equal(t, 10*time.Second, b.Delay(5))
	assert.Equal(t, 10*time.Second, b.Delay(500))
	assert.Equal(t, time.Second, b.Delay(0))
}

func TestBackoff_Fixed(t *testing.T) {
	b := Backoff{Initial: 3 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 3*time.Second, b.Delay(attempt))
	}
}

func TestBackoff_Zero(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff{}.Delay(3))
}

func TestBackoff_JitterStaysUnderMax(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 4 * time.Second, Factor: 2, Jitter: true}
	for i := 0; i < 100; i++ {
		d := b.Delay(2)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}
