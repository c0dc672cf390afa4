package retrial

import (
	"math"
	"strconv"

	"go-retrial/pkg/models"
)

// ReadAttemptCount extracts the attempt count from the envelope headers.
// Absent, negative or unparseable values count as zero.
func ReadAttemptCount(env models.Envelope) int {
	var n int64
	switch v := env.Headers[models.HeaderAttemptCount].(type) {
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case float32:
		n = int64(v)
	case float64:
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	case []byte:
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}
	if n < 0 {
		return 0
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// WithIncrementedAttempt returns a copy of env with the attempt count raised
// by one and the original routing key set to destination.
func WithIncrementedAttempt(env models.Envelope, destination string) models.Envelope {
	next := env.Clone()
	next.Headers[models.HeaderAttemptCount] = int64(ReadAttemptCount(env) + 1)
	next.Headers[models.HeaderOriginalRoutingKey] = destination
	return next
}

// originalRoutingKey returns the destination a message should go back to,
// falling back to where it was consumed from.
func originalRoutingKey(env models.Envelope, consumedFrom string) string {
	if key := env.Header(models.HeaderOriginalRoutingKey); key != "" {
		return key
	}
	return consumedFrom
}
