package models

import (
	"maps"
	"time"
)

// Envelope represents a message flowing through the retrial protocol
type Envelope struct {
	MessageID   string         `json:"message_id,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Body        []byte         `json:"body"`
	Headers     map[string]any `json:"headers,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Clone returns a copy of the envelope with its own header map. The body is shared.
func (e Envelope) Clone() Envelope {
	c := e
	c.Headers = make(map[string]any, len(e.Headers)+2)
	maps.Copy(c.Headers, e.Headers)
	return c
}

// Header returns the string value of a header, empty when absent or not a string.
func (e Envelope) Header(key string) string {
	switch v := e.Headers[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// Wire header keys shared with every consumer of the protocol.
const (
	HeaderAttemptCount       = "x-attempt-count"
	HeaderOriginalRoutingKey = "x-original-routing-key"
	HeaderDelay              = "x-delay"
	HeaderDeadLetterReason   = "x-dead-letter-reason"
)

// Broker constructs.
const (
	DefaultExchange   = ""
	DelayedExchange   = "delayed.retrial.v1.exchange"
	DelayedKind       = "x-delayed-message"
	RerouterQueue     = "delayed.retrial.v1.rerouter.queue"
	RerouterPattern   = "#"
	DeadLetterSuffix  = ".dead"
	ArgDelayedType    = "x-delayed-type"
	ArgMessageTTL     = "x-message-ttl"
	ArgDeadLetterExch = "x-dead-letter-exchange"
)
