package retrial

import (
	"errors"
	"fmt"
)

// ErrShuttingDown is returned when a publish is requested while the connection is closing.
var ErrShuttingDown = errors.New("retrial: connection is shutting down")

// ErrUnroutable is returned when the broker had no queue for a published message.
var ErrUnroutable = errors.New("retrial: message is unroutable")

// ConfigurationError reports a malformed or duplicate destination declaration.
type ConfigurationError struct {
	Name   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid destination %q: %s", e.Name, e.Reason)
}

// BrokerIOError wraps a failed publish, provision, consume or ack call.
type BrokerIOError struct {
	Op  string
	Err error
}

func (e *BrokerIOError) Error() string {
	return fmt.Sprintf("broker %s failed: %v", e.Op, e.Err)
}

func (e *BrokerIOError) Unwrap() error {
	return e.Err
}

// MaximumAttemptsExceededError is the terminal condition carried by a
// dead-lettered outcome. It unwraps to the handler failure that triggered it.
type MaximumAttemptsExceededError struct {
	Destination string
	Attempts    int
	Cause       error
}

func (e *MaximumAttemptsExceededError) Error() string {
	return fmt.Sprintf("maximum retrial attempts reached for %s after %d attempts: %v", e.Destination, e.Attempts, e.Cause)
}

func (e *MaximumAttemptsExceededError) Unwrap() error {
	return e.Cause
}

// IsBrokerIO checks if err is a broker I/O failure
func IsBrokerIO(err error) bool {
	var ioErr *BrokerIOError
	return errors.As(err, &ioErr)
}

// IsConfiguration checks if err is a configuration failure
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
