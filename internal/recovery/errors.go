package recovery

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an operation failure. It is attached where the error
// originates so the manager dispatches on type rather than message text.
type Kind int

const (
	// KindRecoverable is a transient failure; the operation is retried.
	KindRecoverable Kind = iota
	// KindHardware is a sensor or device failure.
	KindHardware
	// KindPermission is a denied camera/sensor/storage permission.
	KindPermission
	// KindResource is memory, storage or battery exhaustion.
	KindResource
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRecoverable:
		return "recoverable"
	case KindHardware:
		return "hardware"
	case KindPermission:
		return "permission"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Critical reports whether failures of this kind skip retries and open the
// breaker immediately.
func (k Kind) Critical() bool {
	return k == KindHardware || k == KindPermission || k == KindResource
}

// ErrCircuitOpen is reported in Outcome.Err when a call was not attempted
// because the breaker was open (or a half-open probe was already in flight).
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Error wraps an underlying error with its operation and kind.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable marks err as a transient failure of op.
func Recoverable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: KindRecoverable, Err: err}
}

// Critical marks err as a non-retryable failure of op. A non-critical kind
// is promoted to KindResource so the result is always critical.
func Critical(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if !kind.Critical() {
		kind = KindResource
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the kind attached to err. Errors without a kind, including
// context deadline and cancellation errors, are recoverable.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRecoverable
}

// IsCritical reports whether err carries a critical kind.
func IsCritical(err error) bool {
	return err != nil && KindOf(err).Critical()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
