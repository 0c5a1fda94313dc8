package rhi

import (
	"errors"
	"fmt"
)

// Sentinel errors returned at the RHI boundary.
var (
	// ErrNilContext is returned when an operation receives a nil RenderContext.
	ErrNilContext = errors.New("rhi: render context is nil")

	// ErrNilResource is returned when an operation references a nil resource.
	ErrNilResource = errors.New("rhi: resource is nil")

	// ErrReleased is returned when a released resource is used.
	ErrReleased = errors.New("rhi: resource already released")

	// ErrInvalidArgument is returned for out-of-range enums, sizes and indices.
	ErrInvalidArgument = errors.New("rhi: invalid argument")

	// ErrOutOfRange is returned when a write or view exceeds a resource's bounds.
	ErrOutOfRange = errors.New("rhi: range exceeds resource bounds")

	// ErrInvalidState is returned when a call violates a state machine
	// (drawing without a pipeline, ending a pass that was never begun).
	ErrInvalidState = errors.New("rhi: invalid state")

	// ErrBackendNotAvailable is returned when no backend is registered for the
	// requested graphics API.
	ErrBackendNotAvailable = errors.New("rhi: backend not available")

	// ErrShaderCompile is returned when a shader stage fails to compile.
	ErrShaderCompile = errors.New("rhi: shader compilation failed")

	// ErrDescriptorExhausted is returned when a descriptor page cannot be grown.
	ErrDescriptorExhausted = errors.New("rhi: descriptor pool exhausted")

	// ErrFenceTimeout is returned when waiting on a fence exceeds its timeout.
	ErrFenceTimeout = errors.New("rhi: fence wait timed out")

	// ErrDeviceLost is returned when the native device has been lost.
	ErrDeviceLost = errors.New("rhi: device lost")

	// ErrUnsupported is returned when the active backend cannot perform an operation.
	ErrUnsupported = errors.New("rhi: operation not supported by backend")
)

// ErrorKind classifies a failure by how a caller is expected to react.
type ErrorKind uint8

const (
	// KindContract marks a programmer error: nil inputs, bad enums, bad indices.
	// Callers should fix the call site rather than retry.
	KindContract ErrorKind = iota + 1

	// KindRecoverable marks a failure the caller can degrade around, for
	// example by skipping a pass for one frame.
	KindRecoverable

	// KindNative marks a failure reported by the native graphics API.
	KindNative
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindContract:
		return "contract"
	case KindRecoverable:
		return "recoverable"
	case KindNative:
		return "native"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Error is the single error type crossing the RHI boundary. Both backends
// report failures through it, so callers have one convention to handle.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rhi: %s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("rhi: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// contractError wraps err as a programmer-contract violation.
func contractError(op string, err error) error {
	return &Error{Op: op, Kind: KindContract, Err: err}
}

// recoverableError wraps err as a failure the caller may degrade around.
func recoverableError(op string, err error) error {
	return &Error{Op: op, Kind: KindRecoverable, Err: err}
}

// NativeError wraps a failure reported by a native backend. Backends use it so
// device loss and allocation failures look the same regardless of API.
func NativeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return &Error{Op: op, Kind: KindNative, Err: err}
}

// KindOf reports the ErrorKind carried by err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// IsRecoverable reports whether err is a failure the caller can degrade around.
func IsRecoverable(err error) bool {
	return KindOf(err) == KindRecoverable
}
