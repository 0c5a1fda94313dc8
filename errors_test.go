package rhi

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	base := errors.New("driver said no")
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		is   error
	}{
		{"contract", contractError("bind", ErrNilResource), KindContract, ErrNilResource},
		{"recoverable", recoverableError("compile", ErrShaderCompile), KindRecoverable, ErrShaderCompile},
		{"native", NativeError("submit", base), KindNative, base},
		{"wrapped", fmt.Errorf("frame 3: %w", contractError("draw", ErrInvalidState)), KindContract, ErrInvalidState},
		{"plain", base, 0, base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf = %v, want %v", got, tt.kind)
			}
			if !errors.Is(tt.err, tt.is) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.is)
			}
			if IsRecoverable(tt.err) != (tt.kind == KindRecoverable) {
				t.Errorf("IsRecoverable = %v", IsRecoverable(tt.err))
			}
		})
	}
}

func TestNativeErrorKeepsExistingKind(t *testing.T) {
	if NativeError("op", nil) != nil {
		t.Error("NativeError(nil) != nil")
	}
	inner := recoverableError("compile", ErrShaderCompile)
	if got := NativeError("create", inner); got != inner {
		t.Errorf("NativeError rewrapped an *Error: %v", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "submit", Kind: KindNative, Err: ErrDeviceLost}
	if got, want := err.Error(), "rhi: submit: rhi: device lost"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	bare := &Error{Op: "wait", Kind: KindRecoverable}
	if got, want := bare.Error(), "rhi: wait: recoverable failure"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got := ErrorKind(9).String(); got != "ErrorKind(9)" {
		t.Errorf("String() = %q", got)
	}
}
