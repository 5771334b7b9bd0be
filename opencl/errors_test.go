package opencl

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDeviceError(t *testing.T) {
	underlying := errors.New("cl: Out Of Resources")
	err := devErr(2, ErrExec, "EnqueueNDRangeKernel cn1", underlying)

	msg := err.Error()
	for _, want := range []string{"DEV #2", "exec", "cn1", "Out Of Resources"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	if !errors.Is(err, underlying) {
		t.Error("errors.Is failed to reach the underlying error")
	}

	var derr *DeviceError
	wrapped := fmt.Errorf("run failed: %w", err)
	if !errors.As(wrapped, &derr) || derr.Index != 2 {
		t.Error("errors.As failed to recover the DeviceError")
	}
}

func TestErrorKindTerminal(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		terminal bool
	}{
		{ErrCapability, true},
		{ErrCompile, true},
		{ErrAlloc, true},
		{ErrTransfer, false},
		{ErrExec, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := devErr(0, tt.kind, "op", errors.New("x"))
			if err.Terminal() != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", err.Terminal(), tt.terminal)
			}
		})
	}
}

func TestErrorKindString(t *testing.T) {
	kinds := map[ErrorKind]string{
		ErrCapability: "capability",
		ErrCompile:    "compile",
		ErrAlloc:      "alloc",
		ErrTransfer:   "transfer",
		ErrExec:       "exec",
		ErrorKind(99): "unknown(99)",
	}
	for kind, want := range kinds {
		if got := kind.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
