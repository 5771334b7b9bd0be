// Copyright (c) 2016-2023 The Decred developers.

package opencl

import "fmt"

// ErrorKind classifies a device failure so callers can tell which
// initialization or dispatch step went wrong and whether the context is
// still usable.
type ErrorKind int

const (
	// ErrCapability means the device cannot hold the requested intensity
	// and work size.  Detected before any allocation.
	ErrCapability ErrorKind = iota

	// ErrCompile means the kernel source failed to build for the device.
	ErrCompile

	// ErrAlloc means a buffer or queue could not be created on the
	// device.
	ErrAlloc

	// ErrTransfer means work or target data could not be copied to the
	// device.  The previously loaded work is still intact.
	ErrTransfer

	// ErrExec means a kernel run failed on the device.  The nonce cursor
	// is undefined afterwards; the caller must set work again before
	// retrying.
	ErrExec
)

func (k ErrorKind) String() string {
	switch k {
	case ErrCapability:
		return "capability"
	case ErrCompile:
		return "compile"
	case ErrAlloc:
		return "alloc"
	case ErrTransfer:
		return "transfer"
	case ErrExec:
		return "exec"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// DeviceError tags an underlying OpenCL error with the device it
// occurred on, its classification and the operation that failed.
type DeviceError struct {
	Index int
	Kind  ErrorKind
	Op    string
	Err   error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("DEV #%d: %s error in %s: %v", e.Index, e.Kind,
		e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Terminal reports whether the error leaves the context unusable until
// it is fully reinitialized.  Transfer and execution failures are
// recoverable by resubmitting work.
func (e *DeviceError) Terminal() bool {
	switch e.Kind {
	case ErrCapability, ErrCompile, ErrAlloc:
		return true
	}
	return false
}

func devErr(index int, kind ErrorKind, op string, err error) *DeviceError {
	return &DeviceError{Index: index, Kind: kind, Op: op, Err: err}
}
