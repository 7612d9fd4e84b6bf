package ld9

import "errors"

// Every failure returned by Parse or Emit wraps one of these sentinels,
// so callers can test which precondition broke with errors.Is. A failed
// translation is terminal; none of these are retryable.
var (
	// ErrFormat means the input is not a 64-bit Mach-O executable at all:
	// bad magic, or a file type other than MH_EXECUTE.
	ErrFormat = errors.New("not a 64-bit Mach-O executable")

	// ErrDynamicLink means the input carries dynamic-linker load commands
	// and cannot be blindly copied into a static a.out image.
	ErrDynamicLink = errors.New("dynamically linked")

	// ErrNoEntryPoint means no single initial program counter could be
	// resolved from the load commands.
	ErrNoEntryPoint = errors.New("no entry point")

	// ErrTruncated means a declared load command or segment range runs
	// past the end of the input buffer.
	ErrTruncated = errors.New("truncated input")

	// ErrLayout means a resolved value does not fit the fixed-width
	// fields of the target a.out header.
	ErrLayout = errors.New("value does not fit a.out header field")
)
