// Package ld9 cross-links statically linked 64-bit Mach-O executables
// into Plan 9 a.out binaries.
//
// The translation is a single blind pass: Parse recovers the loadable
// segments and the initial program counter from the Mach-O load
// commands, Emit re-encodes them under Plan 9's fixed big-endian
// header. No byte of segment content is reinterpreted, only moved.
// Programs are expected to be compiled against Plan 9 syscalls and the
// Plan 9 ABI; Mach-O is just the vehicle of compilation and linking.
//
// Dynamic linkage is a hard precondition violation, not something to
// strip: Plan 9 has no dynamic linker, and blind-copying a dynamically
// linked image would produce a silently broken executable.
package ld9

import (
	"fmt"
	"os"

	"github.com/machlink/ld9/types"
)

// A Segment is one loadable region of the input executable. Data holds
// an owned copy of exactly Filesz bytes from the input file, so a
// LinkUnit never references the original buffer.
type Segment struct {
	Name   string // fixed-length ASCII in the file, e.g. "__TEXT"
	Addr   uint64 // virtual address
	Memsz  uint64 // virtual size; the excess over Filesz is zero-fill
	Offset uint64 // file offset of the backing bytes
	Filesz uint64 // number of bytes mapped from the file
	Prot   types.VmProtection
	Data   []byte
}

// A LinkUnit is the parsed view of an input executable, and the sole
// interface between the reader and the writer: loadable segments in
// ascending file-offset order, the resolved entry point, and the
// static-linkage confirmation.
type LinkUnit struct {
	Segments []Segment
	Entry    uint64 // virtual address of the first instruction
	Static   bool
}

// Translate converts a Mach-O image to a Plan 9 386 executable in one
// shot. It is Parse followed by Emit.
func Translate(data []byte) ([]byte, error) {
	unit, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Emit(unit)
}

// TranslateFile reads the Mach-O at in and writes the translated a.out
// to out. The output file is created only after the whole translation
// has succeeded, so a failed run never leaves a partial binary behind.
func TranslateFile(in, out string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	aout, err := Translate(data)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	return os.WriteFile(out, aout, 0o755)
}
