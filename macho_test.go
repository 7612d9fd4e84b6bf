package ld9

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/machlink/ld9/types"
)

var le = binary.LittleEndian

// Plan 9 386 exit loop: mov $0x8,%eax; int $0x40; jmp back to the mov.
var exitLoop = []byte{0xb8, 0x08, 0x00, 0x00, 0x00, 0xcd, 0x40, 0xeb, 0xf7}

// exe assembles synthetic 64-bit Mach-O executables in memory.
type exe struct {
	filetype types.HeaderFileType
	flags    types.HeaderFlag
	cmds     [][]byte
	blobs    []blob
}

type blob struct {
	off  uint64
	data []byte
}

func newExe() *exe { return &exe{filetype: types.MH_EXECUTE} }

// cmd encodes vs back to back as a single load command.
func (e *exe) cmd(vs ...interface{}) *exe {
	var buf bytes.Buffer
	for _, v := range vs {
		if err := binary.Write(&buf, le, v); err != nil {
			panic(err)
		}
	}
	e.cmds = append(e.cmds, buf.Bytes())
	return e
}

// raw adds a load command of the given kind whose payload is size-8
// zero bytes; the parser never looks inside these.
func (e *exe) raw(cmd types.LoadCmd, size uint32) *exe {
	buf := make([]byte, size)
	le.PutUint32(buf[0:], uint32(cmd))
	le.PutUint32(buf[4:], size)
	e.cmds = append(e.cmds, buf)
	return e
}

// rawDeclared adds a command that lies about its own size.
func (e *exe) rawDeclared(cmd types.LoadCmd, declared uint32, actual int) *exe {
	buf := make([]byte, actual)
	le.PutUint32(buf[0:], uint32(cmd))
	le.PutUint32(buf[4:], declared)
	e.cmds = append(e.cmds, buf)
	return e
}

func (e *exe) segment(name string, addr, memsz, fileoff uint64, data []byte, prot types.VmProtection) *exe {
	var nameb [16]byte
	copy(nameb[:], name)
	e.blobs = append(e.blobs, blob{fileoff, data})
	return e.cmd(types.Segment64{
		LoadCmd: types.LC_SEGMENT_64,
		Len:     72,
		Name:    nameb,
		Addr:    addr,
		Memsz:   memsz,
		Offset:  fileoff,
		Filesz:  uint64(len(data)),
		Maxprot: prot,
		Prot:    prot,
	})
}

func (e *exe) unixThread(pc uint64) *exe {
	regs := make([]uint64, 21) // x86_thread_state64
	regs[16] = pc              // rip
	return e.cmd(types.UnixThreadCmd{
		LoadCmd: types.LC_UNIXTHREAD,
		Len:     16 + 21*8,
		Flavor:  types.X86_THREAD_STATE64,
		Count:   42,
	}, regs)
}

func (e *exe) armThread(pc uint64) *exe {
	regs := make([]uint64, 34) // arm_thread_state64: x0-x28, fp, lr, sp, pc, cpsr
	regs[32] = pc
	return e.cmd(types.UnixThreadCmd{
		LoadCmd: types.LC_UNIXTHREAD,
		Len:     16 + 34*8,
		Flavor:  types.ARM_THREAD_STATE64,
		Count:   68,
	}, regs)
}

func (e *exe) mainCmd(off uint64) *exe {
	return e.cmd(types.EntryPointCmd{LoadCmd: types.LC_MAIN, Len: 24, Offset: off})
}

func (e *exe) dylib(path string) *exe {
	name := make([]byte, (len(path)+1+7)&^7) // NUL terminated, pointer aligned
	copy(name, path)
	return e.cmd(types.DylibCmd{
		LoadCmd:        types.LC_LOAD_DYLIB,
		Len:            uint32(24 + len(name)),
		Name:           24,
		CurrentVersion: 0x10000,
		CompatVersion:  0x10000,
	}, name)
}

func (e *exe) build(t *testing.T) []byte {
	t.Helper()
	var cmdbuf bytes.Buffer
	for _, c := range e.cmds {
		cmdbuf.Write(c)
	}
	hdr := types.FileHeader{
		Magic:        types.Magic64,
		CPU:          types.CPUAmd64,
		SubCPU:       types.CPUSubtypeX86_64All,
		Type:         e.filetype,
		NCommands:    uint32(len(e.cmds)),
		SizeCommands: uint32(cmdbuf.Len()),
		Flags:        e.flags,
	}
	var buf bytes.Buffer
	if err := hdr.Write(&buf, le); err != nil {
		t.Fatal(err)
	}
	buf.Write(cmdbuf.Bytes())
	out := buf.Bytes()
	for _, b := range e.blobs {
		end := b.off + uint64(len(b.data))
		if uint64(len(out)) < end {
			out = append(out, make([]byte, end-uint64(len(out)))...)
		}
		copy(out[b.off:end], b.data)
	}
	return out
}

// staticExe is the canonical test input: one text segment holding the
// exit loop at 0x1000 and one data segment with zero-fill shortfall.
func staticExe() *exe {
	return newExe().
		segment("__TEXT", 0x1000, 0x1000, 0x200, exitLoop, 5).
		segment("__DATA", 0x2000, 0x1000, 0x400, []byte("hello, plan 9\x00"), 3).
		unixThread(0x1000)
}

func TestParse(t *testing.T) {
	data := staticExe().build(t)
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	want := &LinkUnit{
		Segments: []Segment{
			{Name: "__TEXT", Addr: 0x1000, Memsz: 0x1000, Offset: 0x200, Filesz: uint64(len(exitLoop)), Prot: 5, Data: exitLoop},
			{Name: "__DATA", Addr: 0x2000, Memsz: 0x1000, Offset: 0x400, Filesz: 14, Prot: 3, Data: []byte("hello, plan 9\x00")},
		},
		Entry:  0x1000,
		Static: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBadMagic(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{0xcf}},
		{"elf", []byte("\x7fELF\x02\x01\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00")},
		{"macho32", binary.LittleEndian.AppendUint32(nil, uint32(types.Magic32))},
		{"garbage", bytes.Repeat([]byte{0x42}, 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.data); !errors.Is(err, ErrFormat) {
				t.Errorf("Parse() = %v, want ErrFormat", err)
			}
		})
	}
}

func TestParseNotExecutable(t *testing.T) {
	e := staticExe()
	e.filetype = types.MH_DYLIB
	if _, err := Parse(e.build(t)); !errors.Is(err, ErrFormat) {
		t.Errorf("Parse() = %v, want ErrFormat", err)
	}
}

func TestParseDynamic(t *testing.T) {
	tests := []struct {
		name string
		add  func(*exe) *exe
	}{
		{"LC_LOAD_DYLIB", func(e *exe) *exe { return e.dylib("/usr/lib/libSystem.B.dylib") }},
		{"LC_LOAD_DYLINKER", func(e *exe) *exe { return e.raw(types.LC_LOAD_DYLINKER, 32) }},
		{"LC_ID_DYLINKER", func(e *exe) *exe { return e.raw(types.LC_ID_DYLINKER, 32) }},
		{"LC_DYSYMTAB", func(e *exe) *exe { return e.raw(types.LC_DYSYMTAB, 80) }},
		{"LC_DYLD_INFO", func(e *exe) *exe { return e.raw(types.LC_DYLD_INFO, 48) }},
		{"LC_DYLD_INFO_ONLY", func(e *exe) *exe { return e.raw(types.LC_DYLD_INFO_ONLY, 48) }},
		{"LC_LOAD_WEAK_DYLIB", func(e *exe) *exe { return e.raw(types.LC_LOAD_WEAK_DYLIB, 32) }},
		{"LC_REEXPORT_DYLIB", func(e *exe) *exe { return e.raw(types.LC_REEXPORT_DYLIB, 32) }},
		{"LC_LAZY_LOAD_DYLIB", func(e *exe) *exe { return e.raw(types.LC_LAZY_LOAD_DYLIB, 32) }},
		{"LC_LOAD_UPWARD_DYLIB", func(e *exe) *exe { return e.raw(types.LC_LOAD_UPWARD_DYLIB, 32) }},
		{"LC_DYLD_ENVIRONMENT", func(e *exe) *exe { return e.raw(types.LC_DYLD_ENVIRONMENT, 32) }},
		{"LC_DYLD_EXPORTS_TRIE", func(e *exe) *exe { return e.raw(types.LC_DYLD_EXPORTS_TRIE, 16) }},
		{"LC_DYLD_CHAINED_FIXUPS", func(e *exe) *exe { return e.raw(types.LC_DYLD_CHAINED_FIXUPS, 16) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.add(staticExe()).build(t)
			if _, err := Parse(data); !errors.Is(err, ErrDynamicLink) {
				t.Errorf("Parse() = %v, want ErrDynamicLink", err)
			}
		})
	}
}

func TestParsePIE(t *testing.T) {
	e := staticExe()
	e.flags = types.NoUndefs | types.PIE
	if _, err := Parse(e.build(t)); !errors.Is(err, ErrDynamicLink) {
		t.Errorf("Parse() = %v, want ErrDynamicLink", err)
	}
}

// A recorded static-linkage violation must win over errors in later
// commands of the same file.
func TestParseDynamicWinsOverLaterErrors(t *testing.T) {
	data := staticExe().
		dylib("/usr/lib/libSystem.B.dylib").
		rawDeclared(types.LC_SYMTAB, 0x10000, 24).
		build(t)
	if _, err := Parse(data); !errors.Is(err, ErrDynamicLink) {
		t.Errorf("Parse() = %v, want ErrDynamicLink", err)
	}
}

func TestParseNoEntryPoint(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		data := newExe().segment("__TEXT", 0x1000, 0x1000, 0x200, exitLoop, 5).build(t)
		if _, err := Parse(data); !errors.Is(err, ErrNoEntryPoint) {
			t.Errorf("Parse() = %v, want ErrNoEntryPoint", err)
		}
	})
	t.Run("two candidates", func(t *testing.T) {
		data := staticExe().unixThread(0x1004).build(t)
		if _, err := Parse(data); !errors.Is(err, ErrNoEntryPoint) {
			t.Errorf("Parse() = %v, want ErrNoEntryPoint", err)
		}
	})
}

func TestParseMainEntry(t *testing.T) {
	data := newExe().
		segment("__TEXT", 0x1000, 0x1000, 0x200, exitLoop, 5).
		mainCmd(0x204). // file offset of the second instruction
		build(t)
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if want := uint64(0x1004); got.Entry != want {
		t.Errorf("Entry = %#x, want %#x", got.Entry, want)
	}
}

func TestParseArmThreadState(t *testing.T) {
	data := newExe().
		segment("__TEXT", 0x1000, 0x1000, 0x200, exitLoop, 5).
		armThread(0x1000).
		build(t)
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if want := uint64(0x1000); got.Entry != want {
		t.Errorf("Entry = %#x, want %#x", got.Entry, want)
	}
}

func TestParseTruncated(t *testing.T) {
	t.Run("segment range past end", func(t *testing.T) {
		var nameb [16]byte
		copy(nameb[:], "__TEXT")
		data := newExe().
			cmd(types.Segment64{
				LoadCmd: types.LC_SEGMENT_64,
				Len:     72,
				Name:    nameb,
				Addr:    0x1000,
				Memsz:   0x1000,
				Offset:  0x10000,
				Filesz:  0x1000,
				Maxprot: 5,
				Prot:    5,
			}).
			unixThread(0x1000).
			build(t)
		if _, err := Parse(data); !errors.Is(err, ErrTruncated) {
			t.Errorf("Parse() = %v, want ErrTruncated", err)
		}
	})
	t.Run("command past declared area", func(t *testing.T) {
		data := staticExe().rawDeclared(types.LC_SYMTAB, 0x10000, 24).build(t)
		if _, err := Parse(data); !errors.Is(err, ErrTruncated) {
			t.Errorf("Parse() = %v, want ErrTruncated", err)
		}
	})
	t.Run("more commands than bytes", func(t *testing.T) {
		data := staticExe().build(t)
		le.PutUint32(data[16:], 40) // NCommands
		if _, err := Parse(data); !errors.Is(err, ErrTruncated) {
			t.Errorf("Parse() = %v, want ErrTruncated", err)
		}
	})
	t.Run("command area past end of file", func(t *testing.T) {
		data := staticExe().build(t)
		le.PutUint32(data[20:], uint32(len(data))) // SizeCommands
		if _, err := Parse(data); !errors.Is(err, ErrTruncated) {
			t.Errorf("Parse() = %v, want ErrTruncated", err)
		}
	})
	t.Run("thread state count past command", func(t *testing.T) {
		// a count far beyond the command's own bytes must be rejected
		// before any register buffer is sized from it
		data := newExe().
			segment("__TEXT", 0x1000, 0x1000, 0x200, exitLoop, 5).
			cmd(types.UnixThreadCmd{
				LoadCmd: types.LC_UNIXTHREAD,
				Len:     16,
				Flavor:  types.X86_THREAD_STATE64,
				Count:   0x40000000,
			}).
			build(t)
		if _, err := Parse(data); !errors.Is(err, ErrTruncated) {
			t.Errorf("Parse() = %v, want ErrTruncated", err)
		}
	})
}

// Unrecognized load command kinds advance the cursor by their declared
// size instead of failing the parse.
func TestParseSkipsUnknownCommands(t *testing.T) {
	data := staticExe().
		cmd(types.UUIDCmd{LoadCmd: types.LC_UUID, Len: 24, UUID: [16]byte{1, 2, 3}}).
		cmd(types.SourceVersionCmd{LoadCmd: types.LC_SOURCE_VERSION, Len: 16, Version: 42}).
		raw(types.LC_FUNCTION_STARTS, 16).
		raw(types.LoadCmd(0x4d), 12). // a kind Mach-O has not grown yet
		build(t)
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	if len(got.Segments) != 2 {
		t.Errorf("got %d segments, want 2", len(got.Segments))
	}
}

func TestParseOrdersSegmentsByFileOffset(t *testing.T) {
	data := newExe().
		segment("__DATA", 0x2000, 0x1000, 0x600, []byte{1, 2, 3, 4}, 3).
		segment("__TEXT", 0x1000, 0x1000, 0x300, exitLoop, 5).
		unixThread(0x1000).
		build(t)
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	var names []string
	for _, s := range got.Segments {
		names = append(names, s.Name)
	}
	if diff := cmp.Diff([]string{"__TEXT", "__DATA"}, names); diff != "" {
		t.Errorf("segment order mismatch (-want +got):\n%s", diff)
	}
}

// The LinkUnit must own its bytes: clobbering the input after Parse
// must not reach through into segment data.
func TestParseCopiesSegmentBytes(t *testing.T) {
	data := staticExe().build(t)
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() = %v", err)
	}
	for i := range data {
		data[i] = 0xff
	}
	if !bytes.Equal(got.Segments[0].Data, exitLoop) {
		t.Errorf("segment data aliased the input buffer")
	}
}
