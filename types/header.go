package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

// A FileHeader is the fixed-size record at the start of a Mach-O file.
// The 64-bit layout carries a trailing reserved word that the 32-bit
// layout lacks.
type FileHeader struct {
	Magic        Magic
	CPU          CPU
	SubCPU       CPUSubtype
	Type         HeaderFileType
	NCommands    uint32
	SizeCommands uint32
	Flags        HeaderFlag
	Reserved     uint32
}

const (
	FileHeaderSize32 = 7 * 4
	FileHeaderSize64 = 8 * 4
)

func (h *FileHeader) Write(buf *bytes.Buffer, o binary.ByteOrder) error {
	if err := binary.Write(buf, o, h); err != nil {
		return fmt.Errorf("failed to write file header to buffer: %v", err)
	}
	return nil
}

func (h FileHeader) String() string {
	return fmt.Sprintf(
		"Magic         = %s\n"+
			"Type          = %s\n"+
			"CPU           = %s\n"+
			"Commands      = %d (Size: %d)\n"+
			"Flags         = %#x\n",
		h.Magic,
		h.Type,
		h.CPU,
		h.NCommands,
		h.SizeCommands,
		uint32(h.Flags),
	)
}

type Magic uint32

const (
	Magic32  Magic = 0xfeedface
	Magic64  Magic = 0xfeedfacf
	MagicFat Magic = 0xcafebabe
)

var magicStrings = []IntName{
	{uint32(Magic32), "32-bit MachO"},
	{uint32(Magic64), "64-bit MachO"},
	{uint32(MagicFat), "Fat MachO"},
}

func (i Magic) Int() uint32      { return uint32(i) }
func (i Magic) String() string   { return StringName(uint32(i), magicStrings, false) }
func (i Magic) GoString() string { return StringName(uint32(i), magicStrings, true) }

// A HeaderFileType is the Mach-O file type, e.g. an object file, executable, or dynamic library.
type HeaderFileType uint32

const (
	MH_OBJECT   HeaderFileType = 0x1 /* relocatable object file */
	MH_EXECUTE  HeaderFileType = 0x2 /* demand paged executable file */
	MH_FVMLIB   HeaderFileType = 0x3 /* fixed VM shared library file */
	MH_CORE     HeaderFileType = 0x4 /* core file */
	MH_PRELOAD  HeaderFileType = 0x5 /* preloaded executable file */
	MH_DYLIB    HeaderFileType = 0x6 /* dynamically bound shared library */
	MH_DYLINKER HeaderFileType = 0x7 /* dynamic link editor */
	MH_BUNDLE   HeaderFileType = 0x8 /* dynamically bound bundle file */
	MH_DSYM     HeaderFileType = 0xa /* companion file with only debug sections */
)

var fileTypeStrings = []IntName{
	{uint32(MH_OBJECT), "MH_OBJECT"},
	{uint32(MH_EXECUTE), "MH_EXECUTE"},
	{uint32(MH_FVMLIB), "MH_FVMLIB"},
	{uint32(MH_CORE), "MH_CORE"},
	{uint32(MH_PRELOAD), "MH_PRELOAD"},
	{uint32(MH_DYLIB), "MH_DYLIB"},
	{uint32(MH_DYLINKER), "MH_DYLINKER"},
	{uint32(MH_BUNDLE), "MH_BUNDLE"},
	{uint32(MH_DSYM), "MH_DSYM"},
}

func (t HeaderFileType) String() string   { return StringName(uint32(t), fileTypeStrings, false) }
func (t HeaderFileType) GoString() string { return StringName(uint32(t), fileTypeStrings, true) }

type HeaderFlag uint32

const (
	NoUndefs   HeaderFlag = 0x1
	IncrLink   HeaderFlag = 0x2
	DyldLink   HeaderFlag = 0x4
	BindAtLoad HeaderFlag = 0x8
	Prebound   HeaderFlag = 0x10
	TwoLevel   HeaderFlag = 0x80
	PIE        HeaderFlag = 0x200000
)

func (f HeaderFlag) NoUndefs() bool { return (f & NoUndefs) != 0 }
func (f HeaderFlag) DyldLink() bool { return (f & DyldLink) != 0 }
func (f HeaderFlag) TwoLevel() bool { return (f & TwoLevel) != 0 }
func (f HeaderFlag) PIE() bool      { return (f & PIE) != 0 }

// A CPU is a Mach-O cpu type.
type CPU uint32

const cpuArch64 = 0x01000000

const (
	CPU386   CPU = 7
	CPUAmd64 CPU = CPU386 | cpuArch64
	CPUArm   CPU = 12
	CPUArm64 CPU = CPUArm | cpuArch64
	CPUPpc   CPU = 18
	CPUPpc64 CPU = CPUPpc | cpuArch64
)

var cpuStrings = []IntName{
	{uint32(CPU386), "i386"},
	{uint32(CPUAmd64), "Amd64"},
	{uint32(CPUArm), "ARM"},
	{uint32(CPUArm64), "AARCH64"},
	{uint32(CPUPpc), "PowerPC"},
	{uint32(CPUPpc64), "PowerPC 64"},
}

func (i CPU) String() string   { return StringName(uint32(i), cpuStrings, false) }
func (i CPU) GoString() string { return StringName(uint32(i), cpuStrings, true) }

// A CPUSubtype is the exact model of the CPU.
type CPUSubtype uint32

const (
	CPUSubtypeX86All    CPUSubtype = 3
	CPUSubtypeX86_64All CPUSubtype = 3
	CPUSubtypeArm64All  CPUSubtype = 0
)

// An IntName pairs a constant with its string form, for printing.
type IntName struct {
	I uint32
	S string
}

func StringName(i uint32, names []IntName, goSyntax bool) string {
	for _, n := range names {
		if n.I == i {
			if goSyntax {
				return "types." + n.S
			}
			return n.S
		}
	}
	return strconv.FormatUint(uint64(i), 10)
}
