package types

// A LoadCmd is a Mach-O load command.
type LoadCmd uint32

func (c LoadCmd) Command() LoadCmd { return c }

const (
	LC_REQ_DYLD            LoadCmd = 0x80000000
	LC_SEGMENT             LoadCmd = 0x1 // segment of this file to be mapped
	LC_SYMTAB              LoadCmd = 0x2 // link-edit stab symbol table info
	LC_UNIXTHREAD          LoadCmd = 0x5 // thread+stack
	LC_DYSYMTAB            LoadCmd = 0xb // dynamic link-edit symbol table info
	LC_LOAD_DYLIB          LoadCmd = 0xc // load dylib command
	LC_ID_DYLIB            LoadCmd = 0xd // id dylib command
	LC_LOAD_DYLINKER       LoadCmd = 0xe // load a dynamic linker
	LC_ID_DYLINKER         LoadCmd = 0xf // id dylinker command (not load dylinker command)
	LC_LOAD_WEAK_DYLIB     LoadCmd = (0x18 | LC_REQ_DYLD)
	LC_SEGMENT_64          LoadCmd = 0x19                 // 64-bit segment of this file to be mapped
	LC_UUID                LoadCmd = 0x1b                 // the uuid
	LC_CODE_SIGNATURE      LoadCmd = 0x1d                 // local of code signature
	LC_REEXPORT_DYLIB      LoadCmd = (0x1f | LC_REQ_DYLD) // load and re-export dylib
	LC_LAZY_LOAD_DYLIB     LoadCmd = 0x20                 // delay load of dylib until first use
	LC_DYLD_INFO           LoadCmd = 0x22                 // compressed dyld information
	LC_DYLD_INFO_ONLY      LoadCmd = (0x22 | LC_REQ_DYLD) // compressed dyld information only
	LC_LOAD_UPWARD_DYLIB   LoadCmd = (0x23 | LC_REQ_DYLD) // load upward dylib
	LC_VERSION_MIN_MACOSX  LoadCmd = 0x24                 // build for MacOSX min OS version
	LC_FUNCTION_STARTS     LoadCmd = 0x26                 // compressed table of function start addresses
	LC_DYLD_ENVIRONMENT    LoadCmd = 0x27                 // string for dyld to treat like environment variable
	LC_MAIN                LoadCmd = (0x28 | LC_REQ_DYLD) // replacement for LC_UNIXTHREAD
	LC_DATA_IN_CODE        LoadCmd = 0x29                 // table of non-instructions in __text
	LC_SOURCE_VERSION      LoadCmd = 0x2a                 // source version used to build binary
	LC_BUILD_VERSION       LoadCmd = 0x32                 // build for platform min OS version
	LC_DYLD_EXPORTS_TRIE   LoadCmd = (0x33 | LC_REQ_DYLD) // used with linkedit_data_command
	LC_DYLD_CHAINED_FIXUPS LoadCmd = (0x34 | LC_REQ_DYLD) // used with linkedit_data_command
)

var cmdStrings = []IntName{
	{uint32(LC_SEGMENT), "LC_SEGMENT"},
	{uint32(LC_SYMTAB), "LC_SYMTAB"},
	{uint32(LC_UNIXTHREAD), "LC_UNIXTHREAD"},
	{uint32(LC_DYSYMTAB), "LC_DYSYMTAB"},
	{uint32(LC_LOAD_DYLIB), "LC_LOAD_DYLIB"},
	{uint32(LC_ID_DYLIB), "LC_ID_DYLIB"},
	{uint32(LC_LOAD_DYLINKER), "LC_LOAD_DYLINKER"},
	{uint32(LC_ID_DYLINKER), "LC_ID_DYLINKER"},
	{uint32(LC_LOAD_WEAK_DYLIB), "LC_LOAD_WEAK_DYLIB"},
	{uint32(LC_SEGMENT_64), "LC_SEGMENT_64"},
	{uint32(LC_UUID), "LC_UUID"},
	{uint32(LC_CODE_SIGNATURE), "LC_CODE_SIGNATURE"},
	{uint32(LC_REEXPORT_DYLIB), "LC_REEXPORT_DYLIB"},
	{uint32(LC_LAZY_LOAD_DYLIB), "LC_LAZY_LOAD_DYLIB"},
	{uint32(LC_DYLD_INFO), "LC_DYLD_INFO"},
	{uint32(LC_DYLD_INFO_ONLY), "LC_DYLD_INFO_ONLY"},
	{uint32(LC_LOAD_UPWARD_DYLIB), "LC_LOAD_UPWARD_DYLIB"},
	{uint32(LC_VERSION_MIN_MACOSX), "LC_VERSION_MIN_MACOSX"},
	{uint32(LC_FUNCTION_STARTS), "LC_FUNCTION_STARTS"},
	{uint32(LC_DYLD_ENVIRONMENT), "LC_DYLD_ENVIRONMENT"},
	{uint32(LC_MAIN), "LC_MAIN"},
	{uint32(LC_DATA_IN_CODE), "LC_DATA_IN_CODE"},
	{uint32(LC_SOURCE_VERSION), "LC_SOURCE_VERSION"},
	{uint32(LC_BUILD_VERSION), "LC_BUILD_VERSION"},
	{uint32(LC_DYLD_EXPORTS_TRIE), "LC_DYLD_EXPORTS_TRIE"},
	{uint32(LC_DYLD_CHAINED_FIXUPS), "LC_DYLD_CHAINED_FIXUPS"},
}

func (c LoadCmd) String() string   { return StringName(uint32(c), cmdStrings, false) }
func (c LoadCmd) GoString() string { return StringName(uint32(c), cmdStrings, true) }

// A Segment64 is a 64-bit Mach-O segment load command.
type Segment64 struct {
	LoadCmd              /* LC_SEGMENT_64 */
	Len     uint32       /* includes sizeof section_64 structs */
	Name    [16]byte     /* segment name */
	Addr    uint64       /* memory address of this segment */
	Memsz   uint64       /* memory size of this segment */
	Offset  uint64       /* file offset of this segment */
	Filesz  uint64       /* amount to map from the file */
	Maxprot VmProtection /* maximum VM protection */
	Prot    VmProtection /* initial VM protection */
	Nsect   uint32       /* number of sections in segment */
	Flag    uint32       /* flags */
}

// A SymtabCmd is a Mach-O symbol table command.
type SymtabCmd struct {
	LoadCmd // LC_SYMTAB
	Len     uint32
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
}

// A UnixThreadCmd is a Mach-O unix thread command. The thread state
// registers follow, Count 32-bit words of them.
type UnixThreadCmd struct {
	LoadCmd // LC_UNIXTHREAD
	Len     uint32
	Flavor  uint32
	Count   uint32
}

// Thread state flavors that seed an initial program counter.
const (
	X86_THREAD_STATE64 uint32 = 4 // 21 64-bit registers, rip at slot 16
	ARM_THREAD_STATE64 uint32 = 6 // x0-x28, fp, lr, sp, pc, cpsr
)

// A DylibCmd is a Mach-O load dylib command.
type DylibCmd struct {
	LoadCmd        // LC_LOAD_DYLIB
	Len            uint32
	Name           uint32 // pathname offset from start of command
	Time           uint32
	CurrentVersion uint32
	CompatVersion  uint32
}

// A DylinkerCmd is a Mach-O load dynamic linker command.
type DylinkerCmd struct {
	LoadCmd // LC_LOAD_DYLINKER
	Len     uint32
	Name    uint32 // pathname offset from start of command
}

// A UUIDCmd is a Mach-O uuid load command.
type UUIDCmd struct {
	LoadCmd // LC_UUID
	Len     uint32
	UUID    [16]byte
}

// A SourceVersionCmd is a Mach-O source version command.
type SourceVersionCmd struct {
	LoadCmd // LC_SOURCE_VERSION
	Len     uint32
	Version uint64 // A.B.C.D.E packed as a24.b10.c10.d10.e10
}

// A EntryPointCmd is a Mach-O main command.
type EntryPointCmd struct {
	LoadCmd          // LC_MAIN only used in MH_EXECUTE filetypes
	Len       uint32 // 24
	Offset    uint64 // file (__TEXT) offset of main()
	StackSize uint64 // if not zero, initial stack size
}
