package ld9

// Mach-O reader: load commands in, LinkUnit out.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/machlink/ld9/types"
)

// Parse decodes a statically linked 64-bit Mach-O executable into a
// LinkUnit. It performs no I/O; data is the entire input file.
//
// Load commands are walked exactly header.NCommands times, each one
// advancing the cursor by its self-declared size, so unrecognized
// command kinds are skipped rather than rejected. Any dynamic-linker
// command is recorded as a static-linkage violation and reported once
// the scan completes, so "dynamically linked" wins over errors in later
// commands of the same file.
func Parse(data []byte) (*LinkUnit, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%d byte input: %w", len(data), ErrFormat)
	}
	bo := binary.LittleEndian
	if types.Magic(bo.Uint32(data[:4])) != types.Magic64 {
		return nil, fmt.Errorf("magic %#08x: %w", bo.Uint32(data[:4]), ErrFormat)
	}
	if len(data) < types.FileHeaderSize64 {
		return nil, fmt.Errorf("%d byte input: %w", len(data), ErrTruncated)
	}

	var hdr types.FileHeader
	if err := binary.Read(bytes.NewReader(data), bo, &hdr); err != nil {
		return nil, fmt.Errorf("failed to read file header: %w", ErrTruncated)
	}
	if hdr.Type != types.MH_EXECUTE {
		return nil, fmt.Errorf("file type %s, expected MH_EXECUTE: %w", hdr.Type, ErrFormat)
	}
	if hdr.Flags.PIE() {
		// an ASLR slide needs the dynamic loader to apply it
		return nil, fmt.Errorf("position-independent executable: %w", ErrDynamicLink)
	}

	offset := uint64(types.FileHeaderSize64)
	end := offset + uint64(hdr.SizeCommands)
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("%d bytes of load commands in %d byte file: %w",
			hdr.SizeCommands, len(data), ErrTruncated)
	}

	var (
		segs     []Segment
		entries  []uint64 // resolved program counters
		mainOffs []uint64 // LC_MAIN file offsets, resolved after the scan
		dynCmd   types.LoadCmd
		isDyn    bool
	)
	// once a static-linkage violation is on record it outranks whatever
	// else goes wrong later in the scan
	fail := func(err error) error {
		if isDyn {
			return fmt.Errorf("%s: %w", dynCmd, ErrDynamicLink)
		}
		return err
	}

	for i := uint32(0); i < hdr.NCommands; i++ {
		if offset+8 > end {
			return nil, fail(fmt.Errorf("command %d out of %d runs past declared command area: %w",
				i, hdr.NCommands, ErrTruncated))
		}
		cmd := types.LoadCmd(bo.Uint32(data[offset:]))
		siz := uint64(bo.Uint32(data[offset+4:]))
		if siz < 8 || offset+siz > end {
			return nil, fail(fmt.Errorf("command %d (%s) size %d: %w", i, cmd, siz, ErrTruncated))
		}
		cmddat := data[offset : offset+siz]
		offset += siz

		switch cmd {
		case types.LC_SEGMENT_64:
			var seg64 types.Segment64
			if err := binary.Read(bytes.NewReader(cmddat), bo, &seg64); err != nil {
				return nil, fail(fmt.Errorf("failed to read LC_SEGMENT_64: %w", ErrTruncated))
			}
			if seg64.Offset+seg64.Filesz < seg64.Offset ||
				seg64.Offset+seg64.Filesz > uint64(len(data)) {
				return nil, fail(fmt.Errorf("segment %s file range %#x+%#x: %w",
					cstring(seg64.Name[:]), seg64.Offset, seg64.Filesz, ErrTruncated))
			}
			segs = append(segs, Segment{
				Name:   cstring(seg64.Name[:]),
				Addr:   seg64.Addr,
				Memsz:  seg64.Memsz,
				Offset: seg64.Offset,
				Filesz: seg64.Filesz,
				Prot:   seg64.Prot,
				Data:   append([]byte(nil), data[seg64.Offset:seg64.Offset+seg64.Filesz]...),
			})
		case types.LC_UNIXTHREAD:
			pc, ok, err := threadPC(cmddat, bo)
			if err != nil {
				return nil, fail(err)
			}
			if ok {
				entries = append(entries, pc)
			}
		case types.LC_MAIN:
			var main types.EntryPointCmd
			if err := binary.Read(bytes.NewReader(cmddat), bo, &main); err != nil {
				return nil, fail(fmt.Errorf("failed to read LC_MAIN: %w", ErrTruncated))
			}
			mainOffs = append(mainOffs, main.Offset)
		case types.LC_LOAD_DYLINKER, types.LC_ID_DYLINKER, types.LC_DYLD_ENVIRONMENT,
			types.LC_LOAD_DYLIB, types.LC_ID_DYLIB, types.LC_LOAD_WEAK_DYLIB,
			types.LC_REEXPORT_DYLIB, types.LC_LAZY_LOAD_DYLIB, types.LC_LOAD_UPWARD_DYLIB,
			types.LC_DYSYMTAB, types.LC_DYLD_INFO, types.LC_DYLD_INFO_ONLY,
			types.LC_DYLD_EXPORTS_TRIE, types.LC_DYLD_CHAINED_FIXUPS:
			if !isDyn {
				isDyn, dynCmd = true, cmd
			}
		default:
			// LC_SYMTAB, LC_UUID, version stamps and whatever Mach-O
			// grows next: skipped by their self-declared size
		}
	}

	if isDyn {
		return nil, fmt.Errorf("%s: %w", dynCmd, ErrDynamicLink)
	}
	for _, off := range mainOffs {
		addr, ok := vmaddrAt(segs, off)
		if !ok {
			return nil, fmt.Errorf("LC_MAIN offset %#x outside every segment: %w", off, ErrNoEntryPoint)
		}
		entries = append(entries, addr)
	}
	if len(entries) != 1 {
		return nil, fmt.Errorf("%d entry point candidates: %w", len(entries), ErrNoEntryPoint)
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Offset < segs[j].Offset })

	return &LinkUnit{Segments: segs, Entry: entries[0], Static: true}, nil
}

// threadPC pulls the initial program counter out of an LC_UNIXTHREAD
// command. x86_THREAD_STATE64 carries 21 64-bit registers with rip at
// slot 16; ARM_THREAD_STATE64 keeps pc second from last. Unknown
// flavors yield no candidate, same as unknown load commands.
func threadPC(cmddat []byte, bo binary.ByteOrder) (uint64, bool, error) {
	var ut types.UnixThreadCmd
	r := bytes.NewReader(cmddat)
	if err := binary.Read(r, bo, &ut); err != nil {
		return 0, false, fmt.Errorf("failed to read LC_UNIXTHREAD: %w", ErrTruncated)
	}
	if uint64(ut.Count/2)*8 > uint64(r.Len()) {
		return 0, false, fmt.Errorf("LC_UNIXTHREAD declares %d state words: %w", ut.Count, ErrTruncated)
	}
	regs := make([]uint64, ut.Count/2)
	if err := binary.Read(r, bo, regs); err != nil {
		return 0, false, fmt.Errorf("LC_UNIXTHREAD declares %d state words: %w", ut.Count, ErrTruncated)
	}
	switch ut.Flavor {
	case types.X86_THREAD_STATE64:
		if len(regs) < 17 {
			return 0, false, fmt.Errorf("x86_64 thread state with %d registers: %w", len(regs), ErrTruncated)
		}
		return regs[16], true, nil // rip
	case types.ARM_THREAD_STATE64:
		if len(regs) < 2 {
			return 0, false, fmt.Errorf("arm64 thread state with %d registers: %w", len(regs), ErrTruncated)
		}
		return regs[len(regs)-2], true, nil // pc
	}
	return 0, false, nil
}

// vmaddrAt maps a file offset to the virtual address it will occupy,
// given the segment that spans it.
func vmaddrAt(segs []Segment, fileoff uint64) (uint64, bool) {
	for _, s := range segs {
		if fileoff >= s.Offset && fileoff < s.Offset+s.Filesz {
			return s.Addr + (fileoff - s.Offset), true
		}
	}
	return 0, false
}

func cstring(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[0:i])
}
