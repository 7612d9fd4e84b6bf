package ld9

// Plan 9 a.out writer. An executable Plan 9 binary has up to six
// sections: a header, the program text, the data, a symbol table, a
// PC/SP offset table, and a PC/line number table. The header holds
// eight 4-byte big-endian integers: magic, text, data, bss, syms,
// entry, spsz, pcsz. Magics with the HDR bit set carry one more
// big-endian 8-byte entry word right after the header. This writer
// emits stripped binaries: syms, spsz and pcsz are always zero.

import (
	"encoding/binary"
	"fmt"
	"math"
)

// An AoutMagic selects the target Plan 9 architecture.
type AoutMagic uint32

// hdrBit marks the expanded header carrying a 64-bit entry.
const hdrBit = 0x00008000

// aoutMagic is _MAGIC(f,b) from a.out.h.
func aoutMagic(f, b uint32) AoutMagic {
	return AoutMagic(f | ((((4 * b) + 0) * b) + 7))
}

var (
	Magic68020 = aoutMagic(0, 8)
	Magic386   = aoutMagic(0, 11)
	MagicSparc = aoutMagic(0, 13)
	MagicMips  = aoutMagic(0, 16)
	MagicARM   = aoutMagic(0, 20)
	MagicPPC   = aoutMagic(0, 21)
	MagicAMD64 = aoutMagic(hdrBit, 26)
	MagicPPC64 = aoutMagic(hdrBit, 27)
	MagicARM64 = aoutMagic(hdrBit, 28)
)

// HdrSize returns the size in bytes of the a.out header this magic
// mandates: 8 words, plus the 64-bit entry for HDR-bit magics.
func (m AoutMagic) HdrSize() uint64 {
	if uint32(m)&hdrBit != 0 {
		return 8*4 + 8
	}
	return 8 * 4
}

// Emit encodes the unit as a Plan 9 386 executable, the original
// target of this cross-linker. See EmitFor.
func Emit(unit *LinkUnit) ([]byte, error) {
	return EmitFor(unit, Magic386)
}

// EmitFor encodes the unit as a Plan 9 executable for the given target
// magic. Segments with execute protection land in the text section and
// writable non-executable segments in the data section, each
// concatenated in file order; everything else (__PAGEZERO, __LINKEDIT)
// contributes no bytes. The bss size is the zero-fill shortfall of the
// largest data segment.
//
// The entry field is the Mach-O program counter plus the header size:
// Plan 9 maps header+text together at the text base address (0x1000 on
// 386, which the input is assumed to share), so every text byte lands
// exactly one header size past its Mach-O virtual address.
//
// It fails with ErrLayout when a value does not fit its header field;
// it never truncates silently.
func EmitFor(unit *LinkUnit, magic AoutMagic) ([]byte, error) {
	var (
		text, data []byte
		bss, dmax  uint64
	)
	for i := range unit.Segments {
		s := &unit.Segments[i]
		switch {
		case s.Prot.Execute():
			text = append(text, s.Data...)
		case s.Prot.Write():
			data = append(data, s.Data...)
			if s.Memsz > dmax {
				dmax = s.Memsz
				bss = 0
				if s.Memsz > s.Filesz {
					bss = s.Memsz - s.Filesz
				}
			}
		}
	}

	entry := unit.Entry + magic.HdrSize()
	if entry < unit.Entry {
		return nil, fmt.Errorf("entry %#x: %w", unit.Entry, ErrLayout)
	}
	for _, f := range []struct {
		name string
		v    uint64
	}{
		{"text size", uint64(len(text))},
		{"data size", uint64(len(data))},
		{"bss size", bss},
	} {
		if f.v > math.MaxUint32 {
			return nil, fmt.Errorf("%s %#x: %w", f.name, f.v, ErrLayout)
		}
	}
	if uint32(magic)&hdrBit == 0 && entry > math.MaxUint32 {
		return nil, fmt.Errorf("entry %#x: %w", entry, ErrLayout)
	}

	out := make([]byte, magic.HdrSize(), magic.HdrSize()+uint64(len(text))+uint64(len(data)))
	be := binary.BigEndian
	be.PutUint32(out[0:], uint32(magic))
	be.PutUint32(out[4:], uint32(len(text)))
	be.PutUint32(out[8:], uint32(len(data)))
	be.PutUint32(out[12:], uint32(bss))
	be.PutUint32(out[16:], 0) // syms: stripped output
	be.PutUint32(out[20:], uint32(entry))
	be.PutUint32(out[24:], 0) // spsz
	be.PutUint32(out[28:], 0) // pcsz
	if uint32(magic)&hdrBit != 0 {
		be.PutUint64(out[32:], entry)
	}
	out = append(out, text...)
	out = append(out, data...)
	return out, nil
}
