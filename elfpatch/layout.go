package elfpatch

import "fmt"

// grow appends a new PT_LOAD segment to hold whatever no longer fits:
// a relocated program header table (always, to gain the extra entry),
// the new interpreter, and a rebuilt dynamic string table with the new
// RPATH appended. Changes that still fit their existing storage are
// applied in place.
func (f *File) grow(out []byte, interpChange, rpathChange, interpFits, rpathFits bool) ([]byte, error) {
	if interpChange && interpFits {
		p := f.phdrs[f.interpIdx]
		writeCString(out[p.off:p.off+p.filesz], *f.newInterp)
	}
	if rpathChange && rpathFits {
		start := f.strtabOff + f.rpathOff
		end := start + uint64(len(f.rpath)) + 1
		if end > uint64(len(out)) {
			end = uint64(len(out))
		}
		writeCString(out[start:end], *f.newRPath)
	}
	relocInterp := interpChange && !interpFits
	relocRPath := rpathChange && !rpathFits
	if !relocInterp && !relocRPath {
		return out, nil
	}
	if f.phnum+1 > 0xffff {
		return nil, fmt.Errorf("%w: program header table full", ErrRewrite)
	}

	// Pick the file offset and virtual address of the new segment.
	// Both are rounded to the maximum PT_LOAD alignment so they stay
	// congruent modulo the page size.
	align := uint64(0x1000)
	var maxVaddrEnd uint64
	for _, p := range f.phdrs {
		if p.typ != ptLoad {
			continue
		}
		if p.align > align {
			align = p.align
		}
		if end := p.vaddr + p.memsz; end > maxVaddrEnd {
			maxVaddrEnd = end
		}
	}
	newOff := alignUp(uint64(len(out)), align)
	newVaddr := alignUp(maxVaddrEnd, align)

	// Lay out the blob: program headers, then interpreter, then dynstr.
	phSize := uint64(f.phnum+1) * uint64(f.phdrSize())
	pos := phSize
	var interpBlobOff uint64
	if relocInterp {
		interpBlobOff = pos
		pos += uint64(len(*f.newInterp)) + 1
	}
	var dynstrBlobOff, newStrtabSize, newRPathOff uint64
	if relocRPath {
		dynstrBlobOff = pos
		newRPathOff = f.strtabSize
		newStrtabSize = f.strtabSize + uint64(len(*f.newRPath)) + 1
		pos += newStrtabSize
	}
	blobSize := pos
	if !f.is64 && newVaddr+blobSize >= 1<<32 {
		return nil, fmt.Errorf("%w: segment exceeds 32-bit address space", ErrRewrite)
	}

	blob := make([]byte, blobSize)
	if relocInterp {
		copy(blob[interpBlobOff:], *f.newInterp)
	}
	if relocRPath {
		copy(blob[dynstrBlobOff:], out[f.strtabOff:f.strtabOff+f.strtabSize])
		copy(blob[dynstrBlobOff+newRPathOff:], *f.newRPath)
	}

	phdrs := append([]progHeader(nil), f.phdrs...)
	for i := range phdrs {
		switch {
		case phdrs[i].typ == ptPhdr:
			phdrs[i].off = newOff
			phdrs[i].vaddr = newVaddr
			phdrs[i].paddr = newVaddr
			phdrs[i].filesz = phSize
			phdrs[i].memsz = phSize
		case phdrs[i].typ == ptInterp && relocInterp:
			phdrs[i].off = newOff + interpBlobOff
			phdrs[i].vaddr = newVaddr + interpBlobOff
			phdrs[i].paddr = newVaddr + interpBlobOff
			phdrs[i].filesz = uint64(len(*f.newInterp)) + 1
			phdrs[i].memsz = phdrs[i].filesz
		}
	}
	phdrs = append(phdrs, progHeader{
		typ:    ptLoad,
		flags:  pfR,
		off:    newOff,
		vaddr:  newVaddr,
		paddr:  newVaddr,
		filesz: blobSize,
		memsz:  blobSize,
		align:  align,
	})
	for i, p := range phdrs {
		f.encodePhdr(blob[uint64(i)*uint64(f.phdrSize()):], p)
	}

	// Rewrite the dynamic section to point at the rebuilt dynstr.
	if relocRPath {
		if err := f.patchDynamic(out, newVaddr+dynstrBlobOff, newStrtabSize, newRPathOff); err != nil {
			return nil, err
		}
	}

	// Relocated sections keep tools (and tests) consistent with the
	// program headers.
	if relocInterp {
		old := f.phdrs[f.interpIdx]
		for i := range f.shdrs {
			if f.shdrs[i].off == old.off && f.shdrs[i].size == old.filesz {
				f.shdrs[i].off = newOff + interpBlobOff
				f.shdrs[i].addr = newVaddr + interpBlobOff
				f.shdrs[i].size = uint64(len(*f.newInterp)) + 1
				f.encodeShdr(out[f.shoff+uint64(i*f.shdrSize()):], f.shdrs[i])
			}
		}
	}
	if relocRPath {
		for i := range f.shdrs {
			if f.shdrs[i].typ != shtDynamic {
				continue
			}
			strIdx := int(f.shdrs[i].link)
			if strIdx <= 0 || strIdx >= len(f.shdrs) {
				continue
			}
			f.shdrs[strIdx].off = newOff + dynstrBlobOff
			f.shdrs[strIdx].addr = newVaddr + dynstrBlobOff
			f.shdrs[strIdx].size = newStrtabSize
			f.encodeShdr(out[f.shoff+uint64(strIdx*f.shdrSize()):], f.shdrs[strIdx])
		}
	}

	// Point the ELF header at the relocated program header table.
	if f.is64 {
		f.bo.PutUint64(out[0x20:], newOff)
		f.bo.PutUint16(out[0x38:], uint16(f.phnum+1))
	} else {
		f.bo.PutUint32(out[0x1c:], uint32(newOff))
		f.bo.PutUint16(out[0x2c:], uint16(f.phnum+1))
	}

	out = append(out, make([]byte, newOff-uint64(len(out)))...)
	return append(out, blob...), nil
}

// patchDynamic updates DT_STRTAB/DT_STRSZ and the RPATH entry in the
// dynamic section bytes of out. When the binary has no RPATH entry yet,
// the first DT_NULL slot is claimed, which requires a spare terminator
// after it.
func (f *File) patchDynamic(out []byte, strtabAddr, strtabSize, rpathOff uint64) error {
	dynOff := f.phdrs[f.dynIdx].off
	entsize := uint64(f.dynEntrySize())
	claimed := f.rpathTag != 0
	for i, e := range f.dyn {
		off := dynOff + uint64(i)*entsize
		switch {
		case e.tag == dtStrTab:
			f.encodeDyn(out[off:], dynEntry{tag: dtStrTab, val: strtabAddr})
		case e.tag == dtStrSz:
			f.encodeDyn(out[off:], dynEntry{tag: dtStrSz, val: strtabSize})
		case f.rpathTag != 0 && e.tag == f.rpathTag:
			f.encodeDyn(out[off:], dynEntry{tag: e.tag, val: rpathOff})
		case !claimed && e.tag == dtNull:
			// Verify the slot after the claimed one is a terminator.
			next := off + entsize
			if next+entsize > f.phdrs[f.dynIdx].off+f.phdrs[f.dynIdx].filesz {
				return fmt.Errorf("%w: no free dynamic slot for RPATH", ErrRewrite)
			}
			if e := f.parseDyn(next); e.tag != dtNull {
				return fmt.Errorf("%w: no free dynamic slot for RPATH", ErrRewrite)
			}
			f.encodeDyn(out[off:], dynEntry{tag: dtRunPath, val: rpathOff})
			claimed = true
		}
	}
	if !claimed {
		return fmt.Errorf("%w: no free dynamic slot for RPATH", ErrRewrite)
	}
	return nil
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
