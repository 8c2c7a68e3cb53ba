// Package elftest builds minimal ELF images for tests.
package elftest

import "encoding/binary"

// Base is the virtual load address of the fixtures.
const Base = 0x400000

const (
	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptPhdr    = 6

	dtNull    = 0
	dtStrTab  = 5
	dtStrSz   = 10
	dtRunPath = 29
)

func align8(n int) int {
	return (n + 7) &^ 7
}

func putPhdr64(d []byte, typ, flags uint32, off, vaddr, filesz, memsz, align uint64) {
	le := binary.LittleEndian
	le.PutUint32(d[0:], typ)
	le.PutUint32(d[4:], flags)
	le.PutUint64(d[8:], off)
	le.PutUint64(d[16:], vaddr)
	le.PutUint64(d[24:], vaddr)
	le.PutUint64(d[32:], filesz)
	le.PutUint64(d[40:], memsz)
	le.PutUint64(d[48:], align)
}

func putShdr64(d []byte, name, typ uint32, flags, addr, off, size uint64, link uint32, align, entsize uint64) {
	le := binary.LittleEndian
	le.PutUint32(d[0:], name)
	le.PutUint32(d[4:], typ)
	le.PutUint64(d[8:], flags)
	le.PutUint64(d[16:], addr)
	le.PutUint64(d[24:], off)
	le.PutUint64(d[32:], size)
	le.PutUint32(d[40:], link)
	le.PutUint64(d[48:], align)
	le.PutUint64(d[56:], entsize)
}

// BuildDynamicELF64 assembles a minimal but well-formed dynamically
// linked little-endian ELF64 image with PT_PHDR, PT_INTERP, PT_LOAD,
// and PT_DYNAMIC segments plus .interp/.dynamic/.dynstr/.shstrtab
// sections. The image parses with debug/elf; DT_RUNPATH holds runpath.
func BuildDynamicELF64(interp, runpath string) []byte {
	le := binary.LittleEndian

	const (
		phoff = 64
		phnum = 4
		phent = 56
		shent = 64
		shnum = 5
	)
	interpOff := phoff + phnum*phent
	interpSize := len(interp) + 1
	dynOff := align8(interpOff + interpSize)
	const dynCount = 6
	dynSize := dynCount * 16
	dynstrOff := dynOff + dynSize
	dynstr := "\x00" + runpath + "\x00"
	shstrtabOff := dynstrOff + len(dynstr)
	shstrtab := "\x00.interp\x00.dynamic\x00.dynstr\x00.shstrtab\x00"
	shoff := align8(shstrtabOff + len(shstrtab))
	fileSize := shoff + shnum*shent

	buf := make([]byte, fileSize)
	copy(buf, "\x7fELF")
	buf[4] = 2                 // ELFCLASS64
	buf[5] = 1                 // ELFDATA2LSB
	buf[6] = 1                 // EV_CURRENT
	le.PutUint16(buf[16:], 2)  // ET_EXEC
	le.PutUint16(buf[18:], 62) // EM_X86_64
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], Base+0x1000)
	le.PutUint64(buf[32:], phoff)
	le.PutUint64(buf[40:], uint64(shoff))
	le.PutUint16(buf[52:], 64)
	le.PutUint16(buf[54:], phent)
	le.PutUint16(buf[56:], phnum)
	le.PutUint16(buf[58:], shent)
	le.PutUint16(buf[60:], shnum)
	le.PutUint16(buf[62:], 4)

	ph := buf[phoff:]
	putPhdr64(ph[0*phent:], ptPhdr, 4, phoff, Base+phoff, phnum*phent, phnum*phent, 8)
	putPhdr64(ph[1*phent:], ptInterp, 4, uint64(interpOff), Base+uint64(interpOff), uint64(interpSize), uint64(interpSize), 1)
	putPhdr64(ph[2*phent:], ptLoad, 5, 0, Base, uint64(fileSize), uint64(fileSize), 0x1000)
	putPhdr64(ph[3*phent:], ptDynamic, 6, uint64(dynOff), Base+uint64(dynOff), uint64(dynSize), uint64(dynSize), 8)

	copy(buf[interpOff:], interp)

	dyn := buf[dynOff:]
	putDyn := func(i int, tag, val uint64) {
		le.PutUint64(dyn[i*16:], tag)
		le.PutUint64(dyn[i*16+8:], val)
	}
	putDyn(0, dtStrTab, Base+uint64(dynstrOff))
	putDyn(1, dtStrSz, uint64(len(dynstr)))
	putDyn(2, dtRunPath, 1)
	putDyn(3, dtNull, 0)
	putDyn(4, dtNull, 0)
	putDyn(5, dtNull, 0)

	copy(buf[dynstrOff:], dynstr)
	copy(buf[shstrtabOff:], shstrtab)

	sh := buf[shoff:]
	// Name offsets within shstrtab.
	const (
		nameInterp   = 1
		nameDynamic  = 9
		nameDynstr   = 18
		nameShstrtab = 26
	)
	putShdr64(sh[1*shent:], nameInterp, 1 /* PROGBITS */, 2, Base+uint64(interpOff), uint64(interpOff), uint64(interpSize), 0, 1, 0)
	putShdr64(sh[2*shent:], nameDynamic, 6 /* DYNAMIC */, 3, Base+uint64(dynOff), uint64(dynOff), uint64(dynSize), 3, 8, 16)
	putShdr64(sh[3*shent:], nameDynstr, 3 /* STRTAB */, 2, Base+uint64(dynstrOff), uint64(dynstrOff), uint64(len(dynstr)), 0, 1, 0)
	putShdr64(sh[4*shent:], nameShstrtab, 3, 0, 0, uint64(shstrtabOff), uint64(len(shstrtab)), 0, 1, 0)

	return buf
}
