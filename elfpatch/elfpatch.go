// Package elfpatch rewrites the PT_INTERP interpreter and the
// DT_RPATH/DT_RUNPATH dynamic entries of 32- and 64-bit ELF binaries
// held in memory.
//
// The typical sequence is [Open], [File.Interpreter]/[File.RPath],
// [File.SetInterpreter]/[File.SetRPath], then [File.Bytes] to obtain
// the rewritten image. When the replacement strings fit inside the
// existing storage they are patched in place; otherwise a new
// page-aligned PT_LOAD segment is appended holding a relocated program
// header table, the new interpreter, and a rebuilt dynamic string
// table.
package elfpatch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotELF is returned by [Open] for content that is not an ELF image
// this package can parse. Callers pass the original bytes through.
var ErrNotELF = errors.New("elfpatch: not an ELF binary")

// ErrRewrite is returned by [File.Bytes] when the requested changes
// cannot be laid out, e.g. an RPATH was set on a binary without a
// dynamic section.
var ErrRewrite = errors.New("elfpatch: cannot rewrite")

const (
	ptLoad    = 1
	ptDynamic = 2
	ptInterp  = 3
	ptPhdr    = 6

	pfR = 4

	dtNull    = 0
	dtStrTab  = 5
	dtStrSz   = 10
	dtRPath   = 15
	dtRunPath = 29

	shtDynamic = 6
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// progHeader is a class-independent program header.
type progHeader struct {
	typ    uint32
	flags  uint32
	off    uint64
	vaddr  uint64
	paddr  uint64
	filesz uint64
	memsz  uint64
	align  uint64
}

// sectHeader is a class-independent section header.
type sectHeader struct {
	name      uint32
	typ       uint32
	flags     uint64
	addr      uint64
	off       uint64
	size      uint64
	link      uint32
	info      uint32
	addralign uint64
	entsize   uint64
}

// dynEntry is one entry of the dynamic section.
type dynEntry struct {
	tag int64
	val uint64
}

// A File is a parsed ELF image with pending interpreter/RPATH edits.
type File struct {
	data  []byte
	is64  bool
	bo    binary.ByteOrder
	phoff uint64
	shoff uint64
	phnum int
	shnum int

	phdrs []progHeader
	shdrs []sectHeader

	// interpIdx is the index of the PT_INTERP header, or -1.
	interpIdx int
	interp    string

	// dynIdx is the index of the PT_DYNAMIC header, or -1.
	dynIdx int
	dyn    []dynEntry

	// strtabOff/strtabSize locate the dynamic string table in the file.
	strtabOff  uint64
	strtabSize uint64

	// rpathTag is dtRPath or dtRunPath as found, 0 if absent.
	rpathTag int64
	rpathOff uint64
	rpath    string

	newInterp *string
	newRPath  *string
}

// Open parses content as an ELF binary. The content is not copied;
// it must not be mutated until [File.Bytes] has been called.
func Open(content []byte) (*File, error) {
	if len(content) < 16 || !bytes.HasPrefix(content, elfMagic) {
		return nil, ErrNotELF
	}
	f := &File{data: content, interpIdx: -1, dynIdx: -1}
	switch content[4] { // EI_CLASS
	case 1:
		f.is64 = false
	case 2:
		f.is64 = true
	default:
		return nil, ErrNotELF
	}
	switch content[5] { // EI_DATA
	case 1:
		f.bo = binary.LittleEndian
	case 2:
		f.bo = binary.BigEndian
	default:
		return nil, ErrNotELF
	}
	if err := f.parse(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) parse() error {
	var phentsize, shentsize int
	if f.is64 {
		if len(f.data) < 64 {
			return ErrNotELF
		}
		f.phoff = f.bo.Uint64(f.data[0x20:])
		f.shoff = f.bo.Uint64(f.data[0x28:])
		phentsize = int(f.bo.Uint16(f.data[0x36:]))
		f.phnum = int(f.bo.Uint16(f.data[0x38:]))
		shentsize = int(f.bo.Uint16(f.data[0x3a:]))
		f.shnum = int(f.bo.Uint16(f.data[0x3c:]))
	} else {
		if len(f.data) < 52 {
			return ErrNotELF
		}
		f.phoff = uint64(f.bo.Uint32(f.data[0x1c:]))
		f.shoff = uint64(f.bo.Uint32(f.data[0x20:]))
		phentsize = int(f.bo.Uint16(f.data[0x2a:]))
		f.phnum = int(f.bo.Uint16(f.data[0x2c:]))
		shentsize = int(f.bo.Uint16(f.data[0x2e:]))
		f.shnum = int(f.bo.Uint16(f.data[0x30:]))
	}
	if phentsize != f.phdrSize() || (f.shnum > 0 && shentsize != f.shdrSize()) {
		return ErrNotELF
	}
	end := f.phoff + uint64(f.phnum)*uint64(phentsize)
	if end > uint64(len(f.data)) {
		return ErrNotELF
	}

	f.phdrs = make([]progHeader, f.phnum)
	for i := range f.phdrs {
		f.phdrs[i] = f.parsePhdr(f.phoff + uint64(i*phentsize))
		switch f.phdrs[i].typ {
		case ptInterp:
			f.interpIdx = i
		case ptDynamic:
			f.dynIdx = i
		}
	}

	if f.shnum > 0 {
		end := f.shoff + uint64(f.shnum)*uint64(shentsize)
		if end > uint64(len(f.data)) {
			return ErrNotELF
		}
		f.shdrs = make([]sectHeader, f.shnum)
		for i := range f.shdrs {
			f.shdrs[i] = f.parseShdr(f.shoff + uint64(i*shentsize))
		}
	}

	if f.interpIdx != -1 {
		p := f.phdrs[f.interpIdx]
		if p.off+p.filesz > uint64(len(f.data)) || p.filesz == 0 {
			return ErrNotELF
		}
		f.interp = cstring(f.data[p.off : p.off+p.filesz])
	}

	if f.dynIdx != -1 {
		if err := f.parseDynamic(); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) parseDynamic() error {
	p := f.phdrs[f.dynIdx]
	if p.off+p.filesz > uint64(len(f.data)) {
		return ErrNotELF
	}
	entsize := uint64(f.dynEntrySize())
	var strtabAddr uint64
	for off := p.off; off+entsize <= p.off+p.filesz; off += entsize {
		e := f.parseDyn(off)
		f.dyn = append(f.dyn, e)
		switch e.tag {
		case dtStrTab:
			strtabAddr = e.val
		case dtStrSz:
			f.strtabSize = e.val
		case dtRPath:
			if f.rpathTag == 0 {
				f.rpathTag = dtRPath
				f.rpathOff = e.val
			}
		case dtRunPath:
			// DT_RUNPATH wins over DT_RPATH when both are present.
			f.rpathTag = dtRunPath
			f.rpathOff = e.val
		}
		if e.tag == dtNull {
			break
		}
	}
	if strtabAddr == 0 {
		if f.rpathTag != 0 {
			return ErrNotELF
		}
		return nil
	}
	off, ok := f.addrToOffset(strtabAddr)
	if !ok || off+f.strtabSize > uint64(len(f.data)) {
		return ErrNotELF
	}
	f.strtabOff = off
	if f.rpathTag != 0 {
		if f.rpathOff >= f.strtabSize {
			return ErrNotELF
		}
		f.rpath = cstring(f.data[off+f.rpathOff : off+f.strtabSize])
	}
	return nil
}

// Interpreter returns the PT_INTERP path and whether one is present.
func (f *File) Interpreter() (string, bool) {
	return f.interp, f.interpIdx != -1
}

// RPath returns the DT_RPATH or DT_RUNPATH value (DT_RUNPATH preferred
// when both exist) and whether one is present.
func (f *File) RPath() (string, bool) {
	return f.rpath, f.rpathTag != 0
}

// SetInterpreter records a replacement interpreter path,
// applied by [File.Bytes]. It is a no-op if the file has no PT_INTERP.
func (f *File) SetInterpreter(interp string) {
	if f.interpIdx == -1 {
		return
	}
	f.newInterp = &interp
}

// SetRPath records a replacement RPATH/RUNPATH value,
// applied by [File.Bytes].
func (f *File) SetRPath(rpath string) {
	f.newRPath = &rpath
}

// Bytes finalizes the pending edits and returns the rewritten image.
// The input bytes are never modified; with no pending edits they are
// returned as-is.
func (f *File) Bytes() ([]byte, error) {
	interpChange := f.newInterp != nil && *f.newInterp != f.interp
	rpathChange := f.newRPath != nil && *f.newRPath != f.rpath
	if !interpChange && !rpathChange {
		return f.data, nil
	}
	if rpathChange && f.dynIdx == -1 {
		return nil, fmt.Errorf("%w: no dynamic section for RPATH", ErrRewrite)
	}
	if rpathChange && f.strtabOff == 0 && f.strtabSize == 0 {
		return nil, fmt.Errorf("%w: no dynamic string table for RPATH", ErrRewrite)
	}

	interpFits := !interpChange ||
		uint64(len(*f.newInterp))+1 <= f.phdrs[f.interpIdx].filesz
	rpathFits := !rpathChange ||
		(f.rpathTag != 0 && len(*f.newRPath) <= len(f.rpath))

	out := append([]byte(nil), f.data...)
	if interpFits && rpathFits {
		if interpChange {
			p := f.phdrs[f.interpIdx]
			writeCString(out[p.off:p.off+p.filesz], *f.newInterp)
		}
		if rpathChange {
			start := f.strtabOff + f.rpathOff
			end := start + uint64(len(f.rpath)) + 1
			if end > uint64(len(out)) {
				end = uint64(len(out))
			}
			writeCString(out[start:end], *f.newRPath)
		}
		return out, nil
	}
	return f.grow(out, interpChange, rpathChange, interpFits, rpathFits)
}

// addrToOffset translates a virtual address into a file offset
// using the PT_LOAD mappings.
func (f *File) addrToOffset(addr uint64) (uint64, bool) {
	for _, p := range f.phdrs {
		if p.typ == ptLoad && addr >= p.vaddr && addr < p.vaddr+p.filesz {
			return p.off + (addr - p.vaddr), true
		}
	}
	return 0, false
}

func (f *File) phdrSize() int {
	if f.is64 {
		return 56
	}
	return 32
}

func (f *File) shdrSize() int {
	if f.is64 {
		return 64
	}
	return 40
}

func (f *File) dynEntrySize() int {
	if f.is64 {
		return 16
	}
	return 8
}

func (f *File) parsePhdr(off uint64) progHeader {
	d := f.data[off:]
	if f.is64 {
		return progHeader{
			typ:    f.bo.Uint32(d[0:]),
			flags:  f.bo.Uint32(d[4:]),
			off:    f.bo.Uint64(d[8:]),
			vaddr:  f.bo.Uint64(d[16:]),
			paddr:  f.bo.Uint64(d[24:]),
			filesz: f.bo.Uint64(d[32:]),
			memsz:  f.bo.Uint64(d[40:]),
			align:  f.bo.Uint64(d[48:]),
		}
	}
	return progHeader{
		typ:    f.bo.Uint32(d[0:]),
		off:    uint64(f.bo.Uint32(d[4:])),
		vaddr:  uint64(f.bo.Uint32(d[8:])),
		paddr:  uint64(f.bo.Uint32(d[12:])),
		filesz: uint64(f.bo.Uint32(d[16:])),
		memsz:  uint64(f.bo.Uint32(d[20:])),
		flags:  f.bo.Uint32(d[24:]),
		align:  uint64(f.bo.Uint32(d[28:])),
	}
}

func (f *File) encodePhdr(d []byte, p progHeader) {
	if f.is64 {
		f.bo.PutUint32(d[0:], p.typ)
		f.bo.PutUint32(d[4:], p.flags)
		f.bo.PutUint64(d[8:], p.off)
		f.bo.PutUint64(d[16:], p.vaddr)
		f.bo.PutUint64(d[24:], p.paddr)
		f.bo.PutUint64(d[32:], p.filesz)
		f.bo.PutUint64(d[40:], p.memsz)
		f.bo.PutUint64(d[48:], p.align)
		return
	}
	f.bo.PutUint32(d[0:], p.typ)
	f.bo.PutUint32(d[4:], uint32(p.off))
	f.bo.PutUint32(d[8:], uint32(p.vaddr))
	f.bo.PutUint32(d[12:], uint32(p.paddr))
	f.bo.PutUint32(d[16:], uint32(p.filesz))
	f.bo.PutUint32(d[20:], uint32(p.memsz))
	f.bo.PutUint32(d[24:], p.flags)
	f.bo.PutUint32(d[28:], uint32(p.align))
}

func (f *File) parseShdr(off uint64) sectHeader {
	d := f.data[off:]
	if f.is64 {
		return sectHeader{
			name:      f.bo.Uint32(d[0:]),
			typ:       f.bo.Uint32(d[4:]),
			flags:     f.bo.Uint64(d[8:]),
			addr:      f.bo.Uint64(d[16:]),
			off:       f.bo.Uint64(d[24:]),
			size:      f.bo.Uint64(d[32:]),
			link:      f.bo.Uint32(d[40:]),
			info:      f.bo.Uint32(d[44:]),
			addralign: f.bo.Uint64(d[48:]),
			entsize:   f.bo.Uint64(d[56:]),
		}
	}
	return sectHeader{
		name:      f.bo.Uint32(d[0:]),
		typ:       f.bo.Uint32(d[4:]),
		flags:     uint64(f.bo.Uint32(d[8:])),
		addr:      uint64(f.bo.Uint32(d[12:])),
		off:       uint64(f.bo.Uint32(d[16:])),
		size:      uint64(f.bo.Uint32(d[20:])),
		link:      f.bo.Uint32(d[24:]),
		info:      f.bo.Uint32(d[28:]),
		addralign: uint64(f.bo.Uint32(d[32:])),
		entsize:   uint64(f.bo.Uint32(d[36:])),
	}
}

func (f *File) encodeShdr(d []byte, s sectHeader) {
	if f.is64 {
		f.bo.PutUint32(d[0:], s.name)
		f.bo.PutUint32(d[4:], s.typ)
		f.bo.PutUint64(d[8:], s.flags)
		f.bo.PutUint64(d[16:], s.addr)
		f.bo.PutUint64(d[24:], s.off)
		f.bo.PutUint64(d[32:], s.size)
		f.bo.PutUint32(d[40:], s.link)
		f.bo.PutUint32(d[44:], s.info)
		f.bo.PutUint64(d[48:], s.addralign)
		f.bo.PutUint64(d[56:], s.entsize)
		return
	}
	f.bo.PutUint32(d[0:], s.name)
	f.bo.PutUint32(d[4:], s.typ)
	f.bo.PutUint32(d[8:], uint32(s.flags))
	f.bo.PutUint32(d[12:], uint32(s.addr))
	f.bo.PutUint32(d[16:], uint32(s.off))
	f.bo.PutUint32(d[20:], uint32(s.size))
	f.bo.PutUint32(d[24:], s.link)
	f.bo.PutUint32(d[28:], s.info)
	f.bo.PutUint32(d[32:], uint32(s.addralign))
	f.bo.PutUint32(d[36:], uint32(s.entsize))
}

func (f *File) parseDyn(off uint64) dynEntry {
	d := f.data[off:]
	if f.is64 {
		return dynEntry{
			tag: int64(f.bo.Uint64(d[0:])),
			val: f.bo.Uint64(d[8:]),
		}
	}
	return dynEntry{
		tag: int64(int32(f.bo.Uint32(d[0:]))),
		val: uint64(f.bo.Uint32(d[4:])),
	}
}

func (f *File) encodeDyn(d []byte, e dynEntry) {
	if f.is64 {
		f.bo.PutUint64(d[0:], uint64(e.tag))
		f.bo.PutUint64(d[8:], e.val)
		return
	}
	f.bo.PutUint32(d[0:], uint32(e.tag))
	f.bo.PutUint32(d[4:], uint32(e.val))
}

// cstring returns the bytes up to the first NUL as a string.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i != -1 {
		b = b[:i]
	}
	return string(b)
}

// writeCString writes s NUL-terminated into dst, zero-filling the rest.
func writeCString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
