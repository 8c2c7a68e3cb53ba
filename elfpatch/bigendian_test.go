package elfpatch

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseBigEndian covers the EI_DATA=MSB path with a minimal
// big-endian ELF64 carrying only PT_INTERP and PT_LOAD.
func TestParseBigEndian(t *testing.T) {
	be := binary.BigEndian
	const (
		phoff = 64
		phnum = 2
		phent = 56
	)
	interp := "/nix/store/abc-glibc/lib/ld64.so.2"
	interpOff := phoff + phnum*phent
	buf := make([]byte, interpOff+len(interp)+1)
	copy(buf, "\x7fELF")
	buf[4] = 2 // ELFCLASS64
	buf[5] = 2 // ELFDATA2MSB
	buf[6] = 1
	be.PutUint16(buf[16:], 2)
	be.PutUint16(buf[18:], 21) // EM_PPC64
	be.PutUint32(buf[20:], 1)
	be.PutUint64(buf[32:], phoff)
	be.PutUint16(buf[52:], 64)
	be.PutUint16(buf[54:], phent)
	be.PutUint16(buf[56:], phnum)

	putPhdr := func(d []byte, typ, flags uint32, off, vaddr, size, align uint64) {
		be.PutUint32(d[0:], typ)
		be.PutUint32(d[4:], flags)
		be.PutUint64(d[8:], off)
		be.PutUint64(d[16:], vaddr)
		be.PutUint64(d[24:], vaddr)
		be.PutUint64(d[32:], size)
		be.PutUint64(d[40:], size)
		be.PutUint64(d[48:], align)
	}
	putPhdr(buf[phoff:], ptInterp, pfR, uint64(interpOff), 0x10000000+uint64(interpOff), uint64(len(interp)+1), 1)
	putPhdr(buf[phoff+phent:], ptLoad, pfR|1, 0, 0x10000000, uint64(len(buf)), 0x1000)
	copy(buf[interpOff:], interp)

	f, err := Open(buf)
	require.NoError(t, err)
	got, ok := f.Interpreter()
	require.True(t, ok)
	assert.Equal(t, interp, got)

	// In-place rewrite must honour the byte order as well.
	shorter := "/nix/store/xyz-glibc/lib/ld64.so.2"
	f.SetInterpreter(shorter)
	out, err := f.Bytes()
	require.NoError(t, err)
	assert.Len(t, out, len(buf))

	f2, err := Open(out)
	require.NoError(t, err)
	got, ok = f2.Interpreter()
	require.True(t, ok)
	assert.Equal(t, shorter, got)
}
