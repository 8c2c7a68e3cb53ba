package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nix-community/patchnar/elfpatch"
	"github.com/nix-community/patchnar/internal/elftest"
)

func TestNewPatcherValidation(t *testing.T) {
	_, err := NewPatcher(Config{}, nil)
	assert.ErrorIs(t, err, ErrConfig, "empty prefix must be rejected")

	_, err = NewPatcher(Config{Prefix: "/p", OldGlibc: "/nix/store/abc-glibc"}, nil)
	assert.ErrorIs(t, err, ErrConfig, "half-set glibc pair must be rejected")

	_, err = NewPatcher(Config{Prefix: "/p"}, nil)
	assert.NoError(t, err)
}

func TestPatchSymlink(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Add("/nix/store/abc-foo", "/nix/store/xyz-foo")
	p := newTestPatcher(t, Config{
		Prefix:   "/p",
		OldGlibc: "/nix/store/abc-glibc",
		NewGlibc: "/nix/store/xyz-glibc",
		Mappings: tbl,
	})

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{
			name:   "Glibc",
			target: "/nix/store/abc-glibc/lib/ld.so",
			want:   "/p/nix/store/xyz-glibc/lib/ld.so",
		},
		{
			name:   "RelativeGlibcBasename",
			target: "../../abc-glibc/lib/libc.so.6",
			want:   "../../xyz-glibc/lib/libc.so.6",
		},
		{
			name:   "Mapping",
			target: "/nix/store/abc-foo/bin/tool",
			want:   "/p/nix/store/xyz-foo/bin/tool",
		},
		{
			name:   "RelativeUntouched",
			target: "../share/doc",
			want:   "../share/doc",
		},
		{
			name:   "AlreadyPrefixedUntouched",
			target: "/p/nix/store/xyz-glibc/lib/ld.so",
			want:   "/p/nix/store/xyz-glibc/lib/ld.so",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := p.PatchSymlink(test.target, "some/link")
			assert.Equal(t, test.want, got)
		})
	}
}

func TestPatchSymlinkIdempotent(t *testing.T) {
	p := newTestPatcher(t, Config{
		Prefix:   "/p",
		OldGlibc: "/nix/store/abc-glibc",
		NewGlibc: "/nix/store/xyz-glibc",
	})
	once := p.PatchSymlink("/nix/store/abc-glibc/lib/ld.so", "link")
	twice := p.PatchSymlink(once, "link")
	assert.Equal(t, once, twice)
}

func TestTransformRPath(t *testing.T) {
	p := newTestPatcher(t, Config{
		Prefix:   "/p",
		OldGlibc: "/nix/store/abc-glibc",
		NewGlibc: "/nix/store/xyz-glibc",
	})
	got := p.transformRPath("/nix/store/abc-glibc/lib::/nix/store/def-foo/lib")
	assert.Equal(t, "/p/nix/store/xyz-glibc/lib:/p/nix/store/def-foo/lib", got)
}

func TestPatchFileSkipExtension(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Add("/nix/store/abc-foo", "/nix/store/xyz-foo")
	p := newTestPatcher(t, Config{Prefix: "/p", Mappings: tbl})

	// HTML is skipped: no prefix insertion, but the mapping table
	// still applies.
	content := []byte(`<a href="/nix/store/abc-foo/x">`)
	out := p.PatchFile(content, false, "docs/readme.html")
	assert.Equal(t, `<a href="/nix/store/xyz-foo/x">`, string(out))
}

func TestPatchFileShebangFallback(t *testing.T) {
	p := newTestPatcher(t, Config{Prefix: "/p"})

	// No extension, unknown interpreter: shebang-only.
	content := []byte("#!/nix/store/abc-fancy/bin/fancy\n/nix/store/abc-foo\n")
	out := p.PatchFile(content, true, "bin/tool")
	assert.Equal(t, "#!/p/nix/store/abc-fancy/bin/fancy\n/nix/store/abc-foo\n", string(out))
}

func TestPatchFilePlainDataMappingOnly(t *testing.T) {
	tbl := NewTable(nil)
	tbl.Add("/nix/store/abc-foo", "/nix/store/xyz-foo")
	p := newTestPatcher(t, Config{Prefix: "/p", Mappings: tbl})

	content := []byte("binary\x00data /nix/store/abc-foo ref")
	out := p.PatchFile(content, false, "share/blob")
	assert.Equal(t, "binary\x00data /nix/store/xyz-foo ref", string(out))
}

func TestPatchFileELF(t *testing.T) {
	p := newTestPatcher(t, Config{
		Prefix:   "/p",
		OldGlibc: "/nix/store/abc-glibc",
		NewGlibc: "/nix/store/xyz-glibc",
	})

	image := elftest.BuildDynamicELF64(
		"/nix/store/abc-glibc/lib/ld-linux-x86-64.so.2",
		"/nix/store/abc-glibc/lib:/nix/store/def-foo/lib",
	)
	out := p.PatchFile(image, true, "bin/hello")

	f, err := elfpatch.Open(out)
	require.NoError(t, err)
	interp, ok := f.Interpreter()
	require.True(t, ok)
	assert.Equal(t, "/p/nix/store/xyz-glibc/lib/ld-linux-x86-64.so.2", interp)
	rpath, ok := f.RPath()
	require.True(t, ok)
	assert.Equal(t, "/p/nix/store/xyz-glibc/lib:/p/nix/store/def-foo/lib", rpath)

	assert.Equal(t, int64(1), p.Stats().FilesPatched())
}

func TestPatchFileTruncatedELFPassesThrough(t *testing.T) {
	p := newTestPatcher(t, Config{Prefix: "/p"})
	content := []byte("\x7fELFjunk")
	out := p.PatchFile(content, true, "bin/broken")
	assert.Equal(t, "\x7fELFjunk", string(out))
	assert.Equal(t, int64(0), p.Stats().FilesPatched())
}

func TestStatsCounters(t *testing.T) {
	p := newTestPatcher(t, Config{Prefix: "/p"})
	p.NoteDirectory()
	p.NoteDirectory()
	p.PatchFile([]byte("hello"), false, "a.txt")
	p.PatchSymlink("/nix/store/abc-foo/x", "link")

	s := p.Stats()
	assert.Equal(t, int64(2), s.DirectoriesProcessed())
	assert.Equal(t, int64(0), s.FilesPatched())
	assert.Equal(t, int64(1), s.SymlinksPatched())
	assert.Equal(t, int64(5), s.TotalBytes())
}
