package rewrite

import (
	"bytes"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nix-community/patchnar/srctok"
	"github.com/nix-community/patchnar/storepath"
)

const storeDirSlash = storepath.StoreDir + "/"

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// A Patcher rewrites file contents and symlink targets according to
// one immutable [Config]. It is safe for concurrent use.
type Patcher struct {
	cfg    Config
	tok    *srctok.Tokenizer
	logger *log.Logger
	stats  Stats
}

// NewPatcher validates cfg and returns a ready Patcher.
// A nil logger discards diagnostics.
func NewPatcher(cfg Config, logger *log.Logger) (*Patcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Patcher{cfg: cfg, tok: srctok.New(), logger: logger}, nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

// Stats returns the run counters.
func (p *Patcher) Stats() *Stats {
	return &p.stats
}

// NoteDirectory records one processed directory.
func (p *Patcher) NoteDirectory() {
	p.stats.directoriesProcessed.Add(1)
}

// PatchFile rewrites one regular file's content. The dispatch order is
// fixed: ELF images first (they are often large and extensionless),
// then the skip-extension fast path, then tokenizer-guided source
// patching, then the shebang-only fallback. The mapping table applies
// to the result in every branch. The content slice may be modified in
// place.
func (p *Patcher) PatchFile(content []byte, executable bool, path string) []byte {
	p.stats.totalBytes.Add(int64(len(content)))
	filename := storepath.Basename(path)

	var changed bool
	switch {
	case bytes.HasPrefix(content, elfMagic):
		content, changed = p.patchELF(content, path)
	case skipExtensions[extension(filename)]:
		p.logger.Debug("skipping by extension", "path", path)
	default:
		if tag, ok := classify(filename, content); ok && patchableTags[tag] {
			p.logger.Debug("patching source", "path", path, "lang", tag, "size", len(content))
			content, changed = p.patchSource(content, tag, path)
		} else if bytes.HasPrefix(content, shebangMagic) {
			content, changed = p.patchShebang(content)
		}
	}

	content, mapped := p.cfg.Mappings.Apply(content)
	if changed || mapped {
		p.stats.filesPatched.Add(1)
	}
	return content
}

// PatchSymlink rewrites a symlink target. The glibc substitution tries
// the absolute store path first and falls back to the bare basename
// for relative targets.
func (p *Patcher) PatchSymlink(target, path string) string {
	out := target
	if p.cfg.OldGlibc != "" {
		if strings.Contains(out, p.cfg.OldGlibc) {
			out = strings.ReplaceAll(out, p.cfg.OldGlibc, p.cfg.NewGlibc)
		} else {
			oldBase := storepath.Basename(p.cfg.OldGlibc)
			newBase := storepath.Basename(p.cfg.NewGlibc)
			if oldBase != "" && strings.Contains(out, oldBase) {
				if len(oldBase) != len(newBase) {
					p.logger.Debug("glibc basenames differ in length; relative targets may break",
						"old", oldBase, "new", newBase)
				}
				out = strings.ReplaceAll(out, oldBase, newBase)
			}
		}
	}
	out = p.cfg.Mappings.ApplyString(out)
	if strings.HasPrefix(out, storeDirSlash) {
		out = p.cfg.Prefix + out
	}
	if out != target {
		p.stats.symlinksPatched.Add(1)
		p.logger.Debug("symlink", "path", path, "old", target, "new", out)
	}
	return out
}

// transform applies the three-step composition to one whole path:
// glibc substitution, mapping table, then the installation prefix.
func (p *Patcher) transform(s string) string {
	if p.cfg.OldGlibc != "" {
		s = strings.ReplaceAll(s, p.cfg.OldGlibc, p.cfg.NewGlibc)
	}
	s = p.cfg.Mappings.ApplyString(s)
	if strings.HasPrefix(s, storeDirSlash) {
		s = p.cfg.Prefix + s
	}
	return s
}

// transformRPath transforms each entry of a colon-separated RPATH,
// dropping empty entries.
func (p *Patcher) transformRPath(rpath string) string {
	entries := strings.Split(rpath, ":")
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e == "" {
			continue
		}
		out = append(out, p.transform(e))
	}
	return strings.Join(out, ":")
}
