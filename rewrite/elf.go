package rewrite

import (
	"github.com/nix-community/patchnar/elfpatch"
)

// patchELF rewrites the interpreter and RPATH/RUNPATH of an ELF image.
// A binary the rewriter rejects, and a rewrite the layout pass cannot
// place, both pass the original bytes through unchanged.
func (p *Patcher) patchELF(content []byte, path string) ([]byte, bool) {
	f, err := elfpatch.Open(content)
	if err != nil {
		p.logger.Debug("not a rewritable ELF", "path", path, "err", err)
		return content, false
	}

	changed := false
	if interp, ok := f.Interpreter(); ok && interp != "" {
		if newInterp := p.transform(interp); newInterp != interp {
			p.logger.Debug("interpreter", "path", path, "old", interp, "new", newInterp)
			f.SetInterpreter(newInterp)
			changed = true
		}
	}
	if rpath, ok := f.RPath(); ok && rpath != "" {
		if newRPath := p.transformRPath(rpath); newRPath != rpath {
			p.logger.Debug("rpath", "path", path, "old", rpath, "new", newRPath)
			f.SetRPath(newRPath)
			changed = true
		}
	}
	if !changed {
		return content, false
	}

	out, err := f.Bytes()
	if err != nil {
		p.logger.Debug("elf rewrite failed; keeping original", "path", path, "err", err)
		return content, false
	}
	return out, true
}
