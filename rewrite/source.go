package rewrite

import (
	"bytes"

	"github.com/nix-community/patchnar/srctok"
)

var storeDirPattern = []byte(storeDirSlash)

// patchSource rewrites store paths inside the string and comment spans
// of a source file. A tokenizer failure (or an empty span set) degrades
// to shebang-only patching.
func (p *Patcher) patchSource(content []byte, tag, path string) ([]byte, bool) {
	spans, err := p.tok.Spans(content, tag)
	if err != nil || len(spans) == 0 {
		if err != nil {
			p.logger.Debug("tokenizer failed; degrading to shebang-only",
				"path", path, "lang", tag, "err", err)
		}
		if bytes.HasPrefix(content, shebangMagic) {
			return p.patchShebang(content)
		}
		return content, false
	}
	spans = ensureShebangSpan(content, spans)
	return p.patchSpans(content, spans)
}

// patchShebang treats the region between byte 0 and the first newline
// as a single comment span.
func (p *Patcher) patchShebang(content []byte) ([]byte, bool) {
	eol := bytes.IndexByte(content, '\n')
	if eol < 0 {
		eol = len(content)
	}
	return p.patchSpans(content, []srctok.Span{{Start: 0, End: eol, Kind: srctok.SpanComment}})
}

// ensureShebangSpan adds a comment span for a leading "#!" line when no
// reported span starts at byte 0. The added span ends at the first
// newline or where the first reported span begins, whichever is
// earlier. A reported span that already starts at byte 0 is kept as
// it is, whatever its kind and length.
func ensureShebangSpan(content []byte, spans []srctok.Span) []srctok.Span {
	if !bytes.HasPrefix(content, shebangMagic) {
		return spans
	}
	if len(spans) > 0 && spans[0].Start == 0 {
		return spans
	}
	eol := bytes.IndexByte(content, '\n')
	if eol < 0 {
		eol = len(content)
	}
	first := srctok.Span{Start: 0, End: eol, Kind: srctok.SpanComment}
	if len(spans) > 0 && spans[0].Start < first.End {
		first.End = spans[0].Start
	}
	return append([]srctok.Span{first}, spans...)
}

// patchSpans applies the three substitution passes to every span, in
// the load-bearing order: glibc first (it changes paths the mapping
// table would no longer match), then the mapping table, then prefix
// insertion. A substitution applies when its match starts inside a
// span; insertions shift all downstream span offsets.
func (p *Patcher) patchSpans(content []byte, spans []srctok.Span) ([]byte, bool) {
	changed := false

	if p.cfg.OldGlibc != "" {
		oldGlibc := []byte(p.cfg.OldGlibc)
		newGlibc := []byte(p.cfg.NewGlibc)
		delta := len(newGlibc) - len(oldGlibc)
		for si := range spans {
			for pos := spans[si].Start; pos < spans[si].End && pos < len(content); {
				i := bytes.Index(content[pos:], oldGlibc)
				if i < 0 {
					break
				}
				q := pos + i
				if q >= spans[si].End {
					break
				}
				content = splice(content, q, q+len(oldGlibc), newGlibc)
				if delta != 0 {
					shiftSpans(spans, q, delta)
				}
				pos = q + len(newGlibc)
				changed = true
			}
		}
	}

	for _, sp := range spans {
		if p.cfg.Mappings.applyRange(content, sp.Start, sp.End) {
			changed = true
		}
	}

	prefix := []byte(p.cfg.Prefix)
	for si := range spans {
		patterns := [][]byte{storeDirPattern}
		if spans[si].Kind == srctok.SpanString {
			for _, extra := range p.cfg.ExtraPrefixPatterns {
				patterns = append(patterns, []byte(extra))
			}
		}
		for _, pat := range patterns {
			for pos := spans[si].Start; pos < len(content); {
				i := bytes.Index(content[pos:], pat)
				if i < 0 {
					break
				}
				q := pos + i
				if q >= spans[si].End {
					break
				}
				if q >= len(prefix) && bytes.Equal(content[q-len(prefix):q], prefix) {
					pos = q + len(pat)
					continue
				}
				content = splice(content, q, q, prefix)
				shiftSpans(spans, q, len(prefix))
				pos = q + len(prefix) + len(pat)
				changed = true
			}
		}
	}

	return content, changed
}

// splice replaces content[start:end] with repl, in place when the
// lengths match.
func splice(content []byte, start, end int, repl []byte) []byte {
	if len(repl) == end-start {
		copy(content[start:end], repl)
		return content
	}
	out := make([]byte, 0, len(content)+len(repl)-(end-start))
	out = append(out, content[:start]...)
	out = append(out, repl...)
	out = append(out, content[end:]...)
	return out
}

// shiftSpans moves every span boundary after position q by delta.
func shiftSpans(spans []srctok.Span, q, delta int) {
	for i := range spans {
		if spans[i].Start > q {
			spans[i].Start += delta
		}
		if spans[i].End > q {
			spans[i].End += delta
		}
	}
}
