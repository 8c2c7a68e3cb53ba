package rewrite

import (
	"bytes"
	"strings"

	"github.com/nix-community/patchnar/storepath"
)

// maxContentDetectSize bounds content-based language detection.
// Scripts needing patching are small; large extensionless files are
// data or binaries.
const maxContentDetectSize = 64 * 1024

// skipExtensions never need source patching: documentation, images,
// archives, fonts, and binary object formats. Only the mapping table
// applies to them.
var skipExtensions = map[string]bool{
	// Documentation
	".html": true, ".htm": true, ".xhtml": true, ".css": true, ".svg": true,
	// Images
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".webp": true, ".bmp": true,
	// Compressed/archives
	".xz": true, ".gz": true, ".bz2": true, ".zst": true, ".zip": true,
	".tar": true, ".7z": true,
	// Fonts
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true, ".eot": true,
	// Other binary/doc formats
	".pdf": true, ".ps": true, ".dvi": true, ".info": true, ".texi": true,
	".texinfo": true,
	// Haddock/Haskell docs and object files
	".haddock": true, ".hi": true, ".o": true, ".a": true, ".so": true,
	".dylib": true,
}

// extensionTags maps case-folded file extensions to language tags.
// This is the fast path; no tokenization needed to classify.
var extensionTags = map[string]string{
	".sh":   "sh",
	".bash": "sh",
	".zsh":  "zsh",

	".py":  "python",
	".pyw": "python",

	".pl": "perl",
	".pm": "perl",

	".rb":  "ruby",
	".lua": "lua",
	".tcl": "tcl",

	".js":   "javascript",
	".mjs":  "javascript",
	".json": "json",

	".conf":       "conf",
	".cfg":        "conf",
	".desktop":    "desktop",
	".properties": "properties",
	".ini":        "ini",

	".mk": "makefile",
	".m4": "m4",

	".xml": "xml",
	".awk": "awk",
}

// patchableTags is the closed whitelist of languages worth tokenizing
// for string literal patching: languages where store paths commonly
// appear in string literals.
var patchableTags = map[string]bool{
	"sh":         true,
	"zsh":        true,
	"python":     true,
	"perl":       true,
	"ruby":       true,
	"lua":        true,
	"tcl":        true,
	"javascript": true,
	"json":       true,
	"conf":       true,
	"desktop":    true,
	"properties": true,
	"ini":        true,
	"makefile":   true,
	"m4":         true,
	"xml":        true,
	"awk":        true,
}

// interpreterTags maps shebang interpreter basenames (after version
// aliasing) to language tags.
var interpreterTags = map[string]string{
	"sh":   "sh",
	"bash": "sh",
	"dash": "sh",
	"ksh":  "sh",
	"zsh":  "zsh",

	"python": "python",
	"perl":   "perl",
	"ruby":   "ruby",
	"lua":    "lua",

	"tclsh": "tcl",
	"wish":  "tcl",

	"node":   "javascript",
	"nodejs": "javascript",

	"awk":  "awk",
	"gawk": "awk",
	"mawk": "awk",
	"nawk": "awk",

	"make": "makefile",
}

var shebangMagic = []byte("#!")

// extension returns the case-folded extension of filename including
// the dot, or "" when there is none. A leading dot does not start an
// extension.
func extension(filename string) string {
	dot := strings.LastIndexByte(filename, '.')
	if dot <= 0 {
		return ""
	}
	return strings.ToLower(filename[dot:])
}

// classify maps a filename and optionally the head of its content to
// a language tag. The extension table is consulted first; when it
// misses, small contents starting with a shebang are inferred from
// the interpreter name.
func classify(filename string, content []byte) (string, bool) {
	if tag, ok := extensionTags[extension(filename)]; ok {
		return tag, true
	}
	if len(content) > maxContentDetectSize || !bytes.HasPrefix(content, shebangMagic) {
		return "", false
	}
	return inferShebang(content)
}

// inferShebang derives a language tag from the shebang line. A leading
// store object prefix is stripped from the interpreter path first, so
// "#!/nix/store/<hash>-bash-5.2/bin/bash" infers like "#!/bin/bash".
func inferShebang(content []byte) (string, bool) {
	line := content[len(shebangMagic):]
	if eol := bytes.IndexByte(line, '\n'); eol != -1 {
		line = line[:eol]
	}
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return "", false
	}
	interp := fields[0]
	if rest, ok := storepath.CutStorePrefix(interp); ok {
		interp = rest
	}
	base := storepath.Basename(interp)
	if base == "env" {
		base = ""
		for _, arg := range fields[1:] {
			if strings.HasPrefix(arg, "-") {
				continue
			}
			base = storepath.Basename(arg)
			break
		}
	}
	tag, ok := interpreterTags[aliasInterpreter(base)]
	return tag, ok
}

// aliasInterpreter folds versioned interpreter names onto their base
// name: python3, python3.11, and perl5.36 all collapse.
func aliasInterpreter(name string) string {
	return strings.TrimRight(name, "0123456789.")
}
