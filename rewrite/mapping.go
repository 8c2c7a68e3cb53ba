package rewrite

import (
	"bufio"
	"bytes"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nix-community/patchnar/storepath"
)

// A Table holds the basename mapping pairs applied to every byte
// buffer after structural rewriting. All pairs satisfy the
// equal-length invariant, which makes substitution length-preserving.
// A Table is built once at startup and read-only thereafter.
type Table struct {
	pairs  []mappingPair
	index  map[string]int
	logger *log.Logger
}

type mappingPair struct {
	old string
	new string
}

// NewTable returns an empty mapping table. Load warnings go to logger.
func NewTable(logger *log.Logger) *Table {
	if logger == nil {
		logger = discardLogger()
	}
	return &Table{index: make(map[string]int), logger: logger}
}

// Len returns the number of mapping pairs.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.pairs)
}

// Add registers a mapping from the basename of oldPath to the basename
// of newPath. Pairs whose basenames differ in length are skipped with
// a warning: substituting them would shift every following byte of the
// archive. Re-adding an existing old basename replaces its mapping.
func (t *Table) Add(oldPath, newPath string) {
	oldBase := storepath.Basename(oldPath)
	newBase := storepath.Basename(newPath)
	if len(oldBase) != len(newBase) {
		t.logger.Warn("skipping mapping with length mismatch",
			"old", oldBase, "new", newBase,
			"oldlen", len(oldBase), "newlen", len(newBase))
		return
	}
	if oldBase == "" {
		return
	}
	if _, err := storepath.ParseObjectName(oldBase); err != nil {
		t.logger.Debug("mapping basename is not a store object name", "old", oldBase)
	}
	if i, ok := t.index[oldBase]; ok {
		t.pairs[i].new = newBase
		return
	}
	t.index[oldBase] = len(t.pairs)
	t.pairs = append(t.pairs, mappingPair{old: oldBase, new: newBase})
}

// LoadFile reads mappings from path: one "<old-path> SP <new-path>"
// pair per line. Blank lines and lines without a space are ignored.
// A missing file is a warning, not an error.
func (t *Table) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		t.logger.Warn("cannot open mappings file", "path", path, "err", err)
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		oldPath, newPath, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		t.Add(oldPath, newPath)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	t.logger.Debug("loaded mappings", "path", path, "count", t.Len())
	return nil
}

// Apply substitutes every mapping pair in b, left to right and
// non-overlapping. The buffer is modified in place (the equal-length
// invariant keeps every position stable) and returned together with
// whether anything changed.
func (t *Table) Apply(b []byte) ([]byte, bool) {
	if t.Len() == 0 {
		return b, false
	}
	changed := false
	for _, pair := range t.pairs {
		for pos := 0; ; {
			i := bytes.Index(b[pos:], []byte(pair.old))
			if i < 0 {
				break
			}
			pos += i
			copy(b[pos:], pair.new)
			pos += len(pair.new)
			changed = true
		}
	}
	return b, changed
}

// applyRange is Apply restricted to match positions in [start, end).
func (t *Table) applyRange(b []byte, start, end int) bool {
	if t.Len() == 0 || start >= len(b) {
		return false
	}
	if end > len(b) {
		end = len(b)
	}
	changed := false
	for _, pair := range t.pairs {
		for pos := start; pos < end; {
			i := bytes.Index(b[pos:], []byte(pair.old))
			if i < 0 || pos+i >= end {
				break
			}
			pos += i
			copy(b[pos:], pair.new)
			pos += len(pair.new)
			changed = true
		}
	}
	return changed
}

// ApplyString substitutes every mapping pair in s.
func (t *Table) ApplyString(s string) string {
	if t.Len() == 0 {
		return s
	}
	for _, pair := range t.pairs {
		s = strings.ReplaceAll(s, pair.old, pair.new)
	}
	return s
}
