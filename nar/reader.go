package nar

import (
	"fmt"
	"io"
)

const (
	readerStateMagic int8 = iota
	readerStateNode
	readerStateDirectory
	readerStateEntryClose
	readerStateEnd
)

// Reader provides sequential access to the contents of a NAR archive.
// [Reader.Next] yields the archive's tree events in document order.
// Regular file contents are returned inline with their [EventFile]
// event; the Reader holds at most one file's contents at a time.
type Reader struct {
	fr    frameReader
	state int8

	// curPath is the path of the node about to be parsed
	// (only valid if state == readerStateNode).
	curPath string
	// closePath is the path of the entry whose closing parenthesis
	// is due next (only valid if state == readerStateEntryClose).
	closePath string
	// stack holds one frame per open directory, root first.
	stack []dirFrame
	// err is the error to return for future calls to Next.
	err error
}

type dirFrame struct {
	path string
	// lastName is the last entry name seen in this directory,
	// used to enforce strict byte-lexicographic ordering.
	lastName string
	sawEntry bool
}

// NewReader creates a new [Reader] reading from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{fr: frameReader{r: r}}
}

// Next advances to the next event in the NAR archive.
// At the end of the archive, Next returns the error [io.EOF].
// Once Next returns a non-nil error, it returns that same error
// on every subsequent call.
func (r *Reader) Next() (*Event, error) {
	if r.err != nil {
		return nil, r.err
	}
	ev, err := r.next()
	if err != nil {
		r.err = err
		return nil, err
	}
	return ev, nil
}

func (r *Reader) next() (*Event, error) {
	if r.state == readerStateMagic {
		if err := r.fr.expect(tokMagic); err != nil {
			return nil, fmt.Errorf("nar: magic number: %w", err)
		}
		r.state = readerStateNode
		r.curPath = ""
	}

	switch r.state {
	case readerStateNode:
		return r.node()
	case readerStateDirectory:
		return r.directoryNext()
	case readerStateEntryClose:
		if err := r.fr.expect(tokClose); err != nil {
			return nil, fmt.Errorf("nar: entry %s: %w", formatPath(r.closePath), err)
		}
		ev := &Event{Kind: EventEntryEnd, Path: r.closePath}
		r.state = readerStateDirectory
		return ev, nil
	case readerStateEnd:
		return nil, r.fr.atEOF()
	default:
		panic("unreachable")
	}
}

// node parses one node construct and returns its opening event.
func (r *Reader) node() (*Event, error) {
	path := r.curPath
	if err := r.fr.expect(tokOpen); err != nil {
		return nil, fmt.Errorf("nar: %s: %w", formatPath(path), err)
	}
	if err := r.fr.expect(tokType); err != nil {
		return nil, fmt.Errorf("nar: %s: %w", formatPath(path), err)
	}
	kind, err := r.fr.token()
	if err != nil {
		return nil, fmt.Errorf("nar: %s: type: %w", formatPath(path), err)
	}
	switch kind {
	case tokRegular:
		return r.regular(path)
	case tokSymlink:
		return r.symlink(path)
	case tokDirectory:
		r.stack = append(r.stack, dirFrame{path: path})
		r.state = readerStateDirectory
		return &Event{Kind: EventDirStart, Path: path}, nil
	default:
		return nil, malformedf("nar: %s: invalid node type %q", formatPath(path), kind)
	}
}

func (r *Reader) regular(path string) (*Event, error) {
	executable := false
	marker, err := r.fr.token()
	if err != nil {
		return nil, fmt.Errorf("nar: %s: regular: %w", formatPath(path), err)
	}
	if marker == tokExecutable {
		executable = true
		if err := r.fr.expect(""); err != nil {
			return nil, fmt.Errorf("nar: %s: %w", formatPath(path), err)
		}
		marker, err = r.fr.token()
		if err != nil {
			return nil, fmt.Errorf("nar: %s: regular: %w", formatPath(path), err)
		}
	}
	if marker != tokContents {
		return nil, malformedf("nar: %s: got %q token (expected %q or %q)",
			formatPath(path), marker, tokExecutable, tokContents)
	}

	size, err := r.fr.uint64()
	if err != nil {
		return nil, fmt.Errorf("nar: %s: contents: %w", formatPath(path), err)
	}
	if size >= 1<<63 {
		return nil, malformedf("nar: %s: file too large (%d bytes)", formatPath(path), size)
	}
	contents := make([]byte, size)
	if err := r.fr.fill(contents); err != nil {
		return nil, fmt.Errorf("nar: %s: contents: %w", formatPath(path), err)
	}
	if err := r.fr.padding(size); err != nil {
		return nil, fmt.Errorf("nar: %s: contents: %w", formatPath(path), err)
	}
	if err := r.fr.expect(tokClose); err != nil {
		return nil, fmt.Errorf("nar: %s: %w", formatPath(path), err)
	}
	r.afterNode(path)
	return &Event{Kind: EventFile, Path: path, Executable: executable, Contents: contents}, nil
}

func (r *Reader) symlink(path string) (*Event, error) {
	if err := r.fr.expect(tokTarget); err != nil {
		return nil, fmt.Errorf("nar: %s: symlink: %w", formatPath(path), err)
	}
	target, err := r.fr.string(maxTargetLen)
	if err != nil {
		return nil, fmt.Errorf("nar: %s: symlink target: %w", formatPath(path), err)
	}
	if target == "" {
		return nil, malformedf("nar: %s: empty symlink target", formatPath(path))
	}
	if err := r.fr.expect(tokClose); err != nil {
		return nil, fmt.Errorf("nar: %s: %w", formatPath(path), err)
	}
	r.afterNode(path)
	return &Event{Kind: EventSymlink, Path: path, Target: target}, nil
}

// afterNode transitions out of a completed node: non-root nodes owe
// their wrapping entry's closing parenthesis, the root node ends the
// archive.
func (r *Reader) afterNode(path string) {
	if len(r.stack) == 0 {
		r.state = readerStateEnd
	} else {
		r.state = readerStateEntryClose
		r.closePath = path
	}
}

func (r *Reader) directoryNext() (*Event, error) {
	top := &r.stack[len(r.stack)-1]
	tok, err := r.fr.token()
	if err != nil {
		return nil, fmt.Errorf("nar: directory %s: %w", formatPath(top.path), err)
	}
	switch tok {
	case tokClose:
		path := top.path
		r.stack = r.stack[:len(r.stack)-1]
		r.afterNode(path)
		return &Event{Kind: EventDirEnd, Path: path}, nil
	case tokEntry:
		if err := r.fr.expect(tokOpen); err != nil {
			return nil, fmt.Errorf("nar: directory %s: %w", formatPath(top.path), err)
		}
		if err := r.fr.expect(tokName); err != nil {
			return nil, fmt.Errorf("nar: directory %s: %w", formatPath(top.path), err)
		}
		name, err := r.fr.string(maxNameLen)
		if err != nil {
			return nil, fmt.Errorf("nar: directory %s: entry name: %w", formatPath(top.path), err)
		}
		if err := checkEntryName(name); err != nil {
			return nil, fmt.Errorf("nar: directory %s: entry name: %w", formatPath(top.path), err)
		}
		if top.sawEntry && name <= top.lastName {
			return nil, malformedf("nar: directory %s: entry %q is not ordered after %q",
				formatPath(top.path), name, top.lastName)
		}
		if err := r.fr.expect(tokNode); err != nil {
			return nil, fmt.Errorf("nar: directory %s: %w", formatPath(top.path), err)
		}
		top.lastName = name
		top.sawEntry = true
		childPath := name
		if top.path != "" {
			childPath = top.path + "/" + name
		}
		r.curPath = childPath
		r.state = readerStateNode
		return &Event{Kind: EventEntryStart, Path: childPath, Name: name}, nil
	default:
		return nil, malformedf("nar: directory %s: got %q token (expected \")\" or %q)",
			formatPath(top.path), tok, tokEntry)
	}
}
