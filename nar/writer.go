package nar

import (
	"errors"
	"fmt"
	"io"
)

const (
	writerStateRoot int8 = iota
	writerStateDir
	writerStateNode
	writerStateEntryEnd
	writerStateDone
)

// Writer produces a NAR archive from a sequence of tree events.
// The events must arrive in the order [Reader.Next] yields them;
// in particular, directory entries must already be in strict
// byte-lexicographic order. Once an event has been written it cannot
// be retracted.
type Writer struct {
	fw frameWriter

	state int8
	// stack holds one frame per open directory.
	stack []writerFrame
	// closed reports whether Close has been called.
	closed bool
}

type writerFrame struct {
	path     string
	lastName string
	sawEntry bool
}

// NewWriter returns a new [Writer] writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{fw: newFrameWriter(w)}
}

// WriteEvent writes the tokens for one tree event.
func (nw *Writer) WriteEvent(ev *Event) error {
	if nw.fw.err != nil {
		return nw.fw.err
	}
	if nw.closed {
		return errors.New("nar: write after close")
	}

	switch nw.state {
	case writerStateRoot:
		nw.fw.string(tokMagic)
		return nw.node(ev)
	case writerStateNode:
		return nw.node(ev)
	case writerStateDir:
		return nw.directoryEvent(ev)
	case writerStateEntryEnd:
		if ev.Kind != EventEntryEnd {
			return fmt.Errorf("nar: got %v event (expected EntryEnd for %s)", ev.Kind, formatPath(ev.Path))
		}
		nw.fw.string(tokClose) // finish directory entry
		nw.state = writerStateDir
		return nw.fw.err
	case writerStateDone:
		return fmt.Errorf("nar: root node already written")
	default:
		panic("unreachable")
	}
}

// node writes the tokens of a node event.
func (nw *Writer) node(ev *Event) error {
	switch ev.Kind {
	case EventFile:
		nw.fw.string(tokOpen)
		nw.fw.string(tokType)
		nw.fw.string(tokRegular)
		if ev.Executable {
			nw.fw.string(tokExecutable)
			nw.fw.string("")
		}
		nw.fw.string(tokContents)
		nw.fw.bytes(ev.Contents)
		nw.fw.string(tokClose)
		nw.afterNode()
	case EventSymlink:
		if ev.Target == "" {
			return fmt.Errorf("nar: %s: empty symlink target", formatPath(ev.Path))
		}
		if len(ev.Target) > maxTargetLen {
			return fmt.Errorf("nar: %s: symlink target longer than %d bytes", formatPath(ev.Path), maxTargetLen)
		}
		nw.fw.string(tokOpen)
		nw.fw.string(tokType)
		nw.fw.string(tokSymlink)
		nw.fw.string(tokTarget)
		nw.fw.string(ev.Target)
		nw.fw.string(tokClose)
		nw.afterNode()
	case EventDirStart:
		nw.fw.string(tokOpen)
		nw.fw.string(tokType)
		nw.fw.string(tokDirectory)
		nw.stack = append(nw.stack, writerFrame{path: ev.Path})
		nw.state = writerStateDir
	default:
		return fmt.Errorf("nar: got %v event (expected a node for %s)", ev.Kind, formatPath(ev.Path))
	}
	return nw.fw.err
}

func (nw *Writer) directoryEvent(ev *Event) error {
	top := &nw.stack[len(nw.stack)-1]
	switch ev.Kind {
	case EventEntryStart:
		if err := checkEntryName(ev.Name); err != nil {
			return fmt.Errorf("nar: directory %s: entry name: %w", formatPath(top.path), err)
		}
		if top.sawEntry && ev.Name <= top.lastName {
			return fmt.Errorf("nar: directory %s: entry %q is not ordered after %q",
				formatPath(top.path), ev.Name, top.lastName)
		}
		top.lastName = ev.Name
		top.sawEntry = true
		nw.fw.string(tokEntry)
		nw.fw.string(tokOpen)
		nw.fw.string(tokName)
		nw.fw.string(ev.Name)
		nw.fw.string(tokNode)
		nw.state = writerStateNode
	case EventDirEnd:
		nw.stack = nw.stack[:len(nw.stack)-1]
		nw.fw.string(tokClose)
		nw.afterNode()
	default:
		return fmt.Errorf("nar: directory %s: got %v event (expected EntryStart or DirEnd)",
			formatPath(top.path), ev.Kind)
	}
	return nw.fw.err
}

// afterNode transitions out of a completed node: non-root nodes owe
// their wrapping entry's EntryEnd, the root node completes the stream.
func (nw *Writer) afterNode() {
	if len(nw.stack) == 0 {
		nw.state = writerStateDone
	} else {
		nw.state = writerStateEntryEnd
	}
}

// Close flushes the archive.
// It does not close the underlying writer.
// If the event stream is incomplete, Close returns an error.
func (nw *Writer) Close() error {
	if nw.fw.err != nil {
		return nw.fw.err
	}
	if nw.closed {
		return errors.New("nar: writer closed")
	}
	nw.closed = true
	if nw.state != writerStateDone {
		return fmt.Errorf("nar: close: archive incomplete (%d open directories)", len(nw.stack))
	}
	return nw.fw.flush()
}
