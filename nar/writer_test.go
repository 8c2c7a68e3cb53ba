package nar

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

// TestRoundTrip verifies that parsing an archive and re-emitting its
// event stream reproduces the input byte for byte.
func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data func() []byte
	}{
		{"RegularFile", func() []byte { return regularNAR(false, "Hello, World!\n") }},
		{"EmptyFile", func() []byte { return regularNAR(false, "") }},
		{"ExecutableFile", func() []byte { return regularNAR(true, "#!/bin/sh\necho hi\n") }},
		{"Symlink", func() []byte { return symlinkNAR("/nix/store/abc-glibc/lib/ld.so") }},
		{"EmptyDirectory", func() []byte {
			b := new(narBuilder)
			b.str(tokMagic).str("(").str("type").str("directory").str(")")
			return b.Bytes()
		}},
		{"Tree", treeNAR},
		{"UnalignedContents", func() []byte { return regularNAR(false, "12345") }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			in := test.data()
			r := NewReader(bytes.NewReader(in))
			out := new(bytes.Buffer)
			w := NewWriter(out)
			for {
				ev, err := r.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatal("r.Next():", err)
				}
				if err := w.WriteEvent(ev); err != nil {
					t.Fatal("w.WriteEvent():", err)
				}
			}
			if err := w.Close(); err != nil {
				t.Fatal("w.Close():", err)
			}
			if !bytes.Equal(in, out.Bytes()) {
				t.Errorf("round trip mismatch:\n in = %q\nout = %q", in, out.Bytes())
			}
		})
	}
}

func TestWriterRejectsUnorderedEntries(t *testing.T) {
	w := NewWriter(io.Discard)
	events := []*Event{
		{Kind: EventDirStart},
		{Kind: EventEntryStart, Path: "b", Name: "b"},
		{Kind: EventFile, Path: "b", Contents: []byte("x")},
		{Kind: EventEntryEnd, Path: "b"},
	}
	for _, ev := range events {
		if err := w.WriteEvent(ev); err != nil {
			t.Fatal("w.WriteEvent():", err)
		}
	}
	err := w.WriteEvent(&Event{Kind: EventEntryStart, Path: "a", Name: "a"})
	if err == nil {
		t.Error("w.WriteEvent(out-of-order entry) = <nil>; want error")
	}
}

func TestWriterRejectsBadBrackets(t *testing.T) {
	tests := []struct {
		name   string
		events []*Event
	}{
		{
			name:   "EntryEndAtRoot",
			events: []*Event{{Kind: EventEntryEnd}},
		},
		{
			name: "MissingEntryEnd",
			events: []*Event{
				{Kind: EventDirStart},
				{Kind: EventEntryStart, Path: "a", Name: "a"},
				{Kind: EventFile, Path: "a", Contents: []byte("x")},
				{Kind: EventDirEnd},
			},
		},
		{
			name: "FileInsideDirectoryWithoutEntry",
			events: []*Event{
				{Kind: EventDirStart},
				{Kind: EventFile, Path: "a", Contents: []byte("x")},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := NewWriter(io.Discard)
			var err error
			for _, ev := range test.events {
				if err = w.WriteEvent(ev); err != nil {
					break
				}
			}
			if err == nil {
				t.Error("all events accepted; want error")
			}
		})
	}
}

func TestWriterCloseIncomplete(t *testing.T) {
	w := NewWriter(io.Discard)
	if err := w.WriteEvent(&Event{Kind: EventDirStart}); err != nil {
		t.Fatal("w.WriteEvent():", err)
	}
	if err := w.Close(); err == nil {
		t.Error("w.Close() on open directory = <nil>; want error")
	}
}

func BenchmarkRoundTrip(b *testing.B) {
	data := treeNAR()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		r := NewReader(bytes.NewReader(data))
		w := NewWriter(io.Discard)
		for {
			ev, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				b.Fatal(err)
			}
			if err := w.WriteEvent(ev); err != nil {
				b.Fatal(err)
			}
		}
		if err := w.Close(); err != nil {
			b.Fatal(err)
		}
	}
}

// TestRoundTripLargeFile exercises the direct-write path for contents
// larger than the token buffer.
func TestRoundTripLargeFile(t *testing.T) {
	contents := bytes.Repeat([]byte("0123456789abcde\n"), 4096)
	in := regularNAR(false, string(contents))

	r := NewReader(bytes.NewReader(in))
	out := new(bytes.Buffer)
	w := NewWriter(out)
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal("r.Next():", err)
		}
		if err := w.WriteEvent(ev); err != nil {
			t.Fatal("w.WriteEvent():", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal("w.Close():", err)
	}
	if !bytes.Equal(in, out.Bytes()) {
		t.Error("round trip mismatch for large file")
	}
}

// TestRoundTripLongNames covers entry names and symlink targets longer
// than the reader's grammar-token limit (maxTokenLen).
func TestRoundTripLongNames(t *testing.T) {
	name := strings.Repeat("n", 200)
	target := "/nix/store/" + strings.Repeat("t", 180)
	b := new(narBuilder)
	b.str(tokMagic).str("(").str("type").str("directory")
	b.str("entry").str("(").str("name").str(name).str("node")
	b.str("(").str("type").str("symlink").str("target").str(target).str(")")
	b.str(")")
	b.str(")")
	in := b.Bytes()

	r := NewReader(bytes.NewReader(in))
	out := new(bytes.Buffer)
	w := NewWriter(out)
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal("r.Next():", err)
		}
		if err := w.WriteEvent(ev); err != nil {
			t.Fatal("w.WriteEvent():", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal("w.Close():", err)
	}
	if !bytes.Equal(in, out.Bytes()) {
		t.Error("round trip mismatch for long names")
	}
}
