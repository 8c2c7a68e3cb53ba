// Package pipeline wires the NAR parser, the rewriting kernel, and the
// NAR writer together.
//
// The parser and writer are inherently serial; only per-leaf rewriting
// is parallel. The producer enqueues one result slot per event into a
// bounded FIFO, a worker pool patches file and symlink leaves out of
// order, and the sink drains the FIFO strictly in order, so the writer
// sees the exact event sequence the parser produced. The window bounds
// memory to O(workers × max file size).
package pipeline

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nix-community/patchnar/nar"
	"github.com/nix-community/patchnar/rewrite"
)

// Options configures a [Run].
type Options struct {
	// Workers bounds both the in-flight event window and the worker
	// pool. Values below 1 run sequentially.
	Workers int
}

// Run copies one NAR from in to out, rewriting every leaf through
// patcher. Any parse or write error aborts the run; the output stream
// is left in whatever state the writer had flushed.
func Run(ctx context.Context, in io.Reader, out io.Writer, patcher *rewrite.Patcher, opts Options) error {
	k := opts.Workers
	if k < 1 {
		k = 1
	}
	r := nar.NewReader(in)
	w := nar.NewWriter(out)

	// One slot per event, filled by a worker (leaves) or immediately
	// (brackets). The channel capacity is the in-flight window.
	pending := make(chan chan *nar.Event, k)

	var workers errgroup.Group
	workers.SetLimit(k)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(pending)
		for {
			ev, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return errors.Wrap(err, "reading archive")
			}

			slot := make(chan *nar.Event, 1)
			select {
			case pending <- slot:
			case <-ctx.Done():
				return ctx.Err()
			}

			switch ev.Kind {
			case nar.EventFile:
				workers.Go(func() error {
					ev.Contents = patcher.PatchFile(ev.Contents, ev.Executable, ev.Path)
					slot <- ev
					return nil
				})
			case nar.EventSymlink:
				workers.Go(func() error {
					ev.Target = patcher.PatchSymlink(ev.Target, ev.Path)
					slot <- ev
					return nil
				})
			default:
				if ev.Kind == nar.EventDirStart {
					patcher.NoteDirectory()
				}
				slot <- ev
			}
		}
		workers.Wait()
		return nil
	})

	g.Go(func() error {
		for slot := range pending {
			var ev *nar.Event
			select {
			case ev = <-slot:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := w.WriteEvent(ev); err != nil {
				return errors.Wrap(err, "writing archive")
			}
		}
		return errors.Wrap(w.Close(), "writing archive")
	})

	return g.Wait()
}
