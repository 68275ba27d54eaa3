package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// progress redraws a single status line on a terminal and stays silent
// otherwise.
type progress struct {
	w   io.Writer
	tty bool
}

func newProgress(w io.Writer) *progress {
	p := &progress{w: w}
	if f, ok := w.(*os.File); ok {
		p.tty = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *progress) Update(format string, args ...any) {
	if !p.tty {
		return
	}
	fmt.Fprintf(p.w, "\r\033[K"+format, args...)
}

// Done ends the status line.
func (p *progress) Done() {
	if p.tty {
		fmt.Fprintln(p.w)
	}
}
