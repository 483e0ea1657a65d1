package sshctl

import (
	"io"

	"golang.org/x/term"
)

// lineTerminal adapts an interactive pty to the line-oriented control
// session. term.Terminal does the echo and line editing; Read hands over
// one completed line at a time.
type lineTerminal struct {
	t   *term.Terminal
	buf []byte
}

func newLineTerminal(rw io.ReadWriter) *lineTerminal {
	return &lineTerminal{t: term.NewTerminal(rw, "")}
}

func (l *lineTerminal) Read(p []byte) (int, error) {
	if len(l.buf) == 0 {
		line, err := l.t.ReadLine()
		if err != nil {
			return 0, err
		}
		l.buf = append(l.buf[:0], line...)
		l.buf = append(l.buf, '\n')
	}
	n := copy(p, l.buf)
	l.buf = l.buf[n:]
	return n, nil
}

func (l *lineTerminal) Write(p []byte) (int, error) {
	return l.t.Write(p)
}
