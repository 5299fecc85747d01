package cli

import (
	"bytes"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Keys that stop a foreground chat.
const (
	keyQuit   = 'q'
	keyEscape = 0x1b
	keyCtrlC  = 0x03
)

// watchStopKey puts in into raw mode when it is a terminal and calls stop when
// q, ESC or Ctrl+C is pressed. Raw mode swallows SIGINT, so Ctrl+C is read as
// a key. raw is false when in is not a terminal; restore is then nil.
func watchStopKey(in io.Reader, done <-chan struct{}, stop func()) (restore func(), raw bool) {
	f, ok := in.(*os.File)
	if !ok {
		return nil, false
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return nil, false
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		slog.Debug("cli: stop key unavailable", "err", err)
		return nil, false
	}

	go readStopKeys(f, done, stop)

	return func() {
		if err := term.Restore(fd, oldState); err != nil {
			slog.Debug("cli: restore terminal", "err", err)
		}
	}, true
}

// readStopKeys calls stop on the first stop key read from r and returns
// without reading once done is closed. A read already pending when done
// closes stays blocked until the next key, which is discarded; the chat
// command exits right after the session, which ends that read.
func readStopKeys(r io.Reader, done <-chan struct{}, stop func()) {
	buf := make([]byte, 1)
	for {
		select {
		case <-done:
			return
		default:
		}
		n, err := r.Read(buf)
		select {
		case <-done:
			return
		default:
		}
		if err != nil {
			return
		}
		if n == 1 && isStopKey(buf[0]) {
			stop()
			return
		}
	}
}

func isStopKey(b byte) bool {
	switch b {
	case keyQuit, keyEscape, keyCtrlC:
		return true
	}
	return false
}

// crlfWriter turns "\n" into "\r\n" for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
