package comm

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"time"
)

// ErrTimeout is generated by timeout on a reader or writer
var ErrTimeout = errors.New("io: timeout")

// Terminator is a struct holding termination sequences and read/writers.
// The 1-Wire bus master bridge used by the physical HAL frames each
// command/response with a single terminator byte; this wraps a raw
// connection so callers work in terms of whole frames rather than bytes.
type Terminator struct {
	Wterm byte
	Rterm byte
	w     io.Writer
	r     io.Reader
}

func (t Terminator) Write(b []byte) (int, error) {
	b = append(b, t.Wterm)
	return t.w.Write(b)
}

// Read implements io.Reader.  The input is scanned up to the first encounter
// of Rterm.  Rterm is stripped from the message and the remainder returned.
func (t Terminator) Read(buf []byte) (int, error) {
	b, err := bufio.NewReader(t.r).ReadBytes(t.Rterm)
	if err != nil {
		return 0, err
	}
	if bytes.HasSuffix(b, []byte{t.Rterm}) {
		idx := bytes.IndexByte(b, t.Rterm)
		b = b[:idx]
	}
	return copy(buf, b), nil
}

// NewTerminator returns a wrapper around a Read/Writer that appends and
// strips termination bytes
func NewTerminator(rw io.ReadWriter, Rx, Tx byte) Terminator {
	return Terminator{w: rw, r: rw, Wterm: Tx, Rterm: Rx}
}

// Timeout is a wrapper for IO ReadWriter which adds a timeout
type Timeout struct {
	w io.Writer
	r io.Reader

	timeout time.Duration
}

// NewTimeout creates a new timeout wrapping a read/writer
func NewTimeout(rw io.ReadWriter, timeout time.Duration) Timeout {
	return Timeout{
		w:       rw,
		r:       rw,
		timeout: timeout,
	}
}

// Read passes read to the embedded reader and stops early if
// the timeout elapses
func (t Timeout) Read(b []byte) (int, error) {
	var (
		n   int
		err error
	)
	ok := make(chan struct{})
	go func() {
		n, err = t.r.Read(b)
		ok <- struct{}{}
	}()
	select {
	case <-ok:
		break
	case <-time.After(t.timeout):
		n = 0
		err = ErrTimeout
	}
	return n, err
}

// Write passes write to the embedded writer and stops early if
// the timeout elapses
func (t Timeout) Write(b []byte) (int, error) {
	var (
		n   int
		err error
	)
	ok := make(chan struct{})
	go func() {
		n, err = t.w.Write(b)
		ok <- struct{}{}
	}()
	select {
	case <-ok:
		break
	case <-time.After(t.timeout):
		n = 0
		err = ErrTimeout
	}
	return n, err
}
