// Package rahead implements a forward-only read-ahead buffer over a file
// descriptor, the foundation every zpkglist reader backend is built on.
package rahead

import (
	"errors"
	"fmt"
	"io"
	"syscall"
)

// WindowSize is the size of the internal buffering window. It must be at
// least as large as the biggest peek any caller performs (the dispatcher
// peeks at most a 12-byte frame header plus a 4-byte magic sniff).
const WindowSize = 64 * 1024

// errReadAhead is the base error for all rahead errors.
var errReadAhead = errors.New("rahead")

// ErrPeekTooLarge is returned when Peek is asked for more than WindowSize bytes.
var ErrPeekTooLarge = fmt.Errorf("%w: peek size exceeds window", errReadAhead)

// Buffer is a forward-only reader over a source with a small internal
// window supporting Peek and Read without double-buffering downstream.
//
// Not safe for concurrent use.
type Buffer struct {
	src  io.Reader
	buf  [WindowSize]byte
	pos  int // read cursor within buf
	end  int // valid bytes in buf
	tell int64
	err  error // latched physical-read error, distinct from io.EOF
}

// New wraps src in a read-ahead Buffer.
func New(src io.Reader) *Buffer {
	return &Buffer{src: src}
}

// Tell returns the logical file position at the current read cursor:
// the number of bytes consumed via Read plus any already-peeked-past bytes
// that remain unconsumed do NOT count — Tell reports the position a
// caller's next Read would start at.
func (b *Buffer) Tell() int64 {
	return b.tell
}

// fill ensures the window holds at least n unread bytes, short of EOF.
// It compacts the window first if there isn't enough trailing room.
func (b *Buffer) fill(n int) error {
	if n > WindowSize {
		return ErrPeekTooLarge
	}
	if b.end-b.pos >= n {
		return nil
	}
	if b.err != nil {
		return b.err
	}

	if b.pos > 0 {
		copy(b.buf[:], b.buf[b.pos:b.end])
		b.end -= b.pos
		b.pos = 0
	}

	for b.end-b.pos < n {
		m, err := readRetryEINTR(b.src, b.buf[b.end:])
		b.end += m
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.err = io.EOF
				break
			}
			b.err = fmt.Errorf("%w: read: %w", errReadAhead, err)
			return b.err
		}
		if m == 0 {
			// A reader that returns (0, nil) forever would spin us;
			// treat it as EOF, matching io.Reader's documented contract
			// that zero-length reads are only permitted transiently.
			b.err = io.EOF
			break
		}
	}
	return nil
}

// Peek ensures up to n bytes are buffered and returns a view into them
// without advancing the cursor. The returned slice aliases the internal
// window and is only valid until the next Peek/Read call. If fewer than n
// bytes remain before EOF, a shorter slice is returned with a nil error;
// callers that require exactly n bytes must check len(result).
func (b *Buffer) Peek(n int) ([]byte, error) {
	if err := b.fill(n); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	avail := b.end - b.pos
	if avail > n {
		avail = n
	}
	return b.buf[b.pos : b.pos+avail], nil
}

// Read copies up to len(dst) bytes into dst, advancing the cursor. It
// returns 0, io.EOF once the source is exhausted and the window is empty.
func (b *Buffer) Read(dst []byte) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if err := b.fill(1); err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	avail := b.end - b.pos
	if avail == 0 {
		return 0, io.EOF
	}
	n := copy(dst, b.buf[b.pos:b.end])
	b.pos += n
	b.tell += int64(n)
	return n, nil
}

// ReadFull reads exactly len(dst) bytes, or returns io.ErrUnexpectedEOF if
// the source is exhausted first.
func (b *Buffer) ReadFull(dst []byte) error {
	_, err := io.ReadFull(readerFunc(b.Read), dst)
	return err
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// readRetryEINTR performs a single logical Read, transparently retrying a
// short physical read that failed only because the syscall was interrupted.
// A short read that is not EOF and not EINTR is returned to the caller
// unmodified: this function only hides EINTR, and it is fill's loop that
// reads again until the requested bytes are buffered.
func readRetryEINTR(r io.Reader, buf []byte) (int, error) {
	for {
		n, err := r.Read(buf)
		if err != nil && errors.Is(err, syscall.EINTR) {
			continue
		}
		return n, err
	}
}
