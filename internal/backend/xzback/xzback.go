// Package xzback wraps ulikunitz/xz as a reader backend for streams that
// turn out to be plain xz-compressed RPM header blobs.
package xzback

import (
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"

	"github.com/zpkglist/zpkglist/internal/backend"
	"github.com/zpkglist/zpkglist/internal/rahead"
)

// Backend streams the decompressed contents of an xz stream. Unlike a
// zstd frame header, an xz stream carries no up-front content size, so
// ContentSize always reports -1.
type Backend struct {
	rh   *rahead.Buffer
	r    *xz.Reader
	bulk backend.GenericBulk
}

// New wraps rh in an xz reader. rh's next unread bytes are the xz stream
// magic, already peeked (not consumed) by the dispatcher.
func New(rh *rahead.Buffer) (*Backend, error) {
	r, err := xz.NewReader(readerFunc(rh.Read))
	if err != nil {
		return nil, fmt.Errorf("xzback: opening reader: %w", err)
	}
	return &Backend{rh: rh, r: r}, nil
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// Read decompresses up to len(buf) bytes. ulikunitz/xz.Reader already
// concatenates multiple xz streams that immediately follow one another
// with no gap; the check here only covers the case where the reader
// stops short anyway and the next 4 bytes are another xz stream magic
// (§4.6), reopening a fresh reader rather than assuming EOF.
func (b *Backend) Read(buf []byte) (int, error) {
	n, err := b.r.Read(buf)
	for n < len(buf) && errors.Is(err, io.EOF) {
		peeked, perr := b.rh.Peek(4)
		if perr != nil {
			return n, perr
		}
		magic, ok := frameMagic(peeked)
		if !ok || magic != backend.XZMagic {
			if n > 0 {
				return n, nil
			}
			return n, io.EOF
		}
		r, rerr := xz.NewReader(readerFunc(b.rh.Read))
		if rerr != nil {
			return n, fmt.Errorf("xzback: reopening reader: %w", rerr)
		}
		b.r = r

		var m int
		m, err = b.r.Read(buf[n:])
		n += m
	}
	return n, err
}

func frameMagic(b []byte) (uint32, bool) {
	if len(b) < 4 {
		return 0, false
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

// ContentSize is unknown up front for an xz stream.
func (b *Backend) ContentSize() int64 { return -1 }

// Bulk reuses the generic buffered-append fallback.
func (b *Backend) Bulk() ([]byte, error) {
	return b.bulk.Fill(b.Read)
}

// Close is a no-op; ulikunitz/xz.Reader has no Close of its own and the
// underlying descriptor is owned by the caller.
func (b *Backend) Close() error { return nil }
