// Package zstdback wraps klauspost/compress/zstd as a reader backend for
// streams that turn out to be plain zstd-compressed RPM header blobs
// rather than the zpkglist container format.
package zstdback

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/zpkglist/zpkglist/internal/backend"
	"github.com/zpkglist/zpkglist/internal/rahead"
)

// zstdHeaderPeekSize covers the worst case of a zstd frame header: 4-byte
// magic, 1-byte frame header descriptor, 1-byte window descriptor, up to
// 4-byte dictionary ID, up to 8-byte frame content size.
const zstdHeaderPeekSize = 18

// Backend streams the decompressed contents of a zstd stream.
type Backend struct {
	rh          *rahead.Buffer
	dec         *zstd.Decoder
	bulk        backend.GenericBulk
	contentSize int64
}

// New wraps rh in a zstd decoder. rh's next unread bytes are the zstd
// frame magic, already peeked (not consumed) by the dispatcher.
func New(rh *rahead.Buffer) (*Backend, error) {
	b := &Backend{rh: rh, contentSize: -1}
	if peeked, err := rh.Peek(zstdHeaderPeekSize); err == nil {
		var hdr zstd.Header
		if err := hdr.Decode(peeked); err == nil && hdr.HasFCS {
			b.contentSize = int64(hdr.FrameContentSize)
		}
	}

	dec, err := zstd.NewReader(readerFunc(rh.Read))
	if err != nil {
		return nil, fmt.Errorf("zstdback: opening decoder: %w", err)
	}
	b.dec = dec
	return b, nil
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// Read decompresses up to len(buf) bytes. If the decoder falls short of a
// full buf and the bytes immediately following in the raw stream are
// another zstd frame magic, the decoder is transparently reopened so a
// concatenation of zstd frames reads as one continuous stream (§4.6).
func (b *Backend) Read(buf []byte) (int, error) {
	n, err := b.dec.Read(buf)
	for n < len(buf) && errors.Is(err, io.EOF) {
		peeked, perr := b.rh.Peek(4)
		if perr != nil {
			return n, perr
		}
		magic, ok := frameMagic(peeked)
		if !ok || magic != backend.ZstdMagic {
			if n > 0 {
				return n, nil
			}
			return n, io.EOF
		}
		b.dec.Close()
		dec, derr := zstd.NewReader(readerFunc(b.rh.Read))
		if derr != nil {
			return n, fmt.Errorf("zstdback: reopening decoder: %w", derr)
		}
		b.dec = dec

		var m int
		m, err = b.dec.Read(buf[n:])
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

// ContentSize returns the frame header's declared content size, peeked at
// open time, or -1 if the stream didn't carry one.
func (b *Backend) ContentSize() int64 { return b.contentSize }

// Bulk reuses the generic buffered-append fallback.
func (b *Backend) Bulk() ([]byte, error) {
	return b.bulk.Fill(b.Read)
}

// Close releases the decoder's resources.
func (b *Backend) Close() error {
	b.dec.Close()
	return nil
}
