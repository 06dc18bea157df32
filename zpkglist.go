// Package zpkglist reads and writes the zpkglist container format: a
// self-describing, LZ4-dictionary-compressed envelope around a
// concatenated stream of RPM header blobs. Open transparently
// auto-detects and decompresses raw RPM streams, zpkglist containers,
// zstd streams, and xz streams — including mixtures of these
// concatenated back to back on the same descriptor — while Compress
// writes the zpkglist format itself.
package zpkglist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zpkglist/zpkglist/internal/backend"
	"github.com/zpkglist/zpkglist/internal/backend/rawback"
	"github.com/zpkglist/zpkglist/internal/backend/xzback"
	"github.com/zpkglist/zpkglist/internal/backend/zpkgback"
	"github.com/zpkglist/zpkglist/internal/backend/zstdback"
	"github.com/zpkglist/zpkglist/internal/blobiter"
	"github.com/zpkglist/zpkglist/internal/frame"
	"github.com/zpkglist/zpkglist/internal/rahead"
	"github.com/zpkglist/zpkglist/internal/rpmhdr"
)

var errZpkglist = errors.New("zpkglist")

// ErrUnknownMagic is returned when a stream's leading 4 bytes don't match
// any recognized container kind.
var ErrUnknownMagic = backend.ErrUnknownMagic

// HashFunc observes each blob's byte-exact, magic-prefixed copy as
// Compress reads it from the input, before compression.
type HashFunc = frame.HashFunc

// Stats summarizes a completed Compress call.
type Stats = frame.Stats

// Compress reads a concatenated stream of RPM header blobs from src and
// writes the zpkglist container format to dst, which must support Seek
// (an *os.File does) since the envelope is rewritten once final sizes are
// known. hash may be nil.
func Compress(src io.Reader, dst io.WriteSeeker, hash HashFunc) (Stats, error) {
	return frame.Compress(src, dst, hash)
}

// Handle is an open read side of a zpkglist-or-equivalent stream. A
// Handle transparently spans multiple concatenated containers, possibly
// of different kinds, as if they were one logical stream.
//
// Not safe for concurrent use.
type Handle struct {
	rh   *rahead.Buffer
	cur  backend.Backend
	kind backend.Kind
	it   *blobiter.Iter

	done    bool
	err     error
	byteOff int64
}

// Open sniffs r's leading magic and returns a Handle ready to read. If r
// is empty, Open returns a valid Handle whose first Read (or NextView /
// NextMalloc / Bulk) call reports io.EOF — a valid empty object, not an
// error.
func Open(r io.Reader) (*Handle, error) {
	h := &Handle{rh: rahead.New(r)}
	if err := h.openNext(); err != nil {
		if errors.Is(err, io.EOF) {
			h.done = true
			return h, nil
		}
		return nil, err
	}
	return h, nil
}

var rpmMagic4 = binary.LittleEndian.Uint32(rpmhdr.Magic[:4])

// openNext sniffs the next backend from the current read-ahead position
// and installs it as h.cur, or returns io.EOF if the stream truly ends
// here (the concatenation boundary check from §4.5).
func (h *Handle) openNext() error {
	peeked, err := h.rh.Peek(4)
	if err != nil {
		return err
	}
	if len(peeked) < 4 {
		return io.EOF
	}
	magic := binary.LittleEndian.Uint32(peeked)
	kind, ok := backend.Sniff(magic, rpmMagic4, frame.EnvelopeMagic)
	if !ok {
		return fmt.Errorf("%w: first bytes 0x%08x", ErrUnknownMagic, magic)
	}

	var be backend.Backend
	switch kind {
	case backend.KindRaw:
		be = rawback.New(h.rh)
	case backend.KindZpkglist:
		be, err = zpkgback.New(h.rh)
	case backend.KindZstd:
		be, err = zstdback.New(h.rh)
	case backend.KindXZ:
		be, err = xzback.New(h.rh)
	default:
		return fmt.Errorf("%w: unhandled backend kind %v", errZpkglist, kind)
	}
	if err != nil {
		return err
	}

	h.cur = be
	h.kind = kind
	return nil
}

// Kind reports which backend is currently serving reads. It changes
// across a concatenation boundary.
func (h *Handle) Kind() string {
	if h.cur == nil {
		return "empty"
	}
	return h.kind.String()
}

// ContentSize reports the current backend's declared total uncompressed
// size, or -1 if unknown (always true for xz, and for zstd streams whose
// frame header omits it) or no backend is open.
func (h *Handle) ContentSize() int64 {
	if h.cur == nil {
		return -1
	}
	return h.cur.ContentSize()
}

// Read implements the bulk-bytes read discipline: up to len(buf)
// uncompressed bytes, honoring no structural boundaries, transparently
// crossing backend-concatenation boundaries.
func (h *Handle) Read(buf []byte) (int, error) {
	if h.err != nil {
		return 0, h.err
	}
	if h.done {
		return 0, io.EOF
	}
	for {
		n, err := h.cur.Read(buf)
		if n > 0 {
			h.byteOff += int64(n)
			return n, nil
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			h.cur.Close()
			if nerr := h.openNext(); nerr != nil {
				if errors.Is(nerr, io.EOF) {
					h.done = true
					return 0, io.EOF
				}
				h.err = nerr
				return 0, nerr
			}
			continue
		}
		h.err = err
		return 0, err
	}
}

// Bulk returns a chunk of uncompressed bytes with no structural
// boundaries honored, reusing whatever internal buffer the current
// backend offers. The returned slice is only valid until the next Bulk
// or Read call.
func (h *Handle) Bulk() ([]byte, error) {
	if h.err != nil {
		return nil, h.err
	}
	if h.done {
		return nil, io.EOF
	}
	for {
		buf, err := h.cur.Bulk()
		if len(buf) > 0 {
			h.byteOff += int64(len(buf))
			return buf, nil
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			h.cur.Close()
			if nerr := h.openNext(); nerr != nil {
				if errors.Is(nerr, io.EOF) {
					h.done = true
					return nil, io.EOF
				}
				h.err = nerr
				return nil, nerr
			}
			continue
		}
		h.err = err
		return nil, err
	}
}

// BlobPos implements blobiter.Positioner: it forwards to the current
// backend when that backend knows its logical position (zpkglist
// containers do), and otherwise falls back to a running byte offset.
func (h *Handle) BlobPos() int64 {
	if p, ok := h.cur.(blobiter.Positioner); ok {
		return p.BlobPos()
	}
	return h.byteOff
}

func (h *Handle) iter() *blobiter.Iter {
	if h.it == nil {
		h.it = blobiter.New(h)
	}
	return h.it
}

// NextView returns a pointer+length into an internal buffer holding
// exactly one header blob's body (magic elided, body starts at (il,dl)).
// The returned slice is invalidated by the next NextView or NextMalloc
// call on this Handle.
func (h *Handle) NextView() ([]byte, int64, error) {
	return h.iter().View()
}

// NextMalloc returns a freshly allocated buffer holding exactly one
// header blob's body, owned outright by the caller.
func (h *Handle) NextMalloc() ([]byte, int64, error) {
	return h.iter().Malloc()
}

// Close releases the currently open backend's resources. It does not
// close the underlying reader.
func (h *Handle) Close() error {
	if h.cur == nil {
		return nil
	}
	return h.cur.Close()
}
