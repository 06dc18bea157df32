// Package backend defines the shared vtable every zpkglist reader backend
// implements (§4.5), plus the generic fallbacks backends reuse when they
// have nothing better to offer.
package backend

import (
	"errors"
	"fmt"
	"io"
)

var errBackend = errors.New("backend")

// ErrUnknownMagic is returned when the dispatcher can't classify a stream.
var ErrUnknownMagic = fmt.Errorf("%w: unrecognized container magic", errBackend)

// Kind identifies which concrete backend a magic sniff selected.
type Kind int

// The closed set of backend kinds this reader recognizes, mirroring the
// original's op-rpmheader.c / op-zpkglist.c / op-lz4.c backend tables.
const (
	KindRaw Kind = iota
	KindZpkglist
	KindZstd
	KindXZ
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindZpkglist:
		return "zpkglist"
	case KindZstd:
		return "zstd"
	case KindXZ:
		return "xz"
	default:
		return "unknown"
	}
}

const (
	// ZstdMagic is exported so zstdback can recognize a concatenated
	// zstd frame restarting mid-stream (§4.6 frame concatenation).
	ZstdMagic = 0x28B52FFD // little-endian read of FD 2F B5 28
	// XZMagic is exported for the equivalent check in xzback.
	XZMagic = 0x587A37FD // little-endian read of the first 4 bytes of FD 37 7A 58 5A 00
)

// Sniff classifies the first 4 bytes of a stream into a backend Kind.
// rpmMagic4 is the little-endian u32 formed from the RPM header's first 4
// magic bytes, and zpkgMagic4 is the zpkglist envelope magic; both are
// passed in rather than imported to keep this package free of a direct
// dependency on rpmhdr/frame's layouts (it only needs to compare them).
func Sniff(first4 uint32, rpmMagic4, zpkgMagic4 uint32) (Kind, bool) {
	switch first4 {
	case rpmMagic4:
		return KindRaw, true
	case zpkgMagic4:
		return KindZpkglist, true
	case ZstdMagic:
		return KindZstd, true
	case XZMagic:
		return KindXZ, true
	default:
		return 0, false
	}
}

// Backend is the shared interface every container kind implements.
// Read/ContentSize/Bulk correspond directly to §4.5's vtable; NextMalloc
// and NextView are implemented once, generically, on top of Read (see
// package blobiter) rather than per backend, since every backend shares
// the exact same blob-framing discipline.
type Backend interface {
	// Read copies up to len(buf) uncompressed bytes into buf, honoring no
	// structural boundaries. Returns (0, io.EOF) when this backend's
	// stream (not necessarily the whole logical handle) is exhausted.
	Read(buf []byte) (int, error)

	// ContentSize returns the backend's total uncompressed size if known
	// up front, or -1.
	ContentSize() int64

	// Bulk returns a pointer+length into an internal chunk of
	// uncompressed bytes. Backends that have no cheaper option than
	// Read reuse GenericBulk.
	Bulk() ([]byte, error)

	// Close releases backend-owned resources. It does not close the
	// underlying descriptor.
	Close() error
}

// GenericBulkSize is the chunk size generic backends fill per Bulk call.
const GenericBulkSize = 128 * 1024

// GenericBulk implements the Bulk discipline for any backend that has
// nothing better to offer: fill a reusable buffer via Read.
type GenericBulk struct {
	buf []byte
}

// Fill reads into (and reuses) the internal buffer via read, returning a
// view of however many bytes it produced.
func (g *GenericBulk) Fill(read func([]byte) (int, error)) ([]byte, error) {
	if g.buf == nil {
		g.buf = make([]byte, GenericBulkSize)
	}
	n, err := read(g.buf)
	if n > 0 {
		return g.buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}
