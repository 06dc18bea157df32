// Package rawback implements the pass-through backend for a stream that
// is already a concatenation of RPM header blobs with no outer
// compression at all: every byte read from the source is header content.
package rawback

import (
	"io"

	"github.com/zpkglist/zpkglist/internal/backend"
	"github.com/zpkglist/zpkglist/internal/rahead"
	"github.com/zpkglist/zpkglist/internal/rpmhdr"
)

// Backend streams a raw (uncompressed) blob stream unchanged.
type Backend struct {
	rh   *rahead.Buffer
	bulk backend.GenericBulk
}

// New wraps rh, whose next unread byte is the start of an RPM header
// magic (already peeked, not consumed, by the dispatcher).
func New(rh *rahead.Buffer) *Backend {
	return &Backend{rh: rh}
}

// Read copies up to len(buf) bytes straight from the underlying stream.
func (b *Backend) Read(buf []byte) (int, error) {
	return b.rh.Read(buf)
}

// ContentSize is unknown up front for a raw stream.
func (b *Backend) ContentSize() int64 { return -1 }

// Bulk grabs as many whole blobs as already reside in the read-ahead
// buffer's window (areader.c's raw bulk path), rounding down to the last
// complete blob boundary rather than handing back an arbitrary byte
// count. If not even one whole blob is currently buffered (a single blob
// larger than the window), it falls back to the generic byte-oriented
// fill so a caller always makes forward progress.
func (b *Backend) Bulk() ([]byte, error) {
	peeked, err := b.rh.Peek(rahead.WindowSize)
	if err != nil {
		return nil, err
	}
	n := wholeBlobBytes(peeked)
	if n == 0 {
		return b.bulk.Fill(b.rh.Read)
	}

	out := make([]byte, n)
	if err := b.rh.ReadFull(out); err != nil {
		return nil, err
	}
	return out, nil
}

// wholeBlobBytes returns the total byte length of however many complete
// RPM header blobs fit at the front of buf, stopping at the first
// incomplete or malformed blob. It never returns a partial blob's bytes.
func wholeBlobBytes(buf []byte) int {
	total := 0
	for {
		rest := buf[total:]
		if len(rest) < rpmhdr.LeadSize || !rpmhdr.CheckMagic(rest) {
			return total
		}
		bodySize, err := rpmhdr.BodySize(rest[rpmhdr.MagicSize:])
		if err != nil {
			return total
		}
		blobSize := rpmhdr.MagicSize + bodySize
		if blobSize > len(rest) {
			return total
		}
		total += blobSize
	}
}

// Close is a no-op; the underlying descriptor is owned by the caller.
func (b *Backend) Close() error { return nil }

var _ io.Reader = (*Backend)(nil)
