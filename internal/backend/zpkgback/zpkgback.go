// Package zpkgback adapts internal/zreader's frame-at-a-time decompressor
// to the shared backend.Backend vtable and reports authoritative logical
// blob positions via blobiter.Positioner.
package zpkgback

import (
	"fmt"
	"io"

	"github.com/zpkglist/zpkglist/internal/rahead"
	"github.com/zpkglist/zpkglist/internal/rpmhdr"
	"github.com/zpkglist/zpkglist/internal/zreader"
)

// Backend streams the decompressed contents of a zpkglist container,
// frame by frame, through the shared Read/Bulk vtable.
type Backend struct {
	r *zreader.Reader

	frame       []byte
	frameOffset int64
	cursor      int
	blobStarts  []int

	eof bool
	err error
}

// New opens a zpkglist container whose magic has been sniffed (rh.Peek,
// not consumed): zreader.Open reads the envelope itself, magic included,
// starting at the current position.
func New(rh *rahead.Buffer) (*Backend, error) {
	r, err := zreader.Open(rh)
	if err != nil {
		return nil, err
	}
	return &Backend{r: r}, nil
}

// ContentSize returns the envelope's declared total uncompressed size.
func (b *Backend) ContentSize() int64 {
	return b.r.ContentSize()
}

// Close is a no-op; the underlying descriptor is owned by the caller.
func (b *Backend) Close() error { return nil }

func (b *Backend) loadNextFrame() error {
	frame, offset, err := b.r.GetFrame()
	if err != nil {
		if err == io.EOF {
			b.eof = true
		}
		return err
	}
	b.frame = frame
	b.frameOffset = offset
	b.cursor = 0
	b.blobStarts = blobStarts(frame)
	return nil
}

// blobStarts walks a frame's restored blob stream (every blob, including
// the first, carries its full 8-byte magic once GetFrame returns it) and
// records each blob's byte offset within the frame.
func blobStarts(frame []byte) []int {
	var starts []int
	pos := 0
	for pos < len(frame) {
		starts = append(starts, pos)
		n, err := rpmhdr.BodySize(frame[pos+8 : pos+16])
		if err != nil {
			break
		}
		pos += 8 + n
	}
	return starts
}

// Read copies up to len(buf) uncompressed bytes, loading frames from the
// underlying reader as needed.
func (b *Backend) Read(buf []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.cursor >= len(b.frame) {
		if b.eof {
			return 0, io.EOF
		}
		if err := b.loadNextFrame(); err != nil {
			if err != io.EOF {
				b.err = err
			}
			return 0, err
		}
	}
	n := copy(buf, b.frame[b.cursor:])
	b.cursor += n
	return n, nil
}

// Bulk returns whatever remains of the currently loaded frame, loading the
// next frame first if the current one is exhausted. This is zero-copy: the
// returned slice aliases the reader's internal frame buffer and is only
// valid until the next call to Read or Bulk.
func (b *Backend) Bulk() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.cursor >= len(b.frame) {
		if b.eof {
			return nil, io.EOF
		}
		if err := b.loadNextFrame(); err != nil {
			if err != io.EOF {
				b.err = err
			}
			return nil, err
		}
	}
	out := b.frame[b.cursor:]
	b.cursor = len(b.frame)
	return out, nil
}

// BlobPos implements blobiter.Positioner. It reports the file offset of
// the current frame's header combined with the ordinal (within the
// frame) of whichever blob the read cursor currently sits at or within —
// correct even immediately after blobiter has eagerly pre-read the next
// blob's 16-byte lead, since that read never crosses into a third blob.
func (b *Backend) BlobPos() int64 {
	ordinal := 0
	for i, start := range b.blobStarts {
		if start <= b.cursor {
			ordinal = i
		} else {
			break
		}
	}
	return (b.frameOffset << 2) | int64(ordinal)
}

// String aids debugging; not part of the Backend interface.
func (b *Backend) String() string {
	return fmt.Sprintf("zpkgback{frameOffset=%d cursor=%d/%d eof=%v}", b.frameOffset, b.cursor, len(b.frame), b.eof)
}
