package zreader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/zpkglist/zpkglist/internal/frame"
	"github.com/zpkglist/zpkglist/internal/rahead"
	"github.com/zpkglist/zpkglist/internal/rpmhdr"
)

// seekBuf is a minimal in-memory io.WriteSeeker, standing in for the
// regular file frame.Compress expects.
type seekBuf struct {
	buf []byte
	pos int
}

func (s *seekBuf) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	n := copy(s.buf[s.pos:end], p)
	s.pos = end
	return n, nil
}

func (s *seekBuf) Seek(offset int64, whence int) (int64, error) {
	var base int
	switch whence {
	case 0:
		base = 0
	case 1:
		base = s.pos
	case 2:
		base = len(s.buf)
	}
	s.pos = base + int(offset)
	return int64(s.pos), nil
}

func headerBlob(il, dl uint32) []byte {
	b := make([]byte, 16+16*int(il)+int(dl))
	copy(b, rpmhdr.Magic[:])
	binary.BigEndian.PutUint32(b[8:12], il)
	binary.BigEndian.PutUint32(b[12:16], dl)
	return b
}

func compressOneBlob(t *testing.T) []byte {
	t.Helper()
	blob := headerBlob(1, 16)
	var dst seekBuf
	if _, err := frame.Compress(bytes.NewReader(blob), &dst, nil); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	return dst.buf
}

// dictCompressedSizeOffset is the byte offset of DictFrameHeader's
// CompressedSize field within a compressed stream: past the 24-byte
// envelope and the 4-byte dictionary frame magic.
const dictCompressedSizeOffset = frame.EnvelopeSize + 4

func TestOpenRejectsDictionaryZSizeTooSmall(t *testing.T) {
	t.Parallel()

	data := compressOneBlob(t)
	binary.LittleEndian.PutUint32(data[dictCompressedSizeOffset:], 10) // < 257
	if _, err := Open(rahead.New(bytes.NewReader(data))); err == nil {
		t.Fatal("Open accepted a dictionary zsize below the minimum")
	}
}

func TestOpenRejectsDictionaryZSizeTooLarge(t *testing.T) {
	t.Parallel()

	data := compressOneBlob(t)
	binary.LittleEndian.PutUint32(data[dictCompressedSizeOffset:], 1<<20) // way over LZ4_COMPRESSBOUND(64KiB)
	if _, err := Open(rahead.New(bytes.NewReader(data))); err == nil {
		t.Fatal("Open accepted a dictionary zsize above LZ4_COMPRESSBOUND(64KiB)")
	}
}

func TestOpenRejectsBuf1SizeSmallerThanDictZSize(t *testing.T) {
	t.Parallel()

	data := compressOneBlob(t)
	// buf1size lives at envelope[16:20]; shrink it below the real
	// (unmodified) dictionary zsize that follows.
	realZSize := binary.LittleEndian.Uint32(data[dictCompressedSizeOffset:])
	binary.LittleEndian.PutUint32(data[16:20], realZSize-1)
	if _, err := Open(rahead.New(bytes.NewReader(data))); err == nil {
		t.Fatal("Open accepted a buf1size smaller than the dictionary zsize")
	}
}

func TestOpenAcceptsWellFormedStream(t *testing.T) {
	t.Parallel()

	data := compressOneBlob(t)
	r, err := Open(rahead.New(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := r.GetFrame(); err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
}
