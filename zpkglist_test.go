package zpkglist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/zpkglist/zpkglist/internal/frame"
	"github.com/zpkglist/zpkglist/internal/rpmhdr"
)

// seekBuf is a minimal in-memory io.WriteSeeker standing in for the
// regular file Compress expects.
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
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = len(s.buf)
	}
	s.pos = base + int(offset)
	return int64(s.pos), nil
}

// headerBlob builds a well-formed magic-prefixed RPM header blob with the
// given il and dl.
func headerBlob(il, dl uint32) []byte {
	b := make([]byte, 16+16*int(il)+int(dl))
	copy(b, rpmhdr.Magic[:])
	binary.BigEndian.PutUint32(b[8:12], il)
	binary.BigEndian.PutUint32(b[12:16], dl)
	for i := 16; i < len(b); i++ {
		b[i] = byte(i) // deterministic, non-zero filler so mismatches are obvious
	}
	return b
}

func compressBlobs(t *testing.T, blobs ...[]byte) []byte {
	t.Helper()
	var src []byte
	for _, b := range blobs {
		src = append(src, b...)
	}
	var dst seekBuf
	if _, err := Compress(bytes.NewReader(src), &dst, nil); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	return dst.buf
}

func readAllBlobsViaMalloc(t *testing.T, data []byte) [][]byte {
	t.Helper()
	h, err := Open(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	var out [][]byte
	for {
		blob, _, err := h.NextMalloc()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("NextMalloc: %v", err)
		}
		out = append(out, append([]byte{}, blob...))
	}
}

func TestRoundTripSingleBlob(t *testing.T) {
	t.Parallel()

	blob := headerBlob(1, 16)
	data := compressBlobs(t, blob)
	got := readAllBlobsViaMalloc(t, data)
	if len(got) != 1 {
		t.Fatalf("got %d blobs, want 1", len(got))
	}
	if !bytes.Equal(got[0], blob[8:]) { // NextMalloc returns the body, magic elided
		t.Fatalf("round trip mismatch:\ngot  %x\nwant %x", got[0], blob[8:])
	}
}

func TestRoundTripManyBlobsAcrossFrames(t *testing.T) {
	t.Parallel()

	var blobs [][]byte
	for i := 0; i < 37; i++ {
		blobs = append(blobs, headerBlob(uint32(1+i%5), uint32(100*i+1)))
	}
	data := compressBlobs(t, blobs...)
	got := readAllBlobsViaMalloc(t, data)
	if len(got) != len(blobs) {
		t.Fatalf("got %d blobs, want %d", len(got), len(blobs))
	}
	for i := range blobs {
		if !bytes.Equal(got[i], blobs[i][8:]) {
			t.Fatalf("blob %d mismatch:\ngot  %x\nwant %x", i, got[i], blobs[i][8:])
		}
	}
}

func TestRoundTripJumboBlob(t *testing.T) {
	t.Parallel()

	blob := headerBlob(1, 200000-16) // data size 16*il+dl = 200000
	data := compressBlobs(t, blob)
	got := readAllBlobsViaMalloc(t, data)
	if len(got) != 1 || !bytes.Equal(got[0], blob[8:]) {
		t.Fatalf("jumbo round trip failed")
	}
}

func TestHashEquivalence(t *testing.T) {
	t.Parallel()

	blobs := [][]byte{headerBlob(1, 16), headerBlob(2, 1000), headerBlob(1, 1)}
	var src []byte
	for _, b := range blobs {
		src = append(src, b...)
	}

	var dst seekBuf
	var hashed []byte
	if _, err := Compress(bytes.NewReader(src), &dst, func(b []byte) { hashed = append(hashed, b...) }); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !bytes.Equal(hashed, src) {
		t.Fatalf("hash callback stream mismatch:\ngot  %x\nwant %x", hashed, src)
	}
}

func TestBulkEquivalence(t *testing.T) {
	t.Parallel()

	blobs := [][]byte{headerBlob(1, 16), headerBlob(1, 16), headerBlob(3, 5000)}
	var src []byte
	for _, b := range blobs {
		src = append(src, b...)
	}
	data := compressBlobs(t, blobs...)

	h, err := Open(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	var got []byte
	for {
		buf, err := h.Bulk()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Bulk: %v", err)
		}
		got = append(got, buf...)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("bulk concatenation mismatch:\ngot  %x\nwant %x", got, src)
	}
}

func TestPositionRoundTrip(t *testing.T) {
	t.Parallel()

	blobs := [][]byte{headerBlob(1, 16), headerBlob(1, 16), headerBlob(2, 9000)}
	data := compressBlobs(t, blobs...)

	positions := func() []int64 {
		h, err := Open(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer h.Close()
		var pos []int64
		for {
			_, p, err := h.NextView()
			if errors.Is(err, io.EOF) {
				return pos
			}
			if err != nil {
				t.Fatalf("NextView: %v", err)
			}
			pos = append(pos, p)
		}
	}

	p1 := positions()
	p2 := positions()
	if len(p1) != len(blobs) {
		t.Fatalf("got %d positions, want %d", len(p1), len(blobs))
	}
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("position %d not stable across opens: %d != %d", i, p1[i], p2[i])
		}
	}
}

func TestEnvelopeConsistency(t *testing.T) {
	t.Parallel()

	blobs := [][]byte{headerBlob(1, 16), headerBlob(2, 500)}
	data := compressBlobs(t, blobs...)

	env, err := frame.DecodeEnvelope(data[:frame.EnvelopeSize])
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}

	want := uint64(0)
	for _, b := range blobs {
		bodySize, err := rpmhdr.BodySize(b[8:16])
		if err != nil {
			t.Fatalf("BodySize: %v", err)
		}
		want += uint64(8 + bodySize)
	}
	if env.ContentSize != want {
		t.Fatalf("envelope.ContentSize = %d, want %d", env.ContentSize, want)
	}
}

func TestBoundaryEmptyInput(t *testing.T) {
	t.Parallel()

	data := compressBlobs(t)
	if len(data) != frame.EnvelopeSize {
		t.Fatalf("compressed empty input = %d bytes, want exactly the envelope (%d)", len(data), frame.EnvelopeSize)
	}
	env, err := frame.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env != (frame.Envelope{}) {
		t.Fatalf("envelope = %+v, want all-zero", env)
	}

	h, err := Open(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := h.NextView(); !errors.Is(err, io.EOF) {
		t.Fatalf("NextView on empty handle = %v, want io.EOF", err)
	}
}

func TestBoundaryCorruptedEnvelopeMagic(t *testing.T) {
	t.Parallel()

	data := compressBlobs(t, headerBlob(1, 16))
	data[1] ^= 0xFF
	if _, err := Open(bytes.NewReader(data)); err == nil {
		t.Fatal("Open accepted a corrupted envelope magic")
	}
}

func TestConcatenationTransparency(t *testing.T) {
	t.Parallel()

	blobA := headerBlob(1, 16)
	blobB := headerBlob(2, 9000)

	zpkglistData := compressBlobs(t, blobA)
	rawData := blobB // a bare RPM header stream needs no envelope at all

	combined := append(append([]byte{}, zpkglistData...), rawData...)
	got := readAllBlobsViaMalloc(t, combined)
	if len(got) != 2 {
		t.Fatalf("got %d blobs, want 2", len(got))
	}
	if !bytes.Equal(got[0], blobA[8:]) || !bytes.Equal(got[1], blobB[8:]) {
		t.Fatalf("concatenation mismatch:\ngot  %x / %x\nwant %x / %x", got[0], got[1], blobA[8:], blobB[8:])
	}
}
