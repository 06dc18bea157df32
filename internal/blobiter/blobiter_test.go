package blobiter

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/zpkglist/zpkglist/internal/rpmhdr"
)

// fakeSource is a Source over an in-memory byte stream that also
// implements Positioner: BlobPos returns positions[callIndex] on each call
// (one call per blob produced), or 0 when positions is nil.
type fakeSource struct {
	r         *bytes.Reader
	positions []int64
	call      int
}

func (f *fakeSource) Read(buf []byte) (int, error) { return f.r.Read(buf) }

func (f *fakeSource) BlobPos() int64 {
	if f.positions == nil {
		return 0
	}
	p := f.positions[f.call]
	f.call++
	return p
}

// blob builds a well-formed header blob with il=1 and a data area of
// exactly data (which must be longer than 16 bytes: the one 16-byte index
// entry plus dl trailing data bytes, and rpmhdr rejects dl=0).
func blob(data []byte) []byte {
	if len(data) <= 16 {
		panic("blob: data must be longer than 16 bytes")
	}
	dl := len(data) - 16
	b := make([]byte, 16+len(data))
	copy(b, rpmhdr.Magic[:])
	b[8], b[9], b[10], b[11] = 0, 0, 0, 1 // il=1
	b[12] = byte(dl >> 24)
	b[13] = byte(dl >> 16)
	b[14] = byte(dl >> 8)
	b[15] = byte(dl)
	copy(b[16:], data)
	return b
}

func TestIterMalloc(t *testing.T) {
	t.Parallel()

	b1 := blob([]byte("aaaaaaaaaaaaaaaaaaaa"))
	b2 := blob([]byte("bbbbbbbbbbbbbbbbbbbb"))
	stream := append(append([]byte{}, b1...), b2...)

	it := New(&fakeSource{r: bytes.NewReader(stream)})

	got1, _, err := it.Malloc()
	if err != nil {
		t.Fatalf("Malloc #1: %v", err)
	}
	if !bytes.Equal(got1, b1[8:]) {
		t.Fatalf("Malloc #1 = %x, want %x", got1, b1[8:])
	}

	got2, _, err := it.Malloc()
	if err != nil {
		t.Fatalf("Malloc #2: %v", err)
	}
	if !bytes.Equal(got2, b2[8:]) {
		t.Fatalf("Malloc #2 = %x, want %x", got2, b2[8:])
	}

	if _, _, err := it.Malloc(); !errors.Is(err, io.EOF) {
		t.Fatalf("Malloc #3 error = %v, want io.EOF", err)
	}
}

func TestIterViewReused(t *testing.T) {
	t.Parallel()

	b1 := blob([]byte("xxxxxxxxxxxxxxxxxxxx"))
	b2 := blob([]byte("yyyyyyyyyyyyyyyyyyyy"))
	stream := append(append([]byte{}, b1...), b2...)

	it := New(&fakeSource{r: bytes.NewReader(stream)})

	v1, _, err := it.View()
	if err != nil {
		t.Fatalf("View #1: %v", err)
	}
	first := append([]byte{}, v1...)

	v2, _, err := it.View()
	if err != nil {
		t.Fatalf("View #2: %v", err)
	}
	if !bytes.Equal(first, b1[8:]) {
		t.Fatalf("View #1 snapshot = %x, want %x", first, b1[8:])
	}
	if !bytes.Equal(v2, b2[8:]) {
		t.Fatalf("View #2 = %x, want %x", v2, b2[8:])
	}
	// v1 aliases the same storage as v2: the second call invalidated it.
	if !bytes.Equal(v1, v2) {
		t.Fatal("View #1's slice was not invalidated by View #2, as the borrowed-view contract requires")
	}
}

func TestIterPositionerForwarded(t *testing.T) {
	t.Parallel()

	b1 := blob([]byte("aaaaaaaaaaaaaaaaaaaa"))
	b2 := blob([]byte("bbbbbbbbbbbbbbbbbbbb"))
	stream := append(append([]byte{}, b1...), b2...)

	src := &fakeSource{r: bytes.NewReader(stream), positions: []int64{100, 104}}
	it := New(src)

	_, p1, err := it.Malloc()
	if err != nil {
		t.Fatalf("Malloc #1: %v", err)
	}
	if p1 != 100 {
		t.Fatalf("pos #1 = %d, want 100", p1)
	}
	_, p2, err := it.Malloc()
	if err != nil {
		t.Fatalf("Malloc #2: %v", err)
	}
	if p2 != 104 {
		t.Fatalf("pos #2 = %d, want 104", p2)
	}
}

func TestIterByteOffsetFallback(t *testing.T) {
	t.Parallel()

	b1 := blob([]byte("aaaaaaaaaaaaaaaaaaaa"))
	b2 := blob([]byte("bbbbbbbbbbbbbbbbbbbb"))
	stream := append(append([]byte{}, b1...), b2...)

	it := New(readerOnlySource{bytes.NewReader(stream)})

	_, p1, err := it.Malloc()
	if err != nil {
		t.Fatalf("Malloc #1: %v", err)
	}
	if p1 != 0 {
		t.Fatalf("pos #1 = %d, want 0", p1)
	}
	_, p2, err := it.Malloc()
	if err != nil {
		t.Fatalf("Malloc #2: %v", err)
	}
	wantP2 := int64(len(b1) - 8) // byteOff advances by body size only (magic excluded)
	if p2 != wantP2 {
		t.Fatalf("pos #2 = %d, want %d", p2, wantP2)
	}
}

type readerOnlySource struct{ r *bytes.Reader }

func (s readerOnlySource) Read(buf []byte) (int, error) { return s.r.Read(buf) }

func TestIterBadMagic(t *testing.T) {
	t.Parallel()

	stream := make([]byte, 16)
	it := New(&fakeSource{r: bytes.NewReader(stream)})
	if _, _, err := it.Malloc(); !errors.Is(err, rpmhdr.ErrBadMagic) {
		t.Fatalf("error = %v, want rpmhdr.ErrBadMagic", err)
	}
}

func TestIterTruncatedBody(t *testing.T) {
	t.Parallel()

	b1 := blob([]byte("aaaaaaaaaaaaaaaaaaaa"))
	truncated := b1[:20]
	it := New(&fakeSource{r: bytes.NewReader(truncated)})
	if _, _, err := it.Malloc(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Fatalf("error = %v, want ErrUnexpectedEOF", err)
	}
}
