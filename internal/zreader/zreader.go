// Package zreader implements the zpkglist frame reader (§4.4): it parses
// the container envelope, validates and decompresses the embedded
// dictionary frame, and serves data frames one at a time, decompressing
// each against the dictionary (regular frames) or standalone (jumbo
// frames).
package zreader

import (
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/zpkglist/zpkglist/internal/dict"
	"github.com/zpkglist/zpkglist/internal/frame"
	"github.com/zpkglist/zpkglist/internal/rahead"
	"github.com/zpkglist/zpkglist/internal/rpmhdr"
)

var errZReader = errors.New("zreader")

// ErrSequentialMismatch is returned when a strictly sequential read from
// open to end-of-stream arrives at contentSizeSoFar != contentSize.
var ErrSequentialMismatch = fmt.Errorf("%w: contentSize mismatch at end of stream", errZReader)

// Reader parses and decompresses a single zpkglist container.
//
// Not safe for concurrent use.
type Reader struct {
	rh  *rahead.Buffer
	env frame.Envelope

	// mainBuf holds, back to back: the 64 KiB working dictionary (read
	// from the file's dictionary frame, not from internal/dict — see
	// DESIGN.md), then the regular-frame decompression target. The 8
	// bytes immediately before the decompression target are the
	// dictionary's own last 8 bytes; they are temporarily overlaid with
	// the RPM magic after each decompression so callers see a complete
	// blob prefix, and restored before the next frame is decompressed.
	mainBuf  []byte
	dictSave [8]byte // pristine copy of mainBuf[dictEnd-8:dictEnd]
	dictEnd  int     // = dict.Size once initialized

	jumboBuf []byte // lazily sized to 8 + the largest jumbo frame decoded so far; jumboBuf[:8] is always the RPM magic

	nextHeader    [frame.DataHeaderSize]byte
	haveNext      bool // whether nextHeader currently holds a validated data-frame header
	curFrameOff   int64
	contentSoFar  uint64
	eof           bool
	err           error
	emptyEnvelope bool
}

// Open reads and validates the 24-byte envelope (and, if present, the
// dictionary frame) from rh. If the envelope declares an empty stream
// (contentSize == 0) and the underlying stream truly ends there, Open
// returns a Reader that yields io.EOF on the first GetFrame — a valid,
// empty handle, distinct from an error.
func Open(rh *rahead.Buffer) (*Reader, error) {
	var envBuf [frame.EnvelopeSize]byte
	if err := rh.ReadFull(envBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading envelope: %w", errZReader, err)
	}
	env, err := frame.DecodeEnvelope(envBuf[:])
	if err != nil {
		return nil, err
	}

	r := &Reader{rh: rh, env: env}

	if env.ContentSize == 0 {
		peeked, perr := rh.Peek(4)
		if perr != nil {
			return nil, perr
		}
		if magic, ok := frame.PeekMagic(peeked); ok && magic == frame.DictMagic {
			return nil, fmt.Errorf("%w: dictionary frame present but contentSize is 0", frame.ErrBadSize)
		}
		r.emptyEnvelope = true
		r.eof = true
		return r, nil
	}

	if err := r.openDictionary(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) openDictionary() error {
	var hdrBuf [frame.DictHeaderSize]byte
	if err := r.rh.ReadFull(hdrBuf[:]); err != nil {
		return fmt.Errorf("%w: reading dictionary frame header: %w", errZReader, err)
	}
	dh, err := frame.DecodeDictHeader(hdrBuf[:])
	if err != nil {
		return err
	}

	// zreader.c's zreader_begin rejects a dictionary zsize outside
	// [257, LZ4_COMPRESSBOUND(64KiB)], and a buf1size too small to hold
	// it, before ever allocating off the wire-supplied size.
	dictBound := uint32(lz4.CompressBlockBound(dict.Size))
	if dh.CompressedSize < 257 || dh.CompressedSize > dictBound {
		return fmt.Errorf("%w: dictionary zsize %d out of range [257, %d]", frame.ErrBadSize, dh.CompressedSize, dictBound)
	}
	if r.env.Buf1Size < dh.CompressedSize {
		return fmt.Errorf("%w: buf1size %d smaller than dictionary zsize %d", frame.ErrBadSize, r.env.Buf1Size, dh.CompressedSize)
	}

	compressed := make([]byte, dh.CompressedSize)
	if err := r.rh.ReadFull(compressed); err != nil {
		return fmt.Errorf("%w: reading dictionary payload: %w", errZReader, err)
	}

	// Validate the first data frame's header magic before trusting the
	// dictionary we just read: a corrupt file must not be allowed to
	// make us decompress (and use) an attacker-controlled dictionary.
	peeked, err := r.rh.Peek(frame.DataHeaderSize)
	if err != nil {
		return err
	}
	if len(peeked) < frame.DataHeaderSize {
		return fmt.Errorf("%w: truncated after dictionary frame", io.ErrUnexpectedEOF)
	}
	dataHdr, err := frame.DecodeDataHeader(peeked)
	if err != nil {
		return err
	}
	copy(r.nextHeader[:], peeked)
	r.haveNext = true
	_ = dataHdr

	r.mainBuf = make([]byte, dict.Size+int(r.env.Buf1Size))
	r.dictEnd = dict.Size
	n, err := lz4.UncompressBlock(compressed, r.mainBuf[:dict.Size])
	if err != nil {
		return fmt.Errorf("%w: decompressing dictionary: %w", errZReader, err)
	}
	if n != dict.Size {
		return fmt.Errorf("%w: dictionary decompressed to %d bytes, want %d", errZReader, n, dict.Size)
	}
	copy(r.dictSave[:], r.mainBuf[dict.Size-8:dict.Size])

	return nil
}

// ContentSize returns the envelope's declared total uncompressed size.
func (r *Reader) ContentSize() int64 {
	return int64(r.env.ContentSize)
}

// GetFrame returns the next frame's decompressed content (8-byte RPM
// magic prepended to the first blob, full magic already present on
// subsequent blobs) along with the file offset of that frame's header,
// or io.EOF once the container is exhausted.
func (r *Reader) GetFrame() ([]byte, int64, error) {
	if r.eof {
		return nil, 0, io.EOF
	}
	if r.err != nil {
		return nil, 0, r.err
	}
	if r.emptyEnvelope {
		r.eof = true
		return nil, 0, io.EOF
	}

	out, err := r.getFrame()
	if err != nil {
		r.err = err
		return nil, 0, err
	}
	return out, r.curFrameOff, nil
}

func (r *Reader) getFrame() ([]byte, error) {
	headerOffset := r.rh.Tell()
	dh, err := frame.DecodeDataHeader(r.nextHeader[:])
	if err != nil {
		return nil, err
	}
	r.curFrameOff = headerOffset

	jumbo := dh.UncompressedSize > frame.RegularFrameMax
	if err := r.validateFrameHeader(dh, jumbo); err != nil {
		return nil, err
	}

	// Consume the header we already peeked, then read the compressed payload.
	var skip [frame.DataHeaderSize]byte
	if err := r.rh.ReadFull(skip[:]); err != nil {
		return nil, fmt.Errorf("%w: consuming frame header: %w", errZReader, err)
	}
	compressed := make([]byte, dh.CompressedSize)
	if err := r.rh.ReadFull(compressed); err != nil {
		return nil, fmt.Errorf("%w: reading frame payload: %w", errZReader, err)
	}

	var out []byte
	if jumbo {
		out, err = r.decompressJumbo(compressed, int(dh.UncompressedSize))
	} else {
		out, err = r.decompressRegular(compressed, int(dh.UncompressedSize))
	}
	if err != nil {
		return nil, err
	}

	r.contentSoFar += 8 + uint64(dh.UncompressedSize)

	if err := r.advance(); err != nil {
		return nil, err
	}
	return out, nil
}

// validateFrameHeader checks a frame header's sizes against the envelope
// invariants from §3 before any bytes are read or decompressed.
func (r *Reader) validateFrameHeader(dh frame.DataHeader, jumbo bool) error {
	bound := uint32(lz4.CompressBlockBound(int(dh.UncompressedSize)))
	if dh.CompressedSize > bound {
		return fmt.Errorf("%w: compressed_size %d exceeds bound %d", frame.ErrBadSize, dh.CompressedSize, bound)
	}
	if jumbo {
		if dh.UncompressedSize > r.env.JbufSize {
			return fmt.Errorf("%w: jumbo uncompressed_size %d exceeds jbufsize %d", frame.ErrBadSize, dh.UncompressedSize, r.env.JbufSize)
		}
		if dh.CompressedSize > r.env.Buf1Size {
			return fmt.Errorf("%w: jumbo compressed_size %d exceeds buf1size %d", frame.ErrBadSize, dh.CompressedSize, r.env.Buf1Size)
		}
		return nil
	}
	if dh.UncompressedSize+dh.CompressedSize > r.env.Buf1Size {
		return fmt.Errorf("%w: regular frame size %d exceeds buf1size %d", frame.ErrBadSize, dh.UncompressedSize+dh.CompressedSize, r.env.Buf1Size)
	}
	return nil
}

// decompressRegular decompresses a dictionary-primed frame in place
// within mainBuf, using the synthetic magic overlay trick (§4.4 step 5,
// §9 "Synthetic magic overlay").
func (r *Reader) decompressRegular(compressed []byte, uncompressedSize int) ([]byte, error) {
	// Restore the dictionary's pristine tail before decompressing: the
	// previous call may have overlaid it with the RPM magic.
	copy(r.mainBuf[r.dictEnd-8:r.dictEnd], r.dictSave[:])

	dst := r.mainBuf[r.dictEnd : r.dictEnd+uncompressedSize]
	n, err := lz4.UncompressBlockWithDict(compressed, dst, r.mainBuf[:r.dictEnd])
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing regular frame: %w", errZReader, err)
	}
	if n != uncompressedSize {
		return nil, fmt.Errorf("%w: regular frame decompressed to %d bytes, want %d", errZReader, n, uncompressedSize)
	}

	copy(r.mainBuf[r.dictEnd-8:r.dictEnd], rpmhdr.Magic[:])
	return r.mainBuf[r.dictEnd-8 : r.dictEnd+uncompressedSize], nil
}

// decompressJumbo decompresses a dictionary-free single-blob frame into
// its own buffer, with the RPM magic permanently prepended.
func (r *Reader) decompressJumbo(compressed []byte, uncompressedSize int) ([]byte, error) {
	need := 8 + uncompressedSize
	if cap(r.jumboBuf) < need {
		r.jumboBuf = make([]byte, need)
		copy(r.jumboBuf[:8], rpmhdr.Magic[:])
	} else {
		r.jumboBuf = r.jumboBuf[:need]
	}

	n, err := lz4.UncompressBlock(compressed, r.jumboBuf[8:need])
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing jumbo frame: %w", errZReader, err)
	}
	if n != uncompressedSize {
		return nil, fmt.Errorf("%w: jumbo frame decompressed to %d bytes, want %d", errZReader, n, uncompressedSize)
	}
	return r.jumboBuf[:need], nil
}

// advance peeks the next frame header (or lack thereof) and sets the EOF
// latch, verifying the running content-size total once the stream ends.
func (r *Reader) advance() error {
	peeked, err := r.rh.Peek(frame.DataHeaderSize)
	if err != nil {
		return err
	}
	if magic, ok := frame.PeekMagic(peeked); !ok || magic != frame.DataMagic {
		r.eof = true
		if r.contentSoFar != r.env.ContentSize {
			return ErrSequentialMismatch
		}
		r.haveNext = false
		return nil
	}
	copy(r.nextHeader[:], peeked)
	r.haveNext = true
	return nil
}
