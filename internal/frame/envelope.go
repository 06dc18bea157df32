// Package frame defines the zpkglist wire format: the 24-byte container
// envelope, the dictionary frame, and the data frame headers that the
// writer emits and the zpkglist frame reader parses. It holds no I/O
// logic of its own — just the byte layout and its invariants (§3).
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

var errFrame = errors.New("frame")

// ErrBadMagic is returned when a sniffed magic doesn't match any frame
// kind the caller expected.
var ErrBadMagic = fmt.Errorf("%w: bad zpkglist magic", errFrame)

// ErrBadSize is returned when an envelope or frame-header size field
// violates the invariants of §3.
var ErrBadSize = fmt.Errorf("%w: bad size", errFrame)

const (
	// EnvelopeMagic is the container magic, little-endian u32.
	EnvelopeMagic uint32 = 0x184D2A55
	// DictMagic is the dictionary frame magic, little-endian u32.
	DictMagic uint32 = 0x184D2A56
	// DataMagic is the data frame magic, little-endian u32.
	DataMagic uint32 = 0x184D2A57

	// EnvelopeSize is the fixed byte length of the leading frame.
	EnvelopeSize = 24
	// envelopePayloadSize is the constant "16" stored at envelope[4:8].
	envelopePayloadSize = 16

	// DataHeaderSize is the 12-byte header preceding each data frame's
	// compressed payload: magic(4) + (compressed_size+4)(4) + uncompressed_size(4).
	DataHeaderSize = 12
	// DictHeaderSize is the 8-byte header preceding the dictionary frame's
	// compressed payload: magic(4) + compressed_size(4).
	DictHeaderSize = 8

	// RegularFrameMax is the uncompressed-size ceiling for a regular
	// (dictionary-primed, multi-blob) frame: 128 KiB.
	RegularFrameMax = 128 * 1024
	// MaxBlobsPerFrame is the most blobs a single regular frame may pack.
	MaxBlobsPerFrame = 4
	// HeaderMaxSize bounds jbufsize (~17 MiB, matching librpm's own cap).
	HeaderMaxSize = 17 * 1024 * 1024
)

// Envelope is the decoded 24-byte container header (§3).
type Envelope struct {
	ContentSize uint64 // total uncompressed header bytes, including synthetic magics
	Buf1Size    uint32 // max(uncompressed+compressed) over regular frames, max(compressed) over jumbo frames; the writer also keeps it >= the dictionary frame's compressed size
	JbufSize    uint32 // max uncompressed size among jumbo frames, 0 if none
}

// Encode writes e into a fresh 24-byte envelope.
func (e Envelope) Encode() [EnvelopeSize]byte {
	var buf [EnvelopeSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], EnvelopeMagic)
	binary.LittleEndian.PutUint32(buf[4:8], envelopePayloadSize)
	binary.LittleEndian.PutUint64(buf[8:16], e.ContentSize)
	binary.LittleEndian.PutUint32(buf[16:20], e.Buf1Size)
	binary.LittleEndian.PutUint32(buf[20:24], e.JbufSize)
	return buf
}

// DecodeEnvelope parses and validates a 24-byte envelope per §3's invariants.
func DecodeEnvelope(buf []byte) (Envelope, error) {
	if len(buf) < EnvelopeSize {
		return Envelope{}, fmt.Errorf("%w: short envelope", ErrBadSize)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != EnvelopeMagic {
		return Envelope{}, ErrBadMagic
	}
	payloadSize := binary.LittleEndian.Uint32(buf[4:8])
	if payloadSize != envelopePayloadSize {
		return Envelope{}, fmt.Errorf("%w: envelope payload size %d != 16", ErrBadSize, payloadSize)
	}

	e := Envelope{
		ContentSize: binary.LittleEndian.Uint64(buf[8:16]),
		Buf1Size:    binary.LittleEndian.Uint32(buf[16:20]),
		JbufSize:    binary.LittleEndian.Uint32(buf[20:24]),
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Validate checks the cross-field invariants from §3.
func (e Envelope) Validate() error {
	if (e.Buf1Size != 0) != (e.ContentSize != 0) {
		return fmt.Errorf("%w: buf1size/contentSize zero-ness mismatch", ErrBadSize)
	}
	if e.JbufSize != 0 && e.JbufSize <= RegularFrameMax {
		return fmt.Errorf("%w: jbufsize %d must be 0 or > %d", ErrBadSize, e.JbufSize, RegularFrameMax)
	}
	if uint64(e.JbufSize) > HeaderMaxSize {
		return fmt.Errorf("%w: jbufsize %d exceeds header max size", ErrBadSize, e.JbufSize)
	}
	if uint64(e.JbufSize) > e.ContentSize {
		return fmt.Errorf("%w: jbufsize %d exceeds contentSize %d", ErrBadSize, e.JbufSize, e.ContentSize)
	}
	// buf1size must be usable as scratch space for either a regular frame
	// (uncompressed + its LZ4 compress bound) or a jumbo frame (its LZ4
	// compress bound alone); reject only if it fits neither (zreader.c
	// zreader_begin's "bad buf1size" check).
	regularBound := uint32(RegularFrameMax + lz4.CompressBlockBound(RegularFrameMax))
	jumboBound := uint32(lz4.CompressBlockBound(int(e.JbufSize)))
	if e.Buf1Size > regularBound && e.Buf1Size > jumboBound {
		return fmt.Errorf("%w: buf1size %d exceeds both regular (%d) and jumbo (%d) bounds", ErrBadSize, e.Buf1Size, regularBound, jumboBound)
	}
	return nil
}

// DataHeader is the decoded 12-byte header preceding a data frame's payload.
type DataHeader struct {
	CompressedSize   uint32 // on-wire size of the LZ4 payload that follows
	UncompressedSize uint32
}

// EncodeDataHeader serializes a data frame header. On the wire the stored
// size field is CompressedSize+4 (§3); this method performs that offset.
func EncodeDataHeader(h DataHeader) [DataHeaderSize]byte {
	var buf [DataHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], DataMagic)
	binary.LittleEndian.PutUint32(buf[4:8], h.CompressedSize+4)
	binary.LittleEndian.PutUint32(buf[8:12], h.UncompressedSize)
	return buf
}

// DecodeDataHeader parses a 12-byte data frame header, returning
// ErrBadMagic if it does not start with DataMagic. Callers that only need
// to know whether a data frame follows at all sniff the magic with
// PeekMagic instead.
func DecodeDataHeader(buf []byte) (DataHeader, error) {
	if len(buf) < DataHeaderSize {
		return DataHeader{}, fmt.Errorf("%w: short data frame header", ErrBadSize)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != DataMagic {
		return DataHeader{}, ErrBadMagic
	}
	storedSize := binary.LittleEndian.Uint32(buf[4:8])
	if storedSize < 4 {
		return DataHeader{}, fmt.Errorf("%w: data frame stored size %d < 4", ErrBadSize, storedSize)
	}
	return DataHeader{
		CompressedSize:   storedSize - 4,
		UncompressedSize: binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// PeekMagic reads a little-endian u32 magic from the front of buf.
func PeekMagic(buf []byte) (uint32, bool) {
	if len(buf) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf[0:4]), true
}

// DictFrameHeader is the decoded 8-byte header preceding the dictionary
// frame's compressed payload.
type DictFrameHeader struct {
	CompressedSize uint32
}

// EncodeDictHeader serializes a dictionary frame header.
func EncodeDictHeader(compressedSize uint32) [DictHeaderSize]byte {
	var buf [DictHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], DictMagic)
	binary.LittleEndian.PutUint32(buf[4:8], compressedSize)
	return buf
}

// DecodeDictHeader parses and validates a dictionary frame header's magic.
func DecodeDictHeader(buf []byte) (DictFrameHeader, error) {
	if len(buf) < DictHeaderSize {
		return DictFrameHeader{}, fmt.Errorf("%w: short dictionary frame header", ErrBadSize)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != DictMagic {
		return DictFrameHeader{}, ErrBadMagic
	}
	return DictFrameHeader{CompressedSize: binary.LittleEndian.Uint32(buf[4:8])}, nil
}

// IsJumbo reports whether a blob whose body is bodySize bytes must be
// carried in a jumbo frame rather than packed into a regular one (§3: the
// threshold is 128 KiB of *frame content*, i.e. 8 + bodySize here since
// the frame content a reader gets back always includes the blob's
// re-materialized 8-byte magic, while uncompressed_size does not).
func IsJumbo(bodySize int) bool {
	return 8+bodySize > RegularFrameMax
}
