package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/zpkglist/zpkglist/internal/dict"
	"github.com/zpkglist/zpkglist/internal/frame/dictenc"
	"github.com/zpkglist/zpkglist/internal/rpmhdr"
)

var errWriter = fmt.Errorf("%w: writer", errFrame)

// ErrUsage is the "Usage" error kind from spec §7: Compress was called
// with a destination that is not a regular file, not empty, or not
// positioned at offset 0. Compress can only check the offset itself; a
// caller that owns the concrete file (the CLI) is responsible for
// rejecting a non-regular or non-empty destination before calling in.
var ErrUsage = fmt.Errorf("%w: usage", errFrame)

// HashFunc observes each blob's byte-exact, magic-prefixed copy as it is
// read from the input, before compression. A nil HashFunc is valid and
// simply skipped.
type HashFunc func(blob []byte)

// Stats summarizes a completed compression pass.
type Stats struct {
	ContentSize   uint64
	BlobCount     int
	RegularFrames int
	JumboFrames   int
}

// Compress reads a concatenated stream of RPM header blobs from src,
// groups them into dictionary-primed regular frames (up to 4 blobs, up to
// 128 KiB uncompressed) or standalone jumbo frames (oversized single
// blobs), and writes the zpkglist envelope followed by the dictionary
// frame and every data frame to dst. An empty src produces the 24-byte
// all-zero-sizes envelope alone, with no dictionary frame.
//
// dst must support Seek (an *os.File does); Compress writes a placeholder
// envelope up front and rewrites it with final sizes once every blob has
// been consumed, matching the original writer's single-pass contract.
//
// dst must be positioned at offset 0 (compress.c's fstat/lseek checks on
// out_fd); Compress rejects any other position with ErrUsage. It has no
// way to check that dst is a regular, empty file for an arbitrary
// io.WriteSeeker — a caller backed by a concrete *os.File (the CLI) must
// enforce that half of the contract itself before calling in.
func Compress(src io.Reader, dst io.WriteSeeker, hash HashFunc) (Stats, error) {
	start, err := dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: seeking destination: %w", errWriter, err)
	}
	if start != 0 {
		return Stats{}, fmt.Errorf("%w: destination not positioned at offset 0 (got %d)", ErrUsage, start)
	}
	placeholder := Envelope{}.Encode()
	if _, err := dst.Write(placeholder[:]); err != nil {
		return Stats{}, fmt.Errorf("%w: writing placeholder envelope: %w", errWriter, err)
	}

	w := &writer{src: bufio.NewReaderSize(src, 256*1024), dst: dst, hash: hash}

	// An empty input gets the bare envelope only: the reader rejects a
	// dictionary frame behind a zero contentSize.
	if _, err := w.src.Peek(1); err == nil {
		dictHdr := EncodeDictHeader(uint32(len(dict.Compressed)))
		if _, err := dst.Write(dictHdr[:]); err != nil {
			return Stats{}, fmt.Errorf("%w: writing dictionary header: %w", errWriter, err)
		}
		if _, err := dst.Write(dict.Compressed); err != nil {
			return Stats{}, fmt.Errorf("%w: writing dictionary payload: %w", errWriter, err)
		}
		// The reader requires buf1size to be at least the dictionary
		// frame's compressed size, so it starts out covering it.
		w.buf1Size = uint32(len(dict.Compressed))
	} else if !errors.Is(err, io.EOF) {
		return Stats{}, fmt.Errorf("%w: reading input: %w", errWriter, err)
	}

	stats, err := w.run()
	if err != nil {
		return Stats{}, err
	}

	env := Envelope{
		ContentSize: stats.ContentSize,
		Buf1Size:    w.buf1Size,
		JbufSize:    w.jbufSize,
	}
	if _, err := dst.Seek(start, io.SeekStart); err != nil {
		return Stats{}, fmt.Errorf("%w: seeking back to envelope: %w", errWriter, err)
	}
	envBuf := env.Encode()
	if _, err := dst.Write(envBuf[:]); err != nil {
		return Stats{}, fmt.Errorf("%w: rewriting envelope: %w", errWriter, err)
	}
	if _, err := dst.Seek(0, io.SeekEnd); err != nil {
		return Stats{}, fmt.Errorf("%w: seeking to end: %w", errWriter, err)
	}
	return stats, nil
}

type writer struct {
	src  *bufio.Reader
	dst  io.Writer
	hash HashFunc

	buf1Size uint32
	jbufSize uint32

	stats Stats

	pending    [][]byte // blobs collected for the current regular frame
	pendingLen int       // frame content total of pending (8+bodySize per blob, counting the first blob's magic that is re-synthesized on decode)
}

func (w *writer) run() (Stats, error) {
	for {
		blob, err := w.readBlob()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Stats{}, err
		}

		if w.hash != nil {
			w.hash(blob)
		}

		bodySize := len(blob) - 8 // blob = magic(8) + (il,dl)(8) + payload
		frameContribution := 8 + bodySize

		if IsJumbo(bodySize) {
			if err := w.flushPending(); err != nil {
				return Stats{}, err
			}
			if err := w.writeJumbo(blob); err != nil {
				return Stats{}, err
			}
			w.stats.ContentSize += uint64(frameContribution)
			w.stats.BlobCount++
			w.stats.JumboFrames++
			continue
		}

		if len(w.pending) >= MaxBlobsPerFrame || w.pendingLen+frameContribution > RegularFrameMax {
			if err := w.flushPending(); err != nil {
				return Stats{}, err
			}
		}
		w.pending = append(w.pending, blob)
		w.pendingLen += frameContribution
		w.stats.BlobCount++
	}

	if err := w.flushPending(); err != nil {
		return Stats{}, err
	}
	return w.stats, nil
}

// readBlob reads one magic-prefixed RPM header blob from the input
// stream, or io.EOF if the stream ends cleanly at a blob boundary.
func (w *writer) readBlob() ([]byte, error) {
	var lead [16]byte
	n, err := io.ReadFull(w.src, lead[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: truncated blob lead", io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("%w: reading blob lead: %w", errWriter, err)
	}
	if !rpmhdr.CheckMagic(lead[:8]) {
		return nil, fmt.Errorf("%w", rpmhdr.ErrBadMagic)
	}
	dataSize, err := rpmhdr.DataSize(lead[8:16])
	if err != nil {
		return nil, err
	}

	blob := make([]byte, 16+dataSize)
	copy(blob, lead[:])
	if _, err := io.ReadFull(w.src, blob[16:]); err != nil {
		return nil, fmt.Errorf("%w: truncated blob payload: %w", io.ErrUnexpectedEOF, err)
	}
	return blob, nil
}

// flushPending compresses and writes the currently accumulated regular
// frame, if any blobs are pending.
func (w *writer) flushPending() error {
	if len(w.pending) == 0 {
		return nil
	}

	uncompressed := make([]byte, 0, w.pendingLen)
	for i, blob := range w.pending {
		if i == 0 {
			uncompressed = append(uncompressed, blob[8:]...) // elide first blob's magic
		} else {
			uncompressed = append(uncompressed, blob...)
		}
	}

	compressed := dictenc.CompressBlock(dict.Bytes, uncompressed)

	hdr := EncodeDataHeader(DataHeader{
		CompressedSize:   uint32(len(compressed)),
		UncompressedSize: uint32(len(uncompressed)),
	})
	if _, err := w.dst.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: writing frame header: %w", errWriter, err)
	}
	if _, err := w.dst.Write(compressed); err != nil {
		return fmt.Errorf("%w: writing frame payload: %w", errWriter, err)
	}

	if need := uint32(len(uncompressed) + len(compressed)); need > w.buf1Size {
		w.buf1Size = need
	}
	w.stats.ContentSize += uint64(8 + len(uncompressed))
	w.stats.RegularFrames++

	w.pending = w.pending[:0]
	w.pendingLen = 0
	return nil
}

// writeJumbo compresses blob (magic stripped, since GetFrame re-synthesizes
// it) without a dictionary and writes it as a standalone frame.
func (w *writer) writeJumbo(blob []byte) error {
	uncompressed := blob[8:]
	dst := make([]byte, lz4.CompressBlockBound(len(uncompressed)))
	n, err := lz4.CompressBlockHC(uncompressed, dst, 0, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: compressing jumbo blob: %w", errWriter, err)
	}
	if n == 0 {
		// Incompressible: fall back to the fast compressor, which always
		// succeeds for non-empty input against an empty hash table.
		n, err = lz4.CompressBlock(uncompressed, dst, nil)
		if err != nil || n == 0 {
			return fmt.Errorf("%w: jumbo blob would not compress", errWriter)
		}
	}
	compressed := dst[:n]

	hdr := EncodeDataHeader(DataHeader{
		CompressedSize:   uint32(len(compressed)),
		UncompressedSize: uint32(len(uncompressed)),
	})
	if _, err := w.dst.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: writing jumbo frame header: %w", errWriter, err)
	}
	if _, err := w.dst.Write(compressed); err != nil {
		return fmt.Errorf("%w: writing jumbo frame payload: %w", errWriter, err)
	}

	if uint32(len(uncompressed)) > w.jbufSize {
		w.jbufSize = uint32(len(uncompressed))
	}
	if uint32(len(compressed)) > w.buf1Size {
		w.buf1Size = uint32(len(compressed))
	}
	return nil
}
